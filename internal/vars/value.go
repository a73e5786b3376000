package vars

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind discriminates the variants of Value.
type Kind int

const (
	KindNull Kind = iota
	KindNumber
	KindString
	KindBool
	KindMap
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindMap:
		return "map"
	case KindObject:
		return "object"
	default:
		return "null"
	}
}

// Object is a live value whose properties are computed on demand.
// Actors expose themselves to expressions through this interface so that
// sub-maps like "attribute" are only built when an expression reaches them.
type Object interface {
	Property(key string) (Value, bool)
}

// Map is a nested mapping of names to values.
type Map map[string]Value

// Value is a tagged union over the types an expression can observe.
// The zero Value is null.
type Value struct {
	kind Kind
	num  float64
	str  string
	m    Map
	obj  Object
}

func Number(f float64) Value { return Value{kind: KindNumber, num: f} }
func String(s string) Value  { return Value{kind: KindString, str: s} }
func MapOf(m Map) Value      { return Value{kind: KindMap, m: m} }
func ObjectOf(o Object) Value {
	if o == nil {
		return Value{}
	}
	return Value{kind: KindObject, obj: o}
}

func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) Map() Map       { return v.m }
func (v Value) Object() Object { return v.obj }

// IsScalar reports whether v can sit on an expression stack.
func (v Value) IsScalar() bool {
	return v.kind == KindNumber || v.kind == KindString || v.kind == KindBool
}

// Num returns the numeric reading of v. Booleans read as 1/0, numeric
// strings are parsed, everything else reads as 0.
func (v Value) Num() float64 {
	switch v.kind {
	case KindNumber, KindBool:
		return v.num
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

// Str returns the string payload, or a formatted number for numeric kinds.
func (v Value) Str() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.num != 0)
	}
	return ""
}

// Truthy is the logical reading used by && || and !.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNumber, KindBool:
		return v.num != 0
	case KindString:
		return v.str != ""
	case KindMap:
		return len(v.m) > 0
	case KindObject:
		return true
	}
	return false
}

// Get descends one level into a map or object.
func (v Value) Get(key string) (Value, bool) {
	switch v.kind {
	case KindMap:
		sub, ok := v.m[key]
		return sub, ok
	case KindObject:
		return v.obj.Property(key)
	}
	return Value{}, false
}

// Interface converts v back into plain Go data (float64, string, bool,
// map[string]any). Objects are rendered as nil.
func (v Value) Interface() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	case KindBool:
		return v.num != 0
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, sub := range v.m {
			out[k] = sub.Interface()
		}
		return out
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+":"+v.m[k].String())
		}
		return "{" + strings.Join(parts, " ") + "}"
	case KindObject:
		return fmt.Sprintf("<%T>", v.obj)
	case KindNull:
		return "null"
	}
	return v.Str()
}

// FromAny converts decoded JSON/YAML data into a Value.
func FromAny(x any) Value {
	switch n := x.(type) {
	case nil:
		return Value{}
	case Value:
		return n
	case Object:
		return ObjectOf(n)
	case Map:
		return MapOf(n)
	case string:
		return String(n)
	case bool:
		return Bool(n)
	case map[string]any:
		m := make(Map, len(n))
		for k, sub := range n {
			m[k] = FromAny(sub)
		}
		return MapOf(m)
	case map[string]string:
		m := make(Map, len(n))
		for k, sub := range n {
			m[k] = String(sub)
		}
		return MapOf(m)
	case map[string]float64:
		m := make(Map, len(n))
		for k, sub := range n {
			m[k] = Number(sub)
		}
		return MapOf(m)
	}
	if f, ok := ToFloat64(x); ok {
		return Number(f)
	}
	return String(fmt.Sprintf("%v", x))
}

// ToFloat64 coerces a numeric Go value to float64.
func ToFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
