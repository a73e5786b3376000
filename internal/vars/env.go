package vars

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnresolved is returned by Lookup when no binding or path matches.
var ErrUnresolved = errors.New("unresolved variable")

// Env is the per-dispatch variable environment read by expressions.
// It is not safe for concurrent mutation; build a fresh one per invocation.
type Env struct {
	values map[string]Value
}

// NewEnv allocates an empty environment.
func NewEnv() *Env {
	return &Env{values: make(map[string]Value)}
}

// Set binds name to v and returns the environment for chaining.
func (e *Env) Set(name string, v Value) *Env {
	e.values[name] = v
	return e
}

// SetAny binds name to the converted form of x.
func (e *Env) SetAny(name string, x any) *Env {
	return e.Set(name, FromAny(x))
}

// Merge binds every entry of m, overriding existing names.
func (e *Env) Merge(m map[string]any) *Env {
	for k, v := range m {
		e.SetAny(k, v)
	}
	return e
}

// Has reports whether name is bound exactly.
func (e *Env) Has(name string) bool {
	_, ok := e.values[name]
	return ok
}

// Len returns the number of top-level bindings.
func (e *Env) Len() int { return len(e.values) }

// Lookup resolves a possibly dotted variable name.
//
// An exact binding wins. Otherwise the longest dotted prefix that is bound
// is taken as the root and the remaining segments are walked one by one
// through maps and live objects.
func (e *Env) Lookup(name string) (Value, error) {
	if v, ok := e.values[name]; ok {
		return v, nil
	}
	if !strings.Contains(name, ".") {
		return Value{}, fmt.Errorf("%w: %s", ErrUnresolved, name)
	}
	path := strings.Split(name, ".")
	for i := len(path) - 1; i >= 1; i-- {
		root, ok := e.values[strings.Join(path[:i], ".")]
		if !ok {
			continue
		}
		if v, ok := Descend(root, path[i:]); ok {
			return v, nil
		}
	}
	return Value{}, fmt.Errorf("%w: %s", ErrUnresolved, name)
}

// Descend walks path below v.
func Descend(v Value, path []string) (Value, bool) {
	cur := v
	for _, seg := range path {
		if seg == "" {
			return Value{}, false
		}
		next, ok := cur.Get(seg)
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// Snapshot renders the environment as plain data, skipping live objects.
func (e *Env) Snapshot() map[string]any {
	out := make(map[string]any, len(e.values))
	for k, v := range e.values {
		if v.Kind() == KindObject {
			continue
		}
		out[k] = v.Interface()
	}
	return out
}
