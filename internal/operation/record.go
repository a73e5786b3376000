package operation

import (
	"strconv"
	"strings"

	"github.com/gyaneshwarpardhi/affix/internal/vars"
)

// Record is a serialized key/value record as it appears on carriers, in
// YAML seed files and in API payloads.
type Record map[string]any

// String returns the string at key, or def if absent or not a string.
func (r Record) String(key, def string) string {
	if s, ok := r[key].(string); ok {
		return s
	}
	return def
}

// Int64 returns the integer at key. Numbers from JSON (float64), YAML (int)
// and numeric strings are accepted.
func (r Record) Int64(key string, def int64) int64 {
	v, ok := r[key]
	if !ok || v == nil {
		return def
	}
	if f, ok := vars.ToFloat64(v); ok {
		return int64(f)
	}
	if s, ok := v.(string); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return n
		}
	}
	return def
}

// Record returns the nested record at key.
func (r Record) Record(key string) (Record, bool) {
	switch m := r[key].(type) {
	case Record:
		return m, true
	case map[string]any:
		return Record(m), true
	}
	return nil, false
}

// Expr returns an expression parameter. Expression fields may be authored as
// strings or bare numbers; numbers are rendered back to expression text.
func (r Record) Expr(key, def string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case nil:
		return def
	}
	if f, ok := vars.ToFloat64(r[key]); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return def
}

// Clone returns a deep copy, normalizing nested maps to Record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case Record:
		return x.Clone()
	case map[string]any:
		return Record(x).Clone()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}
