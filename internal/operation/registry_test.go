package operation

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

type stubOp struct {
	NoRemove
	typ string
}

func (s *stubOp) Type() string         { return s.typ }
func (s *stubOp) Apply(*Context) error { return nil }
func (s *stubOp) Serialize() Record    { return Record{"type": s.typ} }

func quietRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegistry_Create(t *testing.T) {
	r := quietRegistry()
	r.Register("stub", func(rec Record) (Operation, error) {
		return &stubOp{typ: "stub"}, nil
	})
	r.Register("broken", func(rec Record) (Operation, error) {
		return nil, errors.New("bad params")
	})
	r.Register("panics", func(rec Record) (Operation, error) {
		panic("boom")
	})
	r.Register("empty", func(rec Record) (Operation, error) {
		return nil, nil
	})

	tests := []struct {
		name string
		rec  Record
		ok   bool
	}{
		{"known type", Record{"type": "stub"}, true},
		{"missing type", Record{"amount": 1}, false},
		{"unknown type", Record{"type": "nope"}, false},
		{"factory error", Record{"type": "broken"}, false},
		{"factory panic", Record{"type": "panics"}, false},
		{"nil operation", Record{"type": "empty"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			op := r.Create(tc.rec)
			if (op != nil) != tc.ok {
				t.Errorf("Create(%v) = %v, want ok=%v", tc.rec, op, tc.ok)
			}
		})
	}
}

func TestRegistry_OverrideAndListeners(t *testing.T) {
	r := quietRegistry()
	var seen []string
	r.OnRegister(func(typ string, f Factory) Factory {
		seen = append(seen, typ)
		if typ != "swapped" {
			return f
		}
		return func(Record) (Operation, error) { return &stubOp{typ: "substitute"}, nil }
	})

	r.Register("a", func(Record) (Operation, error) { return &stubOp{typ: "first"}, nil })
	r.Register("a", func(Record) (Operation, error) { return &stubOp{typ: "second"}, nil })
	r.Register("swapped", func(Record) (Operation, error) { return &stubOp{typ: "original"}, nil })

	if got := r.Create(Record{"type": "a"}).Type(); got != "second" {
		t.Errorf("override: got %q, want second", got)
	}
	if got := r.Create(Record{"type": "swapped"}).Type(); got != "substitute" {
		t.Errorf("listener substitution: got %q, want substitute", got)
	}
	if len(seen) != 3 {
		t.Errorf("listener saw %v, want 3 registrations", seen)
	}
	if types := r.Types(); len(types) != 2 || types[0] != "a" || types[1] != "swapped" {
		t.Errorf("Types() = %v", types)
	}
	if !r.Has("a") || r.Has("b") {
		t.Error("Has() mismatch")
	}
}

func TestRecord_Readers(t *testing.T) {
	rec := Record{
		"s":      "text",
		"f":      float64(12),
		"i":      7,
		"n":      "42",
		"nested": map[string]any{"type": "x", "list": []any{map[string]any{"k": 1}}},
	}
	if got := rec.String("s", ""); got != "text" {
		t.Errorf("String = %q", got)
	}
	if got := rec.String("f", "def"); got != "def" {
		t.Errorf("String on number = %q, want def", got)
	}
	if rec.Int64("f", 0) != 12 || rec.Int64("i", 0) != 7 || rec.Int64("n", 0) != 42 || rec.Int64("x", -1) != -1 {
		t.Error("Int64 readings wrong")
	}
	if got := rec.Expr("f", ""); got != "12" {
		t.Errorf("Expr on number = %q, want 12", got)
	}
	if got := rec.Expr("missing", "0"); got != "0" {
		t.Errorf("Expr default = %q", got)
	}

	clone := rec.Clone()
	nested, ok := clone.Record("nested")
	if !ok {
		t.Fatal("nested record missing from clone")
	}
	nested["type"] = "changed"
	if orig, _ := rec.Record("nested"); orig["type"] != "x" {
		t.Error("Clone shares nested maps with the original")
	}
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	tr.Put("o|a|x", Applied{ActorID: "p1", Task: 4})
	tr.Put("o|a|y", Applied{ActorID: "p1", Task: 5})
	tr.Put("o|b|x", Applied{ActorID: "p2"})

	if _, ok := tr.TakeIf("o|a|x", 9); ok {
		t.Error("TakeIf with a stale task must not remove the entry")
	}
	if _, ok := tr.TakeIf("o|a|x", 4); !ok {
		t.Error("TakeIf with the current task should remove the entry")
	}
	got := tr.TakePrefix("o|a|")
	if len(got) != 1 || got[0].Task != 5 {
		t.Errorf("TakePrefix = %v", got)
	}
	if tr.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tr.Len())
	}
}
