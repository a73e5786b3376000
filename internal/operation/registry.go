package operation

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/gyaneshwarpardhi/affix/internal/metrics"
)

// Factory builds an operation from its serialized record.
type Factory func(rec Record) (Operation, error)

// Listener is told about every registration before it is installed and
// returns the factory to install. Returning f unchanged keeps it; returning
// another factory substitutes it.
type Listener func(typ string, f Factory) Factory

// Registry maps operation type strings to their factories.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	listeners []Listener
	logger    *slog.Logger
}

// NewRegistry creates an empty Registry. A nil logger uses slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{factories: make(map[string]Factory), logger: logger}
}

// OnRegister adds a listener consulted by later Register calls.
func (r *Registry) OnRegister(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Register installs f for typ. A later registration for the same type
// overrides the earlier one.
func (r *Registry) Register(typ string, f Factory) {
	r.mu.RLock()
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, l := range listeners {
		if sub := l(typ, f); sub != nil {
			f = sub
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[typ]; exists {
		r.logger.Info("operation factory overridden", "type", typ)
	}
	r.factories[typ] = f
}

// Create builds an operation from rec. Missing or unknown types, factory
// errors and factory panics are logged and yield nil, so one malformed
// record never aborts loading the rest of a carrier's affixes.
func (r *Registry) Create(rec Record) (op Operation) {
	typ := rec.String("type", "")
	if typ == "" {
		r.reject(typ, fmt.Errorf("operation record has no type"))
		return nil
	}
	r.mu.RLock()
	f, ok := r.factories[typ]
	r.mu.RUnlock()
	if !ok {
		r.reject(typ, fmt.Errorf("no factory registered for operation type %q", typ))
		return nil
	}

	defer func() {
		if p := recover(); p != nil {
			r.reject(typ, fmt.Errorf("factory panicked: %v", p))
			op = nil
		}
	}()
	op, err := f(rec)
	if err != nil {
		r.reject(typ, err)
		return nil
	}
	if op == nil {
		r.reject(typ, fmt.Errorf("factory returned no operation"))
	}
	return op
}

func (r *Registry) reject(typ string, err error) {
	metrics.DecodeFailures.Inc()
	r.logger.Warn("operation decode failed", "type", typ, "err", err)
}

// Has reports whether a factory is registered for typ.
func (r *Registry) Has(typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[typ]
	return ok
}

// Types returns all registered operation type strings, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
