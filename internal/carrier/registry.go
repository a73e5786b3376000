package carrier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrNotFound is returned for unknown carrier names.
var ErrNotFound = errors.New("carrier not found")

// ErrExists is returned when creating a carrier under a taken name.
var ErrExists = errors.New("carrier already exists")

// Store persists carrier records.
type Store interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, r Record) error
	Delete(ctx context.Context, name string) error
	Close() error
}

// Registry keeps live carriers in memory and writes changed ones back to a
// Store on Flush.
type Registry struct {
	mu     sync.RWMutex
	items  map[string]*Item
	store  Store
	logger *slog.Logger
}

// NewRegistry creates a registry over store. A nil store keeps carriers in
// memory only.
func NewRegistry(store Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{items: make(map[string]*Item), store: store, logger: logger}
}

// Load replaces the in-memory set with the store's contents.
func (r *Registry) Load(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	recs, err := r.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load carriers: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make(map[string]*Item, len(recs))
	for _, rec := range recs {
		r.items[rec.Name] = FromRecord(rec)
	}
	return len(recs), nil
}

// Create registers a new carrier. It fails if the name is taken.
func (r *Registry) Create(name, typ, owner string, attachments map[string]any) (*Item, error) {
	if name == "" || typ == "" {
		return nil, fmt.Errorf("carrier name and type are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, name)
	}
	it := NewItem(name, typ, owner, attachments)
	it.dirty = true
	r.items[name] = it
	return it, nil
}

// Get returns the carrier registered under name.
func (r *Registry) Get(name string) (*Item, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[name]
	return it, ok
}

// Names returns all carrier names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.items))
	for n := range r.items {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Records returns the persisted form of every carrier, sorted by name.
func (r *Registry) Records() []Record {
	r.mu.RLock()
	items := make([]*Item, 0, len(r.items))
	for _, it := range r.items {
		items = append(items, it)
	}
	r.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool { return items[i].name < items[j].name })
	out := make([]Record, 0, len(items))
	for _, it := range items {
		out = append(out, it.Snapshot())
	}
	return out
}

// Remove deletes a carrier from memory and the store.
func (r *Registry) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	_, ok := r.items[name]
	delete(r.items, name)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if r.store == nil {
		return nil
	}
	return r.store.Delete(ctx, name)
}

// Flush saves every dirty carrier. Failures are logged and the carrier
// stays dirty so the next flush retries it.
func (r *Registry) Flush(ctx context.Context) int {
	if r.store == nil {
		return 0
	}
	r.mu.RLock()
	var dirty []*Item
	for _, it := range r.items {
		if it.Dirty() {
			dirty = append(dirty, it)
		}
	}
	r.mu.RUnlock()

	saved := 0
	for _, it := range dirty {
		rec := it.Record()
		if err := r.store.Save(ctx, rec); err != nil {
			r.logger.Warn("carrier flush failed", "carrier", rec.Name, "err", err)
			it.mu.Lock()
			it.dirty = true
			it.mu.Unlock()
			continue
		}
		saved++
	}
	return saved
}

// OwnedBy returns the carriers owned by actorID, sorted by name.
func (r *Registry) OwnedBy(actorID string) []*Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Item
	for _, it := range r.items {
		if it.owner == actorID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}
