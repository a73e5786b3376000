package actor

import (
	"sort"
	"sync"
)

// World is the registry of live entities, keyed by id.
type World struct {
	mu       sync.RWMutex
	entities map[string]*Entity
}

func NewWorld() *World {
	return &World{entities: make(map[string]*Entity)}
}

// Add registers e, replacing an entity with the same id.
func (w *World) Add(e *Entity) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entities[e.ID()] = e
}

// Entity returns the concrete entity for id.
func (w *World) Entity(id string) (*Entity, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	e, ok := w.entities[id]
	return e, ok
}

// Actor implements Lookup.
func (w *World) Actor(id string) (Actor, bool) {
	e, ok := w.Entity(id)
	if !ok {
		return nil, false
	}
	return e, true
}

// IDs returns all registered ids in sorted order.
func (w *World) IDs() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.entities))
	for id := range w.entities {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Tick advances effect timers on every entity.
func (w *World) Tick() {
	w.mu.RLock()
	list := make([]*Entity, 0, len(w.entities))
	for _, e := range w.entities {
		list = append(list, e)
	}
	w.mu.RUnlock()
	for _, e := range list {
		e.Tick()
	}
}
