// Package carrier holds the persistent objects affixes are attached to.
//
// A carrier is an attribute bag: the rule engine stores its serialized affix
// list and identity in attachments and leaves every other attachment alone.
package carrier

import (
	"encoding/json"
	"sync"
)

// Carrier is the attachment store the rule engine reads and writes.
type Carrier interface {
	Name() string
	Type() string
	Owner() string
	Attachment(key string) (any, bool)
	SetAttachment(key string, v any)
	DeleteAttachment(key string)
	// Attachments returns a shallow copy of all attachments.
	Attachments() map[string]any
}

// Record is the persisted form of a carrier.
type Record struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Owner       string         `json:"owner,omitempty"`
	Attachments map[string]any `json:"attachments,omitempty"`
}

// Item is the in-memory Carrier. Writes mark it dirty until the registry
// flushes it to the store.
type Item struct {
	mu          sync.RWMutex
	name        string
	typ         string
	owner       string
	attachments map[string]any
	dirty       bool
}

// NewItem creates a carrier with a copy of attachments.
func NewItem(name, typ, owner string, attachments map[string]any) *Item {
	it := &Item{name: name, typ: typ, owner: owner, attachments: make(map[string]any, len(attachments))}
	for k, v := range attachments {
		it.attachments[k] = v
	}
	return it
}

// FromRecord rebuilds an Item from its persisted form.
func FromRecord(r Record) *Item {
	return NewItem(r.Name, r.Type, r.Owner, r.Attachments)
}

func (it *Item) Name() string  { return it.name }
func (it *Item) Type() string  { return it.typ }
func (it *Item) Owner() string { return it.owner }

func (it *Item) Attachment(key string) (any, bool) {
	it.mu.RLock()
	defer it.mu.RUnlock()
	v, ok := it.attachments[key]
	return v, ok
}

func (it *Item) SetAttachment(key string, v any) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.attachments[key] = v
	it.dirty = true
}

func (it *Item) DeleteAttachment(key string) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if _, ok := it.attachments[key]; !ok {
		return
	}
	delete(it.attachments, key)
	it.dirty = true
}

func (it *Item) Attachments() map[string]any {
	it.mu.RLock()
	defer it.mu.RUnlock()
	out := make(map[string]any, len(it.attachments))
	for k, v := range it.attachments {
		out[k] = v
	}
	return out
}

// Dirty reports whether the item changed since the last flush.
func (it *Item) Dirty() bool {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.dirty
}

// Record returns the persisted form and clears the dirty flag.
func (it *Item) Record() Record {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.dirty = false
	r := Record{Name: it.name, Type: it.typ, Owner: it.owner, Attachments: make(map[string]any, len(it.attachments))}
	for k, v := range it.attachments {
		r.Attachments[k] = v
	}
	return r
}

// Snapshot returns the persisted form without touching the dirty flag.
func (it *Item) Snapshot() Record {
	return Record{Name: it.name, Type: it.typ, Owner: it.owner, Attachments: it.Attachments()}
}

func (it *Item) MarshalJSON() ([]byte, error) {
	return json.Marshal(it.Snapshot())
}
