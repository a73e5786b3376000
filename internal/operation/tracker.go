package operation

import (
	"sort"
	"strings"
	"sync"

	"github.com/gyaneshwarpardhi/affix/internal/schedule"
)

// Applied records something an operation left on an actor.
type Applied struct {
	ActorID string
	Task    schedule.TaskID // pending expiry, 0 if none
}

// Tracker remembers applied effects by Context.Key so that Remove can undo
// exactly what Apply did, even after the affix has been re-decoded.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]Applied
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]Applied)}
}

// Put stores a under key and returns the entry it replaced.
func (t *Tracker) Put(key string, a Applied) (Applied, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.entries[key]
	t.entries[key] = a
	return prev, ok
}

// Take removes and returns the entry for key.
func (t *Tracker) Take(key string) (Applied, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}
	return a, ok
}

// TakeIf removes the entry for key only if it still refers to task. Expiry
// callbacks use it so a refreshed application is not dropped by a stale
// timer.
func (t *Tracker) TakeIf(key string, task schedule.TaskID) (Applied, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.entries[key]
	if !ok || a.Task != task {
		return Applied{}, false
	}
	delete(t.entries, key)
	return a, true
}

// TakePrefix removes and returns every entry whose key starts with prefix,
// in key order.
func (t *Tracker) TakePrefix(prefix string) []Applied {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0)
	for k := range t.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]Applied, 0, len(keys))
	for _, k := range keys {
		out = append(out, t.entries[k])
		delete(t.entries, k)
	}
	return out
}

// Len returns the number of tracked entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
