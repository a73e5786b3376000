package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/gyaneshwarpardhi/affix/internal/carrier"
)

// Store keeps carrier records in a map.
type Store struct {
	mu      sync.RWMutex
	records map[string]carrier.Record
}

func New() *Store {
	return &Store{records: make(map[string]carrier.Record)}
}

// Load returns every record, sorted by name.
func (s *Store) Load(ctx context.Context) ([]carrier.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]carrier.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, copyRecord(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) Save(ctx context.Context, r carrier.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.Name] = copyRecord(r)
	return nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, name)
	return nil
}

func (s *Store) Close() error { return nil }

func copyRecord(r carrier.Record) carrier.Record {
	out := r
	out.Attachments = make(map[string]any, len(r.Attachments))
	for k, v := range r.Attachments {
		out.Attachments[k] = v
	}
	return out
}
