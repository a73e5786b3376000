package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/gyaneshwarpardhi/affix/internal/carrier"
)

const carrierBucket = "carriers"

// Store persists carriers in a BoltDB file, one JSON value per carrier name.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(carrierBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create carrier bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns every stored carrier in key order.
func (s *Store) Load(ctx context.Context) ([]carrier.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []carrier.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(carrierBucket))
		if b == nil {
			return fmt.Errorf("carrier bucket is missing")
		}
		return b.ForEach(func(k, v []byte) error {
			var r carrier.Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode carrier %s: %w", k, err)
			}
			r.Name = string(k)
			out = append(out, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Save(ctx context.Context, r carrier.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("carrier name is required")
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal carrier: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(carrierBucket)).Put([]byte(r.Name), payload)
	})
}

func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(carrierBucket)).Delete([]byte(name))
	})
}
