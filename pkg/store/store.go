// Package store persists keyed JSON blobs in a local badger database.
//
// Writes are last-writer-wins with no cross-process coordination;
// concurrent writers (e.g. a second agent on the same data dir) are
// out of scope.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// Store wraps a badger database with JSON value encoding.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a store at the given directory.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store.Open: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral store backed by memory only.
// Used by tests and by agents running without a data directory.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store.OpenInMemory: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put serializes v as JSON and writes it under key.
func (s *Store) Put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store.Put: marshal %q: %w", key, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("store.Put: write %q: %w", key, err)
	}
	return nil
}

// Get reads the value stored under key into out. Returns false when the
// key is absent. A value that fails to unmarshal is treated as absent,
// not as an error: corrupt persisted state must never be fatal.
func (s *Store) Get(key string, out any) (bool, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append(data, val...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store.Get: read %q: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		slog.Warn("discarding corrupt stored value", "key", key, "error", err)
		return false, nil
	}
	return true, nil
}

// PutRaw writes raw bytes under key without JSON encoding.
// Tests use it to plant corrupt values.
func (s *Store) PutRaw(key string, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("store.PutRaw: write %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("store.Delete: %q: %w", key, err)
	}
	return nil
}
