// Package store persists the gateway's tenant-scoped state in Badger:
// company registrations, per-company Ollama settings documents, user
// permission records, and the append-only usage ledger.
//
// The gateway treats all of this as external-store-owned data. Settings
// follow read-then-merge-write with no locking — concurrent updates for the
// same company may race and resolve last-write-wins, which is an accepted,
// documented limitation. Usage records are append-only and never mutated.
package store

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("record not found")

// Store wraps one Badger database shared by the typed views.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the database at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral database. Used by tests and by
// deployments that do not need durable local state.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// get reads key into a copy of its value, mapping badger's miss sentinel to
// ErrNotFound.
func (s *Store) get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return out, err
}

// set writes key=value in one transaction.
func (s *Store) set(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// has reports whether key exists.
func (s *Store) has(key []byte) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// scanPrefix walks all values under prefix in key order.
func (s *Store) scanPrefix(prefix []byte, fn func(value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				return fn(val)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}
