// Package kv wraps a Pebble database behind the minimal key-value surface the
// stream coordinator and buffer need: synced writes, copied reads, prefix
// iteration, and a missing-key signal that is not an error.
package kv

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"

	pebble "github.com/cockroachdb/pebble"
)

// Store is a thin handle over an open Pebble database. All writes are synced;
// the coordinator's correctness depends on a record surviving a process crash.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) a Pebble database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database. Safe on a nil store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Set writes key with a durable sync.
func (s *Store) Set(key string, val []byte) error {
	return s.db.Set([]byte(key), val, pebble.Sync)
}

// Get returns a copy of the value for key. The second return value is false
// when the key does not exist.
func (s *Store) Get(key string) ([]byte, bool, error) {
	v, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Delete removes key with a durable sync. Deleting a missing key is a no-op.
func (s *Store) Delete(key string) error {
	return s.db.Delete([]byte(key), pebble.Sync)
}

// IteratePrefix visits every key with the given prefix in ascending key order,
// passing copied key/value bytes to fn. Iteration stops on the first error fn
// returns.
func (s *Store) IteratePrefix(prefix string, fn func(key string, val []byte) error) error {
	p := []byte(prefix)
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: p,
		UpperBound: prefixUpperBound(p),
	})
	if err != nil {
		return err
	}
	defer it.Close()
	for ok := it.First(); ok; ok = it.Next() {
		k := it.Key()
		if !bytes.HasPrefix(k, p) {
			continue
		}
		v := it.Value()
		vb := make([]byte, len(v))
		copy(vb, v)
		if err := fn(string(k), vb); err != nil {
			return err
		}
	}
	return it.Error()
}

// DeletePrefix removes every key with the given prefix.
func (s *Store) DeletePrefix(prefix string) error {
	p := []byte(prefix)
	return s.db.DeleteRange(p, prefixUpperBound(p), pebble.Sync)
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix, or nil when no such bound exists.
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
