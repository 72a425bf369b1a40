// Package memory is an in-process Store over an ordered tree map. It backs
// tests and single-node development deployments.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"

	"github.com/R3E-Network/commerce_layer/internal/kv"
)

var _ kv.Store = (*Store)(nil)

var errClosed = errors.New("store closed")

// Store keeps records in a string-ordered tree map.
type Store struct {
	mu     sync.RWMutex
	tree   *treemap.Map
	closed bool
}

// New returns an empty store.
func New() *Store {
	return &Store{tree: treemap.NewWithStringComparator()}
}

func (s *Store) checkOpen() error {
	if s.closed {
		return kv.Unavailable("memory", errClosed)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := kv.ValidateKey(key); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}
	v, ok := s.tree.Get(key)
	if !ok {
		return nil, false, nil
	}
	return clone(v.([]byte)), true, nil
}

func (s *Store) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	if err := kv.ValidateValue(value); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.tree.Put(key, clone(value))
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.tree.Remove(key)
	return nil
}

func (s *Store) GetByPrefix(ctx context.Context, prefix string) ([]kv.Entry, error) {
	if err := kv.ValidatePrefix(prefix); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	entries := []kv.Entry{}
	it := s.tree.Iterator()
	for it.Next() {
		key := it.Key().(string)
		if key < prefix {
			continue
		}
		if !strings.HasPrefix(key, prefix) {
			break
		}
		entries = append(entries, kv.Entry{Key: key, Value: clone(it.Value().([]byte))})
	}
	return entries, nil
}

func (s *Store) MGet(ctx context.Context, keys []string) ([]json.RawMessage, error) {
	if err := kv.ValidateKeys(keys); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, len(keys))
	for i, key := range keys {
		if v, ok := s.tree.Get(key); ok {
			out[i] = clone(v.([]byte))
		}
	}
	return out, nil
}

func (s *Store) CompareAndSet(ctx context.Context, key string, expected, value json.RawMessage) (bool, error) {
	if err := kv.ValidateKey(key); err != nil {
		return false, err
	}
	if err := kv.ValidateValue(value); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	current, ok := s.tree.Get(key)
	switch {
	case expected == nil && ok:
		return false, nil
	case expected != nil && !ok:
		return false, nil
	case expected != nil && !kv.EqualJSON(current.([]byte), expected):
		return false, nil
	}
	s.tree.Put(key, clone(value))
	return true, nil
}

func (s *Store) Health(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkOpen()
}

// Close marks the store closed; later calls fail with kv.ErrUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Size()
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
