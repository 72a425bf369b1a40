// Package bolt is a single-file embedded Store on bbolt.
package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/R3E-Network/commerce_layer/internal/kv"
)

var bucketName = []byte("kv")

var _ kv.Store = (*Store)(nil)

// Config configures the bolt store.
type Config struct {
	Path string
	// OpenTimeout bounds the wait for the file lock. Zero waits one second.
	OpenTimeout time.Duration
}

// Store keeps every record in one bucket ordered by key.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("bolt: path is required")
	}
	timeout := cfg.OpenTimeout
	if timeout == 0 {
		timeout = time.Second
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, kv.Unavailable("bolt open "+cfg.Path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, kv.Unavailable("bolt ensure bucket", err)
	}

	return &Store{db: db}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

func (s *Store) view(op string, fn func(b *bolt.Bucket) error) error {
	if err := s.db.View(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(bucketName))
	}); err != nil {
		return kv.Unavailable(op, err)
	}
	return nil
}

func (s *Store) update(op string, fn func(b *bolt.Bucket) error) error {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(bucketName))
	}); err != nil {
		return kv.Unavailable(op, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := kv.ValidateKey(key); err != nil {
		return nil, false, err
	}
	var out json.RawMessage
	err := s.view("bolt get", func(b *bolt.Bucket) error {
		if v := b.Get([]byte(key)); v != nil {
			out = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (s *Store) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	if err := kv.ValidateValue(value); err != nil {
		return err
	}
	return s.update("bolt set", func(b *bolt.Bucket) error {
		return b.Put([]byte(key), value)
	})
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	return s.update("bolt delete", func(b *bolt.Bucket) error {
		return b.Delete([]byte(key))
	})
}

func (s *Store) GetByPrefix(ctx context.Context, prefix string) ([]kv.Entry, error) {
	if err := kv.ValidatePrefix(prefix); err != nil {
		return nil, err
	}
	entries := []kv.Entry{}
	p := []byte(prefix)
	err := s.view("bolt scan", func(b *bolt.Bucket) error {
		c := b.Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			entries = append(entries, kv.Entry{Key: string(k), Value: bytes.Clone(v)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) MGet(ctx context.Context, keys []string) ([]json.RawMessage, error) {
	if err := kv.ValidateKeys(keys); err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, len(keys))
	err := s.view("bolt mget", func(b *bolt.Bucket) error {
		for i, key := range keys {
			if v := b.Get([]byte(key)); v != nil {
				out[i] = bytes.Clone(v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
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
	swapped := false
	err := s.update("bolt compare-and-set", func(b *bolt.Bucket) error {
		current := b.Get([]byte(key))
		switch {
		case expected == nil && current != nil:
			return nil
		case expected != nil && current == nil:
			return nil
		case expected != nil && !kv.EqualJSON(current, expected):
			return nil
		}
		swapped = true
		return b.Put([]byte(key), value)
	})
	if err != nil {
		return false, err
	}
	return swapped, nil
}

func (s *Store) Health(ctx context.Context) error {
	return s.view("bolt health", func(b *bolt.Bucket) error {
		if b == nil {
			return fmt.Errorf("bucket %s missing", bucketName)
		}
		return nil
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Remove closes the store and deletes its file.
func (s *Store) Remove() error {
	path := s.db.Path()
	if err := s.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
