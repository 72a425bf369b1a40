package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Namespace is the leading key segment, including its trailing ':', that
// partitions the flat key space into per-module regions.
type Namespace string

// NewNamespace builds the namespace for name ("shipment" -> "shipment:").
func NewNamespace(name string) (Namespace, error) {
	name = strings.TrimSuffix(name, ":")
	if name == "" {
		return "", fmt.Errorf("%w: namespace is empty", ErrInvalidKey)
	}
	if strings.Contains(name, ":") {
		return "", fmt.Errorf("%w: namespace %q must be a single segment", ErrInvalidKey, name)
	}
	ns := Namespace(name + ":")
	if err := ValidateKey(string(ns)); err != nil {
		return "", err
	}
	return ns, nil
}

// MustNamespace is NewNamespace for package-level constants.
func MustNamespace(name string) Namespace {
	ns, err := NewNamespace(name)
	if err != nil {
		panic(err)
	}
	return ns
}

// Key returns the absolute key for id inside the namespace.
func (ns Namespace) Key(id string) string {
	return string(ns) + id
}

// Owns reports whether key lives inside the namespace.
func (ns Namespace) Owns(key string) bool {
	return strings.HasPrefix(key, string(ns))
}

// Overlaps reports whether two namespaces address a common key.
func (ns Namespace) Overlaps(other Namespace) bool {
	return strings.HasPrefix(string(ns), string(other)) || strings.HasPrefix(string(other), string(ns))
}

func (ns Namespace) String() string {
	return string(ns)
}

// Scope returns a Store that addresses only keys under ns. Keys passed to and
// returned from the scoped store are relative to the namespace, so a module
// holding it cannot name another module's records.
func Scope(store Store, ns Namespace) Store {
	if scoped, ok := store.(*scopedStore); ok {
		return &scopedStore{inner: scoped.inner, ns: Namespace(string(scoped.ns) + string(ns))}
	}
	return &scopedStore{inner: store, ns: ns}
}

type scopedStore struct {
	inner Store
	ns    Namespace
}

// key turns a relative id into an absolute key. The relative id itself must
// be non-empty so the namespace root is never addressable as a record.
func (s *scopedStore) key(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: key is empty", ErrInvalidKey)
	}
	return s.ns.Key(id), nil
}

func (s *scopedStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	abs, err := s.key(key)
	if err != nil {
		return nil, false, err
	}
	return s.inner.Get(ctx, abs)
}

func (s *scopedStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	abs, err := s.key(key)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, abs, value)
}

func (s *scopedStore) Delete(ctx context.Context, key string) error {
	abs, err := s.key(key)
	if err != nil {
		return err
	}
	return s.inner.Delete(ctx, abs)
}

func (s *scopedStore) GetByPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	entries, err := s.inner.GetByPrefix(ctx, s.ns.Key(prefix))
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if !s.ns.Owns(e.Key) {
			continue
		}
		e.Key = strings.TrimPrefix(e.Key, string(s.ns))
		out = append(out, e)
	}
	return out, nil
}

func (s *scopedStore) MGet(ctx context.Context, keys []string) ([]json.RawMessage, error) {
	abs := make([]string, len(keys))
	for i, key := range keys {
		k, err := s.key(key)
		if err != nil {
			return nil, err
		}
		abs[i] = k
	}
	return s.inner.MGet(ctx, abs)
}

func (s *scopedStore) CompareAndSet(ctx context.Context, key string, expected, value json.RawMessage) (bool, error) {
	abs, err := s.key(key)
	if err != nil {
		return false, err
	}
	return s.inner.CompareAndSet(ctx, abs, expected, value)
}

func (s *scopedStore) Health(ctx context.Context) error {
	return s.inner.Health(ctx)
}

// Close is a no-op: the shared store is owned by whoever created it.
func (s *scopedStore) Close() error {
	return nil
}
