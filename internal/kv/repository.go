package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Repository.Update when the record is absent.
	ErrNotFound = errors.New("kv: record not found")
	// ErrConflict is returned when a compare-and-set loop keeps losing races.
	ErrConflict = errors.New("kv: concurrent modification")
)

// DefaultUpdateAttempts bounds the compare-and-set retries of Update.
const DefaultUpdateAttempts = 5

// Repository is a typed view over a namespace-scoped Store. Records are
// stored as JSON documents keyed by id.
type Repository[T any] struct {
	store    Store
	attempts int
}

// NewRepository wraps store, which is normally the module's scoped store.
func NewRepository[T any](store Store) *Repository[T] {
	return &Repository[T]{store: store, attempts: DefaultUpdateAttempts}
}

// WithAttempts overrides the compare-and-set retry bound.
func (r *Repository[T]) WithAttempts(n int) *Repository[T] {
	if n > 0 {
		r.attempts = n
	}
	return r
}

// Get loads the record under id.
func (r *Repository[T]) Get(ctx context.Context, id string) (*T, bool, error) {
	raw, ok, err := r.store.Get(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	rec, err := decode[T](id, raw)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Insert stores rec under id only if id is free. It reports false when the id
// is already taken.
func (r *Repository[T]) Insert(ctx context.Context, id string, rec *T) (bool, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", id, err)
	}
	return r.store.CompareAndSet(ctx, id, nil, raw)
}

// Delete removes the record under id.
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, id)
}

// List returns every record whose id starts with prefix, ordered by id.
func (r *Repository[T]) List(ctx context.Context, prefix string) ([]T, error) {
	entries, err := r.store.GetByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		rec, err := decode[T](e.Key, e.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// GetMany loads ids in order; missing records are nil.
func (r *Repository[T]) GetMany(ctx context.Context, ids []string) ([]*T, error) {
	raws, err := r.store.MGet(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*T, len(raws))
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		rec, err := decode[T](ids[i], raw)
		if err != nil {
			return nil, err
		}
		out[i] = rec
	}
	return out, nil
}

// Update applies fn to the current record and writes the result with
// compare-and-set, retrying when another writer got there first. An error
// from fn aborts the update and is returned unchanged.
func (r *Repository[T]) Update(ctx context.Context, id string, fn func(*T) error) (*T, error) {
	for attempt := 0; attempt < r.attempts; attempt++ {
		raw, ok, err := r.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		rec, err := decode[T](id, raw)
		if err != nil {
			return nil, err
		}
		if err := fn(rec); err != nil {
			return nil, err
		}
		next, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", id, err)
		}
		swapped, err := r.store.CompareAndSet(ctx, id, raw, next)
		if err != nil {
			return nil, err
		}
		if swapped {
			return rec, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrConflict, id, r.attempts)
}

func decode[T any](id string, raw json.RawMessage) (*T, error) {
	var rec T
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return &rec, nil
}
