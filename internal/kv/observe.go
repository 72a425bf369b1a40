package kv

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Observer receives one callback per store operation.
type Observer interface {
	ObserveStoreOp(op, result string, duration time.Duration)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(op, result string, duration time.Duration)

func (f ObserverFunc) ObserveStoreOp(op, result string, duration time.Duration) {
	f(op, result, duration)
}

// Operation results reported to observers.
const (
	ResultOK          = "ok"
	ResultMiss        = "miss"
	ResultConflict    = "conflict"
	ResultInvalid     = "invalid"
	ResultUnavailable = "unavailable"
	ResultError       = "error"
)

// Observe wraps store so every call is reported to obs.
func Observe(store Store, obs Observer) Store {
	if obs == nil {
		return store
	}
	return &observedStore{inner: store, obs: obs}
}

type observedStore struct {
	inner Store
	obs   Observer
}

func (s *observedStore) report(op string, start time.Time, result string) {
	s.obs.ObserveStoreOp(op, result, time.Since(start))
}

func classify(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrInvalidKey), errors.Is(err, ErrInvalidValue):
		return ResultInvalid
	case errors.Is(err, ErrUnavailable):
		return ResultUnavailable
	default:
		return ResultError
	}
}

func (s *observedStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	start := time.Now()
	v, ok, err := s.inner.Get(ctx, key)
	result := classify(err)
	if err == nil && !ok {
		result = ResultMiss
	}
	s.report("get", start, result)
	return v, ok, err
}

func (s *observedStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	start := time.Now()
	err := s.inner.Set(ctx, key, value)
	s.report("set", start, classify(err))
	return err
}

func (s *observedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, key)
	s.report("delete", start, classify(err))
	return err
}

func (s *observedStore) GetByPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	start := time.Now()
	entries, err := s.inner.GetByPrefix(ctx, prefix)
	s.report("get_by_prefix", start, classify(err))
	return entries, err
}

func (s *observedStore) MGet(ctx context.Context, keys []string) ([]json.RawMessage, error) {
	start := time.Now()
	values, err := s.inner.MGet(ctx, keys)
	s.report("mget", start, classify(err))
	return values, err
}

func (s *observedStore) CompareAndSet(ctx context.Context, key string, expected, value json.RawMessage) (bool, error) {
	start := time.Now()
	swapped, err := s.inner.CompareAndSet(ctx, key, expected, value)
	result := classify(err)
	if err == nil && !swapped {
		result = ResultConflict
	}
	s.report("compare_and_set", start, result)
	return swapped, err
}

func (s *observedStore) Health(ctx context.Context) error {
	start := time.Now()
	err := s.inner.Health(ctx)
	s.report("health", start, classify(err))
	return err
}

func (s *observedStore) Close() error {
	return s.inner.Close()
}
