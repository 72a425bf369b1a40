package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/commerce_layer/internal/kv"
	"github.com/R3E-Network/commerce_layer/internal/kv/kvtest"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestConformance(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Store {
		_, client := newTestRedis(t)
		return New(client, "")
	})
}

func TestOpen(t *testing.T) {
	mr, _ := newTestRedis(t)
	ctx := context.Background()

	s, err := Open(ctx, Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	written := `{"b":1, "a":2.50, "id":12345678901234567891}`
	if err := s.Set(ctx, "crm:1", json.RawMessage(written)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := mr.HGet(DefaultPrefix+"r:crm:1", valueField); got != written {
		t.Errorf("stored value = %s, want the bytes as written", got)
	}
	if got := mr.HGet(DefaultPrefix+"r:crm:1", canonicalField); got != `{"a":2.5,"b":1,"id":12345678901234567891}` {
		t.Errorf("stored canonical form = %s", got)
	}

	v, ok, err := s.Get(ctx, "crm:1")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if string(v) != written {
		t.Errorf("Get() = %s, want %s", v, written)
	}

	if _, err := Open(ctx, Config{}); err == nil {
		t.Error("Open() without url or addr should fail")
	}
}

func TestStore_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	s := New(client, "test:")
	mr.Close()

	ctx := context.Background()
	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, kv.ErrUnavailable) {
		t.Errorf("Get() error = %v, want ErrUnavailable", err)
	}
	if err := s.Health(ctx); !errors.Is(err, kv.ErrUnavailable) {
		t.Errorf("Health() error = %v, want ErrUnavailable", err)
	}
}
