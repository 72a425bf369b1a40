// Package kvtest is a conformance suite every kv.Store backend runs from its
// own tests.
package kvtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/commerce_layer/internal/kv"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) kv.Store

// Run executes the whole suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s kv.Store)
	}{
		{"GetMissing", testGetMissing},
		{"LastWriteWins", testLastWriteWins},
		{"DeleteIdempotent", testDeleteIdempotent},
		{"GetByPrefixExact", testGetByPrefixExact},
		{"GetByPrefixEscapesPatterns", testGetByPrefixPatterns},
		{"MGetOrder", testMGetOrder},
		{"CompareAndSet", testCompareAndSet},
		{"CompareAndSetSemanticEquality", testCompareAndSetSemantic},
		{"LargeNumbersExact", testLargeNumbersExact},
		{"InvalidKeys", testInvalidKeys},
		{"InvalidValues", testInvalidValues},
		{"ConcurrentUpdates", testConcurrentUpdates},
		{"ScopedIsolation", testScopedIsolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func raw(s string) json.RawMessage {
	return json.RawMessage(s)
}

func testGetMissing(t *testing.T, s kv.Store) {
	ctx := context.Background()
	for _, key := range []string{"never", "shipment:TRK0000", "ünïcode:key"} {
		v, ok, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, v)
	}
	require.NoError(t, s.Health(ctx))
}

func testLastWriteWins(t *testing.T, s kv.Store) {
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "billing:1", raw(`{"amount":1,"items":["a"]}`)))
	require.NoError(t, s.Set(ctx, "billing:1", raw(`{"amount":2}`)))

	v, ok, err := s.Get(ctx, "billing:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"amount":2}`, string(v))
}

func testDeleteIdempotent(t *testing.T, s kv.Store) {
	ctx := context.Background()
	require.NoError(t, s.Delete(ctx, "crm:absent"))

	require.NoError(t, s.Set(ctx, "crm:1", raw(`"x"`)))
	require.NoError(t, s.Delete(ctx, "crm:1"))
	require.NoError(t, s.Delete(ctx, "crm:1"))

	_, ok, err := s.Get(ctx, "crm:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testGetByPrefixExact(t *testing.T, s kv.Store) {
	ctx := context.Background()
	want := map[string]string{}

	set := func(key, value string) {
		require.NoError(t, s.Set(ctx, key, raw(value)))
		want[key] = value
	}
	del := func(key string) {
		require.NoError(t, s.Delete(ctx, key))
		delete(want, key)
	}

	set("shipment:b", `2`)
	set("shipment:a", `1`)
	set("shipments:x", `9`)
	set("ship", `0`)
	set("promo:a", `{"x":1}`)
	del("shipment:a")
	set("shipment:c", `3`)
	set("shipment:a", `4`)
	del("shipment:zzz")
	set("shipment:", `5`)

	for _, prefix := range []string{"shipment:", "ship", "promo:", "none:"} {
		entries, err := s.GetByPrefix(ctx, prefix)
		require.NoError(t, err)
		require.NotNil(t, entries)

		var wantKeys []string
		for key := range want {
			if strings.HasPrefix(key, prefix) {
				wantKeys = append(wantKeys, key)
			}
		}
		sort.Strings(wantKeys)

		gotKeys := make([]string, 0, len(entries))
		for _, e := range entries {
			gotKeys = append(gotKeys, e.Key)
			assert.JSONEq(t, want[e.Key], string(e.Value), "value for %s", e.Key)
		}
		if len(wantKeys) == 0 {
			assert.Empty(t, gotKeys, "prefix %q", prefix)
			continue
		}
		assert.Equal(t, wantKeys, gotKeys, "prefix %q", prefix)
	}

	all, err := s.GetByPrefix(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, len(want))
}

func testGetByPrefixPatterns(t *testing.T, s kv.Store) {
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "a%b:1", raw(`1`)))
	require.NoError(t, s.Set(ctx, "axb:1", raw(`2`)))
	require.NoError(t, s.Set(ctx, "a_b:1", raw(`3`)))
	require.NoError(t, s.Set(ctx, "a*b:1", raw(`4`)))
	require.NoError(t, s.Set(ctx, "a?b:1", raw(`5`)))
	require.NoError(t, s.Set(ctx, "a[b]:1", raw(`6`)))

	for prefix, wantKey := range map[string]string{
		"a%b":  "a%b:1",
		"a_b":  "a_b:1",
		"a*b":  "a*b:1",
		"a?b":  "a?b:1",
		"a[b]": "a[b]:1",
	} {
		entries, err := s.GetByPrefix(ctx, prefix)
		require.NoError(t, err)
		require.Len(t, entries, 1, "prefix %q", prefix)
		assert.Equal(t, wantKey, entries[0].Key)
	}
}

func testMGetOrder(t *testing.T, s kv.Store) {
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "inventory:a", raw(`{"qty":1}`)))
	require.NoError(t, s.Set(ctx, "inventory:c", raw(`{"qty":3}`)))

	values, err := s.MGet(ctx, []string{"inventory:c", "inventory:b", "inventory:a", "inventory:c"})
	require.NoError(t, err)
	require.Len(t, values, 4)
	assert.JSONEq(t, `{"qty":3}`, string(values[0]))
	assert.Nil(t, values[1])
	assert.JSONEq(t, `{"qty":1}`, string(values[2]))
	assert.JSONEq(t, `{"qty":3}`, string(values[3]))

	empty, err := s.MGet(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testCompareAndSet(t *testing.T, s kv.Store) {
	ctx := context.Background()

	ok, err := s.CompareAndSet(ctx, "promo:SPIN", nil, raw(`{"uses":0}`))
	require.NoError(t, err)
	assert.True(t, ok, "insert-if-absent on a free key")

	ok, err = s.CompareAndSet(ctx, "promo:SPIN", nil, raw(`{"uses":9}`))
	require.NoError(t, err)
	assert.False(t, ok, "insert-if-absent on a taken key")

	ok, err = s.CompareAndSet(ctx, "promo:SPIN", raw(`{"uses":5}`), raw(`{"uses":6}`))
	require.NoError(t, err)
	assert.False(t, ok, "stale expectation")

	ok, err = s.CompareAndSet(ctx, "promo:SPIN", raw(`{"uses":0}`), raw(`{"uses":1}`))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CompareAndSet(ctx, "promo:absent", raw(`{"uses":0}`), raw(`{"uses":1}`))
	require.NoError(t, err)
	assert.False(t, ok, "expectation on an absent key")

	v, found, err := s.Get(ctx, "promo:SPIN")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"uses":1}`, string(v))

	_, found, err = s.Get(ctx, "promo:absent")
	require.NoError(t, err)
	assert.False(t, found)
}

func testCompareAndSetSemantic(t *testing.T, s kv.Store) {
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "inventory:sku", raw(`{"sku":"A","qty":3}`)))

	ok, err := s.CompareAndSet(ctx, "inventory:sku", raw(`{ "qty": 3, "sku": "A" }`), raw(`{"sku":"A","qty":2}`))
	require.NoError(t, err)
	assert.True(t, ok, "key order and whitespace must not matter")
}

func testLargeNumbersExact(t *testing.T, s kv.Store) {
	ctx := context.Background()
	stored := raw(`{"order_id":12345678901234567891,"price":1234567.5}`)
	require.NoError(t, s.Set(ctx, "billing:big", stored))

	v, ok, err := s.Get(ctx, "billing:big")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, kv.EqualJSON(stored, v), "value read back as %s", v)

	swapped, err := s.CompareAndSet(ctx, "billing:big",
		raw(`{"order_id":12345678901234567890,"price":1234567.5}`), raw(`{"order_id":1}`))
	require.NoError(t, err)
	assert.False(t, swapped, "numbers that differ past float64 precision are different values")

	swapped, err = s.CompareAndSet(ctx, "billing:big",
		raw(`{"price":1234567.50,"order_id":12345678901234567891}`), raw(`{"order_id":1}`))
	require.NoError(t, err)
	assert.True(t, swapped)
}

func testInvalidKeys(t *testing.T, s kv.Store) {
	ctx := context.Background()
	bad := []string{"", "tab\tkey", strings.Repeat("k", kv.MaxKeyLength+1), string([]byte{0xff, 0xfe})}

	for _, key := range bad {
		_, _, err := s.Get(ctx, key)
		assert.True(t, errors.Is(err, kv.ErrInvalidKey), "Get(%q) error = %v", key, err)

		err = s.Set(ctx, key, raw(`1`))
		assert.True(t, errors.Is(err, kv.ErrInvalidKey), "Set(%q) error = %v", key, err)

		err = s.Delete(ctx, key)
		assert.True(t, errors.Is(err, kv.ErrInvalidKey), "Delete(%q) error = %v", key, err)

		_, err = s.CompareAndSet(ctx, key, nil, raw(`1`))
		assert.True(t, errors.Is(err, kv.ErrInvalidKey), "CompareAndSet(%q) error = %v", key, err)
	}

	_, err := s.MGet(ctx, []string{"ok", ""})
	assert.True(t, errors.Is(err, kv.ErrInvalidKey), "MGet error = %v", err)
}

func testInvalidValues(t *testing.T, s kv.Store) {
	ctx := context.Background()
	for _, value := range []string{"", "{", "not json"} {
		err := s.Set(ctx, "k", raw(value))
		assert.True(t, errors.Is(err, kv.ErrInvalidValue), "Set(%q) error = %v", value, err)
	}
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

type counter struct {
	N int `json:"n"`
}

func testConcurrentUpdates(t *testing.T, s kv.Store) {
	ctx := context.Background()
	const workers = 8
	const perWorker = 5

	repo := kv.NewRepository[counter](s).WithAttempts(workers * perWorker * 4)
	inserted, err := repo.Insert(ctx, "counter", &counter{})
	require.NoError(t, err)
	require.True(t, inserted)

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := repo.Update(ctx, "counter", func(c *counter) error {
					c.N++
					return nil
				}); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Update() error = %v", err)
	}

	got, ok, err := repo.Get(ctx, "counter")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, workers*perWorker, got.N, "no increment may be lost")
}

func testScopedIsolation(t *testing.T, s kv.Store) {
	ctx := context.Background()
	shipments := kv.Scope(s, kv.MustNamespace("shipment"))
	promos := kv.Scope(s, kv.MustNamespace("promo"))

	require.NoError(t, shipments.Set(ctx, "TRK1", raw(`{"cost":250}`)))
	require.NoError(t, promos.Set(ctx, "TRK1", raw(`{"prize":"mug"}`)))

	v, ok, err := s.Get(ctx, "shipment:TRK1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"cost":250}`, string(v))

	entries, err := shipments.GetByPrefix(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "TRK1", entries[0].Key)

	_, _, err = shipments.Get(ctx, "")
	assert.True(t, errors.Is(err, kv.ErrInvalidKey))

	for i := 0; i < 3; i++ {
		require.NoError(t, promos.Set(ctx, fmt.Sprintf("code-%d", i), raw(`{}`)))
	}
	entries, err = promos.GetByPrefix(ctx, "code-")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
