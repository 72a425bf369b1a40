package kv_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/R3E-Network/commerce_layer/internal/kv"
	"github.com/R3E-Network/commerce_layer/internal/kv/memory"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"shipment:TRK123", false},
		{"ключ", false},
		{strings.Repeat("a", kv.MaxKeyLength), false},
		{"", true},
		{strings.Repeat("a", kv.MaxKeyLength+1), true},
		{"new\nline", true},
		{string([]byte{'a', 0x80}), true},
	}

	for _, tt := range tests {
		err := kv.ValidateKey(tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, kv.ErrInvalidKey) {
			t.Errorf("ValidateKey(%q) error = %v, want ErrInvalidKey", tt.key, err)
		}
	}
}

func TestCanonical(t *testing.T) {
	got, err := kv.Canonical(json.RawMessage(`{ "b": [1.0, 2], "a": {"y": true, "x": null} }`))
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	if want := `{"a":{"x":null,"y":true},"b":[1,2]}`; string(got) != want {
		t.Errorf("Canonical() = %s, want %s", got, want)
	}

	got, err = kv.Canonical(json.RawMessage(`{"order_id":12345678901234567891,"price":1234567.50,"rate":25E-1}`))
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	if want := `{"order_id":12345678901234567891,"price":1234567.5,"rate":2.5}`; string(got) != want {
		t.Errorf("Canonical() = %s, want %s", got, want)
	}

	if _, err := kv.Canonical(json.RawMessage(`{`)); !errors.Is(err, kv.ErrInvalidValue) {
		t.Errorf("Canonical() error = %v, want ErrInvalidValue", err)
	}
}

func TestEqualJSON(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{`{"a":1,"b":2}`, `{"b":2,"a":1}`, true},
		{`1`, `1.0`, true},
		{`[1,2]`, `[2,1]`, false},
		{`"x"`, `"y"`, false},
		{`{"a":1}`, `{`, false},
		{`0.5`, `5e-1`, true},
		{`-2.50`, `-25E-1`, true},
		{`{"n":12345678901234567891}`, `{"n":12345678901234567890}`, false},
		{`{"n":12345678901234567891}`, `{"n":1.2345678901234567891e19}`, true},
		{`0.1000000000000000000001`, `0.1`, false},
		{`1e2000`, `1e2000`, true},
	}
	for _, tt := range tests {
		if got := kv.EqualJSON(json.RawMessage(tt.a), json.RawMessage(tt.b)); got != tt.want {
			t.Errorf("EqualJSON(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestNamespace(t *testing.T) {
	ns, err := kv.NewNamespace("shipment")
	if err != nil {
		t.Fatalf("NewNamespace() error = %v", err)
	}
	if ns != "shipment:" {
		t.Errorf("NewNamespace() = %q, want shipment:", ns)
	}
	if same, _ := kv.NewNamespace("shipment:"); same != ns {
		t.Errorf("trailing colon should be accepted, got %q", same)
	}
	if ns.Key("TRK1") != "shipment:TRK1" {
		t.Errorf("Key() = %q", ns.Key("TRK1"))
	}
	if !ns.Owns("shipment:x") || ns.Owns("shipments:x") {
		t.Error("Owns() must respect the separator")
	}
	if ns.Overlaps(kv.MustNamespace("shipments")) {
		t.Error("shipment: and shipments: do not overlap")
	}
	if !ns.Overlaps(kv.MustNamespace("shipment")) {
		t.Error("a namespace overlaps itself")
	}

	for _, bad := range []string{"", ":", "a:b"} {
		if _, err := kv.NewNamespace(bad); !errors.Is(err, kv.ErrInvalidKey) {
			t.Errorf("NewNamespace(%q) error = %v, want ErrInvalidKey", bad, err)
		}
	}
}

func TestScope_Nested(t *testing.T) {
	ctx := context.Background()
	base := memory.New()
	inner := kv.Scope(kv.Scope(base, kv.MustNamespace("promo")), kv.MustNamespace("redemption"))

	if err := inner.Set(ctx, "CODE:user-1", json.RawMessage(`true`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, ok, _ := base.Get(ctx, "promo:redemption:CODE:user-1"); !ok {
		t.Error("nested scope should write promo:redemption:CODE:user-1")
	}
	if err := inner.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := base.Health(ctx); err != nil {
		t.Errorf("closing a scoped store must not close the base: %v", err)
	}
}

type item struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

func TestRepository(t *testing.T) {
	ctx := context.Background()
	repo := kv.NewRepository[item](kv.Scope(memory.New(), kv.MustNamespace("inventory")))

	if _, ok, err := repo.Get(ctx, "A"); err != nil || ok {
		t.Fatalf("Get() = %v, %v; want miss", ok, err)
	}
	if ok, err := repo.Insert(ctx, "A", &item{SKU: "A", Qty: 2}); err != nil || !ok {
		t.Fatalf("Insert() = %v, %v", ok, err)
	}
	if ok, err := repo.Insert(ctx, "A", &item{SKU: "A"}); err != nil || ok {
		t.Errorf("Insert() on taken id = %v, %v", ok, err)
	}
	if ok, err := repo.Insert(ctx, "B", &item{SKU: "B", Qty: 1}); err != nil || !ok {
		t.Errorf("Insert() on free id = %v, %v", ok, err)
	}

	list, err := repo.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].SKU != "A" || list[1].SKU != "B" {
		t.Errorf("List() = %+v", list)
	}

	many, err := repo.GetMany(ctx, []string{"B", "missing", "A"})
	if err != nil {
		t.Fatalf("GetMany() error = %v", err)
	}
	if many[0].SKU != "B" || many[1] != nil || many[2].SKU != "A" {
		t.Errorf("GetMany() = %+v", many)
	}

	updated, err := repo.Update(ctx, "A", func(it *item) error {
		it.Qty--
		return nil
	})
	if err != nil || updated.Qty != 1 {
		t.Errorf("Update() = %+v, %v", updated, err)
	}

	errStop := errors.New("stop")
	if _, err := repo.Update(ctx, "A", func(*item) error { return errStop }); !errors.Is(err, errStop) {
		t.Errorf("Update() error = %v, want callback error", err)
	}
	if _, err := repo.Update(ctx, "missing", func(*item) error { return nil }); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}

	if err := repo.Delete(ctx, "A"); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
}

// racingStore always loses compare-and-set.
type racingStore struct {
	kv.Store
}

func (racingStore) CompareAndSet(context.Context, string, json.RawMessage, json.RawMessage) (bool, error) {
	return false, nil
}

func TestRepository_UpdateConflict(t *testing.T) {
	ctx := context.Background()
	base := memory.New()
	_ = base.Set(ctx, "A", json.RawMessage(`{"sku":"A","qty":1}`))

	repo := kv.NewRepository[item](racingStore{base}).WithAttempts(3)
	calls := 0
	_, err := repo.Update(ctx, "A", func(*item) error {
		calls++
		return nil
	})
	if !errors.Is(err, kv.ErrConflict) {
		t.Errorf("Update() error = %v, want ErrConflict", err)
	}
	if calls != 3 {
		t.Errorf("callback ran %d times, want 3", calls)
	}
}

func TestObserve(t *testing.T) {
	ctx := context.Background()
	var got []string
	store := kv.Observe(memory.New(), kv.ObserverFunc(func(op, result string, _ time.Duration) {
		got = append(got, op+"/"+result)
	}))

	_, _, _ = store.Get(ctx, "a")
	_ = store.Set(ctx, "a", json.RawMessage(`1`))
	_, _ = store.CompareAndSet(ctx, "a", nil, json.RawMessage(`2`))
	_ = store.Set(ctx, "", json.RawMessage(`1`))

	want := []string{"get/miss", "set/ok", "compare_and_set/conflict", "set/invalid"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("observed %v, want %v", got, want)
	}
}
