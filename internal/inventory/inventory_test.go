package inventory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/commerce_layer/internal/auth"
	"github.com/R3E-Network/commerce_layer/internal/errors"
	"github.com/R3E-Network/commerce_layer/internal/kv"
	"github.com/R3E-Network/commerce_layer/internal/kv/memory"
	"github.com/R3E-Network/commerce_layer/internal/module"
)

func TestService_PutGetList(t *testing.T) {
	ctx := context.Background()
	svc := NewService()
	store := kv.Scope(memory.New(), Namespace)

	item, created, err := svc.Put(ctx, store, "u1", "MUG-1", ItemInput{Name: "Mug", Quantity: 10})
	require.NoError(t, err)
	assert.True(t, created)

	_, err = svc.Reserve(ctx, store, "MUG-1", 3)
	require.NoError(t, err)

	item, created, err = svc.Put(ctx, store, "u2", "MUG-1", ItemInput{Name: "Big mug", Quantity: 20})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(3), item.Reserved, "reserved count survives a replace")

	_, _, err = svc.Put(ctx, store, "u1", "CAP-1", ItemInput{Name: "Cap", Quantity: 1})
	require.NoError(t, err)

	items, err := svc.List(ctx, store)
	require.NoError(t, err)
	want := []Item{
		{SKU: "CAP-1", Name: "Cap", Quantity: 1, UpdatedBy: "u1"},
		{SKU: "MUG-1", Name: "Big mug", Quantity: 20, Reserved: 3, UpdatedBy: "u2"},
	}
	if diff := cmp.Diff(want, items, cmpopts.IgnoreFields(Item{}, "UpdatedAt")); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}

	_, err = svc.Get(ctx, store, "NOPE")
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	found, missing, err := svc.Lookup(ctx, store, []string{"MUG-1", "NOPE", "CAP-1"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "MUG-1", found[0].SKU)
	assert.Equal(t, "CAP-1", found[1].SKU)
	assert.Equal(t, []string{"NOPE"}, missing)

	_, _, err = svc.Lookup(ctx, store, []string{"MUG-1", "bad sku!"})
	assert.True(t, errors.Is(err, errors.CodeInvalidInput))

	for name, in := range map[string]ItemInput{
		"no name":  {Quantity: 1},
		"negative": {Name: "x", Quantity: -1},
	} {
		_, _, err := svc.Put(ctx, store, "u1", "X", in)
		assert.True(t, errors.Is(err, errors.CodeInvalidInput), name)
	}
	_, _, err = svc.Put(ctx, store, "u1", "bad sku!", ItemInput{Name: "x"})
	assert.True(t, errors.Is(err, errors.CodeInvalidInput))
}

func TestService_Reserve(t *testing.T) {
	ctx := context.Background()
	svc := NewService()
	store := kv.Scope(memory.New(), Namespace)
	_, _, err := svc.Put(ctx, store, "u1", "SHIRT", ItemInput{Name: "T-shirt", Quantity: 5})
	require.NoError(t, err)

	res, err := svc.Reserve(ctx, store, "SHIRT", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Remaining)

	_, err = svc.Reserve(ctx, store, "SHIRT", 2)
	require.Error(t, err)
	se := errors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, errors.CodeConflict, se.Code)
	assert.Equal(t, int64(1), se.Details["available"])

	_, err = svc.Reserve(ctx, store, "SHIRT", 0)
	assert.True(t, errors.Is(err, errors.CodeInvalidInput))

	_, err = svc.Reserve(ctx, store, "GHOST", 1)
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestService_ConcurrentReserveNeverOversells(t *testing.T) {
	ctx := context.Background()
	svc := NewService()
	store := kv.Scope(memory.New(), Namespace)
	_, _, err := svc.Put(ctx, store, "u1", "HOT", ItemInput{Name: "Hot item", Quantity: 10})
	require.NoError(t, err)

	var reserved atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Reserve(ctx, store, "HOT", 1); err == nil {
				reserved.Add(1)
			}
		}()
	}
	wg.Wait()

	item, err := svc.Get(ctx, store, "HOT")
	require.NoError(t, err)
	assert.Equal(t, reserved.Load(), item.Reserved)
	assert.Equal(t, int64(10), item.Quantity+item.Reserved)
	assert.GreaterOrEqual(t, item.Quantity, int64(0))
}

func TestHandlers(t *testing.T) {
	guard := auth.NewGuard(auth.VerifierFunc(func(ctx context.Context, token string) (*auth.Identity, error) {
		if token == "ok" {
			return &auth.Identity{UserID: "clerk"}, nil
		}
		return nil, nil
	}))
	reg := module.NewRegistry(memory.New(), guard, nil)
	require.NoError(t, reg.Register(Module(NewService())))
	router := mux.NewRouter()
	reg.Mount(router)

	do := func(method, path, token, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/inventory/items", "", "").Code)

	rec := do(http.MethodPut, "/inventory/items/SKU1", "ok", `{"name":"Widget","quantity":2}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(http.MethodPut, "/inventory/items/SKU1", "ok", `{"name":"Widget","quantity":2}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.MethodPost, "/inventory/items/SKU1/reserve", "ok", `{"quantity":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"remaining":0`)

	rec = do(http.MethodPost, "/inventory/items/SKU1/reserve", "ok", `{"quantity":1}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient stock")

	rec = do(http.MethodGet, "/inventory/items", "ok", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = do(http.MethodGet, "/inventory/items?sku=SKU1&sku=GONE", "ok", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"missing":["GONE"]`)
	assert.Contains(t, rec.Body.String(), `"sku":"SKU1"`)
}
