package promotions

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/commerce_layer/internal/auth"
	"github.com/R3E-Network/commerce_layer/internal/errors"
	"github.com/R3E-Network/commerce_layer/internal/kv"
	"github.com/R3E-Network/commerce_layer/internal/kv/memory"
	"github.com/R3E-Network/commerce_layer/internal/module"
)

func newStore() kv.Store {
	return kv.Scope(memory.New(), Namespace)
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	svc := NewService()
	store := newStore()

	code, err := svc.Create(ctx, store, "admin", NewCode{Code: " spin-10 ", Prize: "10% off"})
	require.NoError(t, err)
	assert.Equal(t, "SPIN-10", code.Code)
	assert.Equal(t, DefaultMaxRedemptions, code.MaxRedemptions)
	assert.NotEmpty(t, code.ID)

	_, err = svc.Create(ctx, store, "admin", NewCode{Code: "SPIN-10", Prize: "other"})
	assert.True(t, errors.Is(err, errors.CodeConflict))

	generated, err := svc.Create(ctx, store, "admin", NewCode{Prize: "free shipping", MaxRedemptions: 3})
	require.NoError(t, err)
	assert.Len(t, generated.Code, generatedCodeLength)
	assert.True(t, codeRE.MatchString(generated.Code), generated.Code)

	past := time.Now().Add(-time.Hour)
	for name, req := range map[string]NewCode{
		"no prize":     {Code: "ABC"},
		"negative max": {Code: "ABC", Prize: "x", MaxRedemptions: -1},
		"bad code":     {Code: "a b", Prize: "x"},
		"too short":    {Code: "AB", Prize: "x"},
		"expired":      {Code: "ABC", Prize: "x", ExpiresAt: &past},
	} {
		_, err := svc.Create(ctx, store, "admin", req)
		assert.True(t, errors.Is(err, errors.CodeInvalidInput), name)
	}
}

func TestService_RedeemOncePerUser(t *testing.T) {
	ctx := context.Background()
	svc := NewService()
	store := newStore()

	_, err := svc.Create(ctx, store, "admin", NewCode{Code: "WHEEL", Prize: "mug", MaxRedemptions: 2})
	require.NoError(t, err)

	r, err := svc.Redeem(ctx, store, "alice", "wheel")
	require.NoError(t, err)
	assert.Equal(t, "mug", r.Prize)
	assert.Equal(t, 1, r.Remaining)

	_, err = svc.Redeem(ctx, store, "alice", "WHEEL")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeConflict))
	assert.Contains(t, err.Error(), "already redeemed")

	_, err = svc.Redeem(ctx, store, "bob", "WHEEL")
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, store, "carol", "WHEEL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted")

	status, err := svc.Get(ctx, store, "WHEEL")
	require.NoError(t, err)
	assert.Equal(t, 2, status.Redemptions)
	assert.Equal(t, 0, status.Remaining)
	assert.False(t, status.Active)

	_, err = svc.Redeem(ctx, store, "alice", "NOPE")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestService_RedeemExpired(t *testing.T) {
	ctx := context.Background()
	svc := NewService()
	store := newStore()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	expires := now.Add(time.Minute)
	_, err := svc.Create(ctx, store, "admin", NewCode{Code: "FLASH", Prize: "sticker", MaxRedemptions: 10, ExpiresAt: &expires})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = svc.Redeem(ctx, store, "alice", "FLASH")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestService_ConcurrentRedeemNeverExceedsLimit(t *testing.T) {
	ctx := context.Background()
	svc := NewService()
	store := newStore()
	const limit = 5

	_, err := svc.Create(ctx, store, "admin", NewCode{Code: "RUSH", Prize: "tote", MaxRedemptions: limit})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = svc.Redeem(ctx, store, fmt.Sprintf("user-%d", i), "RUSH")
		}(i)
	}
	wg.Wait()

	// Losers of the race may have given up early; top up sequentially.
	for i := 100; ; i++ {
		if _, err := svc.Redeem(ctx, store, fmt.Sprintf("user-%d", i), "RUSH"); err != nil {
			assert.Contains(t, err.Error(), "exhausted")
			break
		}
	}

	status, err := svc.Get(ctx, store, "RUSH")
	require.NoError(t, err)
	assert.Equal(t, limit, status.Redemptions)
}

func TestHandlers(t *testing.T) {
	guard := auth.NewGuard(auth.VerifierFunc(func(ctx context.Context, token string) (*auth.Identity, error) {
		return &auth.Identity{UserID: token}, nil
	}))
	reg := module.NewRegistry(memory.New(), guard, nil)
	require.NoError(t, reg.Register(Module(NewService())))
	router := mux.NewRouter()
	reg.Mount(router)

	do := func(method, path, user, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if user != "" {
			req.Header.Set("Authorization", "Bearer "+user)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/promotions/codes", "", `{"code":"SPIN","prize":"mug"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(http.MethodPost, "/promotions/codes", "admin", `{"code":"SPIN","prize":"mug"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(http.MethodGet, "/promotions/codes/spin", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active":true`)
	assert.NotContains(t, rec.Body.String(), "redeemed_by")

	rec = do(http.MethodPost, "/promotions/codes/SPIN/redeem", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"prize":"mug"`)

	rec = do(http.MethodPost, "/promotions/codes/SPIN/redeem", "bob", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(http.MethodGet, "/promotions/codes/MISSING", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
