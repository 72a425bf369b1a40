package shipping

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/commerce_layer/internal/auth"
	"github.com/R3E-Network/commerce_layer/internal/kv/memory"
	"github.com/R3E-Network/commerce_layer/internal/module"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	guard := auth.NewGuard(auth.VerifierFunc(func(ctx context.Context, token string) (*auth.Identity, error) {
		if strings.HasPrefix(token, "user-") {
			return &auth.Identity{UserID: strings.TrimPrefix(token, "user-")}, nil
		}
		return nil, nil
	}))
	reg := module.NewRegistry(memory.New(), guard, nil)
	require.NoError(t, reg.Register(Module(NewService(nil))))
	router := mux.NewRouter()
	reg.Mount(router)
	return router
}

func do(h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set("Authorization", "Bearer user-"+user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_ShipmentLifecycle(t *testing.T) {
	router := newTestRouter(t)
	body := `{"weight":2,"dimensions":{"length":20,"width":20,"height":20}}`

	rec := do(router, http.MethodPost, "/shipping/shipments", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(router, http.MethodPost, "/shipping/shipments", "alice", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created Shipment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, int64(300), created.Cost)
	assert.Regexp(t, `^TRK[0-9]{8}[0-9A-Z]{4}$`, created.TrackingNumber)
	assert.Equal(t, "alice", created.OwnerID)

	// Tracking lookups are public.
	rec = do(router, http.MethodGet, "/shipping/shipments/"+created.TrackingNumber, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tracking_number":"`+created.TrackingNumber+`"`)
	assert.NotContains(t, rec.Body.String(), "owner_id")
	assert.NotContains(t, rec.Body.String(), "alice")

	rec = do(router, http.MethodGet, "/shipping/shipments", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Shipments []Shipment `json:"shipments"`
		Count     int        `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	rec = do(router, http.MethodGet, "/shipping/shipments", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":0`)

	rec = do(router, http.MethodPatch, "/shipping/shipments/"+created.TrackingNumber, "bob", `{"status":"delivered"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(router, http.MethodPatch, "/shipping/shipments/"+created.TrackingNumber, "alice", `{"status":"delivered"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"delivered"`)

	rec = do(router, http.MethodDelete, "/shipping/shipments/"+created.TrackingNumber, "alice", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(router, http.MethodGet, "/shipping/shipments/"+created.TrackingNumber, "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_Quote(t *testing.T) {
	router := newTestRouter(t)

	rec := do(router, http.MethodPost, "/shipping/quote", "", `{"weight":2,"dimensions":{"length":20,"width":20,"height":20}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cost":300,"chargeable_weight":2}`, rec.Body.String())

	rec = do(router, http.MethodPost, "/shipping/quote", "", `{"weight":-1,"dimensions":{"length":1,"width":1,"height":1}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/shipping/quote", "", `{"weight":1e300,"dimensions":{"length":1,"width":1,"height":1}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "maximum chargeable weight")

	rec = do(router, http.MethodPost, "/shipping/quote", "", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
