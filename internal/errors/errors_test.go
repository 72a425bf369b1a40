package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/R3E-Network/commerce_layer/internal/auth"
	"github.com/R3E-Network/commerce_layer/internal/kv"
)

func TestGetServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   ErrorCode
		wantStatus int
	}{
		{"service error", Conflict("code exhausted"), CodeConflict, http.StatusConflict},
		{"wrapped service error", fmt.Errorf("create: %w", NotFound("shipment", "TRK1")), CodeNotFound, http.StatusNotFound},
		{"invalid key", fmt.Errorf("%w: key is empty", kv.ErrInvalidKey), CodeInvalidInput, http.StatusBadRequest},
		{"invalid value", fmt.Errorf("%w: not JSON", kv.ErrInvalidValue), CodeInvalidInput, http.StatusBadRequest},
		{"unavailable", kv.Unavailable("get", stderrors.New("dial tcp")), CodeStoreUnavailable, http.StatusServiceUnavailable},
		{"record missing", fmt.Errorf("%w: TRK1", kv.ErrNotFound), CodeNotFound, http.StatusNotFound},
		{"cas exhausted", fmt.Errorf("%w: TRK1", kv.ErrConflict), CodeConflict, http.StatusConflict},
		{"upstream auth", fmt.Errorf("%w: status 500", auth.ErrUpstream), CodeUpstreamAuthFailure, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := GetServiceError(tt.err)
			if se == nil {
				t.Fatalf("GetServiceError(%v) = nil", tt.err)
			}
			if se.Code != tt.wantCode {
				t.Errorf("Code = %s, want %s", se.Code, tt.wantCode)
			}
			if se.HTTPStatus != tt.wantStatus {
				t.Errorf("HTTPStatus = %d, want %d", se.HTTPStatus, tt.wantStatus)
			}
		})
	}
}

func TestGetServiceError_Unknown(t *testing.T) {
	if se := GetServiceError(nil); se != nil {
		t.Errorf("GetServiceError(nil) = %v", se)
	}
	if se := GetServiceError(stderrors.New("boom")); se != nil {
		t.Errorf("GetServiceError(boom) = %v", se)
	}
}

func TestServiceError_UnwrapKeepsCause(t *testing.T) {
	cause := kv.Unavailable("set", stderrors.New("connection refused"))
	se := StoreUnavailable(cause)

	if !stderrors.Is(se, kv.ErrUnavailable) {
		t.Error("StoreUnavailable should unwrap to kv.ErrUnavailable")
	}
	if se.Error() == "" {
		t.Error("Error() should not be empty")
	}
}

func TestWithDetails(t *testing.T) {
	se := NotFound("shipment", "TRK1").WithDetails("owner", "u1")
	if se.Details["id"] != "TRK1" || se.Details["owner"] != "u1" {
		t.Errorf("Details = %v", se.Details)
	}

	rl := RateLimitExceeded(10, "1s")
	if rl.HTTPStatus != http.StatusTooManyRequests || rl.Details["limit"] != 10 {
		t.Errorf("RateLimitExceeded = %+v", rl)
	}
}

func TestUnauthorized_DefaultMessage(t *testing.T) {
	if got := Unauthorized("").Message; got != "authentication required" {
		t.Errorf("Message = %q", got)
	}
}

func TestIs(t *testing.T) {
	if !Is(fmt.Errorf("x: %w", kv.ErrConflict), CodeConflict) {
		t.Error("Is(ErrConflict, CodeConflict) = false")
	}
	if Is(stderrors.New("boom"), CodeInternal) {
		t.Error("Is(unknown, CodeInternal) = true")
	}
}
