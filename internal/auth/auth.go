// Package auth resolves bearer tokens into caller identities.
//
// The Guard never fails a request on its own: a missing, empty or rejected
// token yields a nil identity and it is up to each endpoint to demand one.
// Only a broken identity provider is reported as an error (ErrUpstream).
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/R3E-Network/commerce_layer/internal/logging"
)

// ErrUpstream means the identity provider could not be reached or answered
// with something other than a user or a rejection.
var ErrUpstream = errors.New("auth: identity provider failure")

// Identity is the caller resolved for one request. It lives only in the
// request context and is never persisted.
type Identity struct {
	UserID string `json:"user_id"`
	Token  string `json:"-"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Verifier checks a bearer token with an identity provider. A rejected token
// is reported as (nil, nil); provider failures wrap ErrUpstream.
type Verifier interface {
	VerifyToken(ctx context.Context, token string) (*Identity, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, token string) (*Identity, error)

func (f VerifierFunc) VerifyToken(ctx context.Context, token string) (*Identity, error) {
	return f(ctx, token)
}

// Outcomes reported to an OutcomeObserver.
const (
	OutcomeAuthenticated = "authenticated"
	OutcomeAnonymous     = "anonymous"
	OutcomeRejected      = "rejected"
	OutcomeUpstreamError = "upstream_error"
)

// OutcomeObserver is told how each authentication attempt ended.
type OutcomeObserver interface {
	ObserveAuth(outcome string)
}

// Guard authenticates requests with one shared Verifier.
type Guard struct {
	verifier Verifier
	logger   *logging.Logger
	observer OutcomeObserver
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the logger used for security events.
func WithLogger(logger *logging.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

// WithObserver reports every authentication outcome to obs.
func WithObserver(obs OutcomeObserver) Option {
	return func(g *Guard) { g.observer = obs }
}

// NewGuard creates a guard around verifier.
func NewGuard(verifier Verifier, opts ...Option) *Guard {
	g := &Guard{verifier: verifier, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func BearerToken(header string) string {
	const scheme = "bearer"
	header = strings.TrimSpace(header)
	if len(header) < len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return ""
	}
	rest := header[len(scheme):]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return ""
	}
	return strings.TrimSpace(rest)
}

// Authenticate resolves the caller from the request headers.
func (g *Guard) Authenticate(ctx context.Context, header http.Header) (*Identity, error) {
	raw := header.Get("Authorization")
	if raw == "" {
		g.observe(OutcomeAnonymous)
		return nil, nil
	}
	token := BearerToken(raw)
	if token == "" {
		g.observe(OutcomeAnonymous)
		return nil, nil
	}
	if g.verifier == nil {
		g.observe(OutcomeRejected)
		return nil, nil
	}

	id, err := g.verifier.VerifyToken(ctx, token)
	if err != nil {
		g.observe(OutcomeUpstreamError)
		g.logger.WithContext(ctx).WithError(err).Warn("identity provider failure")
		if !errors.Is(err, ErrUpstream) {
			err = errors.Join(ErrUpstream, err)
		}
		return nil, err
	}
	if id == nil || id.UserID == "" {
		g.observe(OutcomeRejected)
		g.logger.LogSecurityEvent(ctx, "token_rejected", nil)
		return nil, nil
	}

	g.observe(OutcomeAuthenticated)
	id.Token = token
	return id, nil
}

func (g *Guard) observe(outcome string) {
	if g.observer != nil {
		g.observer.ObserveAuth(outcome)
	}
}

type identityKey struct{}

// WithIdentity stores id in ctx. The user ID and role are also copied into
// the logging context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	if id == nil {
		return ctx
	}
	ctx = context.WithValue(ctx, identityKey{}, id)
	ctx = logging.WithUserID(ctx, id.UserID)
	if id.Role != "" {
		ctx = logging.WithRole(ctx, id.Role)
	}
	return ctx
}

// FromContext returns the identity attached by WithIdentity, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
