package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/commerce_layer/supabase/client"
)

// SupabaseVerifier checks tokens against Supabase Auth. When a JWT secret
// is configured, HS256 tokens are verified locally first and only tokens
// that fail local verification are sent to the provider.
type SupabaseVerifier struct {
	client    *client.Client
	jwtSecret []byte
	now       func() time.Time
}

// NewSupabaseVerifier creates a verifier. jwtSecret may be empty.
func NewSupabaseVerifier(c *client.Client, jwtSecret string) *SupabaseVerifier {
	v := &SupabaseVerifier{client: c, now: time.Now}
	if jwtSecret != "" {
		v.jwtSecret = []byte(jwtSecret)
	}
	return v
}

// VerifyToken implements Verifier.
func (v *SupabaseVerifier) VerifyToken(ctx context.Context, token string) (*Identity, error) {
	if len(v.jwtSecret) > 0 {
		if id, err := v.verifyLocal(token); err == nil {
			return id, nil
		}
	}
	return v.verifyRemote(ctx, token)
}

func (v *SupabaseVerifier) verifyLocal(token string) (*Identity, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("jwt parse: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("jwt invalid")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.New("jwt has no subject")
	}
	email, _ := claims["email"].(string)
	role, _ := claims["role"].(string)
	return &Identity{UserID: sub, Token: token, Email: email, Role: role}, nil
}

func (v *SupabaseVerifier) verifyRemote(ctx context.Context, token string) (*Identity, error) {
	resp, err := v.client.Auth().GetUser(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d %s", ErrUpstream, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	if !gjson.ValidBytes(resp.Body) {
		return nil, fmt.Errorf("%w: response is not JSON", ErrUpstream)
	}
	id := gjson.GetBytes(resp.Body, "id")
	if id.Type != gjson.String || id.Str == "" {
		return nil, fmt.Errorf("%w: response has no user id", ErrUpstream)
	}
	return &Identity{
		UserID: id.Str,
		Token:  token,
		Email:  gjson.GetBytes(resp.Body, "email").String(),
		Role:   gjson.GetBytes(resp.Body, "role").String(),
	}, nil
}
