// Package promotions manages prize codes: a code carries a prize label and a
// redemption limit, and each user may redeem a code once.
package promotions

import (
	"context"
	stderrors "errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/commerce_layer/internal/errors"
	"github.com/R3E-Network/commerce_layer/internal/kv"
)

// Namespace holds every promotion code, keyed by the code itself.
var Namespace = kv.MustNamespace("promo")

const (
	// DefaultMaxRedemptions applies when a code is created without a limit.
	DefaultMaxRedemptions = 1
	generatedCodeLength   = 10
)

var codeRE = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{2,31}$`)

// Code is a stored promotion code.
type Code struct {
	ID             string     `json:"id"`
	Code           string     `json:"code"`
	Prize          string     `json:"prize"`
	MaxRedemptions int        `json:"max_redemptions"`
	RedeemedBy     []string   `json:"redeemed_by"`
	CreatedBy      string     `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// Remaining returns how many redemptions are left.
func (c *Code) Remaining() int {
	if n := c.MaxRedemptions - len(c.RedeemedBy); n > 0 {
		return n
	}
	return 0
}

// Expired reports whether the code has passed its expiry at now.
func (c *Code) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// Status summarises the code for public lookups. Redeemer IDs are not exposed.
type Status struct {
	Code           string     `json:"code"`
	Prize          string     `json:"prize"`
	MaxRedemptions int        `json:"max_redemptions"`
	Redemptions    int        `json:"redemptions"`
	Remaining      int        `json:"remaining"`
	Active         bool       `json:"active"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// NewCode is the request to create a code. An empty Code is generated.
type NewCode struct {
	Code           string     `json:"code"`
	Prize          string     `json:"prize"`
	MaxRedemptions int        `json:"max_redemptions"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// Redemption is the result of a successful redeem.
type Redemption struct {
	Code      string    `json:"code"`
	Prize     string    `json:"prize"`
	UserID    string    `json:"user_id"`
	Remaining int       `json:"remaining"`
	At        time.Time `json:"redeemed_at"`
}

// Service holds the promotion rules over a module-scoped store.
type Service struct {
	now func() time.Time
}

// NewService creates a promotions service on the wall clock.
func NewService() *Service {
	return &Service{now: time.Now}
}

// NormalizeCode upper-cases and trims a user-supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func generateCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:generatedCodeLength])
}

// Create stores a new code. Supplying a code that already exists is a
// conflict; generated codes are retried once on collision.
func (s *Service) Create(ctx context.Context, store kv.Store, owner string, req NewCode) (*Code, error) {
	req.Prize = strings.TrimSpace(req.Prize)
	if req.Prize == "" {
		return nil, errors.InvalidInput("prize is required")
	}
	if req.MaxRedemptions < 0 {
		return nil, errors.InvalidInput("max_redemptions must not be negative")
	}
	if req.MaxRedemptions == 0 {
		req.MaxRedemptions = DefaultMaxRedemptions
	}
	now := s.now().UTC()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, errors.InvalidInput("expires_at must be in the future")
	}

	generated := req.Code == ""
	code := NormalizeCode(req.Code)
	if !generated && !codeRE.MatchString(code) {
		return nil, errors.InvalidInput("code must be 3-32 characters of A-Z, 0-9, _ or -")
	}

	rec := &Code{
		ID:             uuid.NewString(),
		Prize:          req.Prize,
		MaxRedemptions: req.MaxRedemptions,
		RedeemedBy:     []string{},
		CreatedBy:      owner,
		CreatedAt:      now,
		ExpiresAt:      req.ExpiresAt,
	}
	repo := kv.NewRepository[Code](store)
	for attempt := 0; attempt < 2; attempt++ {
		if generated {
			code = generateCode()
		}
		rec.Code = code
		inserted, err := repo.Insert(ctx, code, rec)
		if err != nil {
			return nil, err
		}
		if inserted {
			return rec, nil
		}
		if !generated {
			break
		}
	}
	return nil, errors.Conflict(fmt.Sprintf("code %s already exists", code))
}

// Get returns the public status of code.
func (s *Service) Get(ctx context.Context, store kv.Store, code string) (*Status, error) {
	code = NormalizeCode(code)
	rec, ok, err := kv.NewRepository[Code](store).Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NotFound("promotion code", code)
	}
	return s.status(rec), nil
}

func (s *Service) status(rec *Code) *Status {
	remaining := rec.Remaining()
	return &Status{
		Code:           rec.Code,
		Prize:          rec.Prize,
		MaxRedemptions: rec.MaxRedemptions,
		Redemptions:    len(rec.RedeemedBy),
		Remaining:      remaining,
		Active:         remaining > 0 && !rec.Expired(s.now()),
		ExpiresAt:      rec.ExpiresAt,
	}
}

// Redeem records user's redemption of code. The check and the write happen
// in one compare-and-set so concurrent redeemers can never exceed the limit.
func (s *Service) Redeem(ctx context.Context, store kv.Store, user, code string) (*Redemption, error) {
	code = NormalizeCode(code)
	now := s.now().UTC()
	rec, err := kv.NewRepository[Code](store).Update(ctx, code, func(c *Code) error {
		switch {
		case c.Expired(now):
			return errors.Conflict("promotion code has expired")
		case slices.Contains(c.RedeemedBy, user):
			return errors.Conflict("promotion code already redeemed by this user")
		case c.Remaining() == 0:
			return errors.Conflict("promotion code is exhausted")
		}
		c.RedeemedBy = append(c.RedeemedBy, user)
		return nil
	})
	if stderrors.Is(err, kv.ErrNotFound) {
		return nil, errors.NotFound("promotion code", code)
	}
	if err != nil {
		return nil, err
	}
	return &Redemption{
		Code:      rec.Code,
		Prize:     rec.Prize,
		UserID:    user,
		Remaining: rec.Remaining(),
		At:        now,
	}, nil
}
