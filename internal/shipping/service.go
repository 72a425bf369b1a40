package shipping

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/R3E-Network/commerce_layer/internal/errors"
	"github.com/R3E-Network/commerce_layer/internal/kv"
)

// Namespace holds every shipment, keyed by tracking number.
var Namespace = kv.MustNamespace("shipment")

// DefaultCreateAttempts bounds tracking-number regeneration on collision.
const DefaultCreateAttempts = 5

// Shipment statuses.
const (
	StatusCreated   = "created"
	StatusInTransit = "in_transit"
	StatusDelivered = "delivered"
	StatusCancelled = "cancelled"
)

var validStatuses = map[string]bool{
	StatusCreated:   true,
	StatusInTransit: true,
	StatusDelivered: true,
	StatusCancelled: true,
}

// Shipment is one stored parcel. TrackingNumber never changes after
// creation; Cost follows Weight and Dimensions.
type Shipment struct {
	TrackingNumber string     `json:"tracking_number"`
	OwnerID        string     `json:"owner_id"`
	Weight         float64    `json:"weight"`
	Dimensions     Dimensions `json:"dimensions"`
	Cost           int64      `json:"cost"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Tracking is the public view of a shipment; it leaves out the owner.
type Tracking struct {
	TrackingNumber string     `json:"tracking_number"`
	Weight         float64    `json:"weight"`
	Dimensions     Dimensions `json:"dimensions"`
	Cost           int64      `json:"cost"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Tracking returns the public view of s.
func (s *Shipment) Tracking() Tracking {
	return Tracking{
		TrackingNumber: s.TrackingNumber,
		Weight:         s.Weight,
		Dimensions:     s.Dimensions,
		Cost:           s.Cost,
		Status:         s.Status,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

// Parcel is the caller-supplied part of a shipment.
type Parcel struct {
	Weight     float64    `json:"weight"`
	Dimensions Dimensions `json:"dimensions"`
}

// Validate rejects non-positive or infinite weights and dimensions, and
// parcels whose cost would exceed MaxCost.
func (p Parcel) Validate() error {
	d := p.Dimensions
	switch {
	case !(p.Weight > 0) || math.IsInf(p.Weight, 1):
		return errors.InvalidInput("weight must be positive and finite")
	case !(d.Length > 0), !(d.Width > 0), !(d.Height > 0),
		math.IsInf(d.Length, 1), math.IsInf(d.Width, 1), math.IsInf(d.Height, 1):
		return errors.InvalidInput("dimensions must be positive and finite")
	}
	if BaseCost+ChargeableWeight(p.Weight, d)*RatePerKg > MaxCost {
		return errors.InvalidInput("parcel exceeds the maximum chargeable weight").
			WithDetails("max_cost", int64(MaxCost))
	}
	return nil
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Weight     *float64    `json:"weight,omitempty"`
	Dimensions *Dimensions `json:"dimensions,omitempty"`
	Status     *string     `json:"status,omitempty"`
}

// Service holds the shipment rules. Every method takes the module's scoped
// store so the service itself carries no persistence state.
type Service struct {
	calc     *Calculator
	now      func() time.Time
	attempts int
}

// NewService creates a service. calc may be nil for the default calculator.
func NewService(calc *Calculator) *Service {
	if calc == nil {
		calc = defaultCalculator
	}
	return &Service{calc: calc, now: time.Now, attempts: DefaultCreateAttempts}
}

// Calculator returns the calculator used for tracking numbers and costs.
func (s *Service) Calculator() *Calculator {
	return s.calc
}

// Quote prices a parcel without storing anything.
func (s *Service) Quote(p Parcel) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return s.calc.CalculateCost(p.Weight, p.Dimensions), nil
}

// Create stores a new shipment for owner. The tracking number is inserted
// with compare-and-set and regenerated when it is already taken.
func (s *Service) Create(ctx context.Context, store kv.Store, owner string, p Parcel) (*Shipment, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	repo := kv.NewRepository[Shipment](store)

	now := s.now().UTC()
	shipment := &Shipment{
		OwnerID:    owner,
		Weight:     p.Weight,
		Dimensions: p.Dimensions,
		Cost:       s.calc.CalculateCost(p.Weight, p.Dimensions),
		Status:     StatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for attempt := 0; attempt < s.attempts; attempt++ {
		shipment.TrackingNumber = s.calc.GenerateTrackingNumber()
		inserted, err := repo.Insert(ctx, shipment.TrackingNumber, shipment)
		if err != nil {
			return nil, err
		}
		if inserted {
			return shipment, nil
		}
	}
	return nil, errors.Conflict(fmt.Sprintf("could not allocate a unique tracking number after %d attempts", s.attempts))
}

// Get loads a shipment by tracking number.
func (s *Service) Get(ctx context.Context, store kv.Store, tracking string) (*Shipment, error) {
	if !IsTrackingNumber(tracking) {
		return nil, errors.NotFound("shipment", tracking)
	}
	shipment, ok, err := kv.NewRepository[Shipment](store).Get(ctx, tracking)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NotFound("shipment", tracking)
	}
	return shipment, nil
}

// List returns owner's shipments, newest first.
func (s *Service) List(ctx context.Context, store kv.Store, owner string) ([]Shipment, error) {
	all, err := kv.NewRepository[Shipment](store).List(ctx, CarrierPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Shipment, 0, len(all))
	for _, sh := range all {
		if sh.OwnerID == owner {
			out = append(out, sh)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Update applies patch to owner's shipment and recomputes its cost.
func (s *Service) Update(ctx context.Context, store kv.Store, owner, tracking string, patch Patch) (*Shipment, error) {
	if !IsTrackingNumber(tracking) {
		return nil, errors.NotFound("shipment", tracking)
	}
	if patch.Status != nil && !validStatuses[*patch.Status] {
		return nil, errors.InvalidInput(fmt.Sprintf("unknown status %q", *patch.Status))
	}

	updated, err := kv.NewRepository[Shipment](store).Update(ctx, tracking, func(sh *Shipment) error {
		if sh.OwnerID != owner {
			return errors.Forbidden("shipment belongs to another user")
		}
		parcel := Parcel{Weight: sh.Weight, Dimensions: sh.Dimensions}
		if patch.Weight != nil {
			parcel.Weight = *patch.Weight
		}
		if patch.Dimensions != nil {
			parcel.Dimensions = *patch.Dimensions
		}
		if err := parcel.Validate(); err != nil {
			return err
		}
		sh.Weight = parcel.Weight
		sh.Dimensions = parcel.Dimensions
		sh.Cost = s.calc.CalculateCost(parcel.Weight, parcel.Dimensions)
		if patch.Status != nil {
			sh.Status = *patch.Status
		}
		sh.UpdatedAt = s.now().UTC()
		return nil
	})
	if stderrors.Is(err, kv.ErrNotFound) {
		return nil, errors.NotFound("shipment", tracking)
	}
	return updated, err
}

// Delete removes owner's shipment. Deleting a missing shipment succeeds.
func (s *Service) Delete(ctx context.Context, store kv.Store, owner, tracking string) error {
	shipment, err := s.Get(ctx, store, tracking)
	if errors.Is(err, errors.CodeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if shipment.OwnerID != owner {
		return errors.Forbidden("shipment belongs to another user")
	}
	return kv.NewRepository[Shipment](store).Delete(ctx, tracking)
}
