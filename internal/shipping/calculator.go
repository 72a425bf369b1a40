// Package shipping implements shipments: tracking-number generation, cost
// calculation and the /shipping route module.
package shipping

import (
	"fmt"
	"math"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"
)

const (
	// CarrierPrefix starts every tracking number.
	CarrierPrefix = "TRK"

	// BaseCost is charged for every shipment, in the smallest currency unit.
	BaseCost = 200
	// RatePerKg is charged per kilogram of chargeable weight.
	RatePerKg = 50
	// VolumetricDivisor converts cubic centimetres to volumetric kilograms.
	VolumetricDivisor = 5000
	// MaxCost caps a single shipment's cost. Parcels priced above it are
	// rejected by validation.
	MaxCost = 1_000_000_000_000

	timestampDigits  = 8
	timestampModulus = 100_000_000
	suffixLength     = 4
	base36           = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

var trackingNumberRE = regexp.MustCompile(`^` + CarrierPrefix + `[0-9]{8}[0-9A-Z]{4}$`)

// Dimensions of a parcel in centimetres.
type Dimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Volume returns length × width × height.
func (d Dimensions) Volume() float64 {
	return d.Length * d.Width * d.Height
}

// Calculator derives tracking numbers and costs. The zero value is not
// usable; use NewCalculator.
type Calculator struct {
	now  func() time.Time
	intn func(n int) int
}

// NewCalculator returns a calculator on the wall clock and a random source.
func NewCalculator() *Calculator {
	return &Calculator{now: time.Now, intn: rand.IntN}
}

var defaultCalculator = NewCalculator()

// GenerateTrackingNumber is Calculator.GenerateTrackingNumber on the default
// calculator.
func GenerateTrackingNumber() string {
	return defaultCalculator.GenerateTrackingNumber()
}

// CalculateCost is Calculator.CalculateCost on the default calculator.
func CalculateCost(weight float64, d Dimensions) int64 {
	return defaultCalculator.CalculateCost(weight, d)
}

// GenerateTrackingNumber returns CarrierPrefix, the last 8 digits of the
// Unix millisecond clock and 4 random base-36 characters. Numbers are not
// guaranteed unique; callers that need uniqueness insert with
// compare-and-set and regenerate on collision.
func (c *Calculator) GenerateTrackingNumber() string {
	ms := c.now().UnixMilli() % timestampModulus
	if ms < 0 {
		ms = -ms
	}

	var b strings.Builder
	b.Grow(len(CarrierPrefix) + timestampDigits + suffixLength)
	b.WriteString(CarrierPrefix)
	fmt.Fprintf(&b, "%0*d", timestampDigits, ms)
	for i := 0; i < suffixLength; i++ {
		b.WriteByte(base36[c.intn(len(base36))])
	}
	return b.String()
}

// ChargeableWeight returns max(weight, L×W×H / VolumetricDivisor).
func ChargeableWeight(weight float64, d Dimensions) float64 {
	return math.Max(weight, d.Volume()/VolumetricDivisor)
}

// CalculateCost returns round(BaseCost + ChargeableWeight × RatePerKg).
// Inputs are not validated; results above MaxCost, including infinite and
// NaN ones, saturate at MaxCost.
func (c *Calculator) CalculateCost(weight float64, d Dimensions) int64 {
	// Halves round up.
	cost := math.Floor(BaseCost + ChargeableWeight(weight, d)*RatePerKg + 0.5)
	if !(cost <= MaxCost) {
		return MaxCost
	}
	return int64(cost)
}

// IsTrackingNumber reports whether s has the tracking-number format.
func IsTrackingNumber(s string) bool {
	return trackingNumberRE.MatchString(s)
}
