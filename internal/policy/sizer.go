package policy

import (
	"math/rand/v2"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/coachpo/vantage/internal/schema"
)

// Sizer computes the target absolute position size for a signal.
type Sizer interface {
	TargetSize(signal schema.Signal, balance schema.AccountBalance, refPrice decimal.Decimal) decimal.Decimal
}

// FixedSizer returns the same base quantity for every signal.
type FixedSizer struct {
	Quantity decimal.Decimal
}

// TargetSize returns the configured base quantity.
func (f FixedSizer) TargetSize(schema.Signal, schema.AccountBalance, decimal.Decimal) decimal.Decimal {
	return f.Quantity
}

// BalanceFractionSizer sizes positions as a fraction of available balance,
// levered by the signal, clamped to [Min, Max] and rounded to four decimal
// places.
type BalanceFractionSizer struct {
	Fraction decimal.Decimal
	Min      decimal.Decimal
	Max      decimal.Decimal
	Fallback decimal.Decimal
}

// NewBalanceFractionSizer returns a sizer with the standard bounds.
func NewBalanceFractionSizer(fraction, min, max, fallback float64) BalanceFractionSizer {
	return BalanceFractionSizer{
		Fraction: decimal.NewFromFloat(fraction),
		Min:      decimal.NewFromFloat(min),
		Max:      decimal.NewFromFloat(max),
		Fallback: decimal.NewFromFloat(fallback),
	}
}

// TargetSize computes balance * fraction * leverage / price. A missing
// balance or price falls back to the fixed quantity.
func (b BalanceFractionSizer) TargetSize(signal schema.Signal, balance schema.AccountBalance, refPrice decimal.Decimal) decimal.Decimal {
	if !balance.Available.IsPositive() || !refPrice.IsPositive() {
		return b.Fallback
	}
	leverage := decimal.NewFromInt(int64(signal.Leverage))
	if !leverage.IsPositive() {
		leverage = decimal.NewFromInt(1)
	}
	size := balance.Available.Mul(b.Fraction).Mul(leverage).Div(refPrice)
	if size.LessThan(b.Min) {
		size = b.Min
	}
	if size.GreaterThan(b.Max) {
		size = b.Max
	}
	return size.Round(4)
}

// JitterSizer perturbs another sizer's output by up to the configured
// fraction, deterministically per seed, so identical signals across accounts
// do not land identical order sizes on the book.
type JitterSizer struct {
	Inner    Sizer
	Fraction decimal.Decimal

	mu  sync.Mutex
	rng *rand.Rand
}

// NewJitterSizer wraps inner with +-fraction jitter drawn from a seeded
// generator.
func NewJitterSizer(inner Sizer, fraction float64, seed uint64) *JitterSizer {
	return &JitterSizer{
		Inner:    inner,
		Fraction: decimal.NewFromFloat(fraction),
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// TargetSize applies the jitter multiplier to the inner sizer's output.
func (j *JitterSizer) TargetSize(signal schema.Signal, balance schema.AccountBalance, refPrice decimal.Decimal) decimal.Decimal {
	base := j.Inner.TargetSize(signal, balance, refPrice)
	if !base.IsPositive() || !j.Fraction.IsPositive() {
		return base
	}
	// Uniform in [-fraction, +fraction]. The rng is shared across the
	// per-account dispatch goroutines, so draws are serialized.
	j.mu.Lock()
	draw := j.rng.Float64()
	j.mu.Unlock()
	offset := decimal.NewFromFloat(draw*2 - 1).Mul(j.Fraction)
	return base.Mul(decimal.NewFromInt(1).Add(offset)).Round(4)
}
