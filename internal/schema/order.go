package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the trade side of an order.
type Side string

const (
	// SideBuy increases signed exposure.
	SideBuy Side = "buy"
	// SideSell decreases signed exposure.
	SideSell Side = "sell"
)

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() decimal.Decimal {
	if s == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Opposite returns the closing side for this side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderIntent is a single proposed trade for one account. It is produced by the
// position-adjustment policy, consumed once by the executor, and not persisted.
type OrderIntent struct {
	AccountIndex     int64
	Symbol           string
	Side             Side
	Quantity         decimal.Decimal
	Leverage         int
	ReduceOnly       bool
	ClientOrderIndex int64
	SignalID         string
}

// OrderResult reports the outcome of a submitted order after verification.
type OrderResult struct {
	AccountIndex     int64
	Symbol           string
	Side             Side
	Quantity         decimal.Decimal
	TxHash           string
	ClientOrderIndex int64
	SignalID         string

	// Confirmed is true only when verification observed the expected resulting
	// position. A false value means "submitted, not confirmed executed": callers
	// must re-derive intent from a fresh position read before chaining trades.
	Confirmed bool
	// Position is the tracked position after verification settled, whether it
	// matched the expectation or was adopted from the fallback poll.
	Position   decimal.Decimal
	VerifiedAt time.Time
}
