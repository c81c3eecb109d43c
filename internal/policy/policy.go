// Package policy turns a directional signal plus the currently tracked
// position into at most one order decision.
package policy

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/vantage/internal/schema"
)

// Decision is the outcome of evaluating a signal against a position.
type Decision struct {
	// Trade is false when the account is already positioned as requested.
	Trade      bool
	Side       schema.Side
	Quantity   decimal.Decimal
	ReduceOnly bool
	// Reason is a short human-readable explanation, logged and journaled.
	Reason string
}

// Decide computes the order needed to move a signed position to the state the
// signal requests. target is the desired absolute position size for
// directional signals and is ignored for closes.
//
// The same signal applied twice yields a no-op the second time: once the
// position matches the requested direction, Decide never widens it.
func Decide(direction schema.Direction, position decimal.Decimal, target decimal.Decimal) Decision {
	switch direction {
	case schema.DirectionLong:
		switch {
		case position.IsPositive():
			return Decision{Reason: "already long"}
		case position.IsNegative():
			// Flip: close the short and open the long in one order.
			return Decision{
				Trade:    true,
				Side:     schema.SideBuy,
				Quantity: position.Abs().Add(target),
				Reason:   "reverse short to long",
			}
		default:
			return Decision{Trade: true, Side: schema.SideBuy, Quantity: target, Reason: "open long"}
		}
	case schema.DirectionShort:
		switch {
		case position.IsNegative():
			return Decision{Reason: "already short"}
		case position.IsPositive():
			return Decision{
				Trade:    true,
				Side:     schema.SideSell,
				Quantity: position.Add(target),
				Reason:   "reverse long to short",
			}
		default:
			return Decision{Trade: true, Side: schema.SideSell, Quantity: target, Reason: "open short"}
		}
	case schema.DirectionClose:
		if position.IsZero() {
			return Decision{Reason: "already flat"}
		}
		side := schema.SideSell
		if position.IsNegative() {
			side = schema.SideBuy
		}
		return Decision{
			Trade:      true,
			Side:       side,
			Quantity:   position.Abs(),
			ReduceOnly: true,
			Reason:     "close position",
		}
	default:
		return Decision{Reason: "unknown direction"}
	}
}
