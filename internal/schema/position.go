package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSource records which mechanism last wrote a tracked position.
type PositionSource string

const (
	// SourcePush marks updates delivered by the venue's account event stream.
	SourcePush PositionSource = "push"
	// SourcePostOrderSync marks one-shot polls triggered after an order.
	SourcePostOrderSync PositionSource = "post_order_sync"
	// SourceSweep marks writes made by the periodic reconciliation sweep.
	SourceSweep PositionSource = "sweep"
)

// TrackedPosition is the engine's local estimate of one account's signed
// exposure in one symbol. Positive is long, negative is short, zero is flat.
// Authoritative state lives at the venue.
type TrackedPosition struct {
	AccountIndex int64
	Symbol       string
	Quantity     decimal.Decimal
	UpdatedAt    time.Time
	Source       PositionSource
}

// PositionUpdate is a normalized push event from the venue account stream.
// Quantity is already signed at the venue boundary.
type PositionUpdate struct {
	AccountIndex int64
	Symbol       string
	Quantity     decimal.Decimal
	ReceivedAt   time.Time
}

// OrderStatus enumerates terminal and non-terminal venue order states.
type OrderStatus string

const (
	// OrderStatusFilled marks a fully executed order.
	OrderStatusFilled OrderStatus = "filled"
	// OrderStatusCancelled marks an order cancelled before execution.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRejected marks an order refused by the venue.
	OrderStatusRejected OrderStatus = "rejected"
	// OrderStatusExpired marks an IOC order that lapsed unfilled.
	OrderStatusExpired OrderStatus = "expired"
	// OrderStatusOpen marks a resting, not yet terminal order.
	OrderStatusOpen OrderStatus = "open"
)

// Terminal reports whether the status ends the order's lifecycle.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// OrderUpdate is a normalized order-status push event.
type OrderUpdate struct {
	AccountIndex     int64
	ClientOrderIndex int64
	Symbol           string
	Side             Side
	Status           OrderStatus
	FilledQuantity   decimal.Decimal
	FilledPrice      decimal.Decimal
	Reason           string
	ReceivedAt       time.Time
}
