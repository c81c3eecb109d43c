// Package venue isolates every interaction with the derivatives venue behind
// narrow interfaces, so the engine core never sees raw wire payloads.
package venue

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/coachpo/vantage/internal/schema"
)

// CreateOrderRequest carries the venue-scaled integer fields of an order
// submission. Quantity and price are already scaled by the market's decimal
// exponents.
type CreateOrderRequest struct {
	MarketID         int32
	ClientOrderIndex int64
	BaseAmount       int64
	Price            int64
	IsAsk            bool
	ReduceOnly       bool
	Nonce            int64
	APIKeyIndex      int
	AccountIndex     int64
}

// CreateOrderResponse is the venue acknowledgement of an order submission.
type CreateOrderResponse struct {
	TxHash    string
	Code      int
	Message   string
	Committed bool
}

// Rest exposes the venue's request/response surface.
type Rest interface {
	// AccountSnapshot fetches balance and signed positions for an account.
	AccountSnapshot(ctx context.Context, accountIndex int64) (schema.AccountSnapshot, error)
	// OrderBook fetches the current top of book for a market.
	OrderBook(ctx context.Context, marketID int32) (schema.OrderBook, error)
	// MarketDetails fetches static market reference data by symbol.
	MarketDetails(ctx context.Context, symbol string) (schema.MarketRef, error)
	// LastTradePrice fetches the most recent trade price for a market.
	LastTradePrice(ctx context.Context, marketID int32) (decimal.Decimal, error)
	// NextNonce fetches the next transaction nonce for an API key.
	NextNonce(ctx context.Context, accountIndex int64, apiKeyIndex int) (int64, error)
	// SubmitOrder signs and submits an immediate-or-cancel order.
	SubmitOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResponse, error)
}

// Signer produces venue-acceptable signatures for order transactions.
type Signer interface {
	// SignCreateOrder returns the signed transaction payload for the request.
	SignCreateOrder(req CreateOrderRequest) ([]byte, error)
	// APIKeyIndex reports the key slot this signer authenticates as.
	APIKeyIndex() int
}

// StreamHandler receives normalized push events from the venue stream.
type StreamHandler interface {
	OnPositionUpdate(update schema.PositionUpdate)
	OnOrderUpdate(update schema.OrderUpdate)
	OnConnectionStateChange(connected bool)
}

// Stream maintains the venue's account-scoped websocket subscription.
type Stream interface {
	// Run connects and pumps events to the handler until ctx is cancelled,
	// reconnecting with backoff on failure.
	Run(ctx context.Context) error
	// Connected reports whether the stream currently holds a live connection.
	Connected() bool
}

// SecondarySource answers position queries from an independent data path,
// used to cross-check reconciliation corrections.
type SecondarySource interface {
	Position(ctx context.Context, accountIndex int64, symbol string) (decimal.Decimal, error)
}
