package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketRef is cached venue reference data for one instrument.
type MarketRef struct {
	Symbol             string
	MarketID           int32
	SizeDecimals       int32
	PriceDecimals      int32
	MinQuantity        decimal.Decimal
	MarginFraction     int64
	LastTradePrice     decimal.Decimal
	RefreshedAt        time.Time
	FromStaticFallback bool
}

// QuantityMultiplier returns the integer scaling factor for base amounts.
func (m MarketRef) QuantityMultiplier() decimal.Decimal {
	return decimal.New(1, m.SizeDecimals)
}

// ScaleQuantity converts a decimal quantity to the venue's integer base amount.
func (m MarketRef) ScaleQuantity(quantity decimal.Decimal) int64 {
	return quantity.Mul(m.QuantityMultiplier()).IntPart()
}

// ScalePrice converts a decimal price to the venue's integer representation.
func (m MarketRef) ScalePrice(price decimal.Decimal) int64 {
	return price.Mul(decimal.New(1, m.PriceDecimals)).IntPart()
}

// MaxLeverage derives the venue leverage ceiling from the margin fraction.
// The venue expresses initial margin in basis points of 10000.
func (m MarketRef) MaxLeverage() decimal.Decimal {
	if m.MarginFraction <= 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(10000).Div(decimal.NewFromInt(m.MarginFraction))
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook is a depth-limited snapshot of a market's book.
type OrderBook struct {
	Symbol   string
	MarketID int32
	Bids     []BookLevel
	Asks     []BookLevel
}

// BestBid returns the top bid if depth is available.
func (b OrderBook) BestBid() (BookLevel, bool) {
	if len(b.Bids) == 0 {
		return BookLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask if depth is available.
func (b OrderBook) BestAsk() (BookLevel, bool) {
	if len(b.Asks) == 0 {
		return BookLevel{}, false
	}
	return b.Asks[0], true
}
