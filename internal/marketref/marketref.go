// Package marketref caches venue market reference data with a short TTL and
// serves a static fallback table when the venue cannot be reached.
package marketref

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/vantage/errs"
	"github.com/coachpo/vantage/internal/observability"
	"github.com/coachpo/vantage/internal/schema"
)

// Fetcher is the venue lookup the cache refreshes from.
type Fetcher interface {
	MarketDetails(ctx context.Context, symbol string) (schema.MarketRef, error)
}

// Cache memoizes market reference data per symbol.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	clock   func() time.Time

	mu      sync.RWMutex
	entries map[string]schema.MarketRef
}

// NewCache constructs a Cache refreshing through fetcher with the given TTL.
func NewCache(fetcher Fetcher, ttl time.Duration) *Cache {
	return &Cache{
		fetcher: fetcher,
		ttl:     ttl,
		clock:   time.Now,
		entries: make(map[string]schema.MarketRef),
	}
}

// Get returns reference data for symbol. A fresh cached entry is served
// directly; otherwise the venue is queried, and on failure the static
// fallback table keeps the engine trading with conservative parameters.
func (c *Cache) Get(ctx context.Context, symbol string) (schema.MarketRef, error) {
	key := strings.ToUpper(symbol)

	c.mu.RLock()
	cached, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.clock().Sub(cached.RefreshedAt) < c.ttl {
		return cached, nil
	}

	ref, err := c.fetcher.MarketDetails(ctx, key)
	if err != nil {
		// A stale entry is still better than the static table.
		if ok {
			return cached, nil
		}
		fallback, found := staticFallback(key)
		if !found {
			return schema.MarketRef{}, errs.New("marketref", errs.CodeUnavailable,
				errs.WithFailure(errs.FailureReferenceDataUnavailable),
				errs.WithSymbol(key),
				errs.WithMessage("no cached, live, or fallback reference data"),
				errs.WithCause(err))
		}
		observability.Log().Warn("serving static market fallback",
			observability.F("symbol", key),
			observability.F("error", err.Error()))
		return fallback, nil
	}

	ref.RefreshedAt = c.clock()
	c.mu.Lock()
	c.entries[key] = ref
	c.mu.Unlock()
	return ref, nil
}

// Invalidate drops the cached entry for symbol.
func (c *Cache) Invalidate(symbol string) {
	c.mu.Lock()
	delete(c.entries, strings.ToUpper(symbol))
	c.mu.Unlock()
}

type staticMarket struct {
	marketID      int32
	sizeDecimals  int32
	priceDecimals int32
	minQuantity   string
	price         string
}

// Static parameters for the majors, used only when the venue is unreachable
// and nothing is cached. Prices are deliberately coarse; the slippage bound
// still protects the fill.
var staticMarkets = map[string]staticMarket{
	"ETH": {marketID: 0, sizeDecimals: 4, priceDecimals: 2, minQuantity: "0.005", price: "3000"},
	"BTC": {marketID: 1, sizeDecimals: 5, priceDecimals: 1, minQuantity: "0.0002", price: "60000"},
	"SOL": {marketID: 2, sizeDecimals: 3, priceDecimals: 3, minQuantity: "0.05", price: "150"},
}

func staticFallback(symbol string) (schema.MarketRef, bool) {
	m, ok := staticMarkets[symbol]
	if !ok {
		return schema.MarketRef{}, false
	}
	return schema.MarketRef{
		Symbol:             symbol,
		MarketID:           m.marketID,
		SizeDecimals:       m.sizeDecimals,
		PriceDecimals:      m.priceDecimals,
		MinQuantity:        decimal.RequireFromString(m.minQuantity),
		MarginFraction:     200,
		LastTradePrice:     decimal.RequireFromString(m.price),
		FromStaticFallback: true,
	}, true
}
