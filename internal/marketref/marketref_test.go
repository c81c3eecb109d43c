package marketref

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/vantage/errs"
	"github.com/coachpo/vantage/internal/schema"
)

type stubFetcher struct {
	ref   schema.MarketRef
	err   error
	calls int
}

func (s *stubFetcher) MarketDetails(_ context.Context, _ string) (schema.MarketRef, error) {
	s.calls++
	return s.ref, s.err
}

func TestGetCachesWithinTTL(t *testing.T) {
	fetcher := &stubFetcher{ref: schema.MarketRef{Symbol: "ETH", MarketID: 0, SizeDecimals: 4}}
	cache := NewCache(fetcher, 30*time.Second)

	now := time.Unix(1000, 0)
	cache.clock = func() time.Time { return now }

	if _, err := cache.Get(context.Background(), "eth"); err != nil {
		t.Fatalf("first get: %v", err)
	}
	if _, err := cache.Get(context.Background(), "ETH"); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected 1 fetch within TTL, got %d", fetcher.calls)
	}

	now = now.Add(31 * time.Second)
	if _, err := cache.Get(context.Background(), "ETH"); err != nil {
		t.Fatalf("post-expiry get: %v", err)
	}
	if fetcher.calls != 2 {
		t.Fatalf("expected refresh after TTL, got %d fetches", fetcher.calls)
	}
}

func TestGetServesStaleOverFallback(t *testing.T) {
	fetcher := &stubFetcher{ref: schema.MarketRef{Symbol: "ETH", MarketID: 0,
		LastTradePrice: decimal.RequireFromString("3500")}}
	cache := NewCache(fetcher, time.Second)

	now := time.Unix(1000, 0)
	cache.clock = func() time.Time { return now }
	if _, err := cache.Get(context.Background(), "ETH"); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	now = now.Add(time.Minute)
	fetcher.err = errors.New("venue down")
	ref, err := cache.Get(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("stale get: %v", err)
	}
	if ref.FromStaticFallback {
		t.Fatal("stale cache entry should win over the static table")
	}
	if !ref.LastTradePrice.Equal(decimal.RequireFromString("3500")) {
		t.Fatalf("unexpected stale price %s", ref.LastTradePrice)
	}
}

func TestGetStaticFallbackWhenCold(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("venue down")}
	cache := NewCache(fetcher, time.Second)

	ref, err := cache.Get(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("fallback get: %v", err)
	}
	if !ref.FromStaticFallback {
		t.Fatal("expected static fallback entry")
	}
	if ref.MarketID != 1 {
		t.Fatalf("unexpected fallback market id %d", ref.MarketID)
	}
}

func TestGetUnknownSymbolFails(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("venue down")}
	cache := NewCache(fetcher, time.Second)

	_, err := cache.Get(context.Background(), "DOGE")
	if !errs.HasFailure(err, errs.FailureReferenceDataUnavailable) {
		t.Fatalf("expected reference data failure, got %v", err)
	}
}
