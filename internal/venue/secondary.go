package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SecondaryRest answers position queries through an alternate venue
// endpoint, giving the reconciliation sweep an independent read path.
type SecondaryRest struct {
	client *RestClient
}

// NewSecondaryRest constructs a read-only secondary source for baseURL.
func NewSecondaryRest(baseURL string, timeout time.Duration) *SecondaryRest {
	return &SecondaryRest{client: NewRestClient(baseURL, timeout, nil)}
}

// Position returns the signed position reported by the secondary endpoint.
func (s *SecondaryRest) Position(ctx context.Context, accountIndex int64, symbol string) (decimal.Decimal, error) {
	snap, err := s.client.AccountSnapshot(ctx, accountIndex)
	if err != nil {
		return decimal.Zero, err
	}
	return snap.Position(symbol), nil
}
