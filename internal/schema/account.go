package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountBalance captures the collateral figures reported by the venue.
type AccountBalance struct {
	Available  decimal.Decimal
	Collateral decimal.Decimal
	TotalAsset decimal.Decimal
}

// AccountSnapshot is the venue's authoritative per-account state, normalized
// at the venue boundary: positions carry signed quantities, never a separate
// sign field, so downstream code never branches on response shapes.
type AccountSnapshot struct {
	AccountIndex int64
	L1Address    string
	Balance      AccountBalance
	// Positions maps symbol to signed quantity. Absent symbols are flat.
	Positions map[string]decimal.Decimal
	FetchedAt time.Time
}

// Position returns the signed quantity for a symbol, zero when absent.
func (s AccountSnapshot) Position(symbol string) decimal.Decimal {
	if s.Positions == nil {
		return decimal.Zero
	}
	return s.Positions[symbol]
}

// HealthStatus reports per-account liveness for the upward-facing surface.
type HealthStatus struct {
	AccountIndex int64  `json:"account_index"`
	Connected    bool   `json:"connected"`
	RetryCount   int    `json:"retry_count"`
	Error        string `json:"error,omitempty"`
}
