// Package tracker maintains the engine's in-memory view of every account's
// signed positions and reconciles it against the venue.
package tracker

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/vantage/internal/observability"
	"github.com/coachpo/vantage/internal/schema"
	"github.com/coachpo/vantage/internal/venue"
)

// SnapshotFunc fetches the venue's authoritative account state.
type SnapshotFunc func(ctx context.Context, accountIndex int64) (schema.AccountSnapshot, error)

// CorrectionFunc observes a reconciliation correction after it is applied.
type CorrectionFunc func(accountIndex int64, symbol string, previous, corrected decimal.Decimal)

type key struct {
	accountIndex int64
	symbol       string
}

// Tracker holds signed positions per (account, symbol). Reads after
// Initialize are always defined for the configured universe: an untouched
// pair reads as flat, never as missing.
type Tracker struct {
	snapshot  SnapshotFunc
	secondary venue.SecondarySource
	tolerance decimal.Decimal

	mu        sync.RWMutex
	positions map[key]schema.TrackedPosition

	onCorrection CorrectionFunc

	correctionsCounter metric.Int64Counter
	sweepDuration      metric.Float64Histogram
}

// New constructs a Tracker. secondary may be nil; corrections are then
// applied without cross-checking.
func New(snapshot SnapshotFunc, secondary venue.SecondarySource, tolerance decimal.Decimal) *Tracker {
	t := &Tracker{
		snapshot:  snapshot,
		secondary: secondary,
		tolerance: tolerance,
		positions: make(map[key]schema.TrackedPosition),
	}
	meter := otel.Meter("tracker")
	t.correctionsCounter, _ = meter.Int64Counter("tracker.corrections",
		metric.WithDescription("Number of tracked positions corrected by reconciliation"),
		metric.WithUnit("{correction}"))
	t.sweepDuration, _ = meter.Float64Histogram("tracker.sweep.duration",
		metric.WithDescription("Latency of reconciliation sweeps"),
		metric.WithUnit("ms"))
	return t
}

// Initialize zero-fills every (account, symbol) pair and then overwrites
// with the venue's snapshot. Accounts whose snapshot fails keep the zero
// fill; the sweep repairs them later.
func (t *Tracker) Initialize(ctx context.Context, accountIndexes []int64, symbols []string) {
	now := time.Now()
	t.mu.Lock()
	for _, idx := range accountIndexes {
		for _, sym := range symbols {
			k := key{accountIndex: idx, symbol: strings.ToUpper(sym)}
			t.positions[k] = schema.TrackedPosition{
				AccountIndex: idx,
				Symbol:       k.symbol,
				Quantity:     decimal.Zero,
				UpdatedAt:    now,
				Source:       schema.SourceSweep,
			}
		}
	}
	t.mu.Unlock()

	for _, idx := range accountIndexes {
		if err := t.Sync(ctx, idx); err != nil {
			observability.Log().Warn("initial position sync failed",
				observability.F("account", idx),
				observability.F("error", err.Error()))
		}
	}
}

// Get returns the tracked position for (account, symbol). The boolean is
// false only for pairs outside the initialized universe.
func (t *Tracker) Get(accountIndex int64, symbol string) (schema.TrackedPosition, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.positions[key{accountIndex: accountIndex, symbol: strings.ToUpper(symbol)}]
	return pos, ok
}

// Quantity returns the tracked signed quantity, zero when untracked.
func (t *Tracker) Quantity(accountIndex int64, symbol string) decimal.Decimal {
	pos, _ := t.Get(accountIndex, symbol)
	return pos.Quantity
}

// AccountPositions snapshots every tracked position for one account.
func (t *Tracker) AccountPositions(accountIndex int64) []schema.TrackedPosition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]schema.TrackedPosition, 0)
	for k, pos := range t.positions {
		if k.accountIndex == accountIndex {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// All snapshots every tracked position across accounts, ordered by account
// index then symbol.
func (t *Tracker) All() []schema.TrackedPosition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]schema.TrackedPosition, 0, len(t.positions))
	for _, pos := range t.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountIndex != out[j].AccountIndex {
			return out[i].AccountIndex < out[j].AccountIndex
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// OnCorrection registers a callback invoked after every sweep correction.
// Must be called before RunSweep starts.
func (t *Tracker) OnCorrection(fn CorrectionFunc) {
	t.onCorrection = fn
}

// ApplyPush overwrites the tracked position from a stream event.
func (t *Tracker) ApplyPush(update schema.PositionUpdate) {
	t.set(update.AccountIndex, update.Symbol, update.Quantity, schema.SourcePush)
}

// Adopt overwrites the tracked position with a polled value, used when order
// verification resolves against the venue's poll rather than a push event.
func (t *Tracker) Adopt(accountIndex int64, symbol string, quantity decimal.Decimal) {
	t.set(accountIndex, symbol, quantity, schema.SourcePostOrderSync)
}

// Sync polls the venue snapshot for one account and overwrites every tracked
// symbol for it. Symbols absent from the snapshot are flat.
func (t *Tracker) Sync(ctx context.Context, accountIndex int64) error {
	snap, err := t.snapshot(ctx, accountIndex)
	if err != nil {
		return err
	}
	t.applySnapshot(accountIndex, snap, schema.SourcePostOrderSync)
	return nil
}

func (t *Tracker) applySnapshot(accountIndex int64, snap schema.AccountSnapshot, source schema.PositionSource) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.positions {
		if k.accountIndex != accountIndex {
			continue
		}
		t.positions[k] = schema.TrackedPosition{
			AccountIndex: accountIndex,
			Symbol:       k.symbol,
			Quantity:     snap.Position(k.symbol),
			UpdatedAt:    now,
			Source:       source,
		}
	}
	// Snapshot symbols outside the configured universe are tracked too, so
	// manually opened positions remain visible to close signals.
	for sym, qty := range snap.Positions {
		k := key{accountIndex: accountIndex, symbol: sym}
		if _, ok := t.positions[k]; !ok {
			t.positions[k] = schema.TrackedPosition{
				AccountIndex: accountIndex,
				Symbol:       sym,
				Quantity:     qty,
				UpdatedAt:    now,
				Source:       source,
			}
		}
	}
}

func (t *Tracker) set(accountIndex int64, symbol string, quantity decimal.Decimal, source schema.PositionSource) {
	k := key{accountIndex: accountIndex, symbol: strings.ToUpper(symbol)}
	t.mu.Lock()
	t.positions[k] = schema.TrackedPosition{
		AccountIndex: accountIndex,
		Symbol:       k.symbol,
		Quantity:     quantity,
		UpdatedAt:    time.Now(),
		Source:       source,
	}
	t.mu.Unlock()
}

// RunSweep reconciles tracked positions against the venue every interval
// until ctx is cancelled.
func (t *Tracker) RunSweep(ctx context.Context, accountIndexes []int64, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.SweepOnce(ctx, accountIndexes)
		}
	}
}

// SweepOnce reconciles every account once. Divergence beyond the tolerance
// is cross-checked against the secondary source when available; the venue
// stays authoritative either way, a disagreeing secondary is only logged.
func (t *Tracker) SweepOnce(ctx context.Context, accountIndexes []int64) {
	start := time.Now()
	for _, idx := range accountIndexes {
		t.sweepAccount(ctx, idx)
	}
	if t.sweepDuration != nil {
		t.sweepDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	}
}

func (t *Tracker) sweepAccount(ctx context.Context, accountIndex int64) {
	snap, err := t.snapshot(ctx, accountIndex)
	if err != nil {
		observability.Log().Warn("sweep snapshot failed",
			observability.F("account", accountIndex),
			observability.F("error", err.Error()))
		return
	}

	t.mu.RLock()
	divergent := make(map[string]decimal.Decimal)
	for k, pos := range t.positions {
		if k.accountIndex != accountIndex {
			continue
		}
		venueQty := snap.Position(k.symbol)
		if venueQty.Sub(pos.Quantity).Abs().GreaterThan(t.tolerance) {
			divergent[k.symbol] = venueQty
		}
	}
	t.mu.RUnlock()

	for sym, venueQty := range divergent {
		if t.secondary != nil {
			secQty, err := t.secondary.Position(ctx, accountIndex, sym)
			if err == nil && secQty.Sub(venueQty).Abs().GreaterThan(t.tolerance) {
				observability.Log().Warn("sweep sources disagree, venue value adopted",
					observability.F("account", accountIndex),
					observability.F("symbol", sym),
					observability.F("venue", venueQty.String()),
					observability.F("secondary", secQty.String()))
			}
		}
		tracked := t.Quantity(accountIndex, sym)
		t.set(accountIndex, sym, venueQty, schema.SourceSweep)
		if t.correctionsCounter != nil {
			t.correctionsCounter.Add(ctx, 1, metric.WithAttributes(
				observability.AccountAttributes(accountIndex, sym)...))
		}
		observability.Log().Info("sweep corrected tracked position",
			observability.F("account", accountIndex),
			observability.F("symbol", sym),
			observability.F("tracked", tracked.String()),
			observability.F("venue", venueQty.String()))
		if t.onCorrection != nil {
			t.onCorrection(accountIndex, sym, tracked, venueQty)
		}
	}
}
