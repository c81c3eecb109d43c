// Package journal persists dispatched signals and their per-account order
// outcomes to Postgres.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/coachpo/vantage/errs"
	"github.com/coachpo/vantage/internal/observability"
	"github.com/coachpo/vantage/internal/schema"
)

// Journal records trading activity. Implementations must be safe for
// concurrent use; recording is best effort and never blocks order flow.
type Journal interface {
	RecordSignal(ctx context.Context, signal schema.Signal) error
	RecordOrder(ctx context.Context, signal schema.Signal, result schema.OrderResult, execErr error) error
	RecordCorrection(ctx context.Context, accountIndex int64, symbol string, previous, corrected decimal.Decimal) error
	SaveRiskState(ctx context.Context, state RiskState) error
	LoadRiskState(ctx context.Context) (RiskState, bool, error)
	Close()
}

// RiskState is the risk gate's durable state, carried across restarts.
type RiskState struct {
	DailyPnL   decimal.Decimal
	DayAnchor  time.Time
	KillSwitch bool
	UpdatedAt  time.Time
}

// Noop discards every record. Used when no journal DSN is configured.
type Noop struct{}

// RecordSignal implements Journal.
func (Noop) RecordSignal(context.Context, schema.Signal) error { return nil }

// RecordOrder implements Journal.
func (Noop) RecordOrder(context.Context, schema.Signal, schema.OrderResult, error) error {
	return nil
}

// RecordCorrection implements Journal.
func (Noop) RecordCorrection(context.Context, int64, string, decimal.Decimal, decimal.Decimal) error {
	return nil
}

// SaveRiskState implements Journal.
func (Noop) SaveRiskState(context.Context, RiskState) error { return nil }

// LoadRiskState implements Journal. The boolean is always false: nothing is
// ever persisted.
func (Noop) LoadRiskState(context.Context) (RiskState, bool, error) {
	return RiskState{}, false, nil
}

// Close implements Journal.
func (Noop) Close() {}

// Postgres is a pgx-backed Journal.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool to the given DSN and verifies connectivity.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.New("journal", errs.CodeUnavailable,
			errs.WithMessage("create connection pool"),
			errs.WithCause(err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.New("journal", errs.CodeUnavailable,
			errs.WithMessage("ping journal database"),
			errs.WithCause(err))
	}
	return &Postgres{pool: pool}, nil
}

const signalInsertSQL = `
INSERT INTO signals (
    id,
    direction,
    symbol,
    leverage,
    scope_account,
    received_at
)
VALUES (
    @id,
    @direction,
    @symbol,
    @leverage,
    @scope_account,
    @received_at
)
ON CONFLICT (id) DO NOTHING;
`

// RecordSignal inserts the signal row, ignoring duplicates on retried
// deliveries.
func (p *Postgres) RecordSignal(ctx context.Context, signal schema.Signal) error {
	args := pgx.NamedArgs{
		"id":            signal.ID,
		"direction":     string(signal.Direction),
		"symbol":        signal.Symbol,
		"leverage":      signal.Leverage,
		"scope_account": nil,
		"received_at":   signal.ReceivedAt,
	}
	if signal.Scope != nil {
		args["scope_account"] = *signal.Scope
	}
	if _, err := p.pool.Exec(ctx, signalInsertSQL, args); err != nil {
		return errs.New("journal", errs.CodeUnavailable,
			errs.WithMessage("insert signal"),
			errs.WithCause(err))
	}
	return nil
}

const tradeInsertSQL = `
INSERT INTO trades (
    signal_id,
    account_index,
    symbol,
    side,
    quantity,
    client_order_index,
    tx_hash,
    confirmed,
    position_after,
    error,
    executed_at
)
VALUES (
    @signal_id,
    @account_index,
    @symbol,
    @side,
    @quantity,
    @client_order_index,
    @tx_hash,
    @confirmed,
    @position_after,
    @error,
    @executed_at
);
`

// RecordOrder inserts one trade row for an account's outcome. execErr may be
// nil.
func (p *Postgres) RecordOrder(ctx context.Context, signal schema.Signal, result schema.OrderResult, execErr error) error {
	args := pgx.NamedArgs{
		"signal_id":          signal.ID,
		"account_index":      result.AccountIndex,
		"symbol":             result.Symbol,
		"side":               string(result.Side),
		"quantity":           result.Quantity,
		"client_order_index": result.ClientOrderIndex,
		"tx_hash":            result.TxHash,
		"confirmed":          result.Confirmed,
		"position_after":     result.Position,
		"error":              nil,
		"executed_at":        time.Now().UTC(),
	}
	if execErr != nil {
		args["error"] = execErr.Error()
	}
	if _, err := p.pool.Exec(ctx, tradeInsertSQL, args); err != nil {
		return errs.New("journal", errs.CodeUnavailable,
			errs.WithMessage("insert trade"),
			errs.WithCause(err))
	}
	return nil
}

const correctionInsertSQL = `
INSERT INTO corrections (
    account_index,
    symbol,
    previous_quantity,
    corrected_quantity,
    observed_at
)
VALUES (
    @account_index,
    @symbol,
    @previous_quantity,
    @corrected_quantity,
    @observed_at
);
`

// RecordCorrection inserts one reconciliation correction row.
func (p *Postgres) RecordCorrection(ctx context.Context, accountIndex int64, symbol string, previous, corrected decimal.Decimal) error {
	args := pgx.NamedArgs{
		"account_index":      accountIndex,
		"symbol":             symbol,
		"previous_quantity":  previous,
		"corrected_quantity": corrected,
		"observed_at":        time.Now().UTC(),
	}
	if _, err := p.pool.Exec(ctx, correctionInsertSQL, args); err != nil {
		return errs.New("journal", errs.CodeUnavailable,
			errs.WithMessage("insert correction"),
			errs.WithCause(err))
	}
	return nil
}

const riskStateUpsertSQL = `
INSERT INTO risk_state (id, daily_pnl, day_anchor, kill_switch, updated_at)
VALUES (1, @daily_pnl, @day_anchor, @kill_switch, @updated_at)
ON CONFLICT (id) DO UPDATE SET
    daily_pnl   = EXCLUDED.daily_pnl,
    day_anchor  = EXCLUDED.day_anchor,
    kill_switch = EXCLUDED.kill_switch,
    updated_at  = EXCLUDED.updated_at;
`

const riskStateSelectSQL = `
SELECT daily_pnl, day_anchor, kill_switch, updated_at FROM risk_state WHERE id = 1;
`

// SaveRiskState upserts the single risk state row.
func (p *Postgres) SaveRiskState(ctx context.Context, state RiskState) error {
	args := pgx.NamedArgs{
		"daily_pnl":   state.DailyPnL,
		"day_anchor":  state.DayAnchor.UTC(),
		"kill_switch": state.KillSwitch,
		"updated_at":  time.Now().UTC(),
	}
	if _, err := p.pool.Exec(ctx, riskStateUpsertSQL, args); err != nil {
		return errs.New("journal", errs.CodeUnavailable,
			errs.WithMessage("save risk state"),
			errs.WithCause(err))
	}
	return nil
}

// LoadRiskState reads the persisted risk state. The boolean is false when no
// state was ever saved.
func (p *Postgres) LoadRiskState(ctx context.Context) (RiskState, bool, error) {
	var state RiskState
	row := p.pool.QueryRow(ctx, riskStateSelectSQL)
	err := row.Scan(&state.DailyPnL, &state.DayAnchor, &state.KillSwitch, &state.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RiskState{}, false, nil
		}
		return RiskState{}, false, errs.New("journal", errs.CodeUnavailable,
			errs.WithMessage("load risk state"),
			errs.WithCause(err))
	}
	return state, true, nil
}

// Close releases the underlying pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// BestEffort wraps a Journal so failures are logged instead of propagated.
type BestEffort struct {
	Inner Journal
}

// RecordSignal logs and swallows errors from the inner journal.
func (b BestEffort) RecordSignal(ctx context.Context, signal schema.Signal) error {
	if err := b.Inner.RecordSignal(ctx, signal); err != nil {
		observability.Log().Warn("journal signal write failed",
			observability.F("signal", signal.ID),
			observability.F("error", err.Error()))
	}
	return nil
}

// RecordOrder logs and swallows errors from the inner journal.
func (b BestEffort) RecordOrder(ctx context.Context, signal schema.Signal, result schema.OrderResult, execErr error) error {
	if err := b.Inner.RecordOrder(ctx, signal, result, execErr); err != nil {
		observability.Log().Warn("journal trade write failed",
			observability.F("signal", signal.ID),
			observability.F("account", result.AccountIndex),
			observability.F("error", err.Error()))
	}
	return nil
}

// RecordCorrection logs and swallows errors from the inner journal.
func (b BestEffort) RecordCorrection(ctx context.Context, accountIndex int64, symbol string, previous, corrected decimal.Decimal) error {
	if err := b.Inner.RecordCorrection(ctx, accountIndex, symbol, previous, corrected); err != nil {
		observability.Log().Warn("journal correction write failed",
			observability.F("account", accountIndex),
			observability.F("symbol", symbol),
			observability.F("error", err.Error()))
	}
	return nil
}

// SaveRiskState logs and swallows errors from the inner journal.
func (b BestEffort) SaveRiskState(ctx context.Context, state RiskState) error {
	if err := b.Inner.SaveRiskState(ctx, state); err != nil {
		observability.Log().Warn("journal risk state write failed",
			observability.F("error", err.Error()))
	}
	return nil
}

// LoadRiskState passes through: startup wants to know whether state loaded.
func (b BestEffort) LoadRiskState(ctx context.Context) (RiskState, bool, error) {
	return b.Inner.LoadRiskState(ctx)
}

// Close closes the inner journal.
func (b BestEffort) Close() { b.Inner.Close() }
