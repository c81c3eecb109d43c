// Package engine assembles the Vantage components into a running service.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/vantage/config"
	"github.com/coachpo/vantage/internal/bus"
	"github.com/coachpo/vantage/internal/executor"
	"github.com/coachpo/vantage/internal/journal"
	"github.com/coachpo/vantage/internal/marketref"
	"github.com/coachpo/vantage/internal/notify"
	"github.com/coachpo/vantage/internal/observability"
	"github.com/coachpo/vantage/internal/policy"
	"github.com/coachpo/vantage/internal/risk"
	"github.com/coachpo/vantage/internal/router"
	"github.com/coachpo/vantage/internal/schema"
	"github.com/coachpo/vantage/internal/server"
	"github.com/coachpo/vantage/internal/session"
	"github.com/coachpo/vantage/internal/tracker"
	"github.com/coachpo/vantage/internal/venue"
	"github.com/coachpo/vantage/lib/async"
)

// Engine owns the full trading pipeline: webhook ingestion, signal routing,
// order execution, position tracking, and reconciliation.
type Engine struct {
	cfg config.Settings

	accountsMu sync.RWMutex
	accounts   []config.AccountConfig

	sessions *session.Pool
	events   *bus.MemoryBus
	track    *tracker.Tracker
	markets  *marketref.Cache
	exec     *executor.Executor
	routes   *router.Router
	gate     *risk.Manager
	journal  journal.Journal
	notifier notify.Notifier
	srv      *server.Server
	effects  *async.Pool

	equityMu   sync.Mutex
	lastEquity map[int64]decimal.Decimal

	shutdownTelemetry func(context.Context) error
}

// New wires an Engine from configuration. The returned engine is not yet
// running; call Run.
func New(ctx context.Context, cfg config.Settings) (*Engine, error) {
	_, shutdownTelemetry, err := observability.InitTelemetry(ctx, observability.TelemetryConfig{
		OTLPEndpoint: cfg.OTLPEndpoint,
		ServiceName:  "vantage",
	})
	if err != nil {
		return nil, err
	}

	accounts, err := config.LoadAccounts(cfg.AccountsPath, cfg.DefaultAccount)
	if err != nil {
		return nil, err
	}
	active := config.ActiveAccounts(accounts)

	e := &Engine{
		cfg:               cfg,
		accounts:          active,
		events:            bus.NewMemoryBus(256),
		gate:              risk.NewManager(cfg.Risk),
		lastEquity:        make(map[int64]decimal.Decimal),
		shutdownTelemetry: shutdownTelemetry,
	}

	e.sessions = session.NewPool(accounts, cfg.MaxRetries,
		func(ctx context.Context, acct config.AccountConfig) (*session.Session, error) {
			return e.buildSession(ctx, acct)
		})

	readonlyRest := venue.NewRestClient(cfg.Venue.RESTBaseURL, cfg.Venue.HTTPTimeout, nil)
	e.markets = marketref.NewCache(readonlyRest, cfg.Execution.MarketRefTTL)

	var secondary venue.SecondarySource
	if cfg.Execution.SecondarySourceURL != "" {
		secondary = venue.NewSecondaryRest(cfg.Execution.SecondarySourceURL, cfg.Venue.HTTPTimeout)
	}
	tolerance := decimal.NewFromFloat(cfg.Execution.VerifyTolerance)
	e.track = tracker.New(e.snapshotFor, secondary, tolerance)

	e.exec = executor.New(executor.Config{
		SlippageTolerance: decimal.NewFromFloat(cfg.Execution.SlippageTolerance),
		VerifyTimeout:     cfg.Execution.VerifyTimeout,
		VerifyTolerance:   tolerance,
		SettlementDelay:   cfg.Execution.SettlementDelay,
	}, e.markets, e.gate, e.track, e.events)

	e.journal = journal.Noop{}
	if cfg.JournalDSN != "" {
		if err := journal.Migrate(ctx, cfg.JournalDSN); err != nil {
			return nil, err
		}
		pg, err := journal.NewPostgres(ctx, cfg.JournalDSN)
		if err != nil {
			return nil, err
		}
		e.journal = journal.BestEffort{Inner: pg}
	}
	e.notifier = notify.New(cfg.Notify)

	if state, ok, err := e.journal.LoadRiskState(ctx); err != nil {
		observability.Log().Warn("risk state load failed, starting fresh",
			observability.F("error", err.Error()))
	} else if ok {
		e.gate.Restore(risk.State{
			DailyPnL:   state.DailyPnL,
			DayAnchor:  state.DayAnchor,
			KillSwitch: state.KillSwitch,
		})
		observability.Log().Info("risk state restored",
			observability.F("daily_pnl", state.DailyPnL.String()),
			observability.F("kill_switch", state.KillSwitch))
	}

	e.effects, err = async.NewPool(2, 64)
	if err != nil {
		return nil, err
	}
	e.track.OnCorrection(e.onCorrection)

	e.routes = router.New(active, e.sessions, e.exec, e.track, e.markets,
		e.buildSizer(), e.onOutcome)
	e.srv = server.New(cfg.Server, &dispatchRecorder{engine: e}, e.sessions)

	return e, nil
}

// Run starts the venue streams, the reconciliation sweep, and the webhook
// server, blocking until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	indexes := e.accountIndexes()
	e.track.Initialize(ctx, indexes, e.cfg.Symbols)

	var wg conc.WaitGroup
	for _, acct := range e.activeAccounts() {
		stream := venue.NewAccountStream(
			e.cfg.Venue.WebsocketURL,
			acct.AccountIndex,
			e.cfg.Venue.HandshakeTimeout,
			&streamHandler{engine: e, accountIndex: acct.AccountIndex},
		)
		wg.Go(func() {
			_ = stream.Run(ctx)
		})
	}
	wg.Go(func() {
		e.track.RunSweep(ctx, indexes, e.cfg.Execution.ReconcileInterval)
	})
	wg.Go(func() {
		_ = e.srv.ListenAndServe()
	})
	wg.Go(func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = e.srv.Shutdown(shutdownCtx)
	})

	wg.Wait()
	return e.close()
}

// Dispatch routes a signal through the full pipeline. Exposed for the
// webhook server and for operational tooling.
func (e *Engine) Dispatch(ctx context.Context, signal schema.Signal) []router.Outcome {
	e.recordSignal(ctx, signal)
	return e.routes.Dispatch(ctx, signal)
}

// Handle dispatches a signal fire-and-forget. A false return means the
// intake queue is saturated and the signal was not accepted.
func (e *Engine) Handle(ctx context.Context, signal schema.Signal) bool {
	err := e.effects.Submit(ctx, func(taskCtx context.Context) error {
		e.Dispatch(taskCtx, signal)
		return nil
	})
	return err == nil
}

// AccountPositions reports the tracked positions of one account.
func (e *Engine) AccountPositions(accountIndex int64) []schema.TrackedPosition {
	return e.track.AccountPositions(accountIndex)
}

// AllPositions reports every tracked position across accounts.
func (e *Engine) AllPositions() []schema.TrackedPosition {
	return e.track.All()
}

// Health reports per-account session liveness.
func (e *Engine) Health() []schema.HealthStatus {
	return e.sessions.Health()
}

// ReloadConfiguration re-reads the account roster and swaps it into the
// session pool and router. Sessions with unchanged credentials survive.
func (e *Engine) ReloadConfiguration() error {
	accounts, err := config.LoadAccounts(e.cfg.AccountsPath, e.cfg.DefaultAccount)
	if err != nil {
		return err
	}
	active := config.ActiveAccounts(accounts)
	e.sessions.Reload(accounts)
	e.routes.SetAccounts(active)
	e.accountsMu.Lock()
	e.accounts = active
	e.accountsMu.Unlock()
	observability.Log().Info("configuration reloaded",
		observability.F("accounts", len(active)))
	return nil
}

// CloseAllSessions tears down every live venue session.
func (e *Engine) CloseAllSessions(ctx context.Context) {
	e.sessions.CloseAll(ctx)
}

// EmergencyStop engages the kill switch, notifies, and persists the state so
// a restart stays halted.
func (e *Engine) EmergencyStop(ctx context.Context, reason string) {
	e.gate.EngageKillSwitch()
	observability.Log().Error("emergency stop engaged",
		observability.F("reason", reason))
	e.notifier.NotifyEmergencyStop(ctx, reason)
	e.persistRiskState(ctx)
}

func (e *Engine) close() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var closeErrs []error
	closeErrs = append(closeErrs, e.effects.Shutdown(shutdownCtx))
	e.events.Close()
	e.persistRiskStateSync(shutdownCtx)
	e.sessions.CloseAll(shutdownCtx)
	e.journal.Close()
	closeErrs = append(closeErrs, e.shutdownTelemetry(shutdownCtx))
	return observability.AggregateErrors("engine shutdown", closeErrs)
}

// persistRiskState saves the gate's durable state off the hot path.
func (e *Engine) persistRiskState(ctx context.Context) {
	_ = e.effects.Submit(ctx, func(taskCtx context.Context) error {
		e.persistRiskStateSync(taskCtx)
		return nil
	})
}

func (e *Engine) persistRiskStateSync(ctx context.Context) {
	state := e.gate.Snapshot()
	_ = e.journal.SaveRiskState(ctx, journal.RiskState{
		DailyPnL:   state.DailyPnL,
		DayAnchor:  state.DayAnchor,
		KillSwitch: state.KillSwitch,
	})
}

// onCorrection journals reconciliation corrections off the sweep path.
func (e *Engine) onCorrection(accountIndex int64, symbol string, previous, corrected decimal.Decimal) {
	_ = e.effects.Submit(context.Background(), func(taskCtx context.Context) error {
		return e.journal.RecordCorrection(taskCtx, accountIndex, symbol, previous, corrected)
	})
}

func (e *Engine) buildSession(ctx context.Context, acct config.AccountConfig) (*session.Session, error) {
	signer, err := venue.NewKeySigner(acct.PrivateKey, acct.AccountIndex, acct.APIKeyIndex)
	if err != nil {
		return nil, err
	}
	rest := venue.NewRestClient(e.cfg.Venue.RESTBaseURL, e.cfg.Venue.OrderTimeout, signer)

	// Verify the account exists before handing the session out.
	checkCtx, cancel := context.WithTimeout(ctx, e.cfg.Venue.ConnectTimeout)
	defer cancel()
	if _, err := rest.AccountSnapshot(checkCtx, acct.AccountIndex); err != nil {
		return nil, err
	}
	return session.New(acct.AccountIndex, acct.APIKeyIndex, rest), nil
}

func (e *Engine) buildSizer() policy.Sizer {
	sizing := e.cfg.Sizing
	if !sizing.UseBalanceFraction {
		return policy.FixedSizer{Quantity: decimal.NewFromFloat(sizing.BaseQuantity)}
	}
	base := policy.NewBalanceFractionSizer(
		sizing.BalanceFraction, sizing.MinQuantity, sizing.MaxQuantity, sizing.BaseQuantity)
	return policy.NewJitterSizer(base, 0.01, uint64(time.Now().UnixNano()))
}

// snapshotFor resolves an account's session lazily so the tracker can poll
// accounts whose sessions were not created yet.
func (e *Engine) snapshotFor(ctx context.Context, accountIndex int64) (schema.AccountSnapshot, error) {
	sess, err := e.sessions.Get(ctx, accountIndex)
	if err != nil {
		return schema.AccountSnapshot{}, err
	}
	snap, err := sess.Rest().AccountSnapshot(ctx, accountIndex)
	if err == nil {
		e.observeEquity(ctx, accountIndex, snap.Balance.TotalAsset)
	}
	return snap, err
}

// observeEquity feeds per-account equity changes into the daily loss window
// as a percentage of the previous reading.
func (e *Engine) observeEquity(ctx context.Context, accountIndex int64, equity decimal.Decimal) {
	if !equity.IsPositive() {
		return
	}
	e.equityMu.Lock()
	prev, ok := e.lastEquity[accountIndex]
	e.lastEquity[accountIndex] = equity
	e.equityMu.Unlock()
	if !ok || !prev.IsPositive() {
		return
	}
	changePct := equity.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100))
	if changePct.IsZero() {
		return
	}
	e.gate.RecordFill(accountIndex, "", changePct)
	e.persistRiskState(ctx)
}

func (e *Engine) accountIndexes() []int64 {
	accounts := e.activeAccounts()
	indexes := make([]int64, 0, len(accounts))
	for _, acct := range accounts {
		indexes = append(indexes, acct.AccountIndex)
	}
	return indexes
}

func (e *Engine) activeAccounts() []config.AccountConfig {
	e.accountsMu.RLock()
	defer e.accountsMu.RUnlock()
	return e.accounts
}

// recordSignal journals the signal off the hot path.
func (e *Engine) recordSignal(ctx context.Context, signal schema.Signal) {
	_ = e.effects.Submit(ctx, func(taskCtx context.Context) error {
		return e.journal.RecordSignal(taskCtx, signal)
	})
	targets := len(e.activeAccounts())
	if signal.Scope != nil {
		targets = 1
	}
	_ = e.effects.Submit(ctx, func(taskCtx context.Context) error {
		e.notifier.NotifySignal(taskCtx, signal, targets)
		return nil
	})
}

// onOutcome is the router hook: journal and notify every executed outcome
// without blocking the dispatch path.
func (e *Engine) onOutcome(ctx context.Context, signal schema.Signal, outcome router.Outcome) {
	result := outcome.Result
	execErr := outcome.Err
	_ = e.effects.Submit(ctx, func(taskCtx context.Context) error {
		_ = e.journal.RecordOrder(taskCtx, signal, result, execErr)
		e.notifier.NotifyOrder(taskCtx, signal, result, execErr)
		return nil
	})
}

// dispatchRecorder adapts the engine to the server's Dispatcher interface.
type dispatchRecorder struct {
	engine *Engine
}

func (d *dispatchRecorder) Dispatch(ctx context.Context, signal schema.Signal) []router.Outcome {
	return d.engine.Dispatch(ctx, signal)
}

// streamHandler feeds venue push events into the tracker and the bus.
type streamHandler struct {
	engine       *Engine
	accountIndex int64
}

func (h *streamHandler) OnPositionUpdate(update schema.PositionUpdate) {
	h.engine.track.ApplyPush(update)
	h.engine.events.Publish(context.Background(), bus.Event{
		Topic:    bus.PositionTopic(update.AccountIndex),
		Position: &update,
	})
}

func (h *streamHandler) OnOrderUpdate(update schema.OrderUpdate) {
	h.engine.events.Publish(context.Background(), bus.Event{
		Topic: bus.OrderTopic(update.AccountIndex),
		Order: &update,
	})
}

func (h *streamHandler) OnConnectionStateChange(connected bool) {
	if connected {
		observability.Log().Info("account stream connected",
			observability.F("account", h.accountIndex))
		return
	}
	observability.Log().Warn("account stream disconnected",
		observability.F("account", h.accountIndex))
}
