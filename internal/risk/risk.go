// Package risk gates every order intent before submission.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/coachpo/vantage/config"
	"github.com/coachpo/vantage/errs"
	"github.com/coachpo/vantage/internal/schema"
)

// Gate evaluates order intents against the configured risk limits. A nil
// error means the order may proceed.
type Gate interface {
	CheckOrder(intent schema.OrderIntent, refPrice decimal.Decimal) error
	RecordFill(accountIndex int64, symbol string, pnl decimal.Decimal)
}

// Manager is the default Gate. Limits are global across accounts except the
// per-symbol cooldown, which is keyed by (account, symbol).
type Manager struct {
	limits  config.RiskSettings
	limiter *rate.Limiter
	clock   func() time.Time

	mu          sync.Mutex
	dailyPnL    decimal.Decimal
	dailyAnchor time.Time
	lastOrder   map[cooldownKey]time.Time
	killSwitch  bool
}

type cooldownKey struct {
	accountIndex int64
	symbol       string
}

// NewManager creates a Manager with the given limits.
func NewManager(limits config.RiskSettings) *Manager {
	perSecond := rate.Limit(float64(limits.MaxTradesPerMinute) / 60)
	if perSecond <= 0 {
		perSecond = rate.Inf
	}
	burst := limits.MaxTradesPerMinute
	if burst < 1 {
		burst = 1
	}
	return &Manager{
		limits:      limits,
		limiter:     rate.NewLimiter(perSecond, burst),
		clock:       time.Now,
		dailyPnL:    decimal.Zero,
		dailyAnchor: time.Now().Truncate(24 * time.Hour),
		lastOrder:   make(map[cooldownKey]time.Time),
		killSwitch:  limits.KillSwitchEnabled,
	}
}

// CheckOrder evaluates an intent against every limit, cheapest first.
func (m *Manager) CheckOrder(intent schema.OrderIntent, refPrice decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.killSwitch {
		return m.blocked(intent, "kill switch engaged")
	}

	m.rollDailyWindow()
	if m.limits.MaxDailyLossPct > 0 {
		lossLimit := decimal.NewFromFloat(m.limits.MaxDailyLossPct).Neg()
		if m.dailyPnL.LessThanOrEqual(lossLimit) {
			return m.blocked(intent, fmt.Sprintf("daily loss %s%% breached limit %s%%",
				m.dailyPnL.Neg(), lossLimit.Neg()))
		}
	}

	if m.limits.MaxPositionSizeUSD > 0 && refPrice.IsPositive() {
		notional := intent.Quantity.Mul(refPrice)
		limit := decimal.NewFromFloat(m.limits.MaxPositionSizeUSD)
		if notional.GreaterThan(limit) {
			return m.blocked(intent, fmt.Sprintf("notional %s exceeds max %s", notional, limit))
		}
	}

	if m.limits.MaxLeverage > 0 && intent.Leverage > m.limits.MaxLeverage {
		return m.blocked(intent, fmt.Sprintf("leverage %d exceeds max %d",
			intent.Leverage, m.limits.MaxLeverage))
	}

	key := cooldownKey{accountIndex: intent.AccountIndex, symbol: intent.Symbol}
	if last, ok := m.lastOrder[key]; ok {
		if since := m.clock().Sub(last); since < m.limits.SymbolCooldown {
			return m.blocked(intent, fmt.Sprintf("symbol cooldown, %s remaining",
				m.limits.SymbolCooldown-since))
		}
	}

	if !m.limiter.Allow() {
		return m.blocked(intent, "order rate limit exceeded")
	}

	m.lastOrder[key] = m.clock()
	return nil
}

// RecordFill accumulates realized pnl percentage into the daily window.
func (m *Manager) RecordFill(_ int64, _ string, pnl decimal.Decimal) {
	m.mu.Lock()
	m.rollDailyWindow()
	m.dailyPnL = m.dailyPnL.Add(pnl)
	m.mu.Unlock()
}

// EngageKillSwitch halts all trading until ReleaseKillSwitch.
func (m *Manager) EngageKillSwitch() {
	m.mu.Lock()
	m.killSwitch = true
	m.mu.Unlock()
}

// ReleaseKillSwitch resumes trading.
func (m *Manager) ReleaseKillSwitch() {
	m.mu.Lock()
	m.killSwitch = false
	m.mu.Unlock()
}

// State is the gate's durable state, snapshotted for persistence and
// restored after restarts.
type State struct {
	DailyPnL   decimal.Decimal
	DayAnchor  time.Time
	KillSwitch bool
}

// Snapshot copies the current durable state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		DailyPnL:   m.dailyPnL,
		DayAnchor:  m.dailyAnchor,
		KillSwitch: m.killSwitch,
	}
}

// Restore replaces the durable state. A stale day anchor is rolled forward on
// the next check, so restoring yesterday's loss does not block today.
func (m *Manager) Restore(state State) {
	m.mu.Lock()
	m.dailyPnL = state.DailyPnL
	if !state.DayAnchor.IsZero() {
		m.dailyAnchor = state.DayAnchor
	}
	m.killSwitch = state.KillSwitch || m.limits.KillSwitchEnabled
	m.mu.Unlock()
}

func (m *Manager) rollDailyWindow() {
	day := m.clock().Truncate(24 * time.Hour)
	if day.After(m.dailyAnchor) {
		m.dailyAnchor = day
		m.dailyPnL = decimal.Zero
	}
}

func (m *Manager) blocked(intent schema.OrderIntent, reason string) error {
	return errs.New("risk", errs.CodeInvalid,
		errs.WithFailure(errs.FailureRiskBlocked),
		errs.WithAccount(intent.AccountIndex),
		errs.WithSymbol(intent.Symbol),
		errs.WithMessage(reason))
}
