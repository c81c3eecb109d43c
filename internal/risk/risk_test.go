package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/vantage/config"
	"github.com/coachpo/vantage/errs"
	"github.com/coachpo/vantage/internal/schema"
)

func limits() config.RiskSettings {
	return config.RiskSettings{
		MaxPositionSizeUSD: 100,
		MaxDailyLossPct:    5,
		MaxTradesPerMinute: 3,
		MaxLeverage:        5,
		SymbolCooldown:     5 * time.Second,
	}
}

func intent() schema.OrderIntent {
	return schema.OrderIntent{
		AccountIndex: 1,
		Symbol:       "ETH",
		Side:         schema.SideBuy,
		Quantity:     decimal.RequireFromString("0.01"),
		Leverage:     2,
	}
}

func TestCheckOrderAllows(t *testing.T) {
	m := NewManager(limits())
	if err := m.CheckOrder(intent(), decimal.NewFromInt(3000)); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
}

func TestKillSwitchBlocksEverything(t *testing.T) {
	m := NewManager(limits())
	m.EngageKillSwitch()
	err := m.CheckOrder(intent(), decimal.NewFromInt(3000))
	if !errs.HasFailure(err, errs.FailureRiskBlocked) {
		t.Fatalf("expected risk block, got %v", err)
	}
	m.ReleaseKillSwitch()
	if err := m.CheckOrder(intent(), decimal.NewFromInt(3000)); err != nil {
		t.Fatalf("expected pass after release, got %v", err)
	}
}

func TestNotionalLimit(t *testing.T) {
	m := NewManager(limits())
	big := intent()
	big.Quantity = decimal.NewFromInt(1)
	err := m.CheckOrder(big, decimal.NewFromInt(3000))
	if !errs.HasFailure(err, errs.FailureRiskBlocked) {
		t.Fatalf("expected notional block, got %v", err)
	}
}

func TestLeverageLimit(t *testing.T) {
	m := NewManager(limits())
	levered := intent()
	levered.Leverage = 10
	err := m.CheckOrder(levered, decimal.NewFromInt(3000))
	if !errs.HasFailure(err, errs.FailureRiskBlocked) {
		t.Fatalf("expected leverage block, got %v", err)
	}
}

func TestDailyLossLimit(t *testing.T) {
	m := NewManager(limits())
	m.RecordFill(1, "ETH", decimal.RequireFromString("-6"))
	err := m.CheckOrder(intent(), decimal.NewFromInt(3000))
	if !errs.HasFailure(err, errs.FailureRiskBlocked) {
		t.Fatalf("expected daily loss block, got %v", err)
	}

	// A new trading day clears the window.
	now := time.Now()
	m.clock = func() time.Time { return now.Add(25 * time.Hour) }
	if err := m.CheckOrder(intent(), decimal.NewFromInt(3000)); err != nil {
		t.Fatalf("expected pass after window roll, got %v", err)
	}
}

func TestSymbolCooldown(t *testing.T) {
	m := NewManager(limits())
	now := time.Unix(5000, 0)
	m.clock = func() time.Time { return now }

	if err := m.CheckOrder(intent(), decimal.NewFromInt(3000)); err != nil {
		t.Fatalf("first order: %v", err)
	}
	err := m.CheckOrder(intent(), decimal.NewFromInt(3000))
	if !errs.HasFailure(err, errs.FailureRiskBlocked) {
		t.Fatalf("expected cooldown block, got %v", err)
	}

	// A different symbol on the same account is not cooled down.
	other := intent()
	other.Symbol = "BTC"
	if err := m.CheckOrder(other, decimal.NewFromInt(3000)); err != nil {
		t.Fatalf("expected pass for other symbol, got %v", err)
	}

	now = now.Add(6 * time.Second)
	if err := m.CheckOrder(intent(), decimal.NewFromInt(3000)); err != nil {
		t.Fatalf("expected pass after cooldown, got %v", err)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := limits()
	cfg.SymbolCooldown = 0
	m := NewManager(cfg)

	blocked := false
	for i := 0; i < 10; i++ {
		if err := m.CheckOrder(intent(), decimal.NewFromInt(3000)); err != nil {
			blocked = true
			break
		}
	}
	if !blocked {
		t.Fatal("expected the throttle to reject within 10 rapid orders")
	}
}

func TestStateSnapshotRestoreRoundTrip(t *testing.T) {
	m := NewManager(limits())
	m.RecordFill(1, "ETH", decimal.RequireFromString("-2.5"))
	m.EngageKillSwitch()

	state := m.Snapshot()
	if !state.DailyPnL.Equal(decimal.RequireFromString("-2.5")) || !state.KillSwitch {
		t.Fatalf("unexpected snapshot %+v", state)
	}

	restored := NewManager(limits())
	restored.Restore(state)
	err := restored.CheckOrder(intent(), decimal.NewFromInt(3000))
	if !errs.HasFailure(err, errs.FailureRiskBlocked) {
		t.Fatalf("restored kill switch must block, got %v", err)
	}

	restored.ReleaseKillSwitch()
	if got := restored.Snapshot().DailyPnL; !got.Equal(decimal.RequireFromString("-2.5")) {
		t.Fatalf("restored daily pnl lost: %s", got)
	}
}

func TestRestoreStaleAnchorRollsForward(t *testing.T) {
	m := NewManager(limits())
	m.Restore(State{
		DailyPnL:   decimal.RequireFromString("-10"),
		DayAnchor:  time.Now().Add(-48 * time.Hour).Truncate(24 * time.Hour),
		KillSwitch: false,
	})
	// Yesterday's breach must not block today: the window rolls on check.
	if err := m.CheckOrder(intent(), decimal.NewFromInt(3000)); err != nil {
		t.Fatalf("expected stale loss window to roll forward, got %v", err)
	}
}
