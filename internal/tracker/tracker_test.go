package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/vantage/internal/schema"
)

type stubSnapshots struct {
	mu    sync.Mutex
	snaps map[int64]schema.AccountSnapshot
	errs  map[int64]error
}

func newStubSnapshots() *stubSnapshots {
	return &stubSnapshots{
		snaps: make(map[int64]schema.AccountSnapshot),
		errs:  make(map[int64]error),
	}
}

func (s *stubSnapshots) set(accountIndex int64, positions map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := schema.AccountSnapshot{
		AccountIndex: accountIndex,
		Positions:    make(map[string]decimal.Decimal, len(positions)),
		FetchedAt:    time.Now(),
	}
	for sym, qty := range positions {
		snap.Positions[sym] = decimal.RequireFromString(qty)
	}
	s.snaps[accountIndex] = snap
}

func (s *stubSnapshots) fetch(_ context.Context, accountIndex int64) (schema.AccountSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[accountIndex]; err != nil {
		return schema.AccountSnapshot{}, err
	}
	return s.snaps[accountIndex], nil
}

type stubSecondary struct {
	qty decimal.Decimal
	err error
}

func (s *stubSecondary) Position(context.Context, int64, string) (decimal.Decimal, error) {
	return s.qty, s.err
}

func TestInitializeDefinesEveryPair(t *testing.T) {
	snaps := newStubSnapshots()
	snaps.set(1, map[string]string{"ETH": "2.5"})
	snaps.errs[2] = errors.New("venue down")

	tr := New(snaps.fetch, nil, decimal.RequireFromString("0.001"))
	tr.Initialize(context.Background(), []int64{1, 2}, []string{"ETH", "BTC"})

	for _, idx := range []int64{1, 2} {
		for _, sym := range []string{"ETH", "BTC"} {
			if _, ok := tr.Get(idx, sym); !ok {
				t.Fatalf("pair (%d, %s) undefined after Initialize", idx, sym)
			}
		}
	}
	if got := tr.Quantity(1, "ETH"); !got.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("expected snapshot overwrite, got %s", got)
	}
	if got := tr.Quantity(1, "BTC"); !got.IsZero() {
		t.Fatalf("expected flat BTC, got %s", got)
	}
	// Failed snapshot keeps the zero fill.
	if got := tr.Quantity(2, "ETH"); !got.IsZero() {
		t.Fatalf("expected zero fill for failed account, got %s", got)
	}
}

func TestSyncOverwritesAndFlattens(t *testing.T) {
	snaps := newStubSnapshots()
	snaps.set(1, map[string]string{"ETH": "1"})
	tr := New(snaps.fetch, nil, decimal.RequireFromString("0.001"))
	tr.Initialize(context.Background(), []int64{1}, []string{"ETH", "BTC"})

	// Venue now reports ETH flat and a new SOL position.
	snaps.set(1, map[string]string{"SOL": "-3"})
	if err := tr.Sync(context.Background(), 1); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if got := tr.Quantity(1, "ETH"); !got.IsZero() {
		t.Fatalf("expected ETH flattened, got %s", got)
	}
	if got := tr.Quantity(1, "SOL"); !got.Equal(decimal.RequireFromString("-3")) {
		t.Fatalf("expected SOL adopted, got %s", got)
	}
}

func TestApplyPushOverwrites(t *testing.T) {
	tr := New(newStubSnapshots().fetch, nil, decimal.RequireFromString("0.001"))
	tr.ApplyPush(schema.PositionUpdate{
		AccountIndex: 1, Symbol: "eth",
		Quantity:   decimal.RequireFromString("0.7"),
		ReceivedAt: time.Now(),
	})
	pos, ok := tr.Get(1, "ETH")
	if !ok || !pos.Quantity.Equal(decimal.RequireFromString("0.7")) {
		t.Fatalf("push not applied: %+v", pos)
	}
	if pos.Source != schema.SourcePush {
		t.Fatalf("expected push source, got %s", pos.Source)
	}
}

func TestSweepCorrectsDivergence(t *testing.T) {
	snaps := newStubSnapshots()
	snaps.set(1, map[string]string{"ETH": "2"})
	tr := New(snaps.fetch, nil, decimal.RequireFromString("0.001"))
	tr.Initialize(context.Background(), []int64{1}, []string{"ETH"})

	// Drift the tracked value away from the venue.
	tr.set(1, "ETH", decimal.RequireFromString("5"), schema.SourcePush)
	tr.SweepOnce(context.Background(), []int64{1})

	pos, _ := tr.Get(1, "ETH")
	if !pos.Quantity.Equal(decimal.RequireFromString("2")) {
		t.Fatalf("expected sweep correction to 2, got %s", pos.Quantity)
	}
	if pos.Source != schema.SourceSweep {
		t.Fatalf("expected sweep source, got %s", pos.Source)
	}
}

func TestSweepWithinToleranceIsQuiet(t *testing.T) {
	snaps := newStubSnapshots()
	snaps.set(1, map[string]string{"ETH": "2.0005"})
	tr := New(snaps.fetch, nil, decimal.RequireFromString("0.001"))
	tr.Initialize(context.Background(), []int64{1}, []string{"ETH"})
	tr.set(1, "ETH", decimal.RequireFromString("2"), schema.SourcePush)

	tr.SweepOnce(context.Background(), []int64{1})
	pos, _ := tr.Get(1, "ETH")
	if pos.Source != schema.SourcePush {
		t.Fatalf("sub-tolerance drift should not be rewritten, got source %s", pos.Source)
	}
}

func TestReadsAreOrderedSnapshots(t *testing.T) {
	snaps := newStubSnapshots()
	snaps.set(1, map[string]string{"ETH": "1", "BTC": "-0.2"})
	snaps.set(2, map[string]string{"ETH": "3"})
	tr := New(snaps.fetch, nil, decimal.RequireFromString("0.001"))
	tr.Initialize(context.Background(), []int64{1, 2}, []string{"ETH", "BTC"})

	acct := tr.AccountPositions(1)
	if len(acct) != 2 || acct[0].Symbol != "BTC" || acct[1].Symbol != "ETH" {
		t.Fatalf("unexpected account positions: %+v", acct)
	}
	if !acct[0].Quantity.Equal(decimal.RequireFromString("-0.2")) {
		t.Fatalf("expected BTC -0.2, got %s", acct[0].Quantity)
	}

	all := tr.All()
	if len(all) != 4 {
		t.Fatalf("expected 4 tracked positions, got %d", len(all))
	}
	if all[0].AccountIndex != 1 || all[3].AccountIndex != 2 {
		t.Fatalf("positions not ordered by account: %+v", all)
	}
}

func TestSweepReportsCorrections(t *testing.T) {
	snaps := newStubSnapshots()
	snaps.set(1, map[string]string{"ETH": "2"})
	tr := New(snaps.fetch, nil, decimal.RequireFromString("0.001"))
	tr.Initialize(context.Background(), []int64{1}, []string{"ETH"})

	type correction struct {
		account            int64
		symbol             string
		previous, adjusted decimal.Decimal
	}
	var got []correction
	tr.OnCorrection(func(accountIndex int64, symbol string, previous, corrected decimal.Decimal) {
		got = append(got, correction{accountIndex, symbol, previous, corrected})
	})

	tr.set(1, "ETH", decimal.RequireFromString("5"), schema.SourcePush)
	tr.SweepOnce(context.Background(), []int64{1})

	if len(got) != 1 {
		t.Fatalf("expected one correction, got %d", len(got))
	}
	c := got[0]
	if c.account != 1 || c.symbol != "ETH" ||
		!c.previous.Equal(decimal.RequireFromString("5")) ||
		!c.adjusted.Equal(decimal.RequireFromString("2")) {
		t.Fatalf("unexpected correction: %+v", c)
	}

	// No divergence, no callback.
	tr.SweepOnce(context.Background(), []int64{1})
	if len(got) != 1 {
		t.Fatalf("quiet sweep must not report corrections, got %d", len(got))
	}
}

func TestSweepAdoptsVenueWhenSecondaryDisagrees(t *testing.T) {
	snaps := newStubSnapshots()
	snaps.set(1, map[string]string{"ETH": "2"})
	secondary := &stubSecondary{qty: decimal.RequireFromString("9")}

	tr := New(snaps.fetch, secondary, decimal.RequireFromString("0.001"))
	tr.Initialize(context.Background(), []int64{1}, []string{"ETH"})
	tr.set(1, "ETH", decimal.Zero, schema.SourcePush)

	tr.SweepOnce(context.Background(), []int64{1})
	if got := tr.Quantity(1, "ETH"); !got.Equal(decimal.RequireFromString("2")) {
		t.Fatalf("venue value must be adopted despite the secondary, got %s", got)
	}

	// An agreeing secondary changes nothing about the outcome.
	tr.set(1, "ETH", decimal.RequireFromString("5"), schema.SourcePush)
	secondary.qty = decimal.RequireFromString("2")
	tr.SweepOnce(context.Background(), []int64{1})
	if got := tr.Quantity(1, "ETH"); !got.Equal(decimal.RequireFromString("2")) {
		t.Fatalf("agreeing secondary should still land the correction, got %s", got)
	}
}
