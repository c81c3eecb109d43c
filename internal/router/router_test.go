package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/vantage/config"
	"github.com/coachpo/vantage/internal/marketref"
	"github.com/coachpo/vantage/internal/policy"
	"github.com/coachpo/vantage/internal/schema"
	"github.com/coachpo/vantage/internal/session"
	"github.com/coachpo/vantage/internal/tracker"
	"github.com/coachpo/vantage/internal/venue"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type stubRest struct{}

func (stubRest) AccountSnapshot(_ context.Context, accountIndex int64) (schema.AccountSnapshot, error) {
	return schema.AccountSnapshot{
		AccountIndex: accountIndex,
		Balance:      schema.AccountBalance{Available: dec("1000")},
		Positions:    map[string]decimal.Decimal{},
		FetchedAt:    time.Now(),
	}, nil
}
func (stubRest) OrderBook(context.Context, int32) (schema.OrderBook, error) {
	return schema.OrderBook{}, nil
}
func (stubRest) MarketDetails(context.Context, string) (schema.MarketRef, error) {
	return schema.MarketRef{Symbol: "ETH", SizeDecimals: 4, PriceDecimals: 2,
		LastTradePrice: dec("3000")}, nil
}
func (stubRest) LastTradePrice(context.Context, int32) (decimal.Decimal, error) {
	return dec("3000"), nil
}
func (stubRest) NextNonce(context.Context, int64, int) (int64, error) { return 1, nil }
func (stubRest) SubmitOrder(context.Context, venue.CreateOrderRequest) (venue.CreateOrderResponse, error) {
	return venue.CreateOrderResponse{Committed: true}, nil
}

type recordingExecutor struct {
	mu      sync.Mutex
	intents []schema.OrderIntent
	fail    map[int64]error
}

func (r *recordingExecutor) Execute(_ context.Context, _ *session.Session, intent schema.OrderIntent) (schema.OrderResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[intent.AccountIndex]; err != nil {
		return schema.OrderResult{}, err
	}
	r.intents = append(r.intents, intent)
	return schema.OrderResult{
		AccountIndex: intent.AccountIndex,
		Symbol:       intent.Symbol,
		Side:         intent.Side,
		Quantity:     intent.Quantity,
		Confirmed:    true,
	}, nil
}

func (r *recordingExecutor) intentFor(accountIndex int64) schema.OrderIntent {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, in := range r.intents {
		if in.AccountIndex == accountIndex {
			return in
		}
	}
	return schema.OrderIntent{}
}

func accounts() []config.AccountConfig {
	return []config.AccountConfig{
		{AccountIndex: 1, PrivateKey: "k1", Active: true},
		{AccountIndex: 2, PrivateKey: "k2", Active: true, AllowedSymbols: []string{"ETH", "SOL"}},
		{AccountIndex: 3, PrivateKey: "k3", Active: true},
		{AccountIndex: 4, PrivateKey: "k4", Active: false},
	}
}

func newRouter(t *testing.T, exec Executor, hook ResultHook) (*Router, *tracker.Tracker) {
	t.Helper()
	rest := stubRest{}
	sessions := session.NewPool(accounts(), 3,
		func(_ context.Context, acct config.AccountConfig) (*session.Session, error) {
			return session.New(acct.AccountIndex, acct.APIKeyIndex, rest), nil
		})
	track := tracker.New(rest.AccountSnapshot, nil, dec("0.001"))
	track.Initialize(context.Background(), []int64{1, 2, 3}, []string{"ETH", "BTC"})
	markets := marketref.NewCache(rest, 30*time.Second)
	sizer := policy.FixedSizer{Quantity: dec("0.01")}
	return New(accounts(), sessions, exec, track, markets, sizer, hook), track
}

func indexes(outcomes []Outcome) []int64 {
	out := make([]int64, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, o.AccountIndex)
	}
	return out
}

func TestDispatchHonorsAllowList(t *testing.T) {
	exec := &recordingExecutor{}
	r, _ := newRouter(t, exec, nil)

	signal := schema.NewSignal(schema.DirectionLong, "BTC", 2)
	outcomes := r.Dispatch(context.Background(), signal)

	// Account 2 excludes BTC and account 4 is inactive.
	require.Equal(t, []int64{1, 3}, indexes(outcomes))
	for _, o := range outcomes {
		require.NoError(t, o.Err)
		require.False(t, o.Skipped)
		require.True(t, o.Result.Confirmed)
	}
}

func TestDispatchScopeTargetsOneAccount(t *testing.T) {
	exec := &recordingExecutor{}
	r, _ := newRouter(t, exec, nil)

	signal := schema.NewSignal(schema.DirectionLong, "ETH", 2).WithScope(2)
	outcomes := r.Dispatch(context.Background(), signal)
	require.Equal(t, []int64{2}, indexes(outcomes))
}

func TestDispatchSkipsAlignedPositions(t *testing.T) {
	exec := &recordingExecutor{}
	r, track := newRouter(t, exec, nil)
	track.Adopt(1, "ETH", dec("0.5"))

	signal := schema.NewSignal(schema.DirectionLong, "ETH", 2)
	outcomes := r.Dispatch(context.Background(), signal)

	byIndex := make(map[int64]Outcome, len(outcomes))
	for _, o := range outcomes {
		byIndex[o.AccountIndex] = o
	}
	require.True(t, byIndex[1].Skipped, "account 1 is already long")
	require.False(t, byIndex[2].Skipped)
	require.False(t, byIndex[3].Skipped)
}

func TestDispatchIsolatesAccountFailures(t *testing.T) {
	exec := &recordingExecutor{fail: map[int64]error{2: errors.New("venue rejected")}}
	r, _ := newRouter(t, exec, nil)

	signal := schema.NewSignal(schema.DirectionLong, "ETH", 2)
	outcomes := r.Dispatch(context.Background(), signal)
	require.Equal(t, []int64{1, 2, 3}, indexes(outcomes))

	for _, o := range outcomes {
		if o.AccountIndex == 2 {
			require.Error(t, o.Err)
			continue
		}
		require.NoError(t, o.Err, "account %d must be unaffected", o.AccountIndex)
		require.True(t, o.Result.Confirmed)
	}
}

func TestDispatchCloseUsesTrackedQuantity(t *testing.T) {
	exec := &recordingExecutor{}
	r, track := newRouter(t, exec, nil)
	track.Adopt(1, "ETH", dec("4"))
	track.Adopt(2, "ETH", dec("-1.5"))

	signal := schema.NewSignal(schema.DirectionClose, "ETH", 1)
	outcomes := r.Dispatch(context.Background(), signal)

	byIndex := make(map[int64]Outcome, len(outcomes))
	for _, o := range outcomes {
		byIndex[o.AccountIndex] = o
	}
	require.True(t, byIndex[1].Result.Side == schema.SideSell)
	require.True(t, byIndex[1].Result.Quantity.Equal(dec("4")))
	require.True(t, exec.intentFor(1).ReduceOnly, "close orders must be reduce-only")
	require.True(t, byIndex[2].Result.Side == schema.SideBuy)
	require.True(t, byIndex[2].Result.Quantity.Equal(dec("1.5")))
	require.True(t, byIndex[3].Skipped, "flat account close is a no-op")
}

func TestDispatchHookSeesExecutedOutcomes(t *testing.T) {
	exec := &recordingExecutor{}
	var mu sync.Mutex
	var hooked []int64
	hook := func(_ context.Context, _ schema.Signal, outcome Outcome) {
		mu.Lock()
		hooked = append(hooked, outcome.AccountIndex)
		mu.Unlock()
	}
	r, track := newRouter(t, exec, hook)
	track.Adopt(1, "ETH", dec("0.5"))

	signal := schema.NewSignal(schema.DirectionLong, "ETH", 2)
	r.Dispatch(context.Background(), signal)

	mu.Lock()
	defer mu.Unlock()
	require.NotContains(t, hooked, int64(1), "skipped outcome must not reach the hook")
	require.ElementsMatch(t, []int64{2, 3}, hooked)
}
