// Package router fans an inbound signal out to every eligible account and
// drives each account's policy decision through the executor.
package router

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/coachpo/vantage/config"
	"github.com/coachpo/vantage/internal/marketref"
	"github.com/coachpo/vantage/internal/observability"
	"github.com/coachpo/vantage/internal/policy"
	"github.com/coachpo/vantage/internal/schema"
	"github.com/coachpo/vantage/internal/session"
	"github.com/coachpo/vantage/internal/tracker"
)

// Executor is the submission surface the router drives. Satisfied by
// executor.Executor.
type Executor interface {
	Execute(ctx context.Context, sess *session.Session, intent schema.OrderIntent) (schema.OrderResult, error)
}

// Outcome is one account's result for a dispatched signal.
type Outcome struct {
	AccountIndex int64
	Skipped      bool
	Reason       string
	Result       schema.OrderResult
	Err          error
}

// ResultHook observes every non-skipped outcome, e.g. for journaling and
// notifications. Hooks run on the dispatching goroutine per account.
type ResultHook func(ctx context.Context, signal schema.Signal, outcome Outcome)

// Router resolves a signal's target accounts and executes per-account
// decisions concurrently. Work for the same (account, symbol) pair is
// serialized end to end, so a second signal cannot interleave between an
// account's position read and its order submission.
type Router struct {
	accounts []config.AccountConfig
	sessions *session.Pool
	exec     Executor
	track    *tracker.Tracker
	markets  *marketref.Cache
	sizer    policy.Sizer
	hook     ResultHook

	mu    sync.Mutex
	locks map[lockKey]*sync.Mutex
}

type lockKey struct {
	accountIndex int64
	symbol       string
}

// SetAccounts swaps the roster, e.g. after a configuration reload. In-flight
// dispatches keep the roster they resolved against.
func (r *Router) SetAccounts(accounts []config.AccountConfig) {
	r.mu.Lock()
	r.accounts = accounts
	r.mu.Unlock()
}

// New constructs a Router. hook may be nil.
func New(accounts []config.AccountConfig, sessions *session.Pool, exec Executor, track *tracker.Tracker, markets *marketref.Cache, sizer policy.Sizer, hook ResultHook) *Router {
	return &Router{
		accounts: accounts,
		sessions: sessions,
		exec:     exec,
		track:    track,
		markets:  markets,
		sizer:    sizer,
		hook:     hook,
		locks:    make(map[lockKey]*sync.Mutex),
	}
}

// Dispatch delivers the signal to every resolved account and returns one
// outcome per account, ordered by account index. A failure in one account
// never aborts the others.
func (r *Router) Dispatch(ctx context.Context, signal schema.Signal) []Outcome {
	targets := r.resolveTargets(signal)
	if len(targets) == 0 {
		observability.Log().Warn("signal resolved to no accounts",
			observability.F("signal", signal.ID),
			observability.F("symbol", signal.Symbol))
		return nil
	}

	outcomes := make([]Outcome, len(targets))
	workers := pool.New().WithMaxGoroutines(len(targets))
	for i, acct := range targets {
		workers.Go(func() {
			outcomes[i] = r.dispatchOne(ctx, signal, acct)
		})
	}
	workers.Wait()

	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].AccountIndex < outcomes[j].AccountIndex
	})
	return outcomes
}

func (r *Router) resolveTargets(signal schema.Signal) []config.AccountConfig {
	r.mu.Lock()
	accounts := r.accounts
	r.mu.Unlock()

	var targets []config.AccountConfig
	for _, acct := range accounts {
		if !acct.Active {
			continue
		}
		if signal.Scope != nil && acct.AccountIndex != *signal.Scope {
			continue
		}
		if !acct.Allows(signal.Symbol) {
			observability.Log().Debug("symbol not in account allow-list",
				observability.F("account", acct.AccountIndex),
				observability.F("symbol", signal.Symbol))
			continue
		}
		targets = append(targets, acct)
	}
	return targets
}

func (r *Router) dispatchOne(ctx context.Context, signal schema.Signal, acct config.AccountConfig) Outcome {
	lock := r.pairLock(acct.AccountIndex, signal.Symbol)
	lock.Lock()
	defer lock.Unlock()

	outcome := Outcome{AccountIndex: acct.AccountIndex}
	defer func() {
		if r.hook != nil && !outcome.Skipped {
			r.hook(ctx, signal, outcome)
		}
	}()

	sess, err := r.sessions.Get(ctx, acct.AccountIndex)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	position := r.track.Quantity(acct.AccountIndex, signal.Symbol)
	target := r.targetSize(ctx, sess, signal)
	decision := policy.Decide(signal.Direction, position, target)
	if !decision.Trade {
		observability.Log().Info("no adjustment needed",
			observability.F("account", acct.AccountIndex),
			observability.F("symbol", signal.Symbol),
			observability.F("reason", decision.Reason))
		outcome.Skipped = true
		outcome.Reason = decision.Reason
		return outcome
	}
	outcome.Reason = decision.Reason

	intent := schema.OrderIntent{
		AccountIndex: acct.AccountIndex,
		Symbol:       signal.Symbol,
		Side:         decision.Side,
		Quantity:     decision.Quantity,
		Leverage:     signal.Leverage,
		ReduceOnly:   decision.ReduceOnly,
		SignalID:     signal.ID,
	}
	outcome.Result, outcome.Err = r.exec.Execute(ctx, sess, intent)
	return outcome
}

// targetSize asks the sizer for the desired absolute position, feeding it
// the freshest balance and reference price available. Failures fall back to
// zero-value inputs; the sizer's own fallback then applies.
func (r *Router) targetSize(ctx context.Context, sess *session.Session, signal schema.Signal) decimal.Decimal {
	var balance schema.AccountBalance
	if snap, err := sess.Rest().AccountSnapshot(ctx, sess.AccountIndex()); err == nil {
		balance = snap.Balance
	}
	var refPrice decimal.Decimal
	if ref, err := r.markets.Get(ctx, signal.Symbol); err == nil {
		refPrice = ref.LastTradePrice
	}
	return r.sizer.TargetSize(signal, balance, refPrice)
}

func (r *Router) pairLock(accountIndex int64, symbol string) *sync.Mutex {
	key := lockKey{accountIndex: accountIndex, symbol: symbol}
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[key]
	if !ok {
		lock = new(sync.Mutex)
		r.locks[key] = lock
	}
	return lock
}
