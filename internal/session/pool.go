package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/vantage/config"
	"github.com/coachpo/vantage/errs"
	"github.com/coachpo/vantage/internal/observability"
	"github.com/coachpo/vantage/internal/schema"
)

// Factory builds a live Session from an account's credentials. It should
// verify connectivity so a bad key fails here, not at first order.
type Factory func(ctx context.Context, acct config.AccountConfig) (*Session, error)

// Pool hands out sessions by account index. Construction failures are
// retried up to maxRetries per index; after that the index fails fast until
// ResetFailures is called.
type Pool struct {
	factory    Factory
	maxRetries int

	mu       sync.RWMutex
	roster   map[int64]config.AccountConfig
	sessions map[int64]*Session
	failures map[int64]int
	lastErr  map[int64]string
	creating map[int64]*sync.Mutex
}

// NewPool constructs a Pool over the given roster. Requests for an index
// absent from the roster fail with FailureNotConfigured; the pool never
// invents credentials for an account it was not given.
func NewPool(roster []config.AccountConfig, maxRetries int, factory Factory) *Pool {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	byIndex := make(map[int64]config.AccountConfig, len(roster))
	for _, acct := range roster {
		byIndex[acct.AccountIndex] = acct
	}
	return &Pool{
		factory:    factory,
		maxRetries: maxRetries,
		roster:     byIndex,
		sessions:   make(map[int64]*Session),
		failures:   make(map[int64]int),
		lastErr:    make(map[int64]string),
		creating:   make(map[int64]*sync.Mutex),
	}
}

// Get returns the session for accountIndex, creating it on first use.
// Creation is serialized per index so concurrent callers never race two
// sessions into existence for the same account.
func (p *Pool) Get(ctx context.Context, accountIndex int64) (*Session, error) {
	p.mu.RLock()
	sess, ok := p.sessions[accountIndex]
	p.mu.RUnlock()
	if ok {
		return sess, nil
	}

	lock := p.creationLock(accountIndex)
	lock.Lock()
	defer lock.Unlock()

	// A concurrent caller may have finished creation while we waited.
	p.mu.RLock()
	sess, ok = p.sessions[accountIndex]
	failures := p.failures[accountIndex]
	lastErr := p.lastErr[accountIndex]
	p.mu.RUnlock()
	if ok {
		return sess, nil
	}
	if failures >= p.maxRetries {
		return nil, errs.New("session", errs.CodeUnavailable,
			errs.WithFailure(errs.FailureRetriesExhausted),
			errs.WithAccount(accountIndex),
			errs.WithMessage(fmt.Sprintf("creation failed %d times, last error: %s", failures, lastErr)))
	}

	acct, ok := p.accountFor(accountIndex)
	if !ok {
		return nil, errs.New("session", errs.CodeInvalid,
			errs.WithFailure(errs.FailureNotConfigured),
			errs.WithAccount(accountIndex),
			errs.WithMessage(fmt.Sprintf("account %d not found in configuration", accountIndex)))
	}
	sess, err := p.factory(ctx, acct)
	if err != nil {
		p.mu.Lock()
		p.failures[accountIndex]++
		p.lastErr[accountIndex] = err.Error()
		count := p.failures[accountIndex]
		p.mu.Unlock()
		observability.Log().Error("session creation failed",
			observability.F("account", accountIndex),
			observability.F("attempt", count),
			observability.F("error", err.Error()))
		return nil, errs.New("session", errs.CodeUnavailable,
			errs.WithAccount(accountIndex),
			errs.WithMessage("create session"),
			errs.WithCause(err))
	}

	p.mu.Lock()
	p.sessions[accountIndex] = sess
	delete(p.failures, accountIndex)
	delete(p.lastErr, accountIndex)
	p.mu.Unlock()
	return sess, nil
}

// ResetFailures clears the failure count for an index so creation is
// attempted again.
func (p *Pool) ResetFailures(accountIndex int64) {
	p.mu.Lock()
	delete(p.failures, accountIndex)
	delete(p.lastErr, accountIndex)
	p.mu.Unlock()
}

// Drop removes a cached session, forcing reconstruction on next Get.
func (p *Pool) Drop(accountIndex int64) {
	p.mu.Lock()
	sess, ok := p.sessions[accountIndex]
	delete(p.sessions, accountIndex)
	p.mu.Unlock()
	if ok {
		sess.Close()
	}
}

// CloseAll tears down every cached session concurrently. Teardown failures
// are logged, never propagated.
func (p *Pool) CloseAll(_ context.Context) {
	p.mu.Lock()
	closing := make(map[int64]*Session, len(p.sessions))
	for idx, sess := range p.sessions {
		closing[idx] = sess
	}
	p.sessions = make(map[int64]*Session)
	p.mu.Unlock()

	var wg conc.WaitGroup
	for idx, sess := range closing {
		wg.Go(func() {
			sess.Close()
			observability.Log().Info("session closed",
				observability.F("account", idx))
		})
	}
	wg.Wait()
}

// Reload replaces the roster. Sessions whose credentials changed or whose
// account was deactivated are torn down; failure counts reset so the new
// configuration gets a fresh retry budget.
func (p *Pool) Reload(roster []config.AccountConfig) {
	byIndex := make(map[int64]config.AccountConfig, len(roster))
	for _, acct := range roster {
		byIndex[acct.AccountIndex] = acct
	}

	p.mu.Lock()
	stale := make([]*Session, 0)
	for idx, sess := range p.sessions {
		prev := p.roster[idx]
		next, found := byIndex[idx]
		if !found || prev.PrivateKey != next.PrivateKey || prev.APIKeyIndex != next.APIKeyIndex || !next.Active {
			stale = append(stale, sess)
			delete(p.sessions, idx)
		}
	}
	p.roster = byIndex
	p.failures = make(map[int64]int)
	p.lastErr = make(map[int64]string)
	p.mu.Unlock()

	for _, sess := range stale {
		sess.Close()
		observability.Log().Info("session dropped on reload",
			observability.F("account", sess.AccountIndex()))
	}
}

// Health reports the pool's view of every known account.
func (p *Pool) Health() []schema.HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	seen := make(map[int64]struct{}, len(p.roster)+len(p.sessions))
	statuses := make([]schema.HealthStatus, 0, len(p.roster)+len(p.sessions))
	add := func(idx int64) {
		if _, dup := seen[idx]; dup {
			return
		}
		seen[idx] = struct{}{}
		_, connected := p.sessions[idx]
		statuses = append(statuses, schema.HealthStatus{
			AccountIndex: idx,
			Connected:    connected,
			RetryCount:   p.failures[idx],
			Error:        p.lastErr[idx],
		})
	}
	for idx := range p.roster {
		add(idx)
	}
	for idx := range p.sessions {
		add(idx)
	}
	for idx := range p.failures {
		add(idx)
	}
	return statuses
}

func (p *Pool) accountFor(accountIndex int64) (config.AccountConfig, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	acct, ok := p.roster[accountIndex]
	return acct, ok
}

func (p *Pool) creationLock(accountIndex int64) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.creating[accountIndex]
	if !ok {
		lock = new(sync.Mutex)
		p.creating[accountIndex] = lock
	}
	return lock
}
