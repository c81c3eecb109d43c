// Package session manages authenticated venue sessions per account: nonce
// allocation, client order index allocation, and pooled construction with
// bounded retries.
package session

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/coachpo/vantage/internal/observability"
	"github.com/coachpo/vantage/internal/venue"
)

const (
	orderIndexFloor   = 100_000
	orderIndexCeiling = 1_000_000_000_000
)

// Session is one account's authenticated connection to the venue. Nonce and
// order index allocation are serialized per session.
type Session struct {
	accountIndex int64
	apiKeyIndex  int
	rest         venue.Rest

	mu           sync.Mutex
	nonce        int64
	nonceFetched bool
	orderIndex   int64
	rng          *rand.Rand
}

// New constructs a Session for the account backed by the given REST surface.
func New(accountIndex int64, apiKeyIndex int, rest venue.Rest) *Session {
	seed := uint64(time.Now().UnixNano()) ^ uint64(accountIndex)<<32
	return &Session{
		accountIndex: accountIndex,
		apiKeyIndex:  apiKeyIndex,
		rest:         rest,
		rng:          rand.New(rand.NewPCG(seed, uint64(accountIndex)+1)),
	}
}

// AccountIndex reports the venue account this session authenticates as.
func (s *Session) AccountIndex() int64 { return s.accountIndex }

// APIKeyIndex reports the API key slot this session signs with.
func (s *Session) APIKeyIndex() int { return s.apiKeyIndex }

// Rest exposes the session's venue surface.
func (s *Session) Rest() venue.Rest { return s.rest }

// Close releases the session's transport resources.
func (s *Session) Close() {
	if c, ok := s.rest.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

// NextNonce returns the next transaction nonce. The first call fetches the
// venue's view; subsequent calls increment locally. When the venue fetch
// fails, a millisecond timestamp keeps submissions moving and the next call
// retries the fetch.
func (s *Session) NextNonce(ctx context.Context) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.nonceFetched {
		fetched, err := s.rest.NextNonce(ctx, s.accountIndex, s.apiKeyIndex)
		if err != nil {
			observability.Log().Warn("nonce fetch failed, using timestamp fallback",
				observability.F("account", s.accountIndex),
				observability.F("error", err.Error()))
			return time.Now().UnixMilli()
		}
		s.nonce = fetched
		s.nonceFetched = true
	}

	n := s.nonce
	s.nonce++
	return n
}

// InvalidateNonce forces the next NextNonce call to refetch from the venue.
// Called after a nonce rejection.
func (s *Session) InvalidateNonce() {
	s.mu.Lock()
	s.nonceFetched = false
	s.mu.Unlock()
}

// NextOrderIndex returns a fresh client order index. Indexes start at a
// random point in [100000, 10^12) and increment per order; reaching the
// ceiling reseeds from a new random point so the index never exceeds twelve
// digits.
func (s *Session) NextOrderIndex() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.orderIndex < orderIndexFloor || s.orderIndex >= orderIndexCeiling {
		s.orderIndex = orderIndexFloor + s.rng.Int64N(orderIndexCeiling-orderIndexFloor)
	}
	idx := s.orderIndex
	s.orderIndex++
	return idx
}
