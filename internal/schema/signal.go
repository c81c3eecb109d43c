// Package schema defines the domain types shared across the Vantage engine.
package schema

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Direction is the directional intent carried by an inbound signal.
type Direction string

const (
	// DirectionLong requests long exposure in the signal's symbol.
	DirectionLong Direction = "long"
	// DirectionShort requests short exposure in the signal's symbol.
	DirectionShort Direction = "short"
	// DirectionClose requests flattening of any open exposure.
	DirectionClose Direction = "close"
)

// Valid reports whether the direction is one of the supported intents.
func (d Direction) Valid() bool {
	switch d {
	case DirectionLong, DirectionShort, DirectionClose:
		return true
	default:
		return false
	}
}

// ParseDirection normalizes a raw direction string.
func ParseDirection(raw string) (Direction, bool) {
	d := Direction(strings.ToLower(strings.TrimSpace(raw)))
	return d, d.Valid()
}

// Signal is a parsed, authenticated trading instruction.
type Signal struct {
	ID         string    `json:"id"`
	Direction  Direction `json:"direction"`
	Symbol     string    `json:"symbol"`
	Leverage   int       `json:"leverage"`
	ReceivedAt time.Time `json:"received_at"`

	// Scope restricts delivery to a single account. Nil means all active
	// accounts whose allow-list admits the symbol.
	Scope *int64 `json:"scope,omitempty"`
}

// NewSignal constructs a signal with a fresh correlation id.
func NewSignal(direction Direction, symbol string, leverage int) Signal {
	if leverage <= 0 {
		leverage = 1
	}
	return Signal{
		ID:         uuid.NewString(),
		Direction:  direction,
		Symbol:     strings.ToUpper(strings.TrimSpace(symbol)),
		Leverage:   leverage,
		ReceivedAt: time.Now().UTC(),
		Scope:      nil,
	}
}

// WithScope returns a copy of the signal targeting a single account.
func (s Signal) WithScope(accountIndex int64) Signal {
	scoped := s
	scoped.Scope = &accountIndex
	return scoped
}
