// Package errs provides the structured error envelope and failure taxonomy
// shared across the Vantage engine.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies a transport-level error category.
type Code string

const (
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeAuth indicates authentication or signing errors.
	CodeAuth Code = "auth"
	// CodeNetwork indicates a network transport failure.
	CodeNetwork Code = "network"
	// CodeVenue indicates a venue-side failure.
	CodeVenue Code = "venue_error"
	// CodeUnavailable indicates the component is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

// FailureCode captures the engine's execution failure taxonomy.
type FailureCode string

const (
	// FailureUnknown captures uncategorized failures.
	FailureUnknown FailureCode = "unknown"
	// FailureNotConfigured indicates the account index is absent from configuration.
	FailureNotConfigured FailureCode = "not_configured"
	// FailureRetriesExhausted indicates the session reconnect budget is spent.
	FailureRetriesExhausted FailureCode = "retries_exhausted"
	// FailureConnectionTimeout indicates a venue connection attempt timed out.
	FailureConnectionTimeout FailureCode = "connection_timeout"
	// FailureOrderRejected indicates the venue rejected the order outright.
	FailureOrderRejected FailureCode = "order_rejected"
	// FailureVerificationTimeout indicates order status remained unknown after
	// both the push race and the poll fallback.
	FailureVerificationTimeout FailureCode = "verification_timeout"
	// FailureReferenceDataUnavailable indicates reference data could not be
	// resolved even from the static fallback table.
	FailureReferenceDataUnavailable FailureCode = "reference_data_unavailable"
	// FailureRiskBlocked indicates the risk gate refused the trade pre-submission.
	FailureRiskBlocked FailureCode = "risk_blocked"
)

// E captures structured error information produced across the Vantage stack.
type E struct {
	Component     string
	Code          Code
	Failure       FailureCode
	AccountIndex  int64
	Symbol        string
	Message       string
	RawCode       string
	RawMsg        string
	VenueMetadata map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component:     strings.TrimSpace(component),
		Code:          code,
		Failure:       FailureUnknown,
		AccountIndex:  -1,
		Symbol:        "",
		Message:       "",
		RawCode:       "",
		RawMsg:        "",
		VenueMetadata: nil,
		cause:         nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithFailure sets the engine failure code describing the category.
func WithFailure(code FailureCode) Option {
	trimmed := strings.TrimSpace(string(code))
	return func(e *E) {
		if trimmed == "" {
			e.Failure = FailureUnknown
			return
		}
		e.Failure = FailureCode(trimmed)
	}
}

// WithAccount records the account index the failure belongs to.
func WithAccount(accountIndex int64) Option {
	return func(e *E) {
		e.AccountIndex = accountIndex
	}
}

// WithSymbol records the instrument symbol associated with the failure.
func WithSymbol(symbol string) Option {
	trimmed := strings.TrimSpace(symbol)
	return func(e *E) {
		e.Symbol = trimmed
	}
}

// WithRawCode captures the raw venue error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw venue error message.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithVenueMetadata merges the provided venue metadata into the error envelope.
func WithVenueMetadata(meta map[string]string) Option {
	return func(e *E) {
		if len(meta) == 0 {
			return
		}
		if e.VenueMetadata == nil {
			e.VenueMetadata = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			e.VenueMetadata[key] = strings.TrimSpace(v)
		}
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if fc := strings.TrimSpace(string(e.Failure)); fc != "" && fc != string(FailureUnknown) {
		parts = append(parts, "failure="+fc)
	}
	if e.AccountIndex >= 0 {
		parts = append(parts, "account="+strconv.FormatInt(e.AccountIndex, 10))
	}
	if e.Symbol != "" {
		parts = append(parts, "symbol="+e.Symbol)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if len(e.VenueMetadata) > 0 {
		keys := make([]string, 0, len(e.VenueMetadata))
		for k := range e.VenueMetadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.VenueMetadata[k]))
		}
		parts = append(parts, "venue="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// FailureOf extracts the failure code from an error chain, FailureUnknown when absent.
func FailureOf(err error) FailureCode {
	var envelope *E
	if errors.As(err, &envelope) {
		return envelope.Failure
	}
	return FailureUnknown
}

// HasFailure reports whether the error chain carries the given failure code.
func HasFailure(err error, code FailureCode) bool {
	return FailureOf(err) == code
}
