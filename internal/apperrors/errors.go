// Package apperrors defines the engine's error taxonomy (spec §7):
// typed, wrapped sentinel errors in the style of storage/errors.go,
// extended with a Kind accessor so callers can branch on retryability
// without chains of errors.Is.
package apperrors

import "errors"

// Kind classifies an error for retry/backoff policy purposes.
type Kind string

const (
	KindConnection   Kind = "connection"   // network/transport, retryable w/ backoff+jitter
	KindAPI          Kind = "api"          // 5xx/429 retryable, 4xx fatal
	KindStore        Kind = "store"        // retryable
	KindValidation   Kind = "validation"   // fatal
	KindTradeExec    Kind = "trade_exec"   // never retried - may cause duplicate trades
	KindOracle       Kind = "oracle"       // retryable; populates negative cache
	KindUnknown      Kind = "unknown"      // not retried
)

// Error wraps an underlying cause with a Kind and whether it is
// retryable.
type Error struct {
	kind      Kind
	retryable bool
	msg       string
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's taxonomy classification.
func (e *Error) Kind() Kind { return e.kind }

// Retryable reports whether the operation that produced this error may
// be retried.
func (e *Error) Retryable() bool { return e.retryable }

func newErr(kind Kind, retryable bool, msg string, cause error) *Error {
	return &Error{kind: kind, retryable: retryable, msg: msg, cause: cause}
}

// Connection wraps a network/transport failure. Retryable.
func Connection(msg string, cause error) *Error { return newErr(KindConnection, true, msg, cause) }

// API wraps an upstream API error. retryable should be true for 5xx/429,
// false for 4xx.
func API(msg string, retryable bool, cause error) *Error {
	return newErr(KindAPI, retryable, msg, cause)
}

// Store wraps a storage I/O failure. Retryable.
func Store(msg string, cause error) *Error { return newErr(KindStore, true, msg, cause) }

// Validation wraps an input validation failure. Fatal.
func Validation(msg string, cause error) *Error { return newErr(KindValidation, false, msg, cause) }

// TradeExec wraps a trade execution failure. Never retried by policy -
// retrying risks a duplicate buy/sell.
func TradeExec(msg string, cause error) *Error { return newErr(KindTradeExec, false, msg, cause) }

// Oracle wraps a price oracle failure. Retryable; callers should
// populate the negative cache.
func Oracle(msg string, cause error) *Error { return newErr(KindOracle, true, msg, cause) }

// Unknown wraps an unclassified failure. Not retried.
func Unknown(msg string, cause error) *Error { return newErr(KindUnknown, false, msg, cause) }

// KindOf extracts the Kind of err, returning KindUnknown if err is not
// (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

// IsRetryable reports whether err is (or wraps) an *Error marked
// retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.retryable
	}
	return false
}

// Sentinel errors for common conditions, mirroring storage/errors.go.
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("duplicate")
	ErrInvalidInput = errors.New("invalid input")
)
