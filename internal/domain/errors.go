package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidOrder      = errors.New("invalid order parameters")
	ErrSigningFailed     = errors.New("signing failed")
	ErrWSDisconnect      = errors.New("websocket disconnected")
	ErrHalted            = errors.New("trading halted")
	ErrAlreadyTraded     = errors.New("market already traded or in flight")
	ErrInsufficientDepth = errors.New("insufficient order book depth")
	ErrMalformedMarket   = errors.New("malformed market record")
	ErrMalformedBook     = errors.New("malformed order book")
)

// Kind classifies a failure by how the caller must react to it.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransient covers rate limiting, timeouts and malformed snapshots.
	// The current cycle is skipped; the next poll or stream event retries.
	KindTransient
	// KindRejected means a submitted leg did not fill.
	KindRejected
	// KindUnwindExhausted is fatal: trading halts for the process lifetime.
	KindUnwindExhausted
	// KindSettlement means a merge reverted or errored. The position stays
	// redeemable and may be merged later.
	KindSettlement
	// KindStartup covers invalid credentials and unreachable dependencies.
	KindStartup
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRejected:
		return "rejected"
	case KindUnwindExhausted:
		return "unwind_exhausted"
	case KindSettlement:
		return "settlement"
	case KindStartup:
		return "startup"
	default:
		return "unknown"
	}
}

// Error attaches a Kind and the failing operation to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an *Error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain. Bare rate-limit
// and disconnect sentinels count as transient.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrWSDisconnect), errors.Is(err, ErrMalformedBook):
		return KindTransient
	case errors.Is(err, ErrUnauthorized):
		return KindStartup
	}
	return KindUnknown
}

// IsTransient reports whether err should simply skip the current cycle.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }
