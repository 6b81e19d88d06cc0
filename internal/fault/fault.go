// Package fault classifies failures so callers can tell retryable conditions from terminal ones.
package fault

import (
	"errors"
	"fmt"
)

// Kind groups failures by how the engine must react to them.
type Kind int

const (
	// Unknown is any error that carries no classification.
	Unknown Kind = iota
	// Transient covers timeouts, 5xx responses and dropped connections; safe to retry.
	Transient
	// Auth covers bad signatures, revoked keys and missing permissions; halts the credential.
	Auth
	// Rejected covers other 4xx validation failures; not retried and halts the credential.
	Rejected
	// Insufficient covers insufficient balance and below-minimum orders; expected, skipped quietly.
	Insufficient
	// Unavailable marks missing market data; the symbol is skipped for the cycle.
	Unavailable
	// Invariant marks a ledger invariant violation; fatal for the symbol until reconciled.
	Invariant
	// Drift marks a reconciliation mismatch beyond tolerance; alert only.
	Drift
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Auth:
		return "auth"
	case Rejected:
		return "rejected"
	case Insufficient:
		return "insufficient"
	case Unavailable:
		return "unavailable"
	case Invariant:
		return "invariant"
	case Drift:
		return "drift"
	default:
		return "unknown"
	}
}

var (
	// ErrPriceUnavailable is returned when no trustworthy price exists for a symbol.
	ErrPriceUnavailable = &Error{Kind: Unavailable, Msg: "price unavailable"}
	// ErrInvariant is wrapped by every ledger invariant violation.
	ErrInvariant = &Error{Kind: Invariant, Msg: "ledger invariant violation"}
	// ErrCircuitOpen is returned while the exchange circuit breaker rejects calls.
	ErrCircuitOpen = &Error{Kind: Transient, Msg: "circuit open"}
	// ErrOrderNotFound is returned when the exchange has no record of a client order id.
	ErrOrderNotFound = errors.New("order not found")
)

// Error is a classified failure. Status and Code carry the HTTP status and venue error code when known.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Code   int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	switch {
	case e.Op != "" && e.Status != 0:
		return fmt.Sprintf("%s: %s (http %d code %d): %s", e.Op, e.Kind, e.Status, e.Code, msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	default:
		return msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error for op.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf reports the classification of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool { return KindOf(err) == Transient }

// IsHalting reports whether err should stop trading for the credential that produced it.
func IsHalting(err error) bool {
	k := KindOf(err)
	return k == Auth || k == Rejected
}

// IsInsufficient reports whether err is an expected funds or minimum-size rejection.
func IsInsufficient(err error) bool { return KindOf(err) == Insufficient }

// IsUnavailable reports whether err signals missing market data.
func IsUnavailable(err error) bool { return KindOf(err) == Unavailable }

// IsInvariant reports whether err is a ledger invariant violation.
func IsInvariant(err error) bool { return KindOf(err) == Invariant }
