// Package errs defines the closed error-kind taxonomy that every component
// boundary classifies its failures into, and a typed error that carries a
// kind alongside the usual wrapped message.
package errs

import "fmt"

// Kind is the closed set of error classifications. Never add a new value
// without updating every switch over Kind (retry policy, breaker wiring,
// audit outcome mapping, RPC exit-signal mapping).
type Kind string

const (
	// KindValidation covers invalid input shape or contents. Never retried,
	// never affects a breaker.
	KindValidation Kind = "validation"
	// KindPermission covers an operation disallowed at the current autonomy
	// level. Always produces an audit row with approved=false.
	KindPermission Kind = "permission"
	// KindSanitization covers a blocked prompt-injection or dangerous-content match.
	KindSanitization Kind = "sanitization"
	// KindTransient covers network/timeout/spawn glitches. Retried with
	// exponential backoff (3 attempts, 1s/5s/15s); trips the breaker on
	// repeated failure.
	KindTransient Kind = "transient"
	// KindQuota covers a provider-reported exhaustion/rate-limit. Triggers a
	// one-shot fallback to a secondary backend if configured. Trips the breaker.
	KindQuota Kind = "quota"
	// KindPermanent covers a non-retryable provider error. Not retried;
	// trips the breaker after threshold.
	KindPermanent Kind = "permanent"
	// KindCancelled covers caller-initiated cancellation. Never logged as a failure.
	KindCancelled Kind = "cancelled"
)

// Error is a classified error: a Kind plus a human message and an optional
// wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs a classified error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a classified error wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As extracts the *Error from err, if any, following the stdlib errors.As contract.
func As(err error) (*Error, bool) {
	var ce *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			ce = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if ce == nil {
		return nil, false
	}
	return ce, true
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, else
// KindPermanent as the conservative default for unclassified
// provider-binary failures.
func KindOf(err error) Kind {
	if ce, ok := As(err); ok {
		return ce.Kind
	}
	return KindPermanent
}

// Retryable reports whether a Kind is ever eligible for the retry policy.
func Retryable(k Kind) bool {
	return k == KindTransient
}

// TripsBreaker reports whether a Kind counts as a breaker failure.
func TripsBreaker(k Kind) bool {
	switch k {
	case KindTransient, KindQuota, KindPermanent:
		return true
	default:
		return false
	}
}
