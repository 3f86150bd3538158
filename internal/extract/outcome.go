package extract

import (
	"errors"
	"time"

	"scribe/internal/services"
)

// Class partitions strategy results into the three cases the chain can act
// on. There is no fourth case: every strategy invocation ends in exactly one
// of these.
type Class int

const (
	// ClassSuccess means the strategy produced a transcript.
	ClassSuccess Class = iota
	// ClassRetryable means the same strategy may succeed if tried again.
	ClassRetryable
	// ClassPermanent means this strategy will never succeed for this item.
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassRetryable:
		return "retryable"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ErrorKind classifies why a strategy failed. Kinds are stable strings that
// end up in the session manifest and in log output.
type ErrorKind string

const (
	KindRateLimited        ErrorKind = "rate_limited"
	KindTimeout            ErrorKind = "timeout"
	KindNetworkError       ErrorKind = "network_error"
	KindAuthExpired        ErrorKind = "auth_expired"
	KindContentUnavailable ErrorKind = "content_unavailable"
	KindQuotaExhausted     ErrorKind = "quota_exhausted"
	KindInternal           ErrorKind = "internal"
)

// Outcome is the result of one strategy invocation. Transcript is set only
// for ClassSuccess; Kind and Err only for the failure classes. RetryAfter is
// an optional hint for how long to wait before retrying.
type Outcome struct {
	Class      Class
	Transcript string
	Kind       ErrorKind
	Err        error
	RetryAfter time.Duration
}

// Success builds a successful outcome carrying the transcript text.
func Success(transcript string) Outcome {
	return Outcome{Class: ClassSuccess, Transcript: transcript}
}

// Retryable builds a transient-failure outcome.
func Retryable(kind ErrorKind, err error) Outcome {
	return Outcome{Class: ClassRetryable, Kind: kind, Err: err}
}

// RetryableAfter builds a transient-failure outcome with a wait hint, used
// when the upstream told us when its rate window rolls over.
func RetryableAfter(kind ErrorKind, err error, wait time.Duration) Outcome {
	return Outcome{Class: ClassRetryable, Kind: kind, Err: err, RetryAfter: wait}
}

// Permanent builds a failure outcome the chain should not retry on this
// strategy.
func Permanent(kind ErrorKind, err error) Outcome {
	return Outcome{Class: ClassPermanent, Kind: kind, Err: err}
}

// Classify maps a wrapped service error onto a failure outcome using the
// sentinel markers. Rate limits, timeouts, and network faults are worth
// retrying; everything else is permanent for the strategy that raised it.
func Classify(err error) Outcome {
	kind := KindOf(err)
	switch kind {
	case KindRateLimited, KindTimeout, KindNetworkError:
		return Retryable(kind, err)
	default:
		return Permanent(kind, err)
	}
}

// KindOf extracts the error kind from a wrapped service error. Unrecognized
// errors classify as internal.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, services.ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, services.ErrTimeout):
		return KindTimeout
	case errors.Is(err, services.ErrNetwork):
		return KindNetworkError
	case errors.Is(err, services.ErrAuthExpired):
		return KindAuthExpired
	case errors.Is(err, services.ErrContentUnavailable):
		return KindContentUnavailable
	case errors.Is(err, services.ErrQuotaExhausted):
		return KindQuotaExhausted
	default:
		return KindInternal
	}
}

func (o Outcome) message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
