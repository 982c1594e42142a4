// Package apperrors defines the error taxonomy shared across the audio
// pipeline and playback core, along with retry classification and
// backoff helpers used by the provider adapter, HTTP fetcher and FFmpeg
// wrapper.
package apperrors

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Kind is the opaque error classification exposed at component
// boundaries. Callers switch on Kind, never on error strings.
type Kind string

const (
	KindProviderInit        Kind = "provider_init"
	KindProviderNotFound    Kind = "provider_not_found"
	KindProviderInvalidData Kind = "provider_invalid_data"
	KindProviderTransient   Kind = "provider_transient"
	KindProviderFatal       Kind = "provider_fatal"
	KindHttpRedirectLimit   Kind = "http_redirect_limit"
	KindHttpTimeout         Kind = "http_timeout"
	KindHttpIo              Kind = "http_io"
	KindPipelineFailed      Kind = "pipeline_failed"
	KindCancelled           Kind = "cancelled"
	KindQueueConflict       Kind = "queue_conflict"
	KindInvariantViolation  Kind = "invariant_violation"
)

// Error is the structured error type returned across component
// boundaries. Op names the operation that failed (e.g.
// "ProviderAdapter.SearchName"); Err is the wrapped cause, if any.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified Error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, if it (or something it wraps) is
// an *Error. Returns "" if no classification is present.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsCancelled reports whether err represents cooperative cancellation.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}

// IsRetryable reports whether err belongs to a class of failure the
// caller should retry with backoff: transient provider errors, and the
// HTTP/network conditions spec.md §4.3 lists as retryable (network
// errors, 408, 429, 5xx).
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindProviderTransient, KindHttpTimeout, KindHttpIo:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode reports whether an HTTP status code belongs to
// the retryable set: 408, 429, or any 5xx.
func IsRetryableStatusCode(status int) bool {
	if status == 408 || status == 429 {
		return true
	}
	return status >= 500 && status <= 599
}

// BackoffPolicy parameterizes exponential backoff. All retry loops in
// this module (provider search/resolve, HTTP fetch-with-retry) share
// the same factor-2 shape the spec fixes, differing only in bounds.
type BackoffPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
}

// DefaultBackoff matches spec.md §5: factor 2, min 1s, max 5s.
var DefaultBackoff = BackoffPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second, Factor: 2}

// Delay returns the backoff delay before attempt N (1-indexed: the
// delay preceding the second attempt is Delay(1)).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// Retry runs fn up to maxAttempts times, sleeping according to policy
// between attempts, stopping early if fn's error is classified as
// KindCancelled (IsCancelled) or is not retryable (IsRetryable).
func Retry(maxAttempts int, policy BackoffPolicy, sleep func(time.Duration), fn func(attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if IsCancelled(err) || !IsRetryable(err) {
			return err
		}
		if attempt < maxAttempts {
			sleep(policy.Delay(attempt))
		}
	}
	return lastErr
}
