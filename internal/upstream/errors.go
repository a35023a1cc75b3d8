// internal/upstream/errors.go
package upstream

import (
	"fmt"
	"time"

	"github.com/saadkhi/crawl-pipeline/internal/backoff"
)

// ErrorKind classifies an upstream failure for retry purposes.
type ErrorKind int

const (
	// KindTransient is a network failure or 5xx response; safe to retry.
	KindTransient ErrorKind = iota
	// KindRateLimited is a rate-limit rejection, possibly carrying the time
	// until the limit resets.
	KindRateLimited
	// KindNonRetryable is an auth failure or malformed query; retrying the
	// identical request can never succeed.
	KindNonRetryable
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindNonRetryable:
		return "non_retryable"
	default:
		return "unknown"
	}
}

// Error is a classified upstream failure. RetryAfter is only set for
// rate-limited responses that include a reset time.
type Error struct {
	Kind       ErrorKind
	RetryAfter time.Duration
	Status     int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("upstream %s (status %d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("upstream %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the retry loop may attempt the same request again.
func (e *Error) Retryable() bool { return e.Kind != KindNonRetryable }

// BackoffClass maps the error kind onto the backoff policy's taxonomy.
func (e *Error) BackoffClass() backoff.Class {
	switch e.Kind {
	case KindRateLimited:
		return backoff.RateLimited
	case KindNonRetryable:
		return backoff.NonRetryable
	default:
		return backoff.Transient
	}
}
