// internal/backoff/backoff.go
package backoff

import "time"

// Class is the failure category the policy distinguishes between when
// computing a retry delay.
type Class int

const (
	// Transient covers network failures and upstream 5xx responses.
	Transient Class = iota
	// RateLimited covers responses carrying a rate-limit signal, optionally
	// with a server-provided reset time.
	RateLimited
	// NonRetryable covers failures that must abort immediately (bad
	// credentials, malformed query). No delay is computed for these.
	NonRetryable
)

// Policy computes retry delays. It holds no state; all randomness is passed
// in by the caller, so the same inputs always produce the same output.
type Policy struct {
	Base   time.Duration // multiplier for the exponential term
	Min    time.Duration // floor for computed delays
	Max    time.Duration // ceiling for the exponential term
	Jitter float64       // fraction of the delay randomized, e.g. 0.2 for +/-20%
}

// Default mirrors an exponential schedule of base 1s doubling per attempt,
// floored at 4s and capped at 60s, with 20% jitter.
func Default() Policy {
	return Policy{
		Base:   1 * time.Second,
		Min:    4 * time.Second,
		Max:    60 * time.Second,
		Jitter: 0.2,
	}
}

// Delay returns how long to wait before retry number attempt (zero-based).
// retryAfter is a server-provided wait hint (time until a rate-limit reset)
// and is only consulted for RateLimited failures; pass zero when absent.
// rnd must return values in [0, 1).
//
// For NonRetryable the result is always zero: the caller aborts instead of
// sleeping. For RateLimited the returned delay never undercuts retryAfter.
func (p Policy) Delay(attempt int, class Class, retryAfter time.Duration, rnd func() float64) time.Duration {
	if class == NonRetryable {
		return 0
	}

	d := p.exponential(attempt)

	if class == RateLimited && retryAfter > 0 {
		if retryAfter > d {
			d = retryAfter
		}
		// Jitter only upward so the wait never lands before the reset.
		return d + time.Duration(p.Jitter*rnd()*float64(d))
	}

	spread := p.Jitter * (2*rnd() - 1)
	return d + time.Duration(spread*float64(d))
}

func (p Policy) exponential(attempt int) time.Duration {
	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			d = p.Max
			break
		}
	}
	if d < p.Min {
		d = p.Min
	}
	if d > p.Max {
		d = p.Max
	}
	return d
}
