// Package retry holds the deterministic backoff used for every outbound
// inference call: delay base^(attempt+1) seconds, no jitter, no cap.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultBase        = 2.0
	DefaultMaxAttempts = 3
)

// NextDelay is the wait before attempt+1, attempts numbered from 0.
func NextDelay(attempt int, base float64) time.Duration {
	return time.Duration(math.Pow(base, float64(attempt+1)) * float64(time.Second))
}

// ShouldRetry reports whether a failed attempt leaves budget for another.
func ShouldRetry(attempt, maxAttempts int) bool {
	return attempt < maxAttempts-1
}

// Policy adapts NextDelay/ShouldRetry to backoff.BackOff. It is stateful;
// use one per call.
type Policy struct {
	Base        float64
	MaxAttempts int

	attempt int
}

func NewPolicy(base float64, maxAttempts int) *Policy {
	if base <= 0 {
		base = DefaultBase
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Policy{Base: base, MaxAttempts: maxAttempts}
}

func (p *Policy) NextBackOff() time.Duration {
	if !ShouldRetry(p.attempt, p.MaxAttempts) {
		return backoff.Stop
	}
	d := NextDelay(p.attempt, p.Base)
	p.attempt++
	return d
}

func (p *Policy) Reset() { p.attempt = 0 }

// Attempt is the zero-based index of the attempt currently running.
func (p *Policy) Attempt() int { return p.attempt }

// Notify is called before each sleep with the failed attempt number.
type Notify func(err error, attempt int, wait time.Duration)

// Permanent marks err so Do stops without consuming the remaining budget.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, or the policy is
// exhausted. The returned error is the last one op produced. A nil timer
// sleeps for real.
func Do(ctx context.Context, p *Policy, timer backoff.Timer, notify Notify, op func(attempt int) error) error {
	operation := func() error {
		return op(p.Attempt())
	}
	var n backoff.Notify
	if notify != nil {
		n = func(err error, wait time.Duration) {
			// NextBackOff has already advanced the counter.
			notify(err, p.Attempt()-1, wait)
		}
	}
	return backoff.RetryNotifyWithTimer(operation, backoff.WithContext(p, ctx), n, timer)
}
