// Package retry provides the one bounded-retry primitive shared by the
// durable commit layer and the storage resolver's transient-fetch path.
package retry

import (
	"context"
	"time"
)

// Policy bounds a retried unit of work.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Normalized returns the policy with unset fields replaced by safe minimums.
func (p Policy) Normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 10 * time.Millisecond
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// Do runs op up to MaxAttempts times, sleeping with doubling backoff between
// attempts. retryable decides whether a failure is worth another attempt; a
// nil predicate retries every error. The last error is returned when the
// budget is exhausted. Context cancellation interrupts the backoff sleep.
func Do(ctx context.Context, policy Policy, retryable func(error) bool, op func() error) error {
	policy = policy.Normalized()
	delay := policy.InitialBackoff

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= policy.MaxBackoff {
			delay = next
		} else {
			delay = policy.MaxBackoff
		}
	}
	return lastErr
}
