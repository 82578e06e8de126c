// Package retry provides the bounded backoff policy applied to outbound
// vendor calls. Lead upserts deliberately do not go through this package.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Temporary marks an error as retryable. Vendor clients wrap rate-limit and
// timeout failures with Transient so the policy can tell them apart from
// permanent rejections.
type Temporary interface {
	Temporary() bool
}

type transientError struct {
	err error
}

func (e *transientError) Error() string   { return e.err.Error() }
func (e *transientError) Unwrap() error   { return e.err }
func (e *transientError) Temporary() bool { return true }

// Transient wraps err so the retry policy will attempt it again.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	var t Temporary
	return errors.As(err, &t) && t.Temporary()
}

// Policy describes how many attempts to make and how long to wait between them.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter adds up to this fraction of the computed delay. Zero disables it.
	Jitter float64
}

// Default mirrors the production tuning: three attempts, exponential backoff
// from one second capped at ten.
func Default() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second, Jitter: 0.25}
}

// Do runs fn until it succeeds, returns a non-transient error, or attempts run
// out. The last error is returned unwrapped from the transient marker's point
// of view (callers can still errors.As through it).
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}
	return lastErr
}

func (p Policy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	d := base << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Float64() * p.Jitter * float64(d))
	}
	return d
}
