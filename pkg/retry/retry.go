// Package retry runs an operation with exponential backoff.
//
// Only errors marked transient are retried; anything else fails fast. The
// remote provider marks connection failures and 5xx responses transient and
// leaves protocol errors alone.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy controls attempt count and backoff shape.
type Policy struct {
	Attempts   int           // total attempts, 0 means DefaultPolicy().Attempts
	BaseDelay  time.Duration // delay before the second attempt
	MaxDelay   time.Duration // backoff ceiling
	Multiplier float64       // growth factor per attempt
	Jitter     float64       // fraction of the delay randomized, 0..1
}

// DefaultPolicy retries three times starting at 100ms.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.2,
	}
}

type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// Transient marks err as worth retrying. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err carries a Transient mark anywhere in its
// chain.
func IsTransient(err error) bool {
	var te transientError
	return errors.As(err, &te)
}

func (p Policy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, returns a non-transient error, the policy is
// exhausted, or ctx is done.
func Do[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	var zero T
	if p.Attempts == 0 {
		p.Attempts = DefaultPolicy().Attempts
	}

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return zero, err
		}
		if attempt == p.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}
	return zero, lastErr
}
