// Package retry retries idempotent operations with exponential backoff.
//
// It is used for connecting to the node at startup only. State-changing protocol steps
// are never retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy holds configuration for retry behavior.
type Policy struct {
	// Attempts is the total number of calls, including the first. Values below 1 mean 1.
	Attempts int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps exponential growth.
	MaxBackoff time.Duration
}

// DefaultPolicy suits waiting for a local dev node to come up.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:       5,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     4 * time.Second,
	}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// OnRetryFunc is called before each retry. attempt is 1-indexed.
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// Do calls fn until it succeeds, returns a Permanent error, the context ends, or the
// policy's attempts are exhausted.
//
//	client, err := retry.Do(ctx, retry.DefaultPolicy(), nil, func(ctx context.Context) (*ethclient.Client, error) {
//	    return ethclient.DialContext(ctx, url)
//	})
func Do[T any](ctx context.Context, p Policy, onRetry OnRetryFunc, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 250 * time.Millisecond
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}

	backoff := p.InitialBackoff
	var lastErr error

	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			if onRetry != nil {
				onRetry(attempt, lastErr, backoff)
			}

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("context cancelled while retrying: %w", ctx.Err())
			case <-timer.C:
			}

			backoff *= 2
			if backoff > p.MaxBackoff {
				backoff = p.MaxBackoff
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err
	}

	return zero, fmt.Errorf("giving up after %d attempts: %w", p.Attempts, lastErr)
}
