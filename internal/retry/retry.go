package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// Policy bounds how an external call is retried.
type Policy struct {
	Attempts  int           // total attempts, including the first
	BaseDelay time.Duration // delay before the second attempt
	MaxDelay  time.Duration // cap for the exponential delay
	Timeout   time.Duration // per-attempt timeout, 0 for none

	// Limiter paces attempts across callers sharing the policy. Optional.
	Limiter *rate.Limiter

	// Retryable decides whether an error is worth another attempt.
	// When nil every error except a Permanent one is retried.
	Retryable func(error) bool
}

// DefaultPolicy returns three attempts with 500ms base delay and a one minute per-attempt timeout.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:  3,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  8 * time.Second,
		Timeout:   60 * time.Second,
	}
}

// WithRate returns a copy of the policy paced at rps requests per second.
func (p Policy) WithRate(rps float64, burst int) Policy {
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		p.Limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return p
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, returns a non-retryable error, or attempts run out.
// Each attempt gets its own timeout derived from ctx.
func Do[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if p.Limiter != nil {
			if err := p.Limiter.Wait(ctx); err != nil {
				return zero, err
			}
		}

		v, err := runAttempt(ctx, p.Timeout, fn)
		if err == nil {
			return v, nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		delay := p.backoff(attempt)
		slog.Debug("retrying external call", "op", op, "attempt", attempt, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("%s: giving up after %d attempts: %w", op, attempts, lastErr)
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

// backoff returns the delay after the given attempt: exponential with up to 20% jitter.
func (p Policy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	if jitter := int64(d) / 5; jitter > 0 {
		d += time.Duration(rand.Int64N(jitter))
	}
	return d
}
