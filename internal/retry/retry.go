// Package retry provides a generic retry-with-backoff executor used by the
// transcription provider clients. Delays grow exponentially and are
// perturbed with jitter so concurrent callers don't hammer a recovering
// service in lockstep.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// Policy controls how an operation is retried. The zero value is not
// useful; build one with a preset and adjust fields as needed. A Policy is
// immutable once handed to Do and safe to share across goroutines.
type Policy struct {
	MaxRetries     int           // retries after the initial attempt; 3 means up to 4 calls
	InitialDelay   time.Duration // delay before the first retry
	MaxDelay       time.Duration // cap for the exponential growth
	Multiplier     float64       // backoff growth factor
	JitterFraction float64       // ±fraction applied to each delay, e.g. 0.25

	// ShouldRetry classifies errors. nil means every error is retryable.
	ShouldRetry func(error) bool

	// OnRetry, if set, is called before each sleep with the upcoming
	// attempt number (1-based), the computed delay, and the error that
	// triggered the retry.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// APICallPolicy is the preset for remote provider calls: 3 retries starting
// at 2s, doubling up to 60s, with ±25% jitter. ShouldRetry is left nil;
// call sites install their own classifier.
func APICallPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		InitialDelay:   2 * time.Second,
		MaxDelay:       60 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// StoragePolicy is the preset for object-store and database side calls:
// quicker, shorter retries than the API preset.
func StoragePolicy() Policy {
	return Policy{
		MaxRetries:     2,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// Delay computes the sleep before retry number attempt (0-based, so
// attempt 0 is the delay after the first failure). The base delay is
// initial*multiplier^attempt capped at MaxDelay, then jittered by
// ±JitterFraction, clamped to >= 0, and truncated to whole milliseconds.
func (p Policy) Delay(attempt int) time.Duration {
	base := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if max := float64(p.MaxDelay); base > max {
		base = max
	}
	if p.JitterFraction > 0 {
		// rand.Float64 in [0,1) -> factor in [1-j, 1+j)
		factor := 1 + p.JitterFraction*(2*rand.Float64()-1)
		base *= factor
	}
	if base < 0 {
		base = 0
	}
	return time.Duration(base).Truncate(time.Millisecond)
}

// Do runs op, retrying per the policy. The first attempt runs immediately.
// When attempts are exhausted or ShouldRetry rejects the error, the error
// from the final attempt is returned unchanged. Sleeps honor ctx; if ctx
// is canceled mid-wait, ctx.Err() is returned.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if attempt >= p.MaxRetries {
			return zero, lastErr
		}
		if p.ShouldRetry != nil && !p.ShouldRetry(err) {
			return zero, lastErr
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

// TimeoutError reports that an operation exceeded its local time budget.
// It means "outcome unknown": the remote side may still complete the work.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation timed out after %s", e.After)
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// WithTimeout runs op with a budget of d. If the budget expires the caller
// gets a *TimeoutError immediately; op keeps running in the background on a
// canceled context and its eventual result is discarded.
func WithTimeout[T any](ctx context.Context, d time.Duration, op func(context.Context) (T, error)) (T, error) {
	var zero T

	opCtx, cancel := context.WithTimeout(ctx, d)

	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer cancel()
		v, err := op(opCtx)
		ch <- outcome{v, err}
	}()

	select {
	case out := <-ch:
		return out.v, out.err
	case <-opCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, &TimeoutError{After: d}
	}
}

// DoWithTimeout applies a per-attempt timeout inside the retry loop.
// Timeouts are treated as retryable in addition to whatever ShouldRetry
// accepts; callers that want timeouts to be terminal should compose Do and
// WithTimeout themselves.
func DoWithTimeout[T any](ctx context.Context, p Policy, attemptTimeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	inner := p.ShouldRetry
	q := p
	q.ShouldRetry = func(err error) bool {
		if IsTimeout(err) {
			return true
		}
		return inner == nil || inner(err)
	}
	return Do(ctx, q, func(ctx context.Context) (T, error) {
		return WithTimeout(ctx, attemptTimeout, op)
	})
}

// RetryableNetwork classifies transport-level errors worth retrying:
// connection failures, resets, and timeouts. Matching on message text is
// crude but covers the net/http error surface without importing every
// wrapped type.
func RetryableNetwork(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"deadline exceeded",
		"i/o timeout",
		"EOF",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
