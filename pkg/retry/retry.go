// Package retry wraps fallible operations with a per-attempt deadline and
// exponential backoff between attempts.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/inkfable/story-illustrator/pkg/log"
)

// DefaultAttemptTimeout bounds a single attempt when the policy does not
// override it.
const DefaultAttemptTimeout = 35 * time.Second

// maxJitter is added to every backoff sleep to avoid synchronized retry
// storms against a rate-limited upstream.
const maxJitter = 200 * time.Millisecond

// Policy controls how many times an operation is re-issued and how long the
// backoff between attempts grows.
type Policy struct {
	MaxRetries     int
	BaseDelay      time.Duration
	AttemptTimeout time.Duration
}

// FirstPass is the policy for initial per-scene generation.
var FirstPass = Policy{MaxRetries: 3, BaseDelay: 800 * time.Millisecond}

// FailedPass is the more conservative policy for the consolidated retry of
// scenes that already failed once.
var FailedPass = Policy{MaxRetries: 2, BaseDelay: 1200 * time.Millisecond}

// TimeoutError reports that a single attempt exceeded its deadline.
type TimeoutError struct {
	Deadline time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation timed out after %v", e.Deadline)
}

// Operation is a single attempt. It must honor ctx cancellation so the
// wrapper can abort the in-flight work when the attempt deadline fires.
type Operation[T any] func(ctx context.Context) (T, error)

func (p Policy) attemptTimeout() time.Duration {
	if p.AttemptTimeout > 0 {
		return p.AttemptTimeout
	}
	return DefaultAttemptTimeout
}

// Backoff returns the sleep before the attempt following attempt n
// (0-based), excluding jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	return p.BaseDelay * (1 << attempt)
}

// Do runs op up to 1+MaxRetries times. Each attempt is raced against the
// attempt timeout; the losing side is cancelled on both paths, so a timed
// out attempt has its context cancelled (aborting e.g. an HTTP request) and
// a completed attempt releases its timer immediately.
func Do[T any](ctx context.Context, policy Policy, op Operation[T]) (T, error) {
	var zero T
	timeout := policy.attemptTimeout()

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		value, err := runAttempt(ctx, timeout, op)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt == policy.MaxRetries {
			break
		}

		delay := policy.Backoff(attempt) + time.Duration(rand.Int63n(int64(maxJitter)))
		log.Warn("Attempt %d/%d failed: %v, retrying in %v", attempt+1, policy.MaxRetries+1, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, lastErr
}

type attemptResult[T any] struct {
	value T
	err   error
}

// runAttempt races op against the attempt deadline. The op goroutine always
// receives a cancelled context once the race is decided, and the result
// channel is buffered so a late finisher never leaks.
func runAttempt[T any](ctx context.Context, timeout time.Duration, op Operation[T]) (T, error) {
	var zero T

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult[T], 1)
	go func() {
		value, err := op(attemptCtx)
		done <- attemptResult[T]{value: value, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, &TimeoutError{Deadline: timeout}
	}
}
