// Package retry wraps external-service calls with classification-aware
// exponential backoff. The same policy is shared by the backup and restore
// paths.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// FatalError marks an error that must propagate without further retries,
// either because its class is fatal or because the attempt budget ran out.
type FatalError struct {
	Class Class
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsNotFound reports whether err is a fatal not-found error.
func IsNotFound(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe) && fe.Class == ClassFatalNotFound
}

// IsPermission reports whether err is a fatal authorization error.
func IsPermission(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe) && fe.Class == ClassFatalPermission
}

// Policy parameterizes the shared backoff behavior.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Jitter      time.Duration
	// AttemptTimeout caps each individual attempt. Exceeding it while
	// attempts remain is a retryable failure; exceeding it on the last
	// attempt is fatal. Zero disables the per-attempt deadline.
	AttemptTimeout time.Duration
}

// DefaultPolicy matches external API rate limits without stretching a pass
// past its invocation deadline.
var DefaultPolicy = Policy{
	MaxAttempts:    5,
	BaseDelay:      500 * time.Millisecond,
	Jitter:         250 * time.Millisecond,
	AttemptTimeout: 5 * time.Minute,
}

// Do invokes fn until it succeeds, fails fatally, or the attempt budget is
// exhausted. Retryable failures wait baseDelay*2^attempt plus random jitter
// between attempts. Exhaustion converts the last error to a FatalError.
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = p.attempt(ctx, fn)
		if err == nil {
			return nil
		}

		class := Classify(err)
		if class != ClassRetryable {
			return &FatalError{Class: class, Err: fmt.Errorf("%s: %w", op, err)}
		}

		if attempt == maxAttempts-1 {
			break
		}
		if waitErr := p.wait(ctx, attempt); waitErr != nil {
			return &FatalError{Class: ClassRetryable, Err: fmt.Errorf("%s: %w", op, waitErr)}
		}
	}

	return &FatalError{
		Class: ClassRetryable,
		Err:   fmt.Errorf("%s: retry budget exhausted after %d attempts: %w", op, maxAttempts, err),
	}
}

// DoValue is Do for calls that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, op, func(ctx context.Context) error {
		var fnErr error
		out, fnErr = fn(ctx)
		return fnErr
	})
	return out, err
}

func (p Policy) attempt(ctx context.Context, fn func(context.Context) error) error {
	if p.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

func (p Policy) wait(ctx context.Context, attempt int) error {
	delay := p.BaseDelay << uint(attempt)
	if p.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(p.Jitter)))
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
