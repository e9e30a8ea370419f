// Package retry wraps a single provider operation with exponential backoff.
// It is the only place in the gateway that decides whether and when a call
// is attempted again.
package retry

import (
	"context"
	"time"

	"github.com/clinicdocs/docgate/internal/provider"
)

const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = 1 * time.Second
	// MaxDelay caps a single backoff wait.
	MaxDelay = 5 * time.Minute
	// MaxAttemptsLimit bounds configured attempts.
	MaxAttemptsLimit = 10
)

// Policy configures the retry engine.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the wait before the second attempt; each later wait doubles.
	InitialDelay time.Duration

	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait with the upcoming attempt number.
	OnRetry Hook
}

// Hook is the signature of Policy.OnRetry and of per-call hooks.
type Hook func(attempt int, delay time.Duration, err *provider.GatewayError)

type hookKey struct{}

// WithHook returns a context whose retries are also reported to h, in
// addition to the policy's OnRetry.
func WithHook(ctx context.Context, h Hook) context.Context {
	return context.WithValue(ctx, hookKey{}, h)
}

// Delay returns the wait before the given attempt (attempt >= 2):
// InitialDelay * 2^(attempt-2), capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 2 || p.InitialDelay <= 0 {
		return 0
	}
	d := p.InitialDelay
	for i := 2; i < attempt; i++ {
		if d >= MaxDelay/2 {
			return MaxDelay
		}
		d *= 2
	}
	return min(d, MaxDelay)
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// policy's attempts are exhausted. The returned error is always a
// *provider.GatewayError with Attempts set.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr *provider.GatewayError
	sleep := p.Sleep
	if sleep == nil {
		sleep = timerSleep
	}

	max := p.maxAttempts()
	for attempt := 1; attempt <= max; attempt++ {
		if attempt > 1 {
			delay := p.Delay(attempt)
			if p.OnRetry != nil {
				p.OnRetry(attempt, delay, lastErr)
			}
			if h, ok := ctx.Value(hookKey{}).(Hook); ok {
				h(attempt, delay, lastErr)
			}
			if err := sleep(ctx, delay); err != nil {
				return zero, &provider.GatewayError{
					Kind:     provider.KindTimeout,
					Message:  "cancelled while waiting to retry: " + lastErr.Message,
					Attempts: attempt - 1,
					Err:      err,
				}
			}
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = provider.AsGatewayError(err)
		lastErr.Attempts = attempt
		if !lastErr.Retryable() || ctx.Err() != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

// Run is Do for operations with no result value.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func timerSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
