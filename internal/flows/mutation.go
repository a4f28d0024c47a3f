package flows

import (
	"context"
	"time"
)

type MutationDeps struct {
	// ShouldRetry is called with the number of failures so far.
	ShouldRetry func(int, error) bool
	RetryDelay  time.Duration
	Sleep       func(context.Context, time.Duration) error
	OnRetry     func(int, error)
}

// RunMutation calls call until it succeeds or ShouldRetry declines. A
// context cancelled during the retry delay returns the last call error.
func RunMutation[T any](ctx context.Context, call func(context.Context) (T, error), deps MutationDeps) (T, error) {
	normalizeMutationDeps(&deps)

	failures := 0
	for {
		out, err := call(ctx)
		if err == nil {
			return out, nil
		}

		failures++
		if !deps.ShouldRetry(failures, err) {
			return out, err
		}

		deps.OnRetry(failures, err)
		if sleepErr := deps.Sleep(ctx, deps.RetryDelay); sleepErr != nil {
			return out, err
		}
	}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func normalizeMutationDeps(deps *MutationDeps) {
	if deps.ShouldRetry == nil {
		deps.ShouldRetry = func(int, error) bool { return false }
	}
	if deps.Sleep == nil {
		deps.Sleep = SleepContext
	}
	if deps.OnRetry == nil {
		deps.OnRetry = func(int, error) {}
	}
}
