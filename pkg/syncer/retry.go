package syncer

import (
	"context"
	"time"
)

const (
	defaultAttempts  = 3
	defaultBaseDelay = 2 * time.Second
	defaultMaxDelay  = 30 * time.Second
)

// RetryPolicy controls whole-run retries.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)

	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns three attempts with a doubling delay capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  defaultAttempts,
		BaseDelay: defaultBaseDelay,
		MaxDelay:  defaultMaxDelay,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = defaultAttempts
	}

	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}

	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}

	if p.sleep == nil {
		p.sleep = sleepContext
	}

	return p
}

// Delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	p = p.withDefaults()

	delay := p.BaseDelay
	for i := 1; i < attempt && delay < p.MaxDelay; i++ {
		delay *= 2
	}

	return min(delay, p.MaxDelay)
}

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// attempts run out. The last error is returned.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	policy = policy.withDefaults()

	var (
		result T
		err    error
	)

	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}

		if attempt == policy.Attempts || !IsRetryable(err) || ctx.Err() != nil {
			return result, err
		}

		delay := policy.Delay(attempt)

		if policy.OnRetry != nil {
			policy.OnRetry(attempt, delay, err)
		}

		if sleepErr := policy.sleep(ctx, delay); sleepErr != nil {
			return result, err
		}
	}

	return result, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
