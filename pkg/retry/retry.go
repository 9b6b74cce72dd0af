// Package retry holds the bounded retry policy shared by every source adapter.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	werrors "sjsage522/noticewatcher/pkg/errors"
)

// Policy configures retry behavior.
type Policy struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
	// Retryable decides whether a failed attempt may be repeated.
	// Defaults to errors.IsRetryable (network errors only).
	Retryable func(error) bool
	// OnRetry is called before sleeping between attempts.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// DefaultPolicy retries transient network failures three times.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	InitialWait: time.Second,
	MaxWait:     10 * time.Second,
	Jitter:      true,
	Retryable:   werrors.IsRetryable,
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialWait < 0 {
		p.InitialWait = 0
	}
	if p.MaxWait <= 0 {
		p.MaxWait = p.InitialWait
	}
	if p.Retryable == nil {
		p.Retryable = werrors.IsRetryable
	}
	return p
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. The error of the last attempt is returned.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	p = p.withDefaults()
	wait := p.InitialWait

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt == p.MaxAttempts || !p.Retryable(err) {
			return err
		}

		sleep := wait
		if p.Jitter && sleep > 0 {
			sleep = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if sleep > p.MaxWait {
			sleep = p.MaxWait
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, sleep, err)
		}
		if sleepErr := sleepCtx(ctx, sleep); sleepErr != nil {
			return err
		}

		wait *= 2
		if wait > p.MaxWait {
			wait = p.MaxWait
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
