package ingest

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

const defaultRetryBase = 500 * time.Millisecond

// RetryRun calls run up to retries+1 times, backing off exponentially with
// jitter between attempts. Only retryable fetch errors trigger another
// attempt; re-running is safe because the sink never duplicates a record.
func RetryRun(ctx context.Context, retries int, base time.Duration, run func(context.Context) (*RunResult, error)) (*RunResult, error) {
	if base <= 0 {
		base = defaultRetryBase
	}
	var (
		res *RunResult
		err error
	)
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			// 0.5s, 1s, 2s ... plus up to 100ms
			backoff := base * time.Duration(1<<uint(attempt-1))
			jitter := time.Duration(rand.IntN(100)) * time.Millisecond
			zap.L().Warn("retrying run",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff+jitter),
				zap.Error(err))
			if serr := sleepCtx(ctx, backoff+jitter); serr != nil {
				return res, err
			}
		}

		res, err = run(ctx)
		if err == nil || !isRetryable(err) {
			return res, err
		}
	}
	return res, err
}

func isRetryable(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Retryable()
}
