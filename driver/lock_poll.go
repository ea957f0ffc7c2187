package driver

import (
	"context"
	"time"

	"github.com/cloudflare/backoff"
)

// PollTryLock repeatedly calls try until it reports success, timeout
// elapses, or ctx is canceled. It exists because Postgres and SQLite each
// expose a non-blocking "try lock" primitive rather than a blocking wait,
// so acquiring a lock with a timeout means polling it with backoff rather
// than issuing one call. (MySQL's GET_LOCK waits server-side and does not
// use this helper.)
//
// A timeout <= 0 means try exactly once, no polling.
func PollTryLock(ctx context.Context, timeout time.Duration, try func(ctx context.Context) (bool, error)) (bool, error) {
	if timeout <= 0 {
		return try(ctx)
	}
	deadline := time.Now().Add(timeout)
	b := backoff.New(timeout, 50*time.Millisecond)

	for {
		ok, err := try(ctx)
		if err != nil || ok {
			return ok, err
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return false, nil
		}
		if err := sleepCtx(ctx, b.Duration()); err != nil {
			return false, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
