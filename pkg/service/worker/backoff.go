package worker

import (
	"context"
	"math/rand"
	"time"
)

// backoffDelay returns the delay before retry number attempt (1-based):
// exponential from base, capped at max, with up to 25% jitter.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	if delay+jitter > max {
		return max
	}
	return delay + jitter
}

// sleep waits for d or until ctx is done, whichever is first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
