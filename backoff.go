package resilientcall

import (
	"math/rand"
	"time"
)

// backoff computes the sleep before retry attempt+1: exponential growth from
// base, capped at max, plus a random jitter in [0, 25%) of the computed delay.
// The jitter desynchronizes concurrent retriers hammering the same origin.
func backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = defaultBaseRetryDelay
	}
	if max <= 0 {
		max = defaultMaxRetryDelay
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}

	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1)) //nolint:gosec
	return delay + jitter
}
