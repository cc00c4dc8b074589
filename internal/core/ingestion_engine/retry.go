package ingestion_engine

import (
	"math/rand"
	"time"
)

// backoffDelay returns the sleep before retry number attempt (zero-based):
// base doubled per attempt, capped at max, with up to 50% random jitter so
// concurrent retries against a rate-limited API spread out.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if max > 0 && d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d + jitter
}
