package ingestion_engine

import (
	"testing"
	"time"
)

func TestBackoffDelay_GrowsAndCaps(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(attempt, base, max)

		want := base << attempt
		if want > max {
			want = max
		}
		// Jitter adds up to 50% on top of the capped delay.
		if d < want || d > want+want/2+time.Millisecond {
			t.Errorf("attempt %d: delay %s outside [%s, %s]", attempt, d, want, want+want/2)
		}
	}
}

func TestBackoffDelay_ZeroBaseFallsBack(t *testing.T) {
	d := backoffDelay(0, 0, 30*time.Second)
	if d < time.Second {
		t.Errorf("expected at least the 1s fallback base, got %s", d)
	}
}
