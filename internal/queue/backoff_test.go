package queue

import (
	"testing"
	"time"
)

func TestBackoffOfGrowsExponentially(t *testing.T) {
	base := 5 * time.Second
	prevMin := time.Duration(0)
	for attempt := 1; attempt <= 5; attempt++ {
		// Jitter makes a single sample noisy; bound against the
		// deterministic floor (no jitter) instead of an exact value.
		floor := time.Duration(float64(base) * pow2(attempt-1))
		d := backoffOf(base, attempt)
		if d < floor {
			t.Errorf("attempt %d: backoff %v below floor %v", attempt, d, floor)
		}
		if d < prevMin {
			t.Errorf("attempt %d: backoff %v should trend upward from previous floor %v", attempt, d, prevMin)
		}
		prevMin = floor
	}
}

func pow2(n int) float64 {
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 2
	}
	return v
}
