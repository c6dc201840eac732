package resilientcall

import (
	"testing"
	"time"
)

func TestBackoff_ExponentialGrowth(t *testing.T) {
	base := 100 * time.Millisecond
	max := 10 * time.Second

	for attempt, want := range []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	} {
		got := backoff(attempt, base, max)
		if got < want {
			t.Errorf("attempt %d: delay %v below base %v", attempt, got, want)
		}
		// Jitter adds at most 25% of the computed delay.
		if limit := want + want/4; got > limit {
			t.Errorf("attempt %d: delay %v exceeds %v", attempt, got, limit)
		}
	}
}

func TestBackoff_CappedAtMax(t *testing.T) {
	base := time.Second
	max := 10 * time.Second

	// Attempt 10 would be base<<10 without a cap; must stay within
	// max plus 25% jitter.
	for i := 0; i < 50; i++ {
		got := backoff(10, base, max)
		if got < max {
			t.Fatalf("capped delay %v below max %v", got, max)
		}
		if limit := max + max/4; got > limit {
			t.Fatalf("capped delay %v exceeds %v", got, limit)
		}
	}
}

func TestBackoff_ZeroInputsUseDefaults(t *testing.T) {
	got := backoff(0, 0, 0)
	if got < defaultBaseRetryDelay {
		t.Errorf("delay %v below default base %v", got, defaultBaseRetryDelay)
	}
	if limit := defaultBaseRetryDelay + defaultBaseRetryDelay/4; got > limit {
		t.Errorf("delay %v exceeds %v", got, limit)
	}
}

func TestBackoff_JitterVaries(t *testing.T) {
	base := time.Second
	max := 10 * time.Second

	seen := make(map[time.Duration]bool)
	for i := 0; i < 100; i++ {
		seen[backoff(3, base, max)] = true
	}
	if len(seen) < 2 {
		t.Error("expected jitter to produce varying delays")
	}
}
