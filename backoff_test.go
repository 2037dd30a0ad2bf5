package spanlock

import (
	"testing"
	"time"
)

func TestWaitBackoffGrowthWithoutJitter(t *testing.T) {
	t.Parallel()

	b := newWaitBackoff(time.Second)
	b.jitter = func(time.Duration) time.Duration { return 0 }

	want := []time.Duration{
		time.Second,
		1500 * time.Millisecond,
		2250 * time.Millisecond,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Fatalf("pass %d: Next=%s, want %s", i, got, w)
		}
	}
}

func TestWaitBackoffCapsAtMaxFactor(t *testing.T) {
	t.Parallel()

	b := newWaitBackoff(time.Second)
	b.jitter = func(time.Duration) time.Duration { return 0 }

	max := waitBackoffMaxFactor * time.Second
	var last time.Duration
	for i := 0; i < 40; i++ {
		last = b.Next()
		if last > max {
			t.Fatalf("pass %d: Next=%s exceeded cap %s", i, last, max)
		}
	}
	if last != max {
		t.Fatalf("backoff never reached its cap: last=%s, cap=%s", last, max)
	}
}

func TestWaitBackoffJitterStaysWithinUnit(t *testing.T) {
	t.Parallel()

	interval := time.Second
	unit := interval / 5
	b := newWaitBackoff(interval)
	base := interval
	for i := 0; i < 100; i++ {
		got := b.Next()
		if got < base || got >= base+unit {
			t.Fatalf("pass %d: Next=%s outside [%s, %s)", i, got, base, base+unit)
		}
		grown := time.Duration(float64(base) * waitBackoffMultiplier)
		if grown > waitBackoffMaxFactor*interval {
			grown = waitBackoffMaxFactor * interval
		}
		base = grown
	}
}

func TestRandomJitterNonPositiveMax(t *testing.T) {
	t.Parallel()

	if got := randomJitter(0); got != 0 {
		t.Fatalf("randomJitter(0)=%s, want 0", got)
	}
	if got := randomJitter(-time.Second); got != 0 {
		t.Fatalf("randomJitter(-1s)=%s, want 0", got)
	}
}
