package clock_test

import (
	"testing"
	"time"

	"pkt.systems/spanlock/internal/clock"
)

func TestRealNowUsesUTC(t *testing.T) {
	t.Parallel()

	now := clock.Real{}.Now()
	if loc := now.Location(); loc != time.UTC {
		t.Fatalf("expected UTC location, got %v", loc)
	}
	if delta := time.Since(now); delta < 0 || delta > time.Second {
		t.Fatalf("unexpected Now delta: %v", delta)
	}
}

func TestRealAfterFires(t *testing.T) {
	t.Parallel()

	ch := clock.Real{}.After(5 * time.Millisecond)
	select {
	case <-ch:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("After did not fire within timeout")
	}
}

func TestManualNowOnlyMovesOnAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := clock.NewManual(start)
	if !m.Now().Equal(start) {
		t.Fatalf("Now=%s, want %s", m.Now(), start)
	}
	got := m.Advance(90 * time.Second)
	want := start.Add(90 * time.Second)
	if !got.Equal(want) || !m.Now().Equal(want) {
		t.Fatalf("after Advance Now=%s, want %s", m.Now(), want)
	}
}

func TestManualAdvanceToNeverGoesBackwards(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := clock.NewManual(start)
	m.AdvanceTo(start.Add(-time.Hour))
	if !m.Now().Equal(start) {
		t.Fatalf("clock moved backwards to %s", m.Now())
	}
}

func TestManualAfterWakesWhenDue(t *testing.T) {
	t.Parallel()

	m := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	ch := m.After(10 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired before the clock advanced")
	default:
	}
	if m.Sleepers() != 1 {
		t.Fatalf("Sleepers=%d, want 1", m.Sleepers())
	}
	m.Advance(9 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired early")
	default:
	}
	m.Advance(time.Second)
	select {
	case at := <-ch:
		if !at.Equal(m.Now()) {
			t.Fatalf("woke at %s, clock says %s", at, m.Now())
		}
	default:
		t.Fatal("timer did not fire at its due time")
	}
	if m.Sleepers() != 0 {
		t.Fatalf("Sleepers=%d, want 0", m.Sleepers())
	}
}

func TestManualAfterNonPositiveFiresImmediately(t *testing.T) {
	t.Parallel()

	m := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	select {
	case <-m.After(0):
	default:
		t.Fatal("zero-duration After must fire immediately")
	}
}

func TestManualSleepBlocksUntilAdvance(t *testing.T) {
	t.Parallel()

	m := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	done := make(chan struct{})
	go func() {
		m.Sleep(time.Minute)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for m.Sleepers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("sleeper never registered")
		}
		time.Sleep(time.Millisecond)
	}
	m.Advance(time.Minute)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Sleep did not return after Advance")
	}
}
