package clock_test

import (
	"testing"
	"time"

	"github.com/dispatcharr/exporter/internal/clock"
)

func TestSystemNowUsesUTC(t *testing.T) {
	t.Parallel()

	now := clock.System().Now()
	if loc := now.Location(); loc != time.UTC {
		t.Fatalf("expected UTC location, got %v", loc)
	}
	if delta := time.Since(now); delta < 0 || delta > time.Second {
		t.Fatalf("unexpected Now delta: %v", delta)
	}
}

func TestManualAdvanceFiresDueWaiters(t *testing.T) {
	t.Parallel()

	m := clock.NewManual(time.Unix(1000, 0))
	short := m.After(2 * time.Second)
	long := m.After(10 * time.Second)

	if got := m.Waiting(); got != 2 {
		t.Fatalf("expected 2 waiters, got %d", got)
	}

	m.Advance(2 * time.Second)
	select {
	case now := <-short:
		if got := now.Unix(); got != 1002 {
			t.Fatalf("short waiter fired at %d, want 1002", got)
		}
	default:
		t.Fatal("short waiter did not fire after advance")
	}
	select {
	case <-long:
		t.Fatal("long waiter fired early")
	default:
	}

	m.Advance(8 * time.Second)
	select {
	case <-long:
	default:
		t.Fatal("long waiter did not fire at its deadline")
	}
	if got := m.Waiting(); got != 0 {
		t.Fatalf("expected no pending waiters, got %d", got)
	}
}

func TestManualAfterNonPositiveFiresImmediately(t *testing.T) {
	t.Parallel()

	m := clock.NewManual(time.Unix(500, 0))
	select {
	case <-m.After(0):
	default:
		t.Fatal("zero-duration After should fire without an advance")
	}
}

func TestManualNowTracksAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	m := clock.NewManual(start)
	m.Advance(90 * time.Second)
	if got, want := m.Now(), start.Add(90*time.Second); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
}
