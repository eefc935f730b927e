package clock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"pkt.systems/dss/internal/clock"
)

func TestRealNowUsesUTC(t *testing.T) {
	t.Parallel()

	now := clock.Real{}.Now()
	if loc := now.Location(); loc != time.UTC {
		t.Fatalf("expected UTC location, got %v", loc)
	}
}

func TestRealSleepHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (clock.Real{}).Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	start := time.Now()
	if err := (clock.Real{}).Sleep(context.Background(), 5*time.Millisecond); err != nil {
		t.Fatalf("sleep: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Fatalf("sleep duration too short: %v", elapsed)
	}
}

func TestManualSleepReleasedByAdvance(t *testing.T) {
	t.Parallel()

	m := clock.NewManual(time.Unix(0, 0))
	done := make(chan error, 1)
	go func() { done <- m.Sleep(context.Background(), time.Minute) }()
	for m.Pending() == 0 {
		time.Sleep(time.Millisecond)
	}
	m.Advance(30 * time.Second)
	select {
	case <-done:
		t.Fatal("sleep released early")
	case <-time.After(10 * time.Millisecond):
	}
	m.Advance(30 * time.Second)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("sleep: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sleep not released")
	}
	if got := m.Slept(); len(got) != 1 || got[0] != time.Minute {
		t.Fatalf("unexpected slept record %v", got)
	}
}

func TestManualSleepCancelled(t *testing.T) {
	t.Parallel()

	m := clock.NewManual(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Sleep(ctx, time.Minute) }()
	for m.Pending() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if m.Pending() != 0 {
		t.Fatalf("cancelled sleeper still pending")
	}
}

func TestInstantAdvancesTime(t *testing.T) {
	t.Parallel()

	c := clock.NewInstant(time.Unix(0, 0))
	if err := c.Sleep(context.Background(), 2*time.Minute); err != nil {
		t.Fatalf("sleep: %v", err)
	}
	if got := c.Now(); !got.Equal(time.Unix(120, 0)) {
		t.Fatalf("now = %v", got)
	}
}
