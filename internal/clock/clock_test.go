package clock

import (
	"testing"
	"time"
)

func TestManualFiresDueTimersInOrder(t *testing.T) {
	clock := NewManual(time.UnixMilli(0))
	var fired []string
	clock.AfterFunc(200*time.Millisecond, func() { fired = append(fired, "late") })
	clock.AfterFunc(100*time.Millisecond, func() { fired = append(fired, "early") })

	clock.Advance(50 * time.Millisecond)
	if len(fired) != 0 {
		t.Fatalf("expected no timers before their deadline, got %v", fired)
	}

	clock.Advance(200 * time.Millisecond)
	if len(fired) != 2 || fired[0] != "early" || fired[1] != "late" {
		t.Fatalf("expected deadline order, got %v", fired)
	}
	if clock.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", clock.Pending())
	}
}

func TestManualStopCancelsTimer(t *testing.T) {
	clock := NewManual(time.UnixMilli(0))
	fired := false
	timer := clock.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatalf("expected Stop to report a pending timer")
	}
	if timer.Stop() {
		t.Fatalf("expected second Stop to report nothing pending")
	}
	clock.Advance(2 * time.Second)
	if fired {
		t.Fatalf("cancelled timer must not fire")
	}
}

func TestSystemClockStop(t *testing.T) {
	timer := System().AfterFunc(time.Hour, func() {})
	if !timer.Stop() {
		t.Fatalf("expected system timer to be cancellable")
	}
}
