package clock

import (
	"testing"
	"time"
)

func TestFakeRunsTimersInOrder(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	var fired []string

	f.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	f.AfterFunc(time.Second, func() {
		fired = append(fired, "a")
		f.AfterFunc(500*time.Millisecond, func() { fired = append(fired, "a2") })
	})
	stopped := f.AfterFunc(1500*time.Millisecond, func() { fired = append(fired, "never") })
	if !stopped.Stop() {
		t.Fatalf("expected stop before firing")
	}

	f.Advance(time.Second)
	if len(fired) != 1 || fired[0] != "a" {
		t.Fatalf("unexpected fired after 1s: %v", fired)
	}

	f.Advance(time.Second)
	if len(fired) != 3 || fired[1] != "a2" || fired[2] != "b" {
		t.Fatalf("unexpected fired after 2s: %v", fired)
	}
	if f.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", f.Pending())
	}
	if !f.Now().Equal(time.Unix(2, 0)) {
		t.Fatalf("unexpected now %v", f.Now())
	}
}
