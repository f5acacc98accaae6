package app

import (
	"testing"
	"time"
)

func TestEventHubDropsOldestForSlowSubscriber(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	hub := NewEventHub("site-1", func() time.Time { return fixed })
	ch, cancel := hub.Subscribe()
	defer cancel()

	for i := 0; i < 20; i++ {
		hub.Publish(Event{Type: EventSyncCompleted, QuizID: int64(i)})
	}

	var last Event
	count := 0
	for len(ch) > 0 {
		last = <-ch
		count++
	}
	if count != 16 {
		t.Fatalf("expected buffer of 16 events, got %d", count)
	}
	if last.QuizID != 19 || last.SiteID != "site-1" || !last.At.Equal(fixed) || last.ID == "" {
		t.Fatalf("unexpected last event %+v", last)
	}
}

func TestEventHubCancelClosesChannel(t *testing.T) {
	hub := NewEventHub("site-1", nil)
	ch, cancel := hub.Subscribe()
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	hub.Publish(Event{Type: EventAutosaveError})
}
