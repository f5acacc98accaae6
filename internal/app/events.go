package app

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names an engine event.
type EventType string

const (
	EventAttemptFinished EventType = "attempt_finished"
	EventSyncCompleted   EventType = "sync_completed"
	EventAutosaveError   EventType = "autosave_error"
)

// Event is published to subscribers of an EventHub.
type Event struct {
	ID              string    `json:"id"`
	Type            EventType `json:"type"`
	SiteID          string    `json:"siteId"`
	QuizID          int64     `json:"quizId"`
	AttemptID       int64     `json:"attemptId,omitempty"`
	Synced          bool      `json:"synced,omitempty"`
	AttemptFinished bool      `json:"attemptFinished,omitempty"`
	Warnings        []string  `json:"warnings,omitempty"`
	AutosaveError   bool      `json:"autosaveError,omitempty"`
	At              time.Time `json:"at"`
}

// EventHub fans events out to subscribers.
type EventHub struct {
	siteID string
	now    func() time.Time

	mu          sync.Mutex
	subscribers map[chan Event]struct{}
}

// NewEventHub returns a hub stamping events with siteID.
func NewEventHub(siteID string, now func() time.Time) *EventHub {
	if now == nil {
		now = time.Now
	}
	return &EventHub{
		siteID:      siteID,
		now:         now,
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe returns a channel of events. The caller must invoke the returned
// cancel function to avoid leaks.
func (h *EventHub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish stamps and delivers an event. Slow subscribers lose their oldest event.
func (h *EventHub) Publish(e Event) {
	if h == nil {
		return
	}
	e.ID = uuid.NewString()
	e.SiteID = h.siteID
	e.At = h.now()

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- e:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- e
		}
	}
}
