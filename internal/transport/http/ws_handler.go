package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"quiz-attempt-engine/internal/app"
	"github.com/gorilla/websocket"
)

// Syncer replays offline attempts on demand.
type Syncer interface {
	SyncAll(ctx context.Context, force bool) error
}

// EventsHandler streams engine events to websocket clients and accepts
// sync requests on the same connection.
type EventsHandler struct {
	events   *app.EventHub
	syncer   Syncer
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewEventsHandler(events *app.EventHub, syncer Syncer, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{
		events: events,
		syncer: syncer,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type syncPayload struct {
	Force bool `json:"force"`
}

type syncResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and forwards hub events until the client
// disconnects. The optional quizId query parameter filters events.
func (h *EventsHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	var quizID int64
	if raw := r.URL.Query().Get("quizId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid quizId", http.StatusBadRequest)
			return
		}
		quizID = id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.events.Subscribe()
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Only the writer goroutine touches the connection for writes.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write failed", "error", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case event, ok := <-updates:
				if !ok {
					return
				}
				if quizID != 0 && event.QuizID != quizID {
					continue
				}
				select {
				case send <- outboundMessage[any]{Type: string(event.Type), Payload: event}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "subscribed", Payload: map[string]int64{"quizId": quizID}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "sync":
			var payload syncPayload
			if len(inbound.Payload) > 0 {
				if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
					send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid sync payload"}}
					continue
				}
			}
			res := syncResult{OK: true}
			if err := h.syncer.SyncAll(r.Context(), payload.Force); err != nil {
				res = syncResult{Error: err.Error()}
			}
			send <- outboundMessage[any]{Type: "syncResult", Payload: res}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}
