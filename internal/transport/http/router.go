package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"quiz-attempt-engine/internal/app"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	SyncTimeout    time.Duration
}

// NewRouter exposes health, manual sync and the event stream.
func NewRouter(events *app.EventHub, syncer Syncer, logger *slog.Logger, opts RouterOptions) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 2 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/ws", NewEventsHandler(events, syncer, logger).ServeWS)
	r.With(middleware.Timeout(opts.SyncTimeout)).Post("/sync", syncHandler(syncer, logger))
	return r
}

func syncHandler(syncer Syncer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
		err := syncer.SyncAll(r.Context(), force)

		w.Header().Set("Content-Type", "application/json")
		res := syncResult{OK: err == nil}
		if err != nil {
			logger.Warn("manual sync failed", "request_id", middleware.GetReqID(r.Context()), "error", err)
			res.Error = err.Error()
			w.WriteHeader(http.StatusBadGateway)
		}
		_ = json.NewEncoder(w).Encode(res)
	}
}
