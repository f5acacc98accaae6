package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quiz-attempt-engine/internal/config"
	"quiz-attempt-engine/internal/domain"
	transport "quiz-attempt-engine/internal/transport/http"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand that runs the sync daemon.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the sync daemon and event server",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEngine(cmd, *configPath)
			if err != nil {
				return err
			}
			defer e.Close()
			return runServer(cmd.Context(), e, *port)
		},
	}
}

func runServer(ctx context.Context, e *engine, portFlag string) error {
	finalPort := portFlag
	if finalPort == "" {
		finalPort = e.cfg.Server.Port
	}

	router := transport.NewRouter(e.events, e.reconciler, e.logger, transport.RouterOptions{
		AllowedOrigins: e.cfg.Server.AllowedOrigins,
	})
	// No write timeout: websocket streams stay open.
	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
	}

	syncCtx, stopSync := context.WithCancel(ctx)
	defer stopSync()
	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		runSyncLoop(syncCtx, e, config.TTLDuration(e.cfg.Sync.Every, 10*time.Minute))
	}()

	serveErr := make(chan error, 1)
	go func() {
		e.logger.Info("starting quiz engine", "port", finalPort, "site_id", e.cfg.Site.ID)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case <-stop:
		e.logger.Info("shutting down")
	case <-ctx.Done():
		e.logger.Info("context canceled, shutting down")
	case runErr = <-serveErr:
		e.logger.Error("server failed", "error", runErr)
	}

	stopSync()
	<-syncDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// runSyncLoop syncs immediately and then on every tick until ctx is done.
func runSyncLoop(ctx context.Context, e *engine, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := e.reconciler.SyncAll(ctx, false); err != nil {
			switch {
			case errors.Is(err, domain.ErrOffline), errors.Is(err, domain.ErrNetworkLimited):
				e.logger.Debug("sync skipped", "reason", err)
			case ctx.Err() != nil:
				return
			default:
				e.logger.Warn("sync failed", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
