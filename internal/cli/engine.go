package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"quiz-attempt-engine/internal/accessrule"
	"quiz-attempt-engine/internal/app"
	"quiz-attempt-engine/internal/behaviour"
	"quiz-attempt-engine/internal/config"
	"quiz-attempt-engine/internal/infra/memory"
	redisinfra "quiz-attempt-engine/internal/infra/redis"
	"quiz-attempt-engine/internal/infra/sqlstore"
	"quiz-attempt-engine/internal/infra/webservice"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
)

// localStore is what the engine needs from the local database.
type localStore interface {
	app.Store
	accessrule.PasswordStore
}

// engine holds the components of one site user.
type engine struct {
	cfg        config.Config
	logger     *slog.Logger
	store      localStore
	events     *app.EventHub
	offline    *app.OfflineService
	quizzes    *app.QuizService
	reconciler *app.Reconciler
	players    app.PlayerDeps

	closers []func() error
}

func (e *engine) Close() error {
	var first error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func openStore(ctx context.Context, cfg config.Config) (localStore, *bun.DB, error) {
	if cfg.Store.Driver == "memory" {
		return memory.NewStore(), nil, nil
	}
	db, err := sqlstore.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, nil, err
	}
	return sqlstore.NewStore(db), db, nil
}

func newEngine(ctx context.Context, cfg config.Config, logger *slog.Logger) (*engine, error) {
	e := &engine{cfg: cfg, logger: logger}

	store, db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if db != nil {
		e.closers = append(e.closers, db.Close)
		applied, err := sqlstore.Migrate(ctx, db)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("migrate store: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", "migrations", applied)
		}
	}
	e.store = store

	cacheTTL := config.TTLDuration(cfg.Cache.TTL, 30*time.Minute)
	var cache app.ResponseCache
	var blocker app.Blocker
	var blockRefresh time.Duration
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		e.closers = append(e.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			e.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		cache = redisinfra.NewResponseCache(client, cacheTTL)
		redisBlocker := redisinfra.NewBlocker(client, cfg.Site.ID, config.TTLDuration(cfg.Redis.BlockTTL, time.Hour))
		blocker = redisBlocker
		blockRefresh = redisBlocker.RefreshInterval()
	} else {
		cache = memory.NewResponseCache(cacheTTL)
		blocker = memory.NewBlocker()
	}

	session := app.Session{SiteID: cfg.Site.ID, UserID: cfg.Site.UserID, Logger: logger, Store: store}
	gate, err := accessrule.NewGate(logger, accessrule.Defaults(store)...)
	if err != nil {
		e.Close()
		return nil, err
	}
	registry := behaviour.NewRegistry(logger)
	remote := webservice.NewClient(cfg.Site.URL, cfg.Site.Token, &http.Client{Timeout: 30 * time.Second})

	e.events = app.NewEventHub(cfg.Site.ID, nil)
	e.offline = app.NewOfflineService(session, registry)
	e.quizzes = app.NewQuizService(session, remote, cache, e.offline, registry)
	// Unattended: syncs needing user input are reported as warnings.
	preflight := app.NewPreflightHelper(session, gate, e.quizzes, e.offline, nil)
	e.reconciler = app.NewReconciler(session, e.quizzes, e.offline, preflight, blocker, app.StaticNetwork{Online: true}, e.events, app.SyncOptions{
		MinInterval: config.TTLDuration(cfg.Sync.MinInterval, app.DefaultSyncInterval),
		OnlyOnWifi:  cfg.Sync.OnlyOnWifi,
		Concurrency: cfg.Sync.Concurrency,
	})
	e.players = app.PlayerDeps{
		Quizzes:   e.quizzes,
		Offline:   e.offline,
		Preflight: preflight,
		Gate:      gate,
		Questions: registry,
		Sync:      e.reconciler,
		Blocker:   blocker,
		Events:    e.events,
		AutoSave: app.AutoSaveOptions{
			CheckInterval: config.TTLDuration(cfg.Autosave.CheckInterval, app.DefaultCheckChangesInterval),
			SeedDelay:     config.TTLDuration(cfg.Autosave.SeedDelay, app.DefaultSeedDelay),
		},
		BlockRefresh: blockRefresh,
	}
	return e, nil
}

// newPlayer builds a player for an embedding UI sharing the engine's sync and blocker.
func (e *engine) newPlayer(ui app.PlayerUI) *app.Player {
	return app.NewPlayer(app.Session{SiteID: e.cfg.Site.ID, UserID: e.cfg.Site.UserID, Logger: e.logger, Store: e.store}, e.players, ui)
}
