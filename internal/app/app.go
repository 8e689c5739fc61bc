// Package app assembles the client, stores and controllers from configuration.
package app

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"job-tracker-go/internal/config"
	"job-tracker-go/internal/details"
	"job-tracker-go/internal/reconcile"
	"job-tracker-go/internal/session"
	"job-tracker-go/internal/storage"
	"job-tracker-go/internal/upstream"
)

// App holds everything a binary needs. Close releases the stores.
type App struct {
	Config  *config.Config
	Client  *upstream.Client
	Store   storage.SessionStore
	Pending reconcile.PendingStore
	Session *session.Controller
	Details *details.Controller

	closers []func() error
	logger  *zap.Logger
}

// Build wires the components selected by cfg. The session is restored from
// storage; no backend call is made.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, logger: logger}

	a.Client = upstream.NewClient(cfg.Upstream.BaseURL,
		upstream.WithHTTPClient(&http.Client{Timeout: cfg.Upstream.Timeout.Duration}),
		upstream.WithRateLimit(cfg.Upstream.RateLimit),
		upstream.WithLogger(logger),
	)

	store, err := newSessionStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	pending, err := a.newPendingStore(ctx, cfg.Pending)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Pending = pending

	ctrl, err := session.New(a.Client, a.Store, a.Pending,
		session.WithLogger(logger),
		session.WithSessionID(cfg.Session.ID),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Session = ctrl
	a.Details = details.New(a.Client, logger)

	logger.Info("Application assembled",
		zap.String("base_url", a.Client.BaseURL()),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("pending", cfg.Pending.Backend),
		zap.String("session_id", cfg.Session.ID),
		zap.String("state", ctrl.State().String()))
	return a, nil
}

// newSessionStore opens the configured store. Badger gets one directory per
// session id so sessions can run side by side.
func newSessionStore(cfg *config.Config, logger *zap.Logger) (storage.SessionStore, error) {
	switch cfg.Storage.Backend {
	case "badger":
		return storage.NewBadgerStore(cfg.SessionBadgerPath(), logger)
	case "supabase":
		return storage.NewSupabaseStore(cfg.Storage.SupabaseURL, cfg.Storage.SupabaseKey, logger)
	case "memory":
		return storage.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

func (a *App) newPendingStore(ctx context.Context, cfg config.PendingConfig) (reconcile.PendingStore, error) {
	switch cfg.Backend {
	case "redis":
		rdb, err := reconcile.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		return reconcile.NewRedisStore(rdb, cfg.Key, a.logger), nil
	case "memory":
		return reconcile.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown pending backend %q", cfg.Backend)
}

// Close releases stores in reverse order of creation.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
