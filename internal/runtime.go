package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/starford/paperlens/internal/backend"
	"github.com/starford/paperlens/internal/httpclient"
	"github.com/starford/paperlens/internal/paperservice"
	"github.com/starford/paperlens/internal/query"
	"github.com/starford/paperlens/internal/session"
	"github.com/starford/paperlens/internal/storage"
)

// Runtime is the assembled client: persistence, stores, cache and service.
// Every surface (CLI, gateway, MCP) works through one Runtime.
type Runtime struct {
	Config   *Config
	Logger   *slog.Logger
	Store    storage.Provider
	Auth     *session.AuthStore
	App      *session.AppStore
	Cache    *query.Client
	Service  *paperservice.Service
	Registry *prometheus.Registry
}

// NewRuntime opens the session store and wires the request pipeline.
func NewRuntime(opts ...Option) (*Runtime, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: cfg.App.LogLevel,
		}))
	}
	slog.SetDefault(logger)

	reg := app.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	store, err := storage.Open(cfg.Session.Driver, cfg.Session.Path)
	if err != nil {
		return nil, fmt.Errorf("init session storage: %w", err)
	}

	auth := session.NewAuthStore(store)
	if err := auth.Rehydrate(); err != nil {
		logger.Warn("session rehydrate failed", slog.String("error", err.Error()))
	}

	rt := &Runtime{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Auth:     auth,
		App:      session.NewAppStore(),
		Registry: reg,
	}

	rt.Cache = query.NewClient(
		query.WithLogger(logger),
		query.WithMetrics(query.NewMetrics(reg)),
		query.WithRefetchOnInvalidate(cfg.Cache.RefetchOnInvalidate),
	)

	hc, err := httpclient.New(httpclient.Config{
		BaseURL:   cfg.Backend.BaseURL,
		Timeout:   cfg.Backend.Timeout,
		UserAgent: cfg.Backend.UserAgent,
	}, auth,
		httpclient.WithLogger(logger),
		httpclient.WithMetrics(httpclient.NewMetrics(reg)),
		httpclient.WithUnauthorizedHandler(func(ctx context.Context) { rt.Service.ExpireSession(ctx) }),
	)
	if err != nil {
		rt.Cache.Close()
		_ = store.Close()
		return nil, fmt.Errorf("init http client: %w", err)
	}

	api := backend.New(hc,
		backend.WithSearchTimeout(cfg.Backend.SearchTimeout),
		backend.WithRecommendationTimeout(cfg.Backend.RecommendationTimeout),
	)

	svcOpts := []paperservice.Option{
		paperservice.WithLogger(logger),
		paperservice.WithFreshness(cfg.Cache.Freshness()),
	}
	if app.notifier != nil {
		svcOpts = append(svcOpts, paperservice.WithNotifier(app.notifier))
	}
	if app.navigator != nil {
		svcOpts = append(svcOpts, paperservice.WithNavigator(app.navigator))
	}
	rt.Service = paperservice.New(api, rt.Cache, auth, rt.App, svcOpts...)

	logger.Debug("Runtime ready",
		slog.String("backend", hc.BaseURL()),
		slog.String("session_driver", cfg.Session.Driver),
		slog.Bool("logged_in", auth.IsLoggedIn()))
	return rt, nil
}

// Close stops background work and releases the session store.
func (rt *Runtime) Close() error {
	rt.Service.Close()
	rt.Cache.Close()
	return rt.Store.Close()
}

// WatchSession reloads the auth store when another process changes the
// session files, until ctx is done.
func (rt *Runtime) WatchSession(ctx context.Context) error {
	prev := rt.Auth.Snapshot()
	return session.Watch(ctx, rt.Config.Session.Path, rt.Auth, rt.Logger, func(s session.AuthState) {
		// Another user's data must not survive in the cache.
		if s.Username != prev.Username || s.IsLoggedIn != prev.IsLoggedIn {
			rt.App.Reset()
			rt.Cache.Clear()
		}
		prev = s
	})
}
