package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/careflow/careflow/internal/config"
	"github.com/careflow/careflow/internal/domain/admission"
	"github.com/careflow/careflow/internal/domain/bed"
	"github.com/careflow/careflow/internal/domain/patient"
	"github.com/careflow/careflow/internal/domain/task"
	"github.com/careflow/careflow/internal/domain/workflow"
	"github.com/careflow/careflow/internal/platform/auth"
	"github.com/careflow/careflow/internal/platform/db"
	"github.com/careflow/careflow/internal/platform/eventbus"
	"github.com/careflow/careflow/internal/platform/middleware"
	"github.com/careflow/careflow/internal/platform/store/memory"
	"github.com/careflow/careflow/internal/platform/store/postgres"
	"github.com/careflow/careflow/internal/platform/store/sqlite"
	"github.com/careflow/careflow/internal/platform/telemetry"
	"github.com/careflow/careflow/internal/platform/webhook"
	"github.com/careflow/careflow/internal/platform/websocket"
)

const version = "0.1.0"

// backend is the Entity Store selected by STORE_DRIVER.
type backend struct {
	workflow.Store
	driver string
	pinger db.Pinger
	pool   *pgxpool.Pool
	close  func()
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return &backend{Store: postgres.New(pool), driver: cfg.StoreDriver, pinger: pool, pool: pool, close: pool.Close}, nil
	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &backend{Store: st, driver: cfg.StoreDriver, pinger: st, close: func() { _ = st.Close() }}, nil
	case config.DriverMemory:
		st := memory.New()
		return &backend{Store: st, driver: cfg.StoreDriver, pinger: st, close: func() {}}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// server holds everything runServer wires together.
type server struct {
	echo      *echo.Echo
	engine    *workflow.Engine
	hub       *websocket.Hub
	webhooks  *webhook.Manager
	telemetry *telemetry.Provider
}

// newServer builds the HTTP surface over st. notifier receives enqueued
// tasks; nil sends them straight to the local websocket hub.
func newServer(cfg *config.Config, st *backend, notifier workflow.Notifier, hub *websocket.Hub, logger zerolog.Logger) *server {
	tp := telemetry.NewProvider(telemetry.Config{
		ServiceName:    "careflow-server",
		ServiceVersion: version,
		MetricsEnabled: telemetry.BoolPtr(cfg.MetricsEnabled),
		RuntimeMetrics: true,
	})
	if notifier == nil {
		notifier = hub
	}
	hooks := webhook.NewManager(webhook.NewMemoryStore(),
		webhook.WithLogger(logger.With().Str("component", "webhook").Logger()),
	)
	engine := workflow.NewEngine(st,
		workflow.WithNotifier(notifier),
		workflow.WithNotifier(hooks),
		workflow.WithRecorder(tp),
		workflow.WithLogger(logger.With().Str("component", "workflow").Logger()),
	)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(tp.MetricsMiddleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(st.driver, st.pinger))
	e.GET("/metrics", tp.Handler())

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: cfg.SigningKey(),
		}))
	}
	apiV1.Use(middleware.Audit(logger))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.BodyLimit("1M"))
	apiV1.Use(middleware.RequestTimeout(30 * time.Second))

	patient.NewHandler(patient.NewService(st.Patients())).RegisterRoutes(apiV1)
	bed.NewHandler(bed.NewService(st.Beds())).RegisterRoutes(apiV1)
	admission.NewHandler(admission.NewService(st.Admissions())).RegisterRoutes(apiV1)
	task.NewHandler(task.NewService(st.Tasks())).RegisterRoutes(apiV1)
	workflow.NewHandler(engine).RegisterRoutes(apiV1)
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(apiV1)
	webhook.NewHandler(hooks).RegisterRoutes(apiV1)

	return &server{echo: e, engine: engine, hub: hub, webhooks: hooks, telemetry: tp}
}

// registerWebhooks subscribes every WEBHOOK_URLS entry to all task events.
func registerWebhooks(ctx context.Context, m *webhook.Manager, cfg *config.Config) error {
	for _, u := range cfg.WebhookURLs {
		if _, err := m.Register(ctx, webhook.Registration{URL: u, Secret: cfg.WebhookSecret, CreatedBy: "config"}); err != nil {
			return fmt.Errorf("register webhook %s: %w", u, err)
		}
	}
	return nil
}

// reportPool copies pool usage into the metrics until ctx ends.
func reportPool(ctx context.Context, pool *pgxpool.Pool, tp *telemetry.Provider, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		stat := pool.Stat()
		tp.SetDBPool(int64(stat.AcquiredConns()), int64(stat.IdleConns()))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	st, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	defer st.close()
	logger.Info().Str("driver", st.driver).Msg("store ready")

	hub := websocket.NewHub(logger.With().Str("component", "websocket").Logger())

	var notifier workflow.Notifier
	if cfg.RedisURL != "" {
		client, err := eventbus.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func(c *redis.Client) { _ = c.Close() }(client)

		bus := eventbus.New(client, eventbus.WithLogger(logger.With().Str("component", "eventbus").Logger()))
		if err := bus.Start(ctx, hub); err != nil {
			return err
		}
		defer bus.Close()
		notifier = bus
		logger.Info().Msg("relaying task events through redis")
	}

	srv := newServer(cfg, st, notifier, hub, logger)
	if st.pool != nil {
		go reportPool(ctx, st.pool, srv.telemetry, 15*time.Second)
	}
	if err := registerWebhooks(ctx, srv.webhooks, cfg); err != nil {
		return err
	}
	hookCtx, stopHooks := context.WithCancel(ctx)
	srv.webhooks.Start(hookCtx)
	defer func() {
		stopHooks()
		srv.webhooks.Wait()
	}()

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := srv.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
