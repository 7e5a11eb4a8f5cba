// Command toolgate runs the tool execution authorization engine: it
// evaluates commands against a permission policy, brokers human approval
// for gated commands, and records an audit trail.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	tghttp "github.com/toolgate/toolgate/internal/adapter/http"
	"github.com/toolgate/toolgate/internal/adapter/memory"
	tgnats "github.com/toolgate/toolgate/internal/adapter/nats"
	"github.com/toolgate/toolgate/internal/adapter/natskv"
	tgotel "github.com/toolgate/toolgate/internal/adapter/otel"
	"github.com/toolgate/toolgate/internal/adapter/postgres"
	"github.com/toolgate/toolgate/internal/adapter/ristretto"
	"github.com/toolgate/toolgate/internal/adapter/tiered"
	_ "github.com/toolgate/toolgate/internal/adapter/webhook" // registers the webhook channel
	"github.com/toolgate/toolgate/internal/adapter/ws"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/domain/permission"
	"github.com/toolgate/toolgate/internal/logger"
	"github.com/toolgate/toolgate/internal/port/approvalstore"
	"github.com/toolgate/toolgate/internal/port/auditlog"
	"github.com/toolgate/toolgate/internal/port/cache"
	"github.com/toolgate/toolgate/internal/port/dispatch"
	"github.com/toolgate/toolgate/internal/resilience"
	"github.com/toolgate/toolgate/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLogger := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer closeLogger.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"policy_file", cfg.Policy.File,
		"backend", storageBackend(cfg),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---
	shutdownOtel, err := tgotel.Setup(ctx, "toolgate", cfg.Otel.Endpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOtel(shutdownCtx)
	}()

	metrics, err := tgotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Policy ---
	pol, err := permission.LoadFromFile(cfg.Policy.File)
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	// --- Storage ---
	var store approvalstore.Store
	var auditLog auditlog.Log

	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		slog.Info("postgres connected, migrations applied")

		store = postgres.NewStore(pool)
		pgAudit := postgres.NewAuditLog(pool, 256)
		defer pgAudit.Close()
		auditLog = pgAudit
	} else {
		slog.Info("no DATABASE_URL set, using in-memory storage")
		store = memory.NewStore()
		auditLog = memory.NewAuditLog(cfg.Approval.HistoryEntries)
	}

	// --- Notification channels ---
	hub := ws.NewHub(cfg.Server.CORSOrigin)

	dispatchers := []dispatch.Dispatcher{ws.NewDispatcher(hub)}

	if cfg.Webhook.URL != "" {
		wh, err := dispatch.New("webhook", map[string]string{
			"url":    cfg.Webhook.URL,
			"secret": cfg.Webhook.Secret,
		})
		if err != nil {
			return fmt.Errorf("webhook: %w", err)
		}
		dispatchers = append(dispatchers, wh)
	}

	var bus *tgnats.Bus
	if cfg.NATS.URL != "" {
		bus, err = tgnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = bus.Close() }()
		dispatchers = append(dispatchers, bus.Dispatcher())
	}

	// --- Services ---
	orch := service.NewOrchestrator(store, auditLog, dispatchers, resilience.BreakerConfig{
		MaxFailures: cfg.Breaker.MaxFailures,
		Timeout:     cfg.Breaker.Timeout,
	}, metrics)

	l1, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1.Close()

	// With NATS available, verdicts are shared across instances through a
	// KV bucket behind the in-process cache.
	var verdictCache cache.Cache = l1
	if bus != nil {
		kv, err := bus.VerdictKV(ctx, cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("verdict kv: %w", err)
		}
		verdictCache = tiered.New(l1, natskv.New(kv), cfg.Cache.TTL)
	}

	auth := service.NewAuthorizeService(orch, auditLog, verdictCache, metrics)
	auth.SetCacheTTL(cfg.Cache.TTL)
	if err := auth.ReplacePolicy(*pol); err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	// Expiry sweeper catches requests whose waiter died before the timeout.
	go orch.Run(ctx, cfg.Approval.SweepInterval)

	// Decisions arriving over the message bus feed the same path as HTTP.
	if bus != nil {
		stopConsumer, err := bus.ConsumeDecisions(ctx, func(ctx context.Context, id, approverID string, approved bool, comment string) error {
			_, err := orch.SubmitDecision(ctx, id, approverID, approved, comment)
			return err
		})
		if err != nil {
			return fmt.Errorf("decision consumer: %w", err)
		}
		defer stopConsumer()
	}

	// --- HTTP ---
	handlers := tghttp.NewHandlers(auth, orch, store, auditLog, cfg.Policy.File)

	r := chi.NewRouter()
	r.Use(tghttp.CORS(cfg.Server.CORSOrigin))
	r.Use(tghttp.RequestID)
	r.Use(tghttp.Logger)
	r.Use(tgotel.HTTPMiddleware("toolgate"))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	tghttp.MountRoutes(r, handlers, hub.HandleWS)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func storageBackend(cfg *config.Config) string {
	if cfg.Postgres.DSN != "" {
		return "postgres"
	}
	return "memory"
}
