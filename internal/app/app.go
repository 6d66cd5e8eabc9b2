// Package app assembles each saga participant from its repositories,
// domain service, subscriptions and HTTP surface, and runs it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/josh-kwaku/fooddelivery-saga/internal/config"
	"github.com/josh-kwaku/fooddelivery-saga/internal/eventbus"
	"github.com/josh-kwaku/fooddelivery-saga/internal/handler"
	"github.com/josh-kwaku/fooddelivery-saga/internal/idempotency"
	"github.com/josh-kwaku/fooddelivery-saga/internal/middleware"
	"github.com/josh-kwaku/fooddelivery-saga/internal/outbox"
	"github.com/josh-kwaku/fooddelivery-saga/internal/repository"
)

// Deps are the process-wide handles every participant is built from.
type Deps struct {
	DB     *sql.DB
	Bus    eventbus.Bus
	Config *config.Config
	Logger *slog.Logger
}

// Service is one runnable participant. Relay and Pruner are nil for
// participants that own no tables.
type Service struct {
	Name     string
	Group    string
	Registry *eventbus.Registry
	Relay    *outbox.Relay
	Pruner   *idempotency.Pruner

	db     *sql.DB
	bus    eventbus.Bus
	checks map[string]handler.Pinger
	routes func(mux *http.ServeMux)
	logger *slog.Logger
}

func newService(name, group string, d Deps) *Service {
	return &Service{
		Name:     name,
		Group:    group,
		Registry: eventbus.NewRegistry(),
		db:       d.DB,
		bus:      d.Bus,
		checks:   map[string]handler.Pinger{},
		routes:   func(*http.ServeMux) {},
		logger:   d.Logger.With("component", name),
	}
}

func (s *Service) withOutbox(d Deps, store *repository.OutboxRepository, source string, ledger *repository.LedgerRepository) {
	cfg := d.Config
	s.Relay = outbox.NewRelay(store, d.DB, d.Bus, source, outbox.RelayConfig{
		Interval:    cfg.OutboxPollInterval,
		BatchSize:   cfg.OutboxBatchSize,
		MaxAttempts: cfg.OutboxMaxAttempts,
	}, s.logger)

	tables := []idempotency.Prunable{store}
	if ledger != nil {
		tables = append(tables, ledger)
	}
	s.Pruner = idempotency.NewPruner(cfg.LedgerRetention, cfg.LedgerPruneInterval, s.logger, tables...)
}

// Handler is the participant's HTTP surface. Probe and metrics endpoints are
// public; everything under /api requires a bearer token.
func (s *Service) Handler(jwtSecret string) http.Handler {
	api := http.NewServeMux()
	s.routes(api)

	health := handler.NewHealthHandler(s.db, s.checks)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.Liveness)
	mux.HandleFunc("GET /ready", health.Readiness)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/api/", middleware.Auth(jwtSecret)(middleware.Logging(api)))

	return middleware.Tracing(middleware.Recovery(mux))
}

// Bind subscribes the participant's consumer group to every topic it
// registered handlers for.
func (s *Service) Bind() error {
	if err := s.Registry.Bind(s.bus, s.Group); err != nil {
		return fmt.Errorf("Bind: %w", err)
	}
	return nil
}

// Run binds the participant, serves HTTP on addr and blocks until ctx is
// cancelled or one of its loops fails. The bus is closed on return.
func (s *Service) Run(ctx context.Context, addr, jwtSecret string) error {
	if err := s.Bind(); err != nil {
		return fmt.Errorf("Run: %w", err)
	}
	bus := s.bus

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(jwtSecret),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	if s.Relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Relay.Start(ctx)
		}()
	}
	if s.Pruner != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Pruner.Start(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bus.Run(ctx); err != nil {
			errCh <- fmt.Errorf("event bus: %w", err)
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			cancel()
		}
	}()

	<-ctx.Done()
	s.logger.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("server forced to shutdown", "error", err)
	}
	if err := bus.Close(); err != nil {
		s.logger.Error("failed to close event bus", "error", err)
	}

	wg.Wait()
	close(errCh)
	if err, ok := <-errCh; ok {
		return fmt.Errorf("Run: %w", err)
	}
	s.logger.Info("stopped")
	return nil
}
