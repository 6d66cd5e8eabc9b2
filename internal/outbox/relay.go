package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/josh-kwaku/fooddelivery-saga/internal/domain"
	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
	"github.com/josh-kwaku/fooddelivery-saga/internal/eventbus"
	"github.com/josh-kwaku/fooddelivery-saga/internal/metrics"
)

type relayStore interface {
	TryLock(ctx context.Context, tx *sql.Tx) (bool, error)
	ClaimPending(ctx context.Context, tx *sql.Tx, limit int) ([]domain.OutboxEvent, error)
	MarkDispatched(ctx context.Context, tx *sql.Tx, id int64) error
	MarkAttemptFailed(ctx context.Context, tx *sql.Tx, id int64, lastErr string, failed bool) error
}

type RelayConfig struct {
	Interval  time.Duration
	BatchSize int
	// MaxAttempts parks a row as failed after that many publish failures.
	// Zero retries forever.
	MaxAttempts int
}

type Relay struct {
	store  relayStore
	db     *sql.DB
	bus    eventbus.Publisher
	source string
	cfg    RelayConfig
	logger *slog.Logger
}

func NewRelay(store relayStore, db *sql.DB, bus eventbus.Publisher, source string, cfg RelayConfig, logger *slog.Logger) *Relay {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 200 * time.Millisecond
	}
	return &Relay{store: store, db: db, bus: bus, source: source, cfg: cfg, logger: logger}
}

func (r *Relay) Start(ctx context.Context) {
	r.logger.Info("outbox relay started", "source", r.source, "interval", r.cfg.Interval)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped", "source", r.source)
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

func (r *Relay) poll(ctx context.Context) {
	for {
		n, err := r.Flush(ctx)
		if err != nil {
			r.logger.Error("failed to relay outbox", "source", r.source, "error", err)
			return
		}
		if n < r.cfg.BatchSize {
			return
		}
	}
}

// Flush publishes one batch of pending rows in insertion order and returns
// how many were dispatched. The batch stops at the first publish failure so
// later events for the same key never overtake an earlier one.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("Flush: begin tx: %w", err)
	}
	defer tx.Rollback()

	locked, err := r.store.TryLock(ctx, tx)
	if err != nil {
		return 0, fmt.Errorf("Flush: %w", err)
	}
	if !locked {
		return 0, nil
	}

	rows, err := r.store.ClaimPending(ctx, tx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("Flush: %w", err)
	}

	dispatched := 0
	for _, row := range rows {
		if err := r.publish(ctx, row); err != nil {
			metrics.OutboxFailures.WithLabelValues(r.source).Inc()
			giveUp := r.cfg.MaxAttempts > 0 && row.Attempts+1 >= r.cfg.MaxAttempts
			if markErr := r.store.MarkAttemptFailed(ctx, tx, row.ID, err.Error(), giveUp); markErr != nil {
				return 0, fmt.Errorf("Flush: %w", markErr)
			}
			r.logger.Warn("outbox publish failed",
				"source", r.source,
				"outbox_id", row.ID,
				"event_id", row.EventID,
				"topic", row.Topic,
				"attempts", row.Attempts+1,
				"parked", giveUp,
				"error", err,
			)
			if !giveUp {
				break
			}
			continue
		}
		if err := r.store.MarkDispatched(ctx, tx, row.ID); err != nil {
			return 0, fmt.Errorf("Flush: %w", err)
		}
		dispatched++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("Flush: commit: %w", err)
	}
	metrics.OutboxDispatched.WithLabelValues(r.source).Add(float64(dispatched))
	return dispatched, nil
}

func (r *Relay) publish(ctx context.Context, row domain.OutboxEvent) error {
	env, err := event.Decode(row.Envelope)
	if err != nil {
		return err
	}
	return r.bus.Publish(ctx, row.Topic, row.Key, env)
}
