// Package idempotency makes at-least-once consumption safe: an event's id is
// recorded in the consumer's ledger in the same transaction as the mutation
// it triggers.
package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/josh-kwaku/fooddelivery-saga/internal/domain"
	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
	"github.com/josh-kwaku/fooddelivery-saga/internal/logging"
	"github.com/josh-kwaku/fooddelivery-saga/internal/metrics"
)

type ledgerStore interface {
	Record(ctx context.Context, tx *sql.Tx, e domain.ProcessedEvent) (bool, error)
}

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeStale     Outcome = "stale"
)

// ApplyFunc mutates the aggregate inside tx. Returning domain.ErrStaleEvent
// discards its writes but still records the event as processed.
type ApplyFunc func(ctx context.Context, tx *sql.Tx) error

type Guard struct {
	db     *sql.DB
	ledger ledgerStore
	group  string
}

func NewGuard(db *sql.DB, ledger ledgerStore, group string) *Guard {
	return &Guard{db: db, ledger: ledger, group: group}
}

// Apply runs fn at most once per env.EventID for this consumer group. Any
// error other than ErrStaleEvent rolls everything back, ledger row included,
// so the event stays eligible for redelivery.
func (g *Guard) Apply(ctx context.Context, env event.Envelope, fn ApplyFunc) (Outcome, error) {
	log := logging.FromContext(ctx)

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("Apply: begin tx: %w", err)
	}
	defer tx.Rollback()

	fresh, err := g.ledger.Record(ctx, tx, domain.ProcessedEvent{
		EventID:       env.EventID,
		EventType:     env.EventType,
		AggregateID:   env.AggregateID,
		ConsumerGroup: g.group,
	})
	if err != nil {
		return "", fmt.Errorf("Apply: %w", err)
	}
	if !fresh {
		log.Info("duplicate event skipped")
		metrics.LedgerOutcomes.WithLabelValues(g.group, string(OutcomeDuplicate)).Inc()
		return OutcomeDuplicate, nil
	}

	if _, err := tx.ExecContext(ctx, `SAVEPOINT guarded`); err != nil {
		return "", fmt.Errorf("Apply: savepoint: %w", err)
	}

	outcome := OutcomeApplied
	if err := fn(ctx, tx); err != nil {
		if !errors.Is(err, domain.ErrStaleEvent) {
			return "", err
		}
		if _, err := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT guarded`); err != nil {
			return "", fmt.Errorf("Apply: rollback to savepoint: %w", err)
		}
		log.Warn("stale event dropped", "reason", err)
		outcome = OutcomeStale
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("Apply: commit: %w", err)
	}
	metrics.LedgerOutcomes.WithLabelValues(g.group, string(outcome)).Inc()
	return outcome, nil
}
