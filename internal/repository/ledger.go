package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/josh-kwaku/fooddelivery-saga/internal/domain"
)

// LedgerRepository is the processed_events table of one service schema.
type LedgerRepository struct {
	db    *sql.DB
	table string
}

func NewLedgerRepository(db *sql.DB, schema string) *LedgerRepository {
	return &LedgerRepository{db: db, table: table(schema, "processed_events")}
}

// Record claims e.EventID inside tx. It reports false when the event was
// already recorded, either earlier or by a concurrent transaction that
// committed first.
func (r *LedgerRepository) Record(ctx context.Context, tx *sql.Tx, e domain.ProcessedEvent) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO `+r.table+` (event_id, event_type, aggregate_id, consumer_group)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`,
		e.EventID, e.EventType, e.AggregateID, e.ConsumerGroup,
	)
	if err != nil {
		return false, fmt.Errorf("Record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("Record: rows affected: %w", err)
	}
	return n == 1, nil
}

// Prune deletes ledger rows processed before the cutoff.
func (r *LedgerRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM `+r.table+` WHERE processed_at < $1`, before,
	)
	if err != nil {
		return 0, fmt.Errorf("Prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("Prune: rows affected: %w", err)
	}
	return n, nil
}

func (r *LedgerRepository) Name() string {
	return r.table
}
