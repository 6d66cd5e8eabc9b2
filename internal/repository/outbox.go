package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/josh-kwaku/fooddelivery-saga/internal/domain"
)

// OutboxRepository is the outbox_events table of one service schema.
type OutboxRepository struct {
	db    *sql.DB
	table string
}

func NewOutboxRepository(db *sql.DB, schema string) *OutboxRepository {
	return &OutboxRepository{db: db, table: table(schema, "outbox_events")}
}

func (r *OutboxRepository) Insert(ctx context.Context, tx *sql.Tx, e *domain.OutboxEvent) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO `+r.table+` (event_id, event_type, topic, key, envelope)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, status, created_at`,
		e.EventID, e.EventType, e.Topic, e.Key, string(e.Envelope),
	).Scan(&e.ID, &e.Status, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	return nil
}

// TryLock takes a transaction-scoped advisory lock keyed on the table name.
// Only the holder may publish, which keeps relay output in insertion order
// when several instances of a service share one database.
func (r *OutboxRepository) TryLock(ctx context.Context, tx *sql.Tx) (bool, error) {
	var locked bool
	if err := tx.QueryRowContext(ctx,
		`SELECT pg_try_advisory_xact_lock(hashtext($1))`, r.table,
	).Scan(&locked); err != nil {
		return false, fmt.Errorf("TryLock: %w", err)
	}
	return locked, nil
}

// ClaimPending locks up to limit pending rows in insertion order.
func (r *OutboxRepository) ClaimPending(ctx context.Context, tx *sql.Tx, limit int) ([]domain.OutboxEvent, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, event_id, event_type, topic, key, envelope, status, attempts,
			last_attempt, last_error, created_at
		FROM `+r.table+`
		WHERE status = $1
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		domain.OutboxStatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ClaimPending: %w", err)
	}
	defer rows.Close()

	var events []domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		var envelope []byte
		if err := rows.Scan(
			&e.ID, &e.EventID, &e.EventType, &e.Topic, &e.Key, &envelope, &e.Status, &e.Attempts,
			&e.LastAttempt, &e.LastError, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ClaimPending: scan: %w", err)
		}
		e.Envelope = envelope
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ClaimPending: rows: %w", err)
	}
	return events, nil
}

func (r *OutboxRepository) MarkDispatched(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE `+r.table+` SET status = $1, attempts = attempts + 1, last_attempt = now(), last_error = NULL
		WHERE id = $2`,
		domain.OutboxStatusDispatched, id,
	)
	if err != nil {
		return fmt.Errorf("MarkDispatched: %w", err)
	}
	return nil
}

// MarkAttemptFailed records a failed publish. When failed is true the row
// leaves the pending set for good.
func (r *OutboxRepository) MarkAttemptFailed(ctx context.Context, tx *sql.Tx, id int64, lastErr string, failed bool) error {
	status := domain.OutboxStatusPending
	if failed {
		status = domain.OutboxStatusFailed
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE `+r.table+` SET status = $1, attempts = attempts + 1, last_attempt = now(), last_error = $2
		WHERE id = $3`,
		status, lastErr, id,
	)
	if err != nil {
		return fmt.Errorf("MarkAttemptFailed: %w", err)
	}
	return nil
}

func (r *OutboxRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM `+r.table+` WHERE status = $1`, domain.OutboxStatusPending,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("CountPending: %w", err)
	}
	return n, nil
}

// Prune deletes dispatched rows created before the cutoff.
func (r *OutboxRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM `+r.table+` WHERE status = $1 AND created_at < $2`,
		domain.OutboxStatusDispatched, before,
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

func (r *OutboxRepository) Name() string {
	return r.table
}
