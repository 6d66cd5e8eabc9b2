// Package outbox records events in the producer's database in the same
// transaction as the state change that caused them, and relays them to the
// bus afterwards.
package outbox

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/josh-kwaku/fooddelivery-saga/internal/domain"
	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
)

type inserter interface {
	Insert(ctx context.Context, tx *sql.Tx, e *domain.OutboxEvent) error
}

type Writer struct {
	store  inserter
	source string
}

func NewWriter(store inserter, source string) *Writer {
	return &Writer{store: store, source: source}
}

// Emit builds one envelope and stages a row for every topic the event type
// routes to. All rows share the envelope, and with it the event id.
func (w *Writer) Emit(ctx context.Context, tx *sql.Tx, eventType string, aggregateID int64, key string, payload any) (event.Envelope, error) {
	topics, err := event.TopicsFor(eventType)
	if err != nil {
		return event.Envelope{}, fmt.Errorf("Emit: %w", err)
	}
	env, err := event.New(eventType, w.source, aggregateID, payload)
	if err != nil {
		return event.Envelope{}, fmt.Errorf("Emit: %w", err)
	}
	raw, err := env.Encode()
	if err != nil {
		return event.Envelope{}, fmt.Errorf("Emit: %w", err)
	}

	for _, topic := range topics {
		row := &domain.OutboxEvent{
			EventID:   env.EventID,
			EventType: eventType,
			Topic:     topic,
			Key:       key,
			Envelope:  raw,
		}
		if err := w.store.Insert(ctx, tx, row); err != nil {
			return event.Envelope{}, fmt.Errorf("Emit: %s: %w", topic, err)
		}
	}
	return env, nil
}
