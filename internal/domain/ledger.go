package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProcessedEvent is one row of a consumer's idempotency ledger.
type ProcessedEvent struct {
	EventID       uuid.UUID
	EventType     string
	AggregateID   int64
	ConsumerGroup string
	ProcessedAt   time.Time
}
