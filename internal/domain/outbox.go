package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusDispatched OutboxStatus = "dispatched"
	OutboxStatusFailed     OutboxStatus = "failed"
)

type OutboxEvent struct {
	ID          int64
	EventID     uuid.UUID
	EventType   string
	Topic       string
	Key         string
	Envelope    json.RawMessage
	Status      OutboxStatus
	Attempts    int
	LastAttempt *time.Time
	LastError   *string
	CreatedAt   time.Time
}
