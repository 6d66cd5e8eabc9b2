// Package notification turns saga events into user-facing messages. It is
// best-effort: nothing here can fail or slow down the saga.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
	"github.com/josh-kwaku/fooddelivery-saga/internal/eventbus"
	"github.com/josh-kwaku/fooddelivery-saga/internal/logging"
	"github.com/josh-kwaku/fooddelivery-saga/internal/metrics"
)

const ConsumerGroup = "notification-service"

const (
	RoleCustomer = "CUSTOMER"
	RoleOwner    = "OWNER"
	RoleAgent    = "AGENT"
)

type Notification struct {
	EventID    string    `json:"eventId"`
	EventType  string    `json:"eventType"`
	UserID     int64     `json:"userId"`
	Role       string    `json:"role"`
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Priority   string    `json:"priority"`
	Category   string    `json:"category"`
	EntityID   int64     `json:"entityId"`
	EntityType string    `json:"entityType"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Sink delivers one notification to one user.
type Sink interface {
	Deliver(ctx context.Context, userID int64, n Notification) error
}

// Deduper reports whether an event id is seen for the first time.
type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
}

// History reads back what a sink delivered, newest first.
type History interface {
	History(ctx context.Context, userID int64, limit int64) ([]Notification, error)
}

type Service struct {
	sink  Sink
	dedup Deduper
	now   func() time.Time
}

// NewService builds the consumer. dedup may be nil, in which case every
// redelivery produces a second notification.
func NewService(sink Sink, dedup Deduper) *Service {
	return &Service{
		sink:  sink,
		dedup: dedup,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Recent returns the user's latest notifications. A sink that keeps no
// history yields an empty list.
func (s *Service) Recent(ctx context.Context, userID int64, limit int) ([]Notification, error) {
	h, ok := s.sink.(History)
	if !ok {
		return []Notification{}, nil
	}
	out, err := h.History(ctx, userID, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("Recent: %w", err)
	}
	return out, nil
}

// Register subscribes to all three mirror topics for every event type that
// has a template.
func (s *Service) Register(reg *eventbus.Registry) {
	for eventType, t := range templates {
		reg.Handle(t.topic, eventType, s.Handle)
	}
}

// Handle renders and delivers the notifications for env. Sink failures are
// logged and swallowed; only an undecodable payload is reported, so the bus
// dead-letters it instead of retrying.
func (s *Service) Handle(ctx context.Context, env event.Envelope) error {
	log := logging.FromContext(ctx).With("event_id", env.EventID, "event_type", env.EventType)

	t, ok := templates[env.EventType]
	if !ok {
		return nil
	}
	notes, err := t.render(env)
	if err != nil {
		return eventbus.Permanent(fmt.Errorf("Handle: %s: %w", env.EventType, err))
	}
	if len(notes) == 0 {
		return nil
	}

	if s.dedup != nil {
		first, err := s.dedup.Claim(ctx, env.EventID.String())
		if err != nil {
			log.Warn("notification dedup unavailable, sending anyway", "error", err)
		} else if !first {
			log.Debug("duplicate event, notifications already sent")
			metrics.NotificationsSent.WithLabelValues("duplicate").Add(float64(len(notes)))
			return nil
		}
	}

	for _, n := range notes {
		n.EventID = env.EventID.String()
		n.EventType = env.EventType
		n.CreatedAt = s.now()
		if err := s.sink.Deliver(ctx, n.UserID, n); err != nil {
			log.Error("notification delivery failed", "user_id", n.UserID, "role", n.Role, "error", err)
			metrics.NotificationsSent.WithLabelValues("failed").Inc()
			continue
		}
		metrics.NotificationsSent.WithLabelValues("sent").Inc()
	}
	return nil
}
