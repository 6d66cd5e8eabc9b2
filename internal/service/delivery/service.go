package delivery

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/josh-kwaku/fooddelivery-saga/internal/domain"
	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
	"github.com/josh-kwaku/fooddelivery-saga/internal/idempotency"
	"github.com/josh-kwaku/fooddelivery-saga/internal/logging"
)

const (
	ConsumerGroup = "delivery-service"

	defaultAvailableLimit = 50
)

type deliveryRepo interface {
	Create(ctx context.Context, tx *sql.Tx, d *domain.Delivery) error
	GetByID(ctx context.Context, id int64) (*domain.Delivery, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*domain.Delivery, error)
	GetByOrderIDForUpdate(ctx context.Context, tx *sql.Tx, orderID int64) (*domain.Delivery, error)
	ListAvailable(ctx context.Context, limit int) ([]domain.Delivery, error)
	Update(ctx context.Context, tx *sql.Tx, d *domain.Delivery) error
}

type emitter interface {
	Emit(ctx context.Context, tx *sql.Tx, eventType string, aggregateID int64, key string, payload any) (event.Envelope, error)
}

type guard interface {
	Apply(ctx context.Context, env event.Envelope, fn idempotency.ApplyFunc) (idempotency.Outcome, error)
}

type Service struct {
	deliveries deliveryRepo
	events     emitter
	guard      guard
	db         *sql.DB
	now        func() time.Time
}

func NewService(deliveries deliveryRepo, events emitter, g guard, db *sql.DB) *Service {
	return &Service{
		deliveries: deliveries,
		events:     events,
		guard:      g,
		db:         db,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) GetDelivery(ctx context.Context, deliveryID int64) (*domain.Delivery, error) {
	d, err := s.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("GetDelivery: %w", err)
	}
	return d, nil
}

// ListAvailable returns deliveries still waiting for an agent.
func (s *Service) ListAvailable(ctx context.Context, limit int) ([]domain.Delivery, error) {
	if limit <= 0 || limit > defaultAvailableLimit {
		limit = defaultAvailableLimit
	}
	deliveries, err := s.deliveries.ListAvailable(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("ListAvailable: %w", err)
	}
	return deliveries, nil
}

// Accept binds agentID to the delivery. Accepting twice as the same agent
// returns the delivery unchanged and publishes nothing.
func (s *Service) Accept(ctx context.Context, deliveryID, agentID int64) (*domain.Delivery, error) {
	if agentID <= 0 {
		return nil, fmt.Errorf("Accept: agent required: %w", domain.ErrInvalidRequest)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Accept: begin tx: %w", err)
	}
	defer tx.Rollback()

	d, err := s.deliveries.GetForUpdate(ctx, tx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("Accept: %w", err)
	}
	if d.AgentID != nil && *d.AgentID == agentID && d.Status == domain.DeliveryStatusAssigned {
		return d, nil
	}
	if err := d.Accept(agentID); err != nil {
		return nil, fmt.Errorf("Accept: %w", err)
	}
	if err := s.persist(ctx, tx, d, event.DeliveryAssigned, d.Status); err != nil {
		return nil, fmt.Errorf("Accept: %w", err)
	}

	logging.FromContext(ctx).Info("delivery accepted", "delivery_id", d.ID, "order_id", d.OrderID, "agent_id", agentID)
	return d, nil
}

// Release unbinds agentID so another agent can accept. The order is not
// involved, so nothing is published.
func (s *Service) Release(ctx context.Context, deliveryID, agentID int64) (*domain.Delivery, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Release: begin tx: %w", err)
	}
	defer tx.Rollback()

	d, err := s.deliveries.GetForUpdate(ctx, tx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("Release: %w", err)
	}
	if err := d.Release(agentID); err != nil {
		return nil, fmt.Errorf("Release: %w", err)
	}
	if err := s.deliveries.Update(ctx, tx, d); err != nil {
		return nil, fmt.Errorf("Release: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Release: commit: %w", err)
	}

	logging.FromContext(ctx).Info("delivery released", "delivery_id", d.ID, "order_id", d.OrderID, "agent_id", agentID)
	return d, nil
}

// UpdateStatus moves the delivery one step forward.
func (s *Service) UpdateStatus(ctx context.Context, deliveryID int64, to domain.DeliveryStatus) (*domain.Delivery, error) {
	eventType, ok := event.ForDeliveryStatus(to)
	if !ok {
		return nil, fmt.Errorf("UpdateStatus: %s: %w", to, domain.ErrInvalidTransition)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("UpdateStatus: begin tx: %w", err)
	}
	defer tx.Rollback()

	d, err := s.deliveries.GetForUpdate(ctx, tx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("UpdateStatus: %w", err)
	}
	previous := d.Status
	if err := d.Advance(to, s.now()); err != nil {
		return nil, fmt.Errorf("UpdateStatus: %w", err)
	}
	if err := s.persist(ctx, tx, d, eventType, previous); err != nil {
		return nil, fmt.Errorf("UpdateStatus: %w", err)
	}

	logging.FromContext(ctx).Info("delivery status updated",
		"delivery_id", d.ID,
		"order_id", d.OrderID,
		"from", previous,
		"to", d.Status,
	)
	return d, nil
}

func (s *Service) UpdateAgentLocation(ctx context.Context, deliveryID int64, lat, lon float64) (*domain.Delivery, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("UpdateAgentLocation: begin tx: %w", err)
	}
	defer tx.Rollback()

	d, err := s.deliveries.GetForUpdate(ctx, tx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("UpdateAgentLocation: %w", err)
	}
	if err := d.UpdateLocation(lat, lon, s.now()); err != nil {
		return nil, fmt.Errorf("UpdateAgentLocation: %w", err)
	}
	if err := s.persist(ctx, tx, d, event.DeliveryLocationUpdated, d.Status); err != nil {
		return nil, fmt.Errorf("UpdateAgentLocation: %w", err)
	}

	logging.FromContext(ctx).Debug("agent location updated",
		"delivery_id", d.ID,
		"distance_km", d.DistanceKm,
		"estimated_minutes", d.EstimatedMinutes,
	)
	return d, nil
}

// persist writes d, stages eventType and commits tx.
func (s *Service) persist(ctx context.Context, tx *sql.Tx, d *domain.Delivery, eventType string, previous domain.DeliveryStatus) error {
	if err := s.deliveries.Update(ctx, tx, d); err != nil {
		return err
	}
	if err := s.emit(ctx, tx, eventType, d, previous); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Service) emit(ctx context.Context, tx *sql.Tx, eventType string, d *domain.Delivery, previous domain.DeliveryStatus) error {
	_, err := s.events.Emit(ctx, tx, eventType, d.ID, event.Key(d.ID), event.DeliverySnapshot(d, previous))
	return err
}
