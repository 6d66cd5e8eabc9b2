package delivery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/josh-kwaku/fooddelivery-saga/internal/domain"
	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
	"github.com/josh-kwaku/fooddelivery-saga/internal/eventbus"
	"github.com/josh-kwaku/fooddelivery-saga/internal/logging"
)

// Register subscribes the delivery service to the order mirror topic.
func (s *Service) Register(reg *eventbus.Registry) {
	reg.Handle(event.TopicOrderEvents, event.OrderReadyForPickup, s.HandleOrderReady)
	reg.Handle(event.TopicOrderEvents, event.OrderCancelled, s.HandleOrderCancelled)
}

func decodeOrder(env event.Envelope) (event.OrderPayload, error) {
	var p event.OrderPayload
	if err := env.DecodePayload(&p); err != nil {
		return p, err
	}
	if p.OrderID <= 0 {
		return p, eventbus.Permanent(fmt.Errorf("%s without order id", env.EventType))
	}
	return p, nil
}

// HandleOrderReady opens a delivery for the order from the event snapshot.
// A second event for the same order leaves the existing delivery alone.
func (s *Service) HandleOrderReady(ctx context.Context, env event.Envelope) error {
	o, err := decodeOrder(env)
	if err != nil {
		return fmt.Errorf("HandleOrderReady: %w", err)
	}
	_, err = s.guard.Apply(ctx, env, func(ctx context.Context, tx *sql.Tx) error {
		d := newFromOrder(o)
		if err := s.deliveries.Create(ctx, tx, d); err != nil {
			if errors.Is(err, domain.ErrDuplicateDelivery) {
				return fmt.Errorf("%w: %w", domain.ErrStaleEvent, err)
			}
			return err
		}
		logging.FromContext(ctx).Info("delivery created", "delivery_id", d.ID, "order_id", d.OrderID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("HandleOrderReady: %w", err)
	}
	return nil
}

func newFromOrder(o event.OrderPayload) *domain.Delivery {
	pickup := o.PickupAddress
	if pickup == "" {
		pickup = domain.DefaultPickupAddress
	}
	fee := o.DeliveryFee
	if fee.IsZero() {
		fee = domain.OrderDeliveryFee
	}
	return &domain.Delivery{
		OrderID:           o.OrderID,
		RestaurantID:      o.RestaurantID,
		CustomerID:        o.CustomerID,
		Status:            domain.DeliveryStatusAssigned,
		PickupAddress:     pickup,
		DeliveryAddress:   o.DeliveryAddress,
		DeliveryFee:       fee,
		DeliveryLatitude:  o.DeliveryLatitude,
		DeliveryLongitude: o.DeliveryLongitude,
	}
}

// HandleOrderCancelled cancels a delivery nobody has picked up yet.
func (s *Service) HandleOrderCancelled(ctx context.Context, env event.Envelope) error {
	o, err := decodeOrder(env)
	if err != nil {
		return fmt.Errorf("HandleOrderCancelled: %w", err)
	}
	_, err = s.guard.Apply(ctx, env, func(ctx context.Context, tx *sql.Tx) error {
		d, err := s.deliveries.GetByOrderIDForUpdate(ctx, tx, o.OrderID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("order %d has no delivery: %w", o.OrderID, domain.ErrStaleEvent)
			}
			return err
		}
		previous := d.Status
		if err := d.CancelForOrder(); err != nil {
			return fmt.Errorf("delivery %d in %s: %w", d.ID, previous, err)
		}
		if err := s.deliveries.Update(ctx, tx, d); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, event.DeliveryCancelled, d, previous); err != nil {
			return err
		}
		logging.FromContext(ctx).Info("delivery cancelled with order", "delivery_id", d.ID, "order_id", d.OrderID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("HandleOrderCancelled: %w", err)
	}
	return nil
}
