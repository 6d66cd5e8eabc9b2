package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/josh-kwaku/fooddelivery-saga/internal/domain"
	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
	"github.com/josh-kwaku/fooddelivery-saga/internal/eventbus"
	"github.com/josh-kwaku/fooddelivery-saga/internal/logging"
	"github.com/josh-kwaku/fooddelivery-saga/internal/metrics"
)

// Register subscribes the order service to the payment and delivery mirror
// topics. Consuming the mirrors keeps every event for one aggregate on a
// single ordered partition.
func (s *Service) Register(reg *eventbus.Registry) {
	reg.Handle(event.TopicPaymentEvents, event.PaymentInitiated, s.HandlePaymentInitiated)
	reg.Handle(event.TopicPaymentEvents, event.PaymentCompleted, s.HandlePaymentCompleted)
	reg.Handle(event.TopicPaymentEvents, event.PaymentFailed, s.HandlePaymentFailed)
	reg.Handle(event.TopicPaymentEvents, event.PaymentRefunded, s.HandlePaymentRefunded)

	reg.Handle(event.TopicDeliveryEvents, event.DeliveryPickedUp, s.HandleDeliveryPickedUp)
	reg.Handle(event.TopicDeliveryEvents, event.DeliveryDelivered, s.HandleDeliveryDelivered)
	reg.Handle(event.TopicDeliveryEvents, event.DeliveryCancelled, s.HandleDeliveryCancelled)
}

func decodePayment(env event.Envelope) (event.PaymentPayload, error) {
	var p event.PaymentPayload
	if err := env.DecodePayload(&p); err != nil {
		return p, err
	}
	if p.OrderID <= 0 || p.PaymentID <= 0 {
		return p, eventbus.Permanent(fmt.Errorf("%s without order or payment id", env.EventType))
	}
	return p, nil
}

func decodeDelivery(env event.Envelope) (event.DeliveryPayload, error) {
	var p event.DeliveryPayload
	if err := env.DecodePayload(&p); err != nil {
		return p, err
	}
	if p.OrderID <= 0 {
		return p, eventbus.Permanent(fmt.Errorf("%s without order id", env.EventType))
	}
	return p, nil
}

// applyToOrder locks the order, runs change and persists the result. An
// order this service never saw is treated as stale.
func (s *Service) applyToOrder(ctx context.Context, tx *sql.Tx, orderID int64, change func(o *domain.Order) error) (*domain.Order, domain.OrderStatus, error) {
	o, err := s.orders.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, "", fmt.Errorf("order %d: %w", orderID, domain.ErrStaleEvent)
		}
		return nil, "", err
	}
	previous := o.Status
	if err := change(o); err != nil {
		if errors.Is(err, domain.ErrStaleEvent) {
			return nil, "", fmt.Errorf("order %d in %s: %w", orderID, previous, err)
		}
		return nil, "", err
	}
	if err := s.orders.Update(ctx, tx, o); err != nil {
		return nil, "", err
	}
	return o, previous, nil
}

func (s *Service) HandlePaymentInitiated(ctx context.Context, env event.Envelope) error {
	p, err := decodePayment(env)
	if err != nil {
		return fmt.Errorf("HandlePaymentInitiated: %w", err)
	}
	_, err = s.guard.Apply(ctx, env, func(ctx context.Context, tx *sql.Tx) error {
		_, _, err := s.applyToOrder(ctx, tx, p.OrderID, func(o *domain.Order) error {
			return o.ApplyPaymentInitiated(p.PaymentID)
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("HandlePaymentInitiated: %w", err)
	}
	return nil
}

// HandlePaymentCompleted makes the order visible to the restaurant by
// publishing ORDER_CREATED.
func (s *Service) HandlePaymentCompleted(ctx context.Context, env event.Envelope) error {
	p, err := decodePayment(env)
	if err != nil {
		return fmt.Errorf("HandlePaymentCompleted: %w", err)
	}
	_, err = s.guard.Apply(ctx, env, func(ctx context.Context, tx *sql.Tx) error {
		o, previous, err := s.applyToOrder(ctx, tx, p.OrderID, func(o *domain.Order) error {
			err := o.ApplyPaymentCompleted(p.PaymentID)
			if errors.Is(err, domain.ErrStaleEvent) && o.PaymentStatus != domain.PaymentStatusCompleted {
				// money was captured for an order that can no longer use it
				metrics.UnreconciledPayments.WithLabelValues(env.EventType).Inc()
				logging.FromContext(ctx).Warn("payment completed for a closed order, refund required",
					"order_id", o.ID, "order_status", o.Status, "payment_id", p.PaymentID)
			}
			return err
		})
		if err != nil {
			return err
		}
		if _, err := s.events.Emit(ctx, tx, event.OrderCreated, o.ID, event.Key(o.ID), event.OrderSnapshot(o, previous)); err != nil {
			return err
		}
		logging.FromContext(ctx).Info("order payment completed", "order_id", o.ID, "payment_id", p.PaymentID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("HandlePaymentCompleted: %w", err)
	}
	return nil
}

func (s *Service) HandlePaymentFailed(ctx context.Context, env event.Envelope) error {
	p, err := decodePayment(env)
	if err != nil {
		return fmt.Errorf("HandlePaymentFailed: %w", err)
	}
	_, err = s.guard.Apply(ctx, env, func(ctx context.Context, tx *sql.Tx) error {
		o, _, err := s.applyToOrder(ctx, tx, p.OrderID, func(o *domain.Order) error {
			return o.ApplyPaymentFailed()
		})
		if err != nil {
			return err
		}
		logging.FromContext(ctx).Info("order payment failed", "order_id", o.ID, "reason", p.FailureReason)
		return nil
	})
	if err != nil {
		return fmt.Errorf("HandlePaymentFailed: %w", err)
	}
	return nil
}

func (s *Service) HandlePaymentRefunded(ctx context.Context, env event.Envelope) error {
	p, err := decodePayment(env)
	if err != nil {
		return fmt.Errorf("HandlePaymentRefunded: %w", err)
	}
	_, err = s.guard.Apply(ctx, env, func(ctx context.Context, tx *sql.Tx) error {
		o, previous, err := s.applyToOrder(ctx, tx, p.OrderID, func(o *domain.Order) error {
			err := o.ApplyPaymentRefunded()
			// a refund after cancellation is the expected cleanup; anywhere else
			// the order keeps a state the money no longer backs
			if errors.Is(err, domain.ErrStaleEvent) && o.Status != domain.OrderStatusRefunded && o.Status != domain.OrderStatusCancelled {
				metrics.UnreconciledPayments.WithLabelValues(env.EventType).Inc()
				logging.FromContext(ctx).Warn("refund on an order that cannot be refunded",
					"order_id", o.ID, "order_status", o.Status, "payment_id", p.PaymentID)
			}
			return err
		})
		if err != nil {
			return err
		}
		return s.emitStatus(ctx, tx, o, previous)
	})
	if err != nil {
		return fmt.Errorf("HandlePaymentRefunded: %w", err)
	}
	return nil
}

func (s *Service) HandleDeliveryPickedUp(ctx context.Context, env event.Envelope) error {
	return s.handleDelivery(ctx, env, domain.OrderStatusReadyForPickup, domain.OrderStatusOutForDelivery)
}

func (s *Service) HandleDeliveryDelivered(ctx context.Context, env event.Envelope) error {
	return s.handleDelivery(ctx, env, domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered)
}

func (s *Service) HandleDeliveryCancelled(ctx context.Context, env event.Envelope) error {
	return s.handleDelivery(ctx, env, "", domain.OrderStatusCancelled)
}

func (s *Service) handleDelivery(ctx context.Context, env event.Envelope, from, to domain.OrderStatus) error {
	d, err := decodeDelivery(env)
	if err != nil {
		return fmt.Errorf("handleDelivery: %w", err)
	}
	_, err = s.guard.Apply(ctx, env, func(ctx context.Context, tx *sql.Tx) error {
		o, previous, err := s.applyToOrder(ctx, tx, d.OrderID, func(o *domain.Order) error {
			return o.ApplyDeliveryProgress(from, to)
		})
		if err != nil {
			return err
		}
		logging.FromContext(ctx).Info("order advanced by delivery",
			"order_id", o.ID, "delivery_id", d.DeliveryID, "status", o.Status)
		return s.emitStatus(ctx, tx, o, previous)
	})
	if err != nil {
		return fmt.Errorf("handleDelivery: %s: %w", env.EventType, err)
	}
	return nil
}
