package order

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/josh-kwaku/fooddelivery-saga/internal/domain"
	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
	"github.com/josh-kwaku/fooddelivery-saga/internal/idempotency"
	"github.com/josh-kwaku/fooddelivery-saga/internal/logging"
)

const (
	ConsumerGroup = "order-service"

	defaultListLimit = 50
)

type orderRepo interface {
	Create(ctx context.Context, tx *sql.Tx, o *domain.Order) error
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*domain.Order, error)
	ListByCustomer(ctx context.Context, customerID int64, limit int) ([]domain.Order, error)
	ListByRestaurant(ctx context.Context, restaurantID int64, limit int) ([]domain.Order, error)
	Update(ctx context.Context, tx *sql.Tx, o *domain.Order) error
}

type emitter interface {
	Emit(ctx context.Context, tx *sql.Tx, eventType string, aggregateID int64, key string, payload any) (event.Envelope, error)
}

type guard interface {
	Apply(ctx context.Context, env event.Envelope, fn idempotency.ApplyFunc) (idempotency.Outcome, error)
}

type Service struct {
	orders orderRepo
	events emitter
	guard  guard
	db     *sql.DB
}

func NewService(orders orderRepo, events emitter, g guard, db *sql.DB) *Service {
	return &Service{orders: orders, events: events, guard: g, db: db}
}

type PlaceOrderRequest struct {
	CustomerID        int64
	RestaurantID      int64
	Items             []domain.OrderItem
	DeliveryAddress   string
	PickupAddress     string
	DeliveryLatitude  *float64
	DeliveryLongitude *float64
}

// PlaceOrder persists a PENDING order. Nothing is published until payment
// completes.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, error) {
	if err := validatePlaceOrder(req); err != nil {
		return nil, fmt.Errorf("PlaceOrder: %w", err)
	}
	pricing, err := domain.PriceItems(req.Items)
	if err != nil {
		return nil, fmt.Errorf("PlaceOrder: %w", err)
	}

	pickup := req.PickupAddress
	if pickup == "" {
		pickup = domain.DefaultPickupAddress
	}
	o := &domain.Order{
		CustomerID:        req.CustomerID,
		RestaurantID:      req.RestaurantID,
		Status:            domain.OrderStatusPending,
		PaymentStatus:     domain.PaymentStatusPending,
		Items:             req.Items,
		Subtotal:          pricing.Subtotal,
		DeliveryFee:       pricing.DeliveryFee,
		Tax:               pricing.Tax,
		Total:             pricing.Total,
		DeliveryAddress:   req.DeliveryAddress,
		PickupAddress:     pickup,
		DeliveryLatitude:  req.DeliveryLatitude,
		DeliveryLongitude: req.DeliveryLongitude,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("PlaceOrder: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.orders.Create(ctx, tx, o); err != nil {
		return nil, fmt.Errorf("PlaceOrder: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("PlaceOrder: commit: %w", err)
	}

	logging.FromContext(ctx).Info("order placed",
		"order_id", o.ID,
		"customer_id", o.CustomerID,
		"restaurant_id", o.RestaurantID,
		"total", o.Total,
	)
	return o, nil
}

func validatePlaceOrder(req PlaceOrderRequest) error {
	if req.CustomerID <= 0 || req.RestaurantID <= 0 {
		return fmt.Errorf("customer and restaurant required: %w", domain.ErrInvalidRequest)
	}
	if req.DeliveryAddress == "" {
		return fmt.Errorf("delivery address required: %w", domain.ErrInvalidRequest)
	}
	if (req.DeliveryLatitude == nil) != (req.DeliveryLongitude == nil) {
		return fmt.Errorf("latitude and longitude go together: %w", domain.ErrInvalidCoordinates)
	}
	if req.DeliveryLatitude != nil {
		c := domain.Coordinate{Lat: *req.DeliveryLatitude, Lon: *req.DeliveryLongitude}
		if !c.Valid() {
			return domain.ErrInvalidCoordinates
		}
	}
	return nil
}

func (s *Service) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("GetOrder: %w", err)
	}
	return o, nil
}

// GetOrderForUser hides orders that belong to someone else behind ErrNotFound.
func (s *Service) GetOrderForUser(ctx context.Context, orderID, userID int64) (*domain.Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("GetOrderForUser: %w", err)
	}
	if o.CustomerID != userID && o.RestaurantID != userID {
		return nil, fmt.Errorf("GetOrderForUser: %w", domain.ErrNotFound)
	}
	return o, nil
}

// ListForCustomer returns the customer's orders, newest first.
func (s *Service) ListForCustomer(ctx context.Context, customerID int64, limit int) ([]domain.Order, error) {
	orders, err := s.orders.ListByCustomer(ctx, customerID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("ListForCustomer: %w", err)
	}
	return orders, nil
}

// ListForRestaurant returns the orders placed with the restaurant, newest first.
func (s *Service) ListForRestaurant(ctx context.Context, restaurantID int64, limit int) ([]domain.Order, error) {
	orders, err := s.orders.ListByRestaurant(ctx, restaurantID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("ListForRestaurant: %w", err)
	}
	return orders, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > defaultListLimit {
		return defaultListLimit
	}
	return limit
}

// UpdateStatus applies a restaurant or agent driven transition.
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, to domain.OrderStatus) (*domain.Order, error) {
	o, err := s.mutate(ctx, orderID, func(o *domain.Order) error {
		return o.Advance(to)
	})
	if err != nil {
		return nil, fmt.Errorf("UpdateStatus: %w", err)
	}
	logging.FromContext(ctx).Info("order status updated", "order_id", o.ID, "status", o.Status)
	return o, nil
}

func (s *Service) CancelOrder(ctx context.Context, orderID, requesterID int64, reason string) (*domain.Order, error) {
	o, err := s.mutate(ctx, orderID, func(o *domain.Order) error {
		return o.Cancel(requesterID, reason)
	})
	if err != nil {
		return nil, fmt.Errorf("CancelOrder: %w", err)
	}
	logging.FromContext(ctx).Info("order cancelled", "order_id", o.ID, "requester_id", requesterID, "reason", reason)
	return o, nil
}

func (s *Service) mutate(ctx context.Context, orderID int64, change func(o *domain.Order) error) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	o, err := s.orders.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	previous := o.Status
	if err := change(o); err != nil {
		return nil, err
	}
	if err := s.orders.Update(ctx, tx, o); err != nil {
		return nil, err
	}
	if err := s.emitStatus(ctx, tx, o, previous); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return o, nil
}

// emitStatus stages the event named for the order's new status, if there is
// one, followed by ORDER_STATUS_CHANGED.
func (s *Service) emitStatus(ctx context.Context, tx *sql.Tx, o *domain.Order, previous domain.OrderStatus) error {
	payload := event.OrderSnapshot(o, previous)
	if eventType, ok := event.ForOrderStatus(o.Status); ok {
		if _, err := s.events.Emit(ctx, tx, eventType, o.ID, event.Key(o.ID), payload); err != nil {
			return err
		}
	}
	_, err := s.events.Emit(ctx, tx, event.OrderStatusChanged, o.ID, event.Key(o.ID), payload)
	return err
}
