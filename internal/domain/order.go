package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPaymentPending OrderStatus = "PAYMENT_PENDING"
	OrderStatusPaymentFailed  OrderStatus = "PAYMENT_FAILED"
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusConfirmed      OrderStatus = "CONFIRMED"
	OrderStatusPreparing      OrderStatus = "PREPARING"
	OrderStatusReadyForPickup OrderStatus = "READY_FOR_PICKUP"
	OrderStatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusRefunded       OrderStatus = "REFUNDED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPaymentPending: {OrderStatusPending, OrderStatusPaymentFailed, OrderStatusCancelled},
	OrderStatusPending:        {OrderStatusConfirmed, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusConfirmed:      {OrderStatusPreparing, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusPreparing:      {OrderStatusReadyForPickup, OrderStatusCancelled},
	OrderStatusReadyForPickup: {OrderStatusOutForDelivery, OrderStatusCancelled},
	OrderStatusOutForDelivery: {OrderStatusDelivered, OrderStatusCancelled},
}

var ErrPaymentInProgress = fmt.Errorf("%w: payment in progress", ErrIllegalState)

func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	switch st {
	case OrderStatusPaymentPending, OrderStatusPaymentFailed, OrderStatusPending,
		OrderStatusConfirmed, OrderStatusPreparing, OrderStatusReadyForPickup,
		OrderStatusOutForDelivery, OrderStatusDelivered, OrderStatusCancelled,
		OrderStatusRefunded:
		return st, nil
	}
	return "", fmt.Errorf("ParseOrderStatus: %q: %w", s, ErrInvalidRequest)
}

func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusPaymentFailed, OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// eventDriven statuses are only reachable through payment events.
func (s OrderStatus) eventDriven() bool {
	switch s {
	case OrderStatusPaymentPending, OrderStatusPending, OrderStatusPaymentFailed, OrderStatusRefunded:
		return true
	}
	return false
}

type OrderItem struct {
	MenuItemID int64           `json:"menuItemId"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID                int64
	CustomerID        int64
	RestaurantID      int64
	Status            OrderStatus
	PaymentID         *int64
	PaymentStatus     PaymentStatus
	Items             []OrderItem
	Subtotal          decimal.Decimal
	DeliveryFee       decimal.Decimal
	Tax               decimal.Decimal
	Total             decimal.Decimal
	DeliveryAddress   string
	PickupAddress     string
	DeliveryLatitude  *float64
	DeliveryLongitude *float64
	CancelReason      *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

var (
	OrderDeliveryFee = decimal.RequireFromString("2.99")
	OrderTaxRate     = decimal.RequireFromString("0.08")
)

type Pricing struct {
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	Tax         decimal.Decimal
	Total       decimal.Decimal
}

func PriceItems(items []OrderItem) (Pricing, error) {
	if len(items) == 0 {
		return Pricing{}, ErrEmptyOrder
	}

	subtotal := decimal.Zero
	for _, it := range items {
		if it.Quantity <= 0 || !it.UnitPrice.IsPositive() {
			return Pricing{}, fmt.Errorf("PriceItems: item %d: %w", it.MenuItemID, ErrInvalidAmount)
		}
		subtotal = subtotal.Add(it.LineTotal())
	}
	subtotal = subtotal.Round(2)
	tax := subtotal.Mul(OrderTaxRate).Round(2)

	return Pricing{
		Subtotal:    subtotal,
		DeliveryFee: OrderDeliveryFee,
		Tax:         tax,
		Total:       subtotal.Add(OrderDeliveryFee).Add(tax),
	}, nil
}

func (o *Order) transitionError(to OrderStatus) error {
	return &TransitionError{Aggregate: "order", From: string(o.Status), To: string(to)}
}

// Advance applies a restaurant or agent driven status change.
func (o *Order) Advance(to OrderStatus) error {
	if to.eventDriven() || !o.Status.CanTransitionTo(to) {
		return o.transitionError(to)
	}
	if to == OrderStatusConfirmed && o.PaymentStatus != PaymentStatusCompleted {
		return ErrPaymentNotCompleted
	}
	o.Status = to
	return nil
}

func (o *Order) ApplyPaymentInitiated(paymentID int64) error {
	if o.Status != OrderStatusPending || o.PaymentID != nil {
		return ErrStaleEvent
	}
	o.Status = OrderStatusPaymentPending
	o.PaymentID = &paymentID
	o.PaymentStatus = PaymentStatusPending
	return nil
}

func (o *Order) ApplyPaymentCompleted(paymentID int64) error {
	if o.Status != OrderStatusPaymentPending && o.Status != OrderStatusPending {
		return ErrStaleEvent
	}
	if o.PaymentStatus == PaymentStatusCompleted {
		return ErrStaleEvent
	}
	o.Status = OrderStatusPending
	o.PaymentID = &paymentID
	o.PaymentStatus = PaymentStatusCompleted
	return nil
}

func (o *Order) ApplyPaymentFailed() error {
	if o.Status != OrderStatusPaymentPending {
		return ErrStaleEvent
	}
	o.Status = OrderStatusPaymentFailed
	o.PaymentStatus = PaymentStatusFailed
	return nil
}

func (o *Order) ApplyPaymentRefunded() error {
	if !o.Status.CanTransitionTo(OrderStatusRefunded) {
		return ErrStaleEvent
	}
	o.Status = OrderStatusRefunded
	o.PaymentStatus = PaymentStatusRefunded
	return nil
}

// ApplyDeliveryProgress moves the order in response to a delivery event.
// from is the status the order must currently be in; an empty from accepts
// any status that may legally reach to.
func (o *Order) ApplyDeliveryProgress(from, to OrderStatus) error {
	if from != "" && o.Status != from {
		return ErrStaleEvent
	}
	if !o.Status.CanTransitionTo(to) {
		return ErrStaleEvent
	}
	o.Status = to
	return nil
}

func (o *Order) Cancel(requesterID int64, reason string) error {
	if requesterID != o.CustomerID {
		return ErrForbidden
	}
	switch {
	case o.Status.IsTerminal():
		return ErrOrderAlreadyTerminal
	case o.Status == OrderStatusPaymentPending:
		return ErrPaymentInProgress
	case o.Status != OrderStatusPending && o.Status != OrderStatusConfirmed:
		return ErrTooLateToCancel
	}
	o.Status = OrderStatusCancelled
	if reason != "" {
		o.CancelReason = &reason
	}
	return nil
}
