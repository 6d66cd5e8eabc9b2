package event

import (
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/fooddelivery-saga/internal/domain"
)

// OrderPayload is the snapshot carried by every order event.
type OrderPayload struct {
	OrderID           int64              `json:"orderId"`
	CustomerID        int64              `json:"customerId"`
	RestaurantID      int64              `json:"restaurantId"`
	Status            string             `json:"status"`
	PreviousStatus    string             `json:"previousStatus,omitempty"`
	PaymentID         *int64             `json:"paymentId,omitempty"`
	Items             []domain.OrderItem `json:"items,omitempty"`
	Subtotal          decimal.Decimal    `json:"subtotal"`
	DeliveryFee       decimal.Decimal    `json:"deliveryFee"`
	Tax               decimal.Decimal    `json:"tax"`
	TotalAmount       decimal.Decimal    `json:"totalAmount"`
	DeliveryAddress   string             `json:"deliveryAddress"`
	PickupAddress     string             `json:"pickupAddress,omitempty"`
	DeliveryLatitude  *float64           `json:"deliveryLatitude,omitempty"`
	DeliveryLongitude *float64           `json:"deliveryLongitude,omitempty"`
	CancelReason      string             `json:"cancelReason,omitempty"`
}

func OrderSnapshot(o *domain.Order, previous domain.OrderStatus) OrderPayload {
	p := OrderPayload{
		OrderID:           o.ID,
		CustomerID:        o.CustomerID,
		RestaurantID:      o.RestaurantID,
		Status:            string(o.Status),
		PreviousStatus:    string(previous),
		PaymentID:         o.PaymentID,
		Items:             o.Items,
		Subtotal:          o.Subtotal,
		DeliveryFee:       o.DeliveryFee,
		Tax:               o.Tax,
		TotalAmount:       o.Total,
		DeliveryAddress:   o.DeliveryAddress,
		PickupAddress:     o.PickupAddress,
		DeliveryLatitude:  o.DeliveryLatitude,
		DeliveryLongitude: o.DeliveryLongitude,
	}
	if o.CancelReason != nil {
		p.CancelReason = *o.CancelReason
	}
	return p
}

type PaymentPayload struct {
	PaymentID        int64            `json:"paymentId"`
	OrderID          int64            `json:"orderId"`
	CustomerID       int64            `json:"customerId"`
	Amount           decimal.Decimal  `json:"amount"`
	Currency         string           `json:"currency"`
	Status           string           `json:"status"`
	GatewayOrderID   string           `json:"gatewayOrderId,omitempty"`
	GatewayPaymentID string           `json:"gatewayPaymentId,omitempty"`
	FailureReason    string           `json:"failureReason,omitempty"`
	RefundAmount     *decimal.Decimal `json:"refundAmount,omitempty"`
	RefundID         string           `json:"refundId,omitempty"`
	RefundReason     string           `json:"refundReason,omitempty"`
}

func PaymentSnapshot(p *domain.Payment) PaymentPayload {
	out := PaymentPayload{
		PaymentID:    p.ID,
		OrderID:      p.OrderID,
		CustomerID:   p.CustomerID,
		Amount:       p.Amount,
		Currency:     p.Currency,
		Status:       string(p.Status),
		RefundAmount: p.RefundAmount,
	}
	if p.GatewayOrderID != nil {
		out.GatewayOrderID = *p.GatewayOrderID
	}
	if p.GatewayPaymentID != nil {
		out.GatewayPaymentID = *p.GatewayPaymentID
	}
	if p.FailureReason != nil {
		out.FailureReason = *p.FailureReason
	}
	if p.RefundID != nil {
		out.RefundID = *p.RefundID
	}
	return out
}

type DeliveryPayload struct {
	DeliveryID       int64           `json:"deliveryId"`
	OrderID          int64           `json:"orderId"`
	RestaurantID     int64           `json:"restaurantId"`
	CustomerID       int64           `json:"customerId"`
	AgentID          *int64          `json:"agentId,omitempty"`
	Status           string          `json:"status"`
	PreviousStatus   string          `json:"previousStatus,omitempty"`
	PickupAddress    string          `json:"pickupAddress"`
	DeliveryAddress  string          `json:"deliveryAddress"`
	DeliveryFee      decimal.Decimal `json:"deliveryFee"`
	AgentLatitude    *float64        `json:"agentLatitude,omitempty"`
	AgentLongitude   *float64        `json:"agentLongitude,omitempty"`
	DistanceKm       *float64        `json:"distanceKm,omitempty"`
	EstimatedMinutes *int            `json:"estimatedMinutes,omitempty"`
}

func DeliverySnapshot(d *domain.Delivery, previous domain.DeliveryStatus) DeliveryPayload {
	return DeliveryPayload{
		DeliveryID:       d.ID,
		OrderID:          d.OrderID,
		RestaurantID:     d.RestaurantID,
		CustomerID:       d.CustomerID,
		AgentID:          d.AgentID,
		Status:           string(d.Status),
		PreviousStatus:   string(previous),
		PickupAddress:    d.PickupAddress,
		DeliveryAddress:  d.DeliveryAddress,
		DeliveryFee:      d.DeliveryFee,
		AgentLatitude:    d.AgentLatitude,
		AgentLongitude:   d.AgentLongitude,
		DistanceKm:       d.DistanceKm,
		EstimatedMinutes: d.EstimatedMinutes,
	}
}

var orderStatusEvents = map[domain.OrderStatus]string{
	domain.OrderStatusConfirmed:      OrderConfirmed,
	domain.OrderStatusPreparing:      OrderPreparing,
	domain.OrderStatusReadyForPickup: OrderReadyForPickup,
	domain.OrderStatusOutForDelivery: OrderOutForDelivery,
	domain.OrderStatusDelivered:      OrderDelivered,
	domain.OrderStatusCancelled:      OrderCancelled,
}

// ForOrderStatus names the event announcing an order entering status.
func ForOrderStatus(status domain.OrderStatus) (string, bool) {
	t, ok := orderStatusEvents[status]
	return t, ok
}

var deliveryStatusEvents = map[domain.DeliveryStatus]string{
	domain.DeliveryStatusPickedUp:  DeliveryPickedUp,
	domain.DeliveryStatusInTransit: DeliveryInTransit,
	domain.DeliveryStatusDelivered: DeliveryDelivered,
	domain.DeliveryStatusCancelled: DeliveryCancelled,
}

func ForDeliveryStatus(status domain.DeliveryStatus) (string, bool) {
	t, ok := deliveryStatusEvents[status]
	return t, ok
}
