package notification

import (
	"fmt"

	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
)

const (
	typeOrder    = "ORDER"
	typePayment  = "PAYMENT"
	typeDelivery = "DELIVERY"

	priorityMedium = "MEDIUM"
	priorityHigh   = "HIGH"
	priorityUrgent = "URGENT"

	categoryInfo    = "INFO"
	categorySuccess = "SUCCESS"
	categoryWarning = "WARNING"
	categoryError   = "ERROR"
)

type template struct {
	topic  string
	render func(env event.Envelope) ([]Notification, error)
}

var templates = map[string]template{
	event.OrderCreated: {event.TopicOrderEvents, orderTemplate(func(o event.OrderPayload) []Notification {
		total := o.TotalAmount.StringFixed(2)
		notes := []Notification{orderNote(o, "Order Placed",
			fmt.Sprintf("Order #%d placed successfully! Total: $%s", o.OrderID, total), priorityHigh, categorySuccess)}
		if o.RestaurantID > 0 {
			owner := orderNote(o, "New Order",
				fmt.Sprintf("New order #%d received! Total: $%s", o.OrderID, total), priorityUrgent, categoryInfo)
			owner.UserID = o.RestaurantID
			owner.Role = RoleOwner
			notes = append(notes, owner)
		}
		return notes
	})},
	event.OrderConfirmed: {event.TopicOrderEvents, orderTemplate(func(o event.OrderPayload) []Notification {
		return []Notification{orderNote(o, "Order Confirmed",
			fmt.Sprintf("Restaurant confirmed your order #%d", o.OrderID), priorityMedium, categorySuccess)}
	})},
	event.OrderPreparing: {event.TopicOrderEvents, orderTemplate(func(o event.OrderPayload) []Notification {
		return []Notification{orderNote(o, "Order Preparing",
			fmt.Sprintf("Your order #%d is being prepared", o.OrderID), priorityMedium, categoryInfo)}
	})},
	event.OrderReadyForPickup: {event.TopicOrderEvents, orderTemplate(func(o event.OrderPayload) []Notification {
		return []Notification{orderNote(o, "Order Ready",
			fmt.Sprintf("Order #%d is ready for pickup!", o.OrderID), priorityHigh, categorySuccess)}
	})},
	event.OrderDelivered: {event.TopicOrderEvents, orderTemplate(func(o event.OrderPayload) []Notification {
		return []Notification{orderNote(o, "Order Delivered",
			fmt.Sprintf("Order #%d delivered! Enjoy your meal", o.OrderID), priorityHigh, categorySuccess)}
	})},
	event.OrderCancelled: {event.TopicOrderEvents, orderTemplate(func(o event.OrderPayload) []Notification {
		msg := fmt.Sprintf("Order #%d has been cancelled", o.OrderID)
		if o.CancelReason != "" {
			msg += ": " + o.CancelReason
		}
		return []Notification{orderNote(o, "Order Cancelled", msg, priorityHigh, categoryWarning)}
	})},

	event.PaymentInitiated: {event.TopicPaymentEvents, paymentTemplate(func(p event.PaymentPayload) []Notification {
		return []Notification{paymentNote(p, "Payment Processing",
			fmt.Sprintf("Processing payment of $%s for order #%d", p.Amount.StringFixed(2), p.OrderID), priorityMedium, categoryInfo)}
	})},
	event.PaymentCompleted: {event.TopicPaymentEvents, paymentTemplate(func(p event.PaymentPayload) []Notification {
		return []Notification{paymentNote(p, "Payment Successful",
			fmt.Sprintf("Payment of $%s successful for order #%d", p.Amount.StringFixed(2), p.OrderID), priorityHigh, categorySuccess)}
	})},
	event.PaymentFailed: {event.TopicPaymentEvents, paymentTemplate(func(p event.PaymentPayload) []Notification {
		return []Notification{paymentNote(p, "Payment Failed",
			fmt.Sprintf("Payment failed for order #%d. Please retry.", p.OrderID), priorityUrgent, categoryError)}
	})},
	event.PaymentRefunded: {event.TopicPaymentEvents, paymentTemplate(func(p event.PaymentPayload) []Notification {
		amount := p.Amount
		if p.RefundAmount != nil {
			amount = *p.RefundAmount
		}
		return []Notification{paymentNote(p, "Refund Processed",
			fmt.Sprintf("Refund of $%s processed for order #%d", amount.StringFixed(2), p.OrderID), priorityHigh, categoryInfo)}
	})},

	event.DeliveryAssigned: {event.TopicDeliveryEvents, deliveryTemplate(func(d event.DeliveryPayload) []Notification {
		notes := []Notification{deliveryNote(d, "Delivery Agent Assigned",
			fmt.Sprintf("A delivery agent has been assigned to your order #%d", d.OrderID), priorityMedium, categoryInfo)}
		if d.AgentID != nil {
			agent := deliveryNote(d, "Delivery Assigned",
				fmt.Sprintf("Delivery #%d assigned to you", d.DeliveryID), priorityHigh, categoryInfo)
			agent.UserID = *d.AgentID
			agent.Role = RoleAgent
			notes = append(notes, agent)
		}
		return notes
	})},
	event.DeliveryPickedUp: {event.TopicDeliveryEvents, deliveryTemplate(func(d event.DeliveryPayload) []Notification {
		return []Notification{deliveryNote(d, "Order Picked Up",
			fmt.Sprintf("Delivery agent picked up your order #%d", d.OrderID), priorityMedium, categoryInfo)}
	})},
	event.DeliveryInTransit: {event.TopicDeliveryEvents, deliveryTemplate(func(d event.DeliveryPayload) []Notification {
		msg := fmt.Sprintf("Your order #%d is on the way!", d.OrderID)
		if d.EstimatedMinutes != nil {
			msg += fmt.Sprintf(" Arriving in about %d min.", *d.EstimatedMinutes)
		}
		return []Notification{deliveryNote(d, "Order On The Way", msg, priorityHigh, categoryInfo)}
	})},
	event.DeliveryDelivered: {event.TopicDeliveryEvents, deliveryTemplate(func(d event.DeliveryPayload) []Notification {
		notes := []Notification{deliveryNote(d, "Order Delivered",
			fmt.Sprintf("Order #%d delivered! Enjoy your meal", d.OrderID), priorityHigh, categorySuccess)}
		if d.AgentID != nil {
			agent := deliveryNote(d, "Delivery Completed",
				fmt.Sprintf("Delivery #%d completed! Earnings: $%s", d.DeliveryID, d.DeliveryFee.StringFixed(2)), priorityHigh, categorySuccess)
			agent.UserID = *d.AgentID
			agent.Role = RoleAgent
			notes = append(notes, agent)
		}
		return notes
	})},
}

func orderTemplate(build func(event.OrderPayload) []Notification) func(event.Envelope) ([]Notification, error) {
	return func(env event.Envelope) ([]Notification, error) {
		var o event.OrderPayload
		if err := env.DecodePayload(&o); err != nil {
			return nil, err
		}
		if o.OrderID <= 0 || o.CustomerID <= 0 {
			return nil, fmt.Errorf("order payload without order or customer id")
		}
		return build(o), nil
	}
}

func paymentTemplate(build func(event.PaymentPayload) []Notification) func(event.Envelope) ([]Notification, error) {
	return func(env event.Envelope) ([]Notification, error) {
		var p event.PaymentPayload
		if err := env.DecodePayload(&p); err != nil {
			return nil, err
		}
		if p.PaymentID <= 0 || p.CustomerID <= 0 {
			return nil, fmt.Errorf("payment payload without payment or customer id")
		}
		return build(p), nil
	}
}

func deliveryTemplate(build func(event.DeliveryPayload) []Notification) func(event.Envelope) ([]Notification, error) {
	return func(env event.Envelope) ([]Notification, error) {
		var d event.DeliveryPayload
		if err := env.DecodePayload(&d); err != nil {
			return nil, err
		}
		if d.DeliveryID <= 0 || d.CustomerID <= 0 {
			return nil, fmt.Errorf("delivery payload without delivery or customer id")
		}
		return build(d), nil
	}
}

func orderNote(o event.OrderPayload, title, msg, priority, category string) Notification {
	return Notification{
		UserID: o.CustomerID, Role: RoleCustomer, Type: typeOrder,
		Title: title, Message: msg, Priority: priority, Category: category,
		EntityID: o.OrderID, EntityType: typeOrder,
	}
}

func paymentNote(p event.PaymentPayload, title, msg, priority, category string) Notification {
	return Notification{
		UserID: p.CustomerID, Role: RoleCustomer, Type: typePayment,
		Title: title, Message: msg, Priority: priority, Category: category,
		EntityID: p.PaymentID, EntityType: typePayment,
	}
}

func deliveryNote(d event.DeliveryPayload, title, msg, priority, category string) Notification {
	return Notification{
		UserID: d.CustomerID, Role: RoleCustomer, Type: typeDelivery,
		Title: title, Message: msg, Priority: priority, Category: category,
		EntityID: d.DeliveryID, EntityType: typeDelivery,
	}
}
