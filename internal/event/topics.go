package event

import (
	"fmt"
	"sort"
)

const (
	OrderCreated        = "ORDER_CREATED"
	OrderConfirmed      = "ORDER_CONFIRMED"
	OrderPreparing      = "ORDER_PREPARING"
	OrderReadyForPickup = "ORDER_READY_FOR_PICKUP"
	OrderOutForDelivery = "ORDER_OUT_FOR_DELIVERY"
	OrderDelivered      = "ORDER_DELIVERED"
	OrderCancelled      = "ORDER_CANCELLED"
	OrderStatusChanged  = "ORDER_STATUS_CHANGED"

	PaymentInitiated       = "PAYMENT_INITIATED"
	PaymentCompleted       = "PAYMENT_COMPLETED"
	PaymentFailed          = "PAYMENT_FAILED"
	PaymentRefundInitiated = "PAYMENT_REFUND_INITIATED"
	PaymentRefunded        = "PAYMENT_REFUNDED"

	DeliveryAssigned        = "DELIVERY_ASSIGNED"
	DeliveryPickedUp        = "DELIVERY_PICKED_UP"
	DeliveryInTransit       = "DELIVERY_IN_TRANSIT"
	DeliveryDelivered       = "DELIVERY_DELIVERED"
	DeliveryCancelled       = "DELIVERY_CANCELLED"
	DeliveryLocationUpdated = "DELIVERY_LOCATION_UPDATED"
)

const (
	TopicOrderCreated        = "order-created"
	TopicOrderConfirmed      = "order-confirmed"
	TopicOrderPreparing      = "order-preparing"
	TopicOrderReadyForPickup = "order-ready-for-pickup"
	TopicOrderOutForDelivery = "order-out-for-delivery"
	TopicOrderDelivered      = "order-delivered"
	TopicOrderCancelled      = "order-cancelled"
	TopicOrderEvents         = "order-events"

	TopicPaymentInitiated       = "payment-initiated"
	TopicPaymentCompleted       = "payment-completed"
	TopicPaymentFailed          = "payment-failed"
	TopicPaymentRefundInitiated = "payment-refund-initiated"
	TopicPaymentRefunded        = "payment-refunded"
	TopicPaymentEvents          = "payment-events"

	TopicDeliveryAssigned        = "delivery-assigned"
	TopicDeliveryPickedUp        = "delivery-picked-up"
	TopicDeliveryInTransit       = "delivery-in-transit"
	TopicDeliveryDelivered       = "delivery-delivered"
	TopicDeliveryCancelled       = "delivery-cancelled"
	TopicDeliveryLocationUpdated = "delivery-location-updated"
	TopicDeliveryEvents          = "delivery-events"

	deadLetterSuffix = ".dlq"
)

type route struct {
	topic  string
	mirror string
}

// routes maps each event type to its dedicated topic and the fan-in mirror.
// An empty topic means the event is only published to the mirror.
var routes = map[string]route{
	OrderCreated:        {TopicOrderCreated, TopicOrderEvents},
	OrderConfirmed:      {TopicOrderConfirmed, TopicOrderEvents},
	OrderPreparing:      {TopicOrderPreparing, TopicOrderEvents},
	OrderReadyForPickup: {TopicOrderReadyForPickup, TopicOrderEvents},
	OrderOutForDelivery: {TopicOrderOutForDelivery, TopicOrderEvents},
	OrderDelivered:      {TopicOrderDelivered, TopicOrderEvents},
	OrderCancelled:      {TopicOrderCancelled, TopicOrderEvents},
	OrderStatusChanged:  {"", TopicOrderEvents},

	PaymentInitiated:       {TopicPaymentInitiated, TopicPaymentEvents},
	PaymentCompleted:       {TopicPaymentCompleted, TopicPaymentEvents},
	PaymentFailed:          {TopicPaymentFailed, TopicPaymentEvents},
	PaymentRefundInitiated: {TopicPaymentRefundInitiated, TopicPaymentEvents},
	PaymentRefunded:        {TopicPaymentRefunded, TopicPaymentEvents},

	DeliveryAssigned:        {TopicDeliveryAssigned, TopicDeliveryEvents},
	DeliveryPickedUp:        {TopicDeliveryPickedUp, TopicDeliveryEvents},
	DeliveryInTransit:       {TopicDeliveryInTransit, TopicDeliveryEvents},
	DeliveryDelivered:       {TopicDeliveryDelivered, TopicDeliveryEvents},
	DeliveryCancelled:       {TopicDeliveryCancelled, TopicDeliveryEvents},
	DeliveryLocationUpdated: {TopicDeliveryLocationUpdated, TopicDeliveryEvents},
}

// TopicsFor returns every topic an event type is published to.
func TopicsFor(eventType string) ([]string, error) {
	r, ok := routes[eventType]
	if !ok {
		return nil, fmt.Errorf("TopicsFor: unknown event type %q", eventType)
	}
	if r.topic == "" {
		return []string{r.mirror}, nil
	}
	return []string{r.topic, r.mirror}, nil
}

// AllTopics lists every data topic in a stable order.
func AllTopics() []string {
	seen := make(map[string]struct{})
	for _, r := range routes {
		if r.topic != "" {
			seen[r.topic] = struct{}{}
		}
		seen[r.mirror] = struct{}{}
	}
	topics := make([]string, 0, len(seen))
	for t := range seen {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

func DeadLetterTopic(topic string) string {
	return topic + deadLetterSuffix
}
