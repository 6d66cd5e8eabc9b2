package app

import (
	"context"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
	"github.com/josh-kwaku/fooddelivery-saga/internal/handler"
	"github.com/josh-kwaku/fooddelivery-saga/internal/idempotency"
	"github.com/josh-kwaku/fooddelivery-saga/internal/outbox"
	"github.com/josh-kwaku/fooddelivery-saga/internal/repository"
	"github.com/josh-kwaku/fooddelivery-saga/internal/service/delivery"
	"github.com/josh-kwaku/fooddelivery-saga/internal/service/notification"
	"github.com/josh-kwaku/fooddelivery-saga/internal/service/order"
	"github.com/josh-kwaku/fooddelivery-saga/internal/service/payment"
)

func NewOrder(d Deps) (*Service, *order.Service) {
	s := newService("order", order.ConsumerGroup, d)

	store := repository.NewOutboxRepository(d.DB, repository.SchemaOrders)
	ledger := repository.NewLedgerRepository(d.DB, repository.SchemaOrders)
	svc := order.NewService(
		repository.NewOrderRepository(d.DB),
		outbox.NewWriter(store, event.SourceOrder),
		idempotency.NewGuard(d.DB, ledger, order.ConsumerGroup),
		d.DB,
	)
	svc.Register(s.Registry)
	s.withOutbox(d, store, event.SourceOrder, ledger)

	h := handler.NewOrderHandler(svc)
	s.routes = func(mux *http.ServeMux) {
		mux.HandleFunc("POST /api/v1/orders", h.Create)
		mux.HandleFunc("GET /api/v1/orders", h.List)
		mux.HandleFunc("GET /api/v1/orders/{id}", h.Get)
		mux.HandleFunc("PATCH /api/v1/orders/{id}/status", h.UpdateStatus)
		mux.HandleFunc("POST /api/v1/orders/{id}/cancel", h.Cancel)
	}
	return s, svc
}

// NewPayment builds the payment participant. It consumes nothing; every
// transition is driven by the customer or the gateway callback.
func NewPayment(d Deps, gw payment.Gateway) (*Service, *payment.Service) {
	s := newService("payment", event.SourcePayment, d)

	store := repository.NewOutboxRepository(d.DB, repository.SchemaPayments)
	svc := payment.NewService(
		repository.NewPaymentRepository(d.DB),
		outbox.NewWriter(store, event.SourcePayment),
		gw,
		d.DB,
		d.Config.GatewayTimeout,
	)
	s.withOutbox(d, store, event.SourcePayment, nil)

	h := handler.NewPaymentHandler(svc)
	s.routes = func(mux *http.ServeMux) {
		mux.HandleFunc("POST /api/v1/payments", h.Initiate)
		mux.HandleFunc("POST /api/v1/payments/verify", h.Verify)
		mux.HandleFunc("POST /api/v1/payments/fail", h.Fail)
		mux.HandleFunc("POST /api/v1/payments/{id}/refund", h.Refund)
		mux.HandleFunc("GET /api/v1/payments/{id}", h.Get)
	}
	return s, svc
}

func NewDelivery(d Deps) (*Service, *delivery.Service) {
	s := newService("delivery", delivery.ConsumerGroup, d)

	store := repository.NewOutboxRepository(d.DB, repository.SchemaDeliveries)
	ledger := repository.NewLedgerRepository(d.DB, repository.SchemaDeliveries)
	svc := delivery.NewService(
		repository.NewDeliveryRepository(d.DB),
		outbox.NewWriter(store, event.SourceDelivery),
		idempotency.NewGuard(d.DB, ledger, delivery.ConsumerGroup),
		d.DB,
	)
	svc.Register(s.Registry)
	s.withOutbox(d, store, event.SourceDelivery, ledger)

	h := handler.NewDeliveryHandler(svc)
	s.routes = func(mux *http.ServeMux) {
		mux.HandleFunc("GET /api/v1/deliveries/available", h.ListAvailable)
		mux.HandleFunc("GET /api/v1/deliveries/{id}", h.Get)
		mux.HandleFunc("POST /api/v1/deliveries/{id}/accept", h.Accept)
		mux.HandleFunc("POST /api/v1/deliveries/{id}/release", h.Release)
		mux.HandleFunc("PATCH /api/v1/deliveries/{id}/status", h.UpdateStatus)
		mux.HandleFunc("PUT /api/v1/deliveries/{id}/location", h.UpdateLocation)
	}
	return s, svc
}

// NewNotification builds the stateless notifier. d.DB may be nil.
func NewNotification(d Deps, sink notification.Sink, dedup notification.Deduper) (*Service, *notification.Service) {
	s := newService("notification", notification.ConsumerGroup, d)
	svc := notification.NewService(sink, dedup)
	svc.Register(s.Registry)

	h := handler.NewNotificationHandler(svc)
	s.routes = func(mux *http.ServeMux) {
		mux.HandleFunc("GET /api/v1/notifications", h.List)
	}
	return s, svc
}

// AddCheck adds a dependency to the readiness probe.
func (s *Service) AddCheck(name string, p handler.Pinger) {
	s.checks[name] = p
}

type redisPinger struct {
	client redis.UniversalClient
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func RedisPinger(client redis.UniversalClient) handler.Pinger {
	return redisPinger{client: client}
}
