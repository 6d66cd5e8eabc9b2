package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/fooddelivery-saga/internal/domain"
	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
	"github.com/josh-kwaku/fooddelivery-saga/internal/logging"
)

const reasonInvalidSignature = "invalid signature"

// Gateway is the external payment processor.
type Gateway interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, orderID int64) (string, error)
	VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) bool
	Refund(ctx context.Context, gatewayPaymentID string, amount decimal.Decimal) (string, error)
}

type paymentRepo interface {
	Create(ctx context.Context, tx *sql.Tx, p *domain.Payment) error
	GetByID(ctx context.Context, id int64) (*domain.Payment, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*domain.Payment, error)
	GetByGatewayOrderIDForUpdate(ctx context.Context, tx *sql.Tx, gatewayOrderID string) (*domain.Payment, error)
	GetLiveByOrderID(ctx context.Context, orderID int64) (*domain.Payment, error)
	Update(ctx context.Context, tx *sql.Tx, p *domain.Payment) error
}

type emitter interface {
	Emit(ctx context.Context, tx *sql.Tx, eventType string, aggregateID int64, key string, payload any) (event.Envelope, error)
}

type Service struct {
	payments       paymentRepo
	events         emitter
	gateway        Gateway
	db             *sql.DB
	gatewayTimeout time.Duration
}

func NewService(payments paymentRepo, events emitter, gateway Gateway, db *sql.DB, gatewayTimeout time.Duration) *Service {
	if gatewayTimeout <= 0 {
		gatewayTimeout = 5 * time.Second
	}
	return &Service{
		payments:       payments,
		events:         events,
		gateway:        gateway,
		db:             db,
		gatewayTimeout: gatewayTimeout,
	}
}

func (s *Service) GetPayment(ctx context.Context, paymentID int64) (*domain.Payment, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("GetPayment: %w", err)
	}
	return p, nil
}

func (s *Service) GetPaymentForUser(ctx context.Context, paymentID, userID int64) (*domain.Payment, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("GetPaymentForUser: %w", err)
	}
	if p.CustomerID != userID {
		return nil, fmt.Errorf("GetPaymentForUser: %w", domain.ErrNotFound)
	}
	return p, nil
}

type InitiateRequest struct {
	OrderID    int64
	CustomerID int64
	Amount     decimal.Decimal
	Currency   string
}

// Initiate opens a gateway intent and records the payment. A gateway error
// is recorded as a FAILED payment so the attempt stays visible, and the
// caller gets ErrGatewayUnavailable.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*domain.Payment, error) {
	log := logging.FromContext(ctx)

	if req.OrderID <= 0 || req.CustomerID <= 0 {
		return nil, fmt.Errorf("Initiate: order and customer required: %w", domain.ErrInvalidRequest)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("Initiate: %w", domain.ErrInvalidAmount)
	}
	if req.Currency == "" {
		req.Currency = domain.DefaultCurrency
	}

	if _, err := s.payments.GetLiveByOrderID(ctx, req.OrderID); err == nil {
		return nil, fmt.Errorf("Initiate: order %d: %w", req.OrderID, domain.ErrDuplicatePayment)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("Initiate: %w", err)
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	intentID, gwErr := s.gateway.CreateIntent(gctx, req.Amount, req.Currency, req.OrderID)
	cancel()

	p := &domain.Payment{
		OrderID:    req.OrderID,
		CustomerID: req.CustomerID,
		Amount:     req.Amount.Round(2),
		Currency:   req.Currency,
		Status:     domain.PaymentStatusPending,
	}
	eventType := event.PaymentInitiated
	if gwErr != nil {
		reason := gwErr.Error()
		p.Status = domain.PaymentStatusFailed
		p.FailureReason = &reason
		eventType = event.PaymentFailed
	} else {
		p.GatewayOrderID = &intentID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Initiate: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.payments.Create(ctx, tx, p); err != nil {
		return nil, fmt.Errorf("Initiate: %w", err)
	}
	if err := s.emit(ctx, tx, eventType, p, ""); err != nil {
		return nil, fmt.Errorf("Initiate: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Initiate: commit: %w", err)
	}

	if gwErr != nil {
		log.Error("gateway intent failed", "payment_id", p.ID, "order_id", p.OrderID, "error", gwErr)
		return nil, fmt.Errorf("Initiate: %w: %v", domain.ErrGatewayUnavailable, gwErr)
	}

	log.Info("payment initiated",
		"payment_id", p.ID,
		"order_id", p.OrderID,
		"gateway_order_id", intentID,
		"amount", p.Amount,
		"currency", p.Currency,
	)
	return p, nil
}

// Verify settles a payment from the gateway's callback triplet. A signature
// mismatch fails the payment for good.
func (s *Service) Verify(ctx context.Context, gatewayOrderID, gatewayPaymentID, signature string) (*domain.Payment, error) {
	log := logging.FromContext(ctx)

	if gatewayOrderID == "" || gatewayPaymentID == "" || signature == "" {
		return nil, fmt.Errorf("Verify: %w", domain.ErrInvalidRequest)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Verify: begin tx: %w", err)
	}
	defer tx.Rollback()

	p, err := s.payments.GetByGatewayOrderIDForUpdate(ctx, tx, gatewayOrderID)
	if err != nil {
		return nil, fmt.Errorf("Verify: %w", err)
	}

	if p.Status == domain.PaymentStatusCompleted && p.GatewayPaymentID != nil && *p.GatewayPaymentID == gatewayPaymentID {
		log.Info("payment already verified", "payment_id", p.ID)
		return p, nil
	}
	if p.Status != domain.PaymentStatusPending {
		return nil, fmt.Errorf("Verify: %w", domain.ErrPaymentTerminal)
	}

	if !s.gateway.VerifySignature(gatewayOrderID, gatewayPaymentID, signature) {
		if err := p.Fail(reasonInvalidSignature); err != nil {
			return nil, fmt.Errorf("Verify: %w", err)
		}
		if err := s.persist(ctx, tx, p, event.PaymentFailed, ""); err != nil {
			return nil, fmt.Errorf("Verify: %w", err)
		}
		log.Warn("payment signature rejected", "payment_id", p.ID, "gateway_order_id", gatewayOrderID)
		return nil, fmt.Errorf("Verify: %w", domain.ErrInvalidSignature)
	}

	if err := p.Complete(gatewayPaymentID, signature, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("Verify: %w", err)
	}
	if err := s.persist(ctx, tx, p, event.PaymentCompleted, ""); err != nil {
		return nil, fmt.Errorf("Verify: %w", err)
	}

	log.Info("payment completed", "payment_id", p.ID, "order_id", p.OrderID, "gateway_payment_id", gatewayPaymentID)
	return p, nil
}

// Fail records a decline reported by the gateway.
func (s *Service) Fail(ctx context.Context, gatewayOrderID, reason string) (*domain.Payment, error) {
	if gatewayOrderID == "" {
		return nil, fmt.Errorf("Fail: %w", domain.ErrInvalidRequest)
	}
	if reason == "" {
		reason = "declined by gateway"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Fail: begin tx: %w", err)
	}
	defer tx.Rollback()

	p, err := s.payments.GetByGatewayOrderIDForUpdate(ctx, tx, gatewayOrderID)
	if err != nil {
		return nil, fmt.Errorf("Fail: %w", err)
	}
	if err := p.Fail(reason); err != nil {
		return nil, fmt.Errorf("Fail: %w", err)
	}
	if err := s.persist(ctx, tx, p, event.PaymentFailed, ""); err != nil {
		return nil, fmt.Errorf("Fail: %w", err)
	}

	logging.FromContext(ctx).Info("payment failed", "payment_id", p.ID, "order_id", p.OrderID, "reason", reason)
	return p, nil
}

type RefundRequest struct {
	PaymentID int64
	// Amount zero refunds the whole payment.
	Amount decimal.Decimal
	Reason string
}

// Refund runs in two transactions around the gateway call so that
// PAYMENT_REFUND_INITIATED is durable before money moves.
func (s *Service) Refund(ctx context.Context, req RefundRequest) (*domain.Payment, error) {
	log := logging.FromContext(ctx)

	p, amount, err := s.beginRefund(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Refund: %w", err)
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	refundID, gwErr := s.gateway.Refund(gctx, *p.GatewayPaymentID, amount)
	cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Refund: begin tx: %w", err)
	}
	defer tx.Rollback()

	p, err = s.payments.GetForUpdate(ctx, tx, req.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("Refund: %w", err)
	}

	if gwErr != nil {
		if err := p.AbortRefund(gwErr.Error()); err != nil {
			return nil, fmt.Errorf("Refund: %w", err)
		}
		if err := s.payments.Update(ctx, tx, p); err != nil {
			return nil, fmt.Errorf("Refund: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("Refund: commit: %w", err)
		}
		log.Error("gateway refund failed", "payment_id", p.ID, "error", gwErr)
		return nil, fmt.Errorf("Refund: %w: %v", domain.ErrGatewayUnavailable, gwErr)
	}

	if err := p.CompleteRefund(refundID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("Refund: %w", err)
	}
	if err := s.persist(ctx, tx, p, event.PaymentRefunded, req.Reason); err != nil {
		return nil, fmt.Errorf("Refund: %w", err)
	}

	log.Info("payment refunded", "payment_id", p.ID, "order_id", p.OrderID, "amount", amount, "refund_id", refundID)
	return p, nil
}

func (s *Service) beginRefund(ctx context.Context, req RefundRequest) (*domain.Payment, decimal.Decimal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("beginRefund: begin tx: %w", err)
	}
	defer tx.Rollback()

	p, err := s.payments.GetForUpdate(ctx, tx, req.PaymentID)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("beginRefund: %w", err)
	}
	if p.GatewayPaymentID == nil && p.Status == domain.PaymentStatusCompleted {
		return nil, decimal.Zero, fmt.Errorf("beginRefund: no gateway payment: %w", domain.ErrIllegalState)
	}
	amount, err := p.BeginRefund(req.Amount)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("beginRefund: %w", err)
	}
	if err := s.persist(ctx, tx, p, event.PaymentRefundInitiated, req.Reason); err != nil {
		return nil, decimal.Zero, fmt.Errorf("beginRefund: %w", err)
	}
	return p, amount, nil
}

// persist writes p, stages eventType and commits tx.
func (s *Service) persist(ctx context.Context, tx *sql.Tx, p *domain.Payment, eventType, reason string) error {
	if err := s.payments.Update(ctx, tx, p); err != nil {
		return err
	}
	if err := s.emit(ctx, tx, eventType, p, reason); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Service) emit(ctx context.Context, tx *sql.Tx, eventType string, p *domain.Payment, reason string) error {
	payload := event.PaymentSnapshot(p)
	payload.RefundReason = reason
	_, err := s.events.Emit(ctx, tx, eventType, p.ID, event.Key(p.OrderID), payload)
	return err
}
