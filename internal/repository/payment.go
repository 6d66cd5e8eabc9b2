package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/josh-kwaku/fooddelivery-saga/internal/domain"
)

const paymentColumns = `id, order_id, customer_id, amount, currency, status,
	gateway_order_id, gateway_payment_id, signature, refund_id, refund_amount,
	failure_reason, paid_at, refunded_at, created_at, updated_at`

type PaymentRepository struct {
	db    *sql.DB
	table string
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db, table: table(SchemaPayments, "payments")}
}

// Create inserts p and fills in its id. A second live payment for the same
// order violates uq_payments_live_order and surfaces as ErrDuplicatePayment.
func (r *PaymentRepository) Create(ctx context.Context, tx *sql.Tx, p *domain.Payment) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO `+r.table+` (
			order_id, customer_id, amount, currency, status,
			gateway_order_id, gateway_payment_id, signature, failure_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`,
		p.OrderID, p.CustomerID, p.Amount, p.Currency, p.Status,
		p.GatewayOrderID, p.GatewayPaymentID, p.Signature, p.FailureReason,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if IsDuplicateKey(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicatePayment)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM `+r.table+` WHERE id = $1`, id,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*domain.Payment, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM `+r.table+` WHERE id = $1 FOR UPDATE`, id,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) GetByGatewayOrderIDForUpdate(ctx context.Context, tx *sql.Tx, gatewayOrderID string) (*domain.Payment, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM `+r.table+` WHERE gateway_order_id = $1 FOR UPDATE`, gatewayOrderID,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByGatewayOrderIDForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByGatewayOrderIDForUpdate: %w", err)
	}
	return p, nil
}

// GetLiveByOrderID returns the payment currently blocking a new one for orderID.
func (r *PaymentRepository) GetLiveByOrderID(ctx context.Context, orderID int64) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM `+r.table+`
		WHERE order_id = $1 AND status IN ($2, $3, $4)`,
		orderID, domain.PaymentStatusPending, domain.PaymentStatusCompleted, domain.PaymentStatusRefundInitiated,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetLiveByOrderID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetLiveByOrderID: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) Update(ctx context.Context, tx *sql.Tx, p *domain.Payment) error {
	err := tx.QueryRowContext(ctx,
		`UPDATE `+r.table+` SET status = $1, gateway_payment_id = $2, signature = $3,
			refund_id = $4, refund_amount = $5, failure_reason = $6,
			paid_at = $7, refunded_at = $8, updated_at = now()
		WHERE id = $9
		RETURNING updated_at`,
		p.Status, p.GatewayPaymentID, p.Signature,
		p.RefundID, p.RefundAmount, p.FailureReason,
		p.PaidAt, p.RefundedAt, p.ID,
	).Scan(&p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("Update: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("Update: %w", err)
	}
	return nil
}

func scanPayment(s scanner) (*domain.Payment, error) {
	var p domain.Payment
	err := s.Scan(
		&p.ID, &p.OrderID, &p.CustomerID, &p.Amount, &p.Currency, &p.Status,
		&p.GatewayOrderID, &p.GatewayPaymentID, &p.Signature, &p.RefundID, &p.RefundAmount,
		&p.FailureReason, &p.PaidAt, &p.RefundedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
