package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending         PaymentStatus = "PENDING"
	PaymentStatusCompleted       PaymentStatus = "COMPLETED"
	PaymentStatusFailed          PaymentStatus = "FAILED"
	PaymentStatusRefundInitiated PaymentStatus = "REFUND_INITIATED"
	PaymentStatusRefunded        PaymentStatus = "REFUNDED"
)

const DefaultCurrency = "USD"

type Payment struct {
	ID               int64
	OrderID          int64
	CustomerID       int64
	Amount           decimal.Decimal
	Currency         string
	Status           PaymentStatus
	GatewayOrderID   *string
	GatewayPaymentID *string
	Signature        *string
	RefundID         *string
	RefundAmount     *decimal.Decimal
	FailureReason    *string
	PaidAt           *time.Time
	RefundedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsLive reports whether the payment still blocks a new one for the same order.
func (p *Payment) IsLive() bool {
	switch p.Status {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusRefundInitiated:
		return true
	}
	return false
}

func (p *Payment) transitionError(to PaymentStatus) error {
	return &TransitionError{Aggregate: "payment", From: string(p.Status), To: string(to)}
}

func (p *Payment) Complete(gatewayPaymentID, signature string, at time.Time) error {
	if p.Status != PaymentStatusPending {
		return ErrPaymentTerminal
	}
	p.Status = PaymentStatusCompleted
	p.GatewayPaymentID = &gatewayPaymentID
	p.Signature = &signature
	p.PaidAt = &at
	return nil
}

func (p *Payment) Fail(reason string) error {
	if p.Status != PaymentStatusPending {
		return ErrPaymentTerminal
	}
	p.Status = PaymentStatusFailed
	p.FailureReason = &reason
	return nil
}

// BeginRefund validates the requested amount and marks the refund as in flight.
// A zero amount refunds the full payment.
func (p *Payment) BeginRefund(amount decimal.Decimal) (decimal.Decimal, error) {
	if p.Status != PaymentStatusCompleted {
		return decimal.Zero, p.transitionError(PaymentStatusRefundInitiated)
	}
	if amount.IsZero() {
		amount = p.Amount
	}
	if amount.IsNegative() {
		return decimal.Zero, ErrInvalidAmount
	}
	if amount.GreaterThan(p.Amount) {
		return decimal.Zero, ErrRefundExceeds
	}
	p.Status = PaymentStatusRefundInitiated
	p.RefundAmount = &amount
	return amount, nil
}

func (p *Payment) CompleteRefund(refundID string, at time.Time) error {
	if p.Status != PaymentStatusRefundInitiated {
		return p.transitionError(PaymentStatusRefunded)
	}
	p.Status = PaymentStatusRefunded
	p.RefundID = &refundID
	p.RefundedAt = &at
	return nil
}

// AbortRefund returns the payment to COMPLETED after the gateway rejected the refund.
func (p *Payment) AbortRefund(reason string) error {
	if p.Status != PaymentStatusRefundInitiated {
		return p.transitionError(PaymentStatusCompleted)
	}
	p.Status = PaymentStatusCompleted
	p.RefundAmount = nil
	p.FailureReason = &reason
	return nil
}
