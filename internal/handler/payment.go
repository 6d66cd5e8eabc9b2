package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/fooddelivery-saga/internal/auth"
	"github.com/josh-kwaku/fooddelivery-saga/internal/domain"
	"github.com/josh-kwaku/fooddelivery-saga/internal/logging"
	"github.com/josh-kwaku/fooddelivery-saga/internal/service/payment"
)

type paymentService interface {
	Initiate(ctx context.Context, req payment.InitiateRequest) (*domain.Payment, error)
	Verify(ctx context.Context, gatewayOrderID, gatewayPaymentID, signature string) (*domain.Payment, error)
	Fail(ctx context.Context, gatewayOrderID, reason string) (*domain.Payment, error)
	Refund(ctx context.Context, req payment.RefundRequest) (*domain.Payment, error)
	GetPaymentForUser(ctx context.Context, paymentID, userID int64) (*domain.Payment, error)
}

type PaymentHandler struct {
	payments paymentService
}

func NewPaymentHandler(payments paymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type initiatePaymentRequest struct {
	OrderID  int64           `json:"order_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (r initiatePaymentRequest) Validate() []FieldError {
	var errs []FieldError
	if r.OrderID <= 0 {
		errs = append(errs, FieldError{Field: "order_id", Message: "required"})
	}
	if !r.Amount.IsPositive() {
		errs = append(errs, FieldError{Field: "amount", Message: "must be greater than 0"})
	}
	if r.Currency != "" && len(r.Currency) != 3 {
		errs = append(errs, FieldError{Field: "currency", Message: "must be a 3-letter code"})
	}
	return errs
}

type verifyPaymentRequest struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

func (r verifyPaymentRequest) Validate() []FieldError {
	var errs []FieldError
	if r.GatewayOrderID == "" {
		errs = append(errs, FieldError{Field: "gateway_order_id", Message: "required"})
	}
	if r.GatewayPaymentID == "" {
		errs = append(errs, FieldError{Field: "gateway_payment_id", Message: "required"})
	}
	if r.Signature == "" {
		errs = append(errs, FieldError{Field: "signature", Message: "required"})
	}
	return errs
}

type failPaymentRequest struct {
	GatewayOrderID string `json:"gateway_order_id"`
	Reason         string `json:"reason"`
}

type refundPaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

type paymentDTO struct {
	ID               int64            `json:"id"`
	OrderID          int64            `json:"order_id"`
	CustomerID       int64            `json:"customer_id"`
	Amount           string           `json:"amount"`
	Currency         string           `json:"currency"`
	Status           string           `json:"status"`
	GatewayOrderID   *string          `json:"gateway_order_id"`
	GatewayPaymentID *string          `json:"gateway_payment_id,omitempty"`
	RefundID         *string          `json:"refund_id,omitempty"`
	RefundAmount     *decimal.Decimal `json:"refund_amount,omitempty"`
	FailureReason    *string          `json:"failure_reason,omitempty"`
	PaidAt           *time.Time       `json:"paid_at,omitempty"`
	RefundedAt       *time.Time       `json:"refunded_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

func toPaymentDTO(p *domain.Payment) paymentDTO {
	return paymentDTO{
		ID:               p.ID,
		OrderID:          p.OrderID,
		CustomerID:       p.CustomerID,
		Amount:           p.Amount.StringFixed(2),
		Currency:         p.Currency,
		Status:           string(p.Status),
		GatewayOrderID:   p.GatewayOrderID,
		GatewayPaymentID: p.GatewayPaymentID,
		RefundID:         p.RefundID,
		RefundAmount:     p.RefundAmount,
		FailureReason:    p.FailureReason,
		PaidAt:           p.PaidAt,
		RefundedAt:       p.RefundedAt,
		CreatedAt:        p.CreatedAt,
	}
}

func (h *PaymentHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	claims, appErr := requireClaims(r, auth.RoleCustomer)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req initiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	p, err := h.payments.Initiate(r.Context(), payment.InitiateRequest{
		OrderID:    req.OrderID,
		CustomerID: claims.UserID,
		Amount:     req.Amount,
		Currency:   req.Currency,
	})
	if err != nil {
		log.Warn("payment initiation failed", "order_id", req.OrderID, "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/payments/%d", p.ID))
	RespondSuccess(w, http.StatusCreated, toPaymentDTO(p))
}

// Verify is called by the checkout client with the gateway's callback
// triplet. The signature, not the caller, is what authenticates it.
func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	p, err := h.payments.Verify(r.Context(), req.GatewayOrderID, req.GatewayPaymentID, req.Signature)
	if err != nil {
		log.Warn("payment verification failed", "gateway_order_id", req.GatewayOrderID, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toPaymentDTO(p))
}

func (h *PaymentHandler) Fail(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req failPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if req.GatewayOrderID == "" {
		RespondValidationError(w, []FieldError{{Field: "gateway_order_id", Message: "required"}})
		return
	}

	p, err := h.payments.Fail(r.Context(), req.GatewayOrderID, req.Reason)
	if err != nil {
		log.Warn("payment failure report rejected", "gateway_order_id", req.GatewayOrderID, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toPaymentDTO(p))
}

func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	claims, appErr := requireClaims(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	paymentID, appErr := idFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req refundPaymentRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			RespondAppError(w, ErrInvalidRequest, nil)
			return
		}
	}
	if req.Amount.IsNegative() {
		RespondValidationError(w, []FieldError{{Field: "amount", Message: "must not be negative"}})
		return
	}

	if _, err := h.payments.GetPaymentForUser(r.Context(), paymentID, claims.UserID); err != nil {
		RespondDomainError(w, err)
		return
	}

	p, err := h.payments.Refund(r.Context(), payment.RefundRequest{
		PaymentID: paymentID,
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		log.Warn("refund failed", "payment_id", paymentID, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toPaymentDTO(p))
}

func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, appErr := requireClaims(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	paymentID, appErr := idFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	p, err := h.payments.GetPaymentForUser(r.Context(), paymentID, claims.UserID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toPaymentDTO(p))
}
