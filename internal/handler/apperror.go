package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken     = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken     = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrForbidden        = &AppError{http.StatusForbidden, "FORBIDDEN", "Not allowed for this user"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInvalidAmount      = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be greater than zero"}
	ErrEmptyOrder         = &AppError{http.StatusBadRequest, "EMPTY_ORDER", "Order must contain at least one item"}
	ErrInvalidCoordinates = &AppError{http.StatusBadRequest, "INVALID_COORDINATES", "Latitude or longitude out of range"}
	ErrInvalidTransition  = &AppError{http.StatusConflict, "INVALID_TRANSITION", "Status transition not allowed"}
	ErrIllegalState       = &AppError{http.StatusConflict, "ILLEGAL_STATE", "Operation not allowed in the current state"}
	ErrTooLateToCancel    = &AppError{http.StatusConflict, "TOO_LATE_TO_CANCEL", "Order can no longer be cancelled"}
	ErrOrderTerminal      = &AppError{http.StatusConflict, "ORDER_TERMINAL", "Order already in terminal state"}
	ErrPaymentInProgress  = &AppError{http.StatusConflict, "PAYMENT_IN_PROGRESS", "Payment in progress, try again once it settles"}
	ErrDuplicatePayment   = &AppError{http.StatusConflict, "DUPLICATE_PAYMENT", "A payment is already in progress for this order"}
	ErrPaymentTerminal    = &AppError{http.StatusConflict, "PAYMENT_TERMINAL", "Payment already in terminal state"}
	ErrInvalidSignature   = &AppError{http.StatusBadRequest, "INVALID_SIGNATURE", "Payment signature verification failed"}
	ErrRefundExceeds      = &AppError{http.StatusUnprocessableEntity, "REFUND_EXCEEDS_PAYMENT", "Refund amount exceeds payment amount"}
	ErrGatewayUnavailable = &AppError{http.StatusBadGateway, "GATEWAY_UNAVAILABLE", "Payment gateway unavailable"}
	ErrAlreadyAssigned    = &AppError{http.StatusConflict, "ALREADY_ASSIGNED", "Delivery already assigned to another agent"}
	ErrAgentRequired      = &AppError{http.StatusConflict, "AGENT_REQUIRED", "Delivery has no agent assigned"}
)
