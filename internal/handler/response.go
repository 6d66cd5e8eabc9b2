package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/josh-kwaku/fooddelivery-saga/internal/domain"
)

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func RespondSuccess(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
		Error:   nil,
	})
}

func RespondAppError(w http.ResponseWriter, appErr *AppError, details any) {
	RespondJSON(w, appErr.Status, APIResponse{
		Success: false,
		Data:    nil,
		Error: &APIError{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: details,
		},
	})
}

func RespondValidationError(w http.ResponseWriter, fields []FieldError) {
	RespondAppError(w, ErrValidationFailed, fields)
}

// RespondDomainError maps a service error onto its HTTP shape. More specific
// sentinels are matched before the ones they wrap.
func RespondDomainError(w http.ResponseWriter, err error) {
	var appErr *AppError
	var transition *domain.TransitionError

	switch {
	case errors.Is(err, domain.ErrNotFound):
		appErr = ErrResourceNotFound
	case errors.Is(err, domain.ErrForbidden):
		appErr = ErrForbidden
	case errors.Is(err, domain.ErrInvalidAmount):
		appErr = ErrInvalidAmount
	case errors.Is(err, domain.ErrEmptyOrder):
		appErr = ErrEmptyOrder
	case errors.Is(err, domain.ErrInvalidCoordinates):
		appErr = ErrInvalidCoordinates
	case errors.Is(err, domain.ErrDuplicatePayment):
		appErr = ErrDuplicatePayment
	case errors.Is(err, domain.ErrPaymentTerminal):
		appErr = ErrPaymentTerminal
	case errors.Is(err, domain.ErrInvalidSignature):
		appErr = ErrInvalidSignature
	case errors.Is(err, domain.ErrRefundExceeds):
		appErr = ErrRefundExceeds
	case errors.Is(err, domain.ErrGatewayUnavailable):
		appErr = ErrGatewayUnavailable
	case errors.Is(err, domain.ErrAlreadyAssigned):
		appErr = ErrAlreadyAssigned
	case errors.Is(err, domain.ErrAgentRequired):
		appErr = ErrAgentRequired
	case errors.As(err, &transition):
		RespondAppError(w, ErrInvalidTransition, map[string]string{"from": transition.From, "to": transition.To})
		return
	case errors.Is(err, domain.ErrInvalidTransition):
		appErr = ErrInvalidTransition
	case errors.Is(err, domain.ErrTooLateToCancel):
		appErr = ErrTooLateToCancel
	case errors.Is(err, domain.ErrOrderAlreadyTerminal):
		appErr = ErrOrderTerminal
	case errors.Is(err, domain.ErrPaymentInProgress):
		appErr = ErrPaymentInProgress
	case errors.Is(err, domain.ErrIllegalState):
		appErr = ErrIllegalState
	case errors.Is(err, domain.ErrInvalidRequest):
		appErr = ErrInvalidRequest
	default:
		slog.Error("unhandled domain error", "error", err)
		appErr = ErrInternalError
	}

	RespondAppError(w, appErr, nil)
}
