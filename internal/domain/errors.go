package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrEmptyOrder         = errors.New("order must contain at least one item")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrIllegalState       = errors.New("illegal state")
	ErrForbidden          = errors.New("forbidden")
	ErrStaleEvent         = errors.New("stale event")
	ErrDuplicatePayment   = errors.New("duplicate payment")
	ErrPaymentTerminal    = errors.New("payment already in terminal state")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrRefundExceeds      = errors.New("refund amount exceeds payment amount")
	ErrAlreadyAssigned    = errors.New("delivery already assigned to another agent")
	ErrAgentRequired      = errors.New("delivery has no agent assigned")
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrDuplicateDelivery  = errors.New("delivery already exists for order")

	ErrOrderAlreadyTerminal = fmt.Errorf("%w: order already in terminal state", ErrIllegalState)
	ErrTooLateToCancel      = fmt.Errorf("%w: order can no longer be cancelled", ErrIllegalState)
	ErrPaymentNotCompleted  = fmt.Errorf("%w: payment not completed", ErrIllegalState)
)

// TransitionError reports a rejected state machine move. It matches
// ErrInvalidTransition under errors.Is.
type TransitionError struct {
	Aggregate string
	From      string
	To        string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot transition from %s to %s", e.Aggregate, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
