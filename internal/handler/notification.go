package handler

import (
	"context"
	"net/http"

	"github.com/josh-kwaku/fooddelivery-saga/internal/service/notification"
)

type notificationService interface {
	Recent(ctx context.Context, userID int64, limit int) ([]notification.Notification, error)
}

type NotificationHandler struct {
	notifications notificationService
}

func NewNotificationHandler(notifications notificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// List returns the caller's recent notifications, newest first.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, appErr := requireClaims(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	out, err := h.notifications.Recent(r.Context(), claims.UserID, limit)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, out)
}
