package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/josh-kwaku/fooddelivery-saga/internal/auth"
	"github.com/josh-kwaku/fooddelivery-saga/internal/domain"
	"github.com/josh-kwaku/fooddelivery-saga/internal/logging"
)

type deliveryService interface {
	GetDelivery(ctx context.Context, deliveryID int64) (*domain.Delivery, error)
	ListAvailable(ctx context.Context, limit int) ([]domain.Delivery, error)
	Accept(ctx context.Context, deliveryID, agentID int64) (*domain.Delivery, error)
	UpdateStatus(ctx context.Context, deliveryID int64, to domain.DeliveryStatus) (*domain.Delivery, error)
	UpdateAgentLocation(ctx context.Context, deliveryID int64, lat, lon float64) (*domain.Delivery, error)
	Release(ctx context.Context, deliveryID, agentID int64) (*domain.Delivery, error)
}

type DeliveryHandler struct {
	deliveries deliveryService
}

func NewDeliveryHandler(deliveries deliveryService) *DeliveryHandler {
	return &DeliveryHandler{deliveries: deliveries}
}

type updateDeliveryStatusRequest struct {
	Status string `json:"status"`
}

type updateLocationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type deliveryDTO struct {
	ID                 int64      `json:"id"`
	OrderID            int64      `json:"order_id"`
	RestaurantID       int64      `json:"restaurant_id"`
	CustomerID         int64      `json:"customer_id"`
	AgentID            *int64     `json:"agent_id"`
	Status             string     `json:"status"`
	PickupAddress      string     `json:"pickup_address"`
	DeliveryAddress    string     `json:"delivery_address"`
	DeliveryFee        string     `json:"delivery_fee"`
	AgentLatitude      *float64   `json:"agent_latitude,omitempty"`
	AgentLongitude     *float64   `json:"agent_longitude,omitempty"`
	DistanceKm         *float64   `json:"distance_km,omitempty"`
	EstimatedMinutes   *int       `json:"estimated_minutes,omitempty"`
	PickupTime         *time.Time `json:"pickup_time,omitempty"`
	DeliveryTime       *time.Time `json:"delivery_time,omitempty"`
	LastLocationUpdate *time.Time `json:"last_location_update,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func toDeliveryDTO(d *domain.Delivery) deliveryDTO {
	return deliveryDTO{
		ID:                 d.ID,
		OrderID:            d.OrderID,
		RestaurantID:       d.RestaurantID,
		CustomerID:         d.CustomerID,
		AgentID:            d.AgentID,
		Status:             string(d.Status),
		PickupAddress:      d.PickupAddress,
		DeliveryAddress:    d.DeliveryAddress,
		DeliveryFee:        d.DeliveryFee.StringFixed(2),
		AgentLatitude:      d.AgentLatitude,
		AgentLongitude:     d.AgentLongitude,
		DistanceKm:         d.DistanceKm,
		EstimatedMinutes:   d.EstimatedMinutes,
		PickupTime:         d.PickupTime,
		DeliveryTime:       d.DeliveryTime,
		LastLocationUpdate: d.LastLocationUpdate,
		CreatedAt:          d.CreatedAt,
	}
}

// visibleTo reports whether the caller may see d: its customer, its
// restaurant, its agent, or any agent while it is still unassigned.
func visibleTo(d *domain.Delivery, claims *auth.Claims) bool {
	switch claims.UserID {
	case d.CustomerID, d.RestaurantID:
		return true
	}
	if d.AgentID != nil {
		return *d.AgentID == claims.UserID
	}
	return claims.Role == auth.RoleAgent
}

// ownedByAgent loads the delivery and checks it belongs to the calling agent.
func (h *DeliveryHandler) ownedByAgent(w http.ResponseWriter, r *http.Request) (int64, bool) {
	claims, appErr := requireClaims(r, auth.RoleAgent)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return 0, false
	}
	deliveryID, appErr := idFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return 0, false
	}
	d, err := h.deliveries.GetDelivery(r.Context(), deliveryID)
	if err != nil {
		RespondDomainError(w, err)
		return 0, false
	}
	if d.AgentID == nil || *d.AgentID != claims.UserID {
		RespondAppError(w, ErrForbidden, nil)
		return 0, false
	}
	return deliveryID, true
}

func (h *DeliveryHandler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	if _, appErr := requireClaims(r, auth.RoleAgent); appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	deliveries, err := h.deliveries.ListAvailable(r.Context(), limit)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	dtos := make([]deliveryDTO, 0, len(deliveries))
	for i := range deliveries {
		dtos = append(dtos, toDeliveryDTO(&deliveries[i]))
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func (h *DeliveryHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, appErr := requireClaims(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	deliveryID, appErr := idFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	d, err := h.deliveries.GetDelivery(r.Context(), deliveryID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	if !visibleTo(d, claims) {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}
	RespondSuccess(w, http.StatusOK, toDeliveryDTO(d))
}

func (h *DeliveryHandler) Accept(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	claims, appErr := requireClaims(r, auth.RoleAgent)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	deliveryID, appErr := idFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	d, err := h.deliveries.Accept(r.Context(), deliveryID, claims.UserID)
	if err != nil {
		log.Warn("delivery accept failed", "delivery_id", deliveryID, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toDeliveryDTO(d))
}

// Release lets the bound agent hand an unpicked delivery back to the pool.
func (h *DeliveryHandler) Release(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	claims, appErr := requireClaims(r, auth.RoleAgent)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	deliveryID, appErr := idFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	d, err := h.deliveries.Release(r.Context(), deliveryID, claims.UserID)
	if err != nil {
		log.Warn("delivery release failed", "delivery_id", deliveryID, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toDeliveryDTO(d))
}

func (h *DeliveryHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	deliveryID, ok := h.ownedByAgent(w, r)
	if !ok {
		return
	}

	var req updateDeliveryStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	status, err := domain.ParseDeliveryStatus(req.Status)
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "status", Message: "unknown delivery status"}})
		return
	}

	d, err := h.deliveries.UpdateStatus(r.Context(), deliveryID, status)
	if err != nil {
		log.Warn("delivery status update failed", "delivery_id", deliveryID, "status", status, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toDeliveryDTO(d))
}

func (h *DeliveryHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	deliveryID, ok := h.ownedByAgent(w, r)
	if !ok {
		return
	}

	var req updateLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		RespondValidationError(w, []FieldError{{Field: "latitude", Message: "latitude and longitude required"}})
		return
	}

	d, err := h.deliveries.UpdateAgentLocation(r.Context(), deliveryID, *req.Latitude, *req.Longitude)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toDeliveryDTO(d))
}
