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
	"github.com/josh-kwaku/fooddelivery-saga/internal/service/order"
)

type orderService interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*domain.Order, error)
	GetOrderForUser(ctx context.Context, orderID, userID int64) (*domain.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, to domain.OrderStatus) (*domain.Order, error)
	CancelOrder(ctx context.Context, orderID, requesterID int64, reason string) (*domain.Order, error)
	ListForCustomer(ctx context.Context, customerID int64, limit int) ([]domain.Order, error)
	ListForRestaurant(ctx context.Context, restaurantID int64, limit int) ([]domain.Order, error)
}

type OrderHandler struct {
	orders orderService
}

func NewOrderHandler(orders orderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

type orderItemRequest struct {
	MenuItemID int64           `json:"menu_item_id"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

type placeOrderRequest struct {
	RestaurantID      int64              `json:"restaurant_id"`
	Items             []orderItemRequest `json:"items"`
	DeliveryAddress   string             `json:"delivery_address"`
	PickupAddress     string             `json:"pickup_address"`
	DeliveryLatitude  *float64           `json:"delivery_latitude"`
	DeliveryLongitude *float64           `json:"delivery_longitude"`
}

func (r placeOrderRequest) Validate() []FieldError {
	var errs []FieldError

	if r.RestaurantID <= 0 {
		errs = append(errs, FieldError{Field: "restaurant_id", Message: "required"})
	}
	if r.DeliveryAddress == "" {
		errs = append(errs, FieldError{Field: "delivery_address", Message: "required"})
	}
	if len(r.Items) == 0 {
		errs = append(errs, FieldError{Field: "items", Message: "must contain at least one item"})
	}
	for i, item := range r.Items {
		if item.Quantity <= 0 {
			errs = append(errs, FieldError{Field: fmt.Sprintf("items[%d].quantity", i), Message: "must be greater than 0"})
		}
		if !item.UnitPrice.IsPositive() {
			errs = append(errs, FieldError{Field: fmt.Sprintf("items[%d].unit_price", i), Message: "must be greater than 0"})
		}
	}
	if (r.DeliveryLatitude == nil) != (r.DeliveryLongitude == nil) {
		errs = append(errs, FieldError{Field: "delivery_latitude", Message: "latitude and longitude must be sent together"})
	}

	return errs
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type orderDTO struct {
	ID                int64              `json:"id"`
	CustomerID        int64              `json:"customer_id"`
	RestaurantID      int64              `json:"restaurant_id"`
	Status            string             `json:"status"`
	PaymentStatus     string             `json:"payment_status"`
	PaymentID         *int64             `json:"payment_id"`
	Items             []domain.OrderItem `json:"items"`
	Subtotal          string             `json:"subtotal"`
	DeliveryFee       string             `json:"delivery_fee"`
	Tax               string             `json:"tax"`
	Total             string             `json:"total"`
	DeliveryAddress   string             `json:"delivery_address"`
	PickupAddress     string             `json:"pickup_address"`
	DeliveryLatitude  *float64           `json:"delivery_latitude,omitempty"`
	DeliveryLongitude *float64           `json:"delivery_longitude,omitempty"`
	CancelReason      *string            `json:"cancel_reason,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

func toOrderDTO(o *domain.Order) orderDTO {
	return orderDTO{
		ID:                o.ID,
		CustomerID:        o.CustomerID,
		RestaurantID:      o.RestaurantID,
		Status:            string(o.Status),
		PaymentStatus:     string(o.PaymentStatus),
		PaymentID:         o.PaymentID,
		Items:             o.Items,
		Subtotal:          o.Subtotal.StringFixed(2),
		DeliveryFee:       o.DeliveryFee.StringFixed(2),
		Tax:               o.Tax.StringFixed(2),
		Total:             o.Total.StringFixed(2),
		DeliveryAddress:   o.DeliveryAddress,
		PickupAddress:     o.PickupAddress,
		DeliveryLatitude:  o.DeliveryLatitude,
		DeliveryLongitude: o.DeliveryLongitude,
		CancelReason:      o.CancelReason,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	claims, appErr := requireClaims(r, auth.RoleCustomer)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.OrderItem{
			MenuItemID: item.MenuItemID,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
		})
	}

	o, err := h.orders.PlaceOrder(r.Context(), order.PlaceOrderRequest{
		CustomerID:        claims.UserID,
		RestaurantID:      req.RestaurantID,
		Items:             items,
		DeliveryAddress:   req.DeliveryAddress,
		PickupAddress:     req.PickupAddress,
		DeliveryLatitude:  req.DeliveryLatitude,
		DeliveryLongitude: req.DeliveryLongitude,
	})
	if err != nil {
		log.Warn("order placement failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/orders/%d", o.ID))
	RespondSuccess(w, http.StatusCreated, toOrderDTO(o))
}

func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, appErr := requireClaims(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	orderID, appErr := idFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	o, err := h.orders.GetOrderForUser(r.Context(), orderID, claims.UserID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toOrderDTO(o))
}

// List returns the caller's orders: placed ones for a customer, received
// ones for a restaurant.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, appErr := requireClaims(r, auth.RoleCustomer, auth.RoleRestaurant)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	var (
		orders []domain.Order
		err    error
	)
	if claims.Role == auth.RoleRestaurant {
		orders, err = h.orders.ListForRestaurant(r.Context(), claims.UserID, limit)
	} else {
		orders, err = h.orders.ListForCustomer(r.Context(), claims.UserID, limit)
	}
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dtos := make([]orderDTO, 0, len(orders))
	for i := range orders {
		dtos = append(dtos, toOrderDTO(&orders[i]))
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

// UpdateStatus is the restaurant's kitchen workflow: confirm, prepare, ready.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	claims, appErr := requireClaims(r, auth.RoleRestaurant)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	orderID, appErr := idFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req updateOrderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "status", Message: "unknown order status"}})
		return
	}

	o, err := h.orders.GetOrderForUser(r.Context(), orderID, claims.UserID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	if o.RestaurantID != claims.UserID {
		RespondAppError(w, ErrForbidden, nil)
		return
	}

	o, err = h.orders.UpdateStatus(r.Context(), orderID, status)
	if err != nil {
		log.Warn("order status update failed", "order_id", orderID, "status", status, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toOrderDTO(o))
}

func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	claims, appErr := requireClaims(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	orderID, appErr := idFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req cancelOrderRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			RespondAppError(w, ErrInvalidRequest, nil)
			return
		}
	}

	o, err := h.orders.CancelOrder(r.Context(), orderID, claims.UserID, req.Reason)
	if err != nil {
		log.Warn("order cancellation failed", "order_id", orderID, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toOrderDTO(o))
}
