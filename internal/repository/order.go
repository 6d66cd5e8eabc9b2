package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/josh-kwaku/fooddelivery-saga/internal/domain"
)

const orderColumns = `id, customer_id, restaurant_id, status, payment_id, payment_status,
	items, subtotal, delivery_fee, tax, total, delivery_address, pickup_address,
	delivery_latitude, delivery_longitude, cancel_reason, created_at, updated_at`

type OrderRepository struct {
	db    *sql.DB
	table string
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db, table: table(SchemaOrders, "orders")}
}

func (r *OrderRepository) Create(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("Create: marshal items: %w", err)
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO `+r.table+` (
			customer_id, restaurant_id, status, payment_id, payment_status,
			items, subtotal, delivery_fee, tax, total, delivery_address, pickup_address,
			delivery_latitude, delivery_longitude, cancel_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at`,
		o.CustomerID, o.RestaurantID, o.Status, o.PaymentID, o.PaymentStatus,
		string(items), o.Subtotal, o.DeliveryFee, o.Tax, o.Total, o.DeliveryAddress, o.PickupAddress,
		o.DeliveryLatitude, o.DeliveryLongitude, o.CancelReason,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM `+r.table+` WHERE id = $1`, id,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return o, nil
}

// GetForUpdate locks the order row for the rest of tx.
func (r *OrderRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*domain.Order, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM `+r.table+` WHERE id = $1 FOR UPDATE`, id,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID int64, limit int) ([]domain.Order, error) {
	orders, err := r.listBy(ctx, "customer_id", customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListByCustomer: %w", err)
	}
	return orders, nil
}

func (r *OrderRepository) ListByRestaurant(ctx context.Context, restaurantID int64, limit int) ([]domain.Order, error) {
	orders, err := r.listBy(ctx, "restaurant_id", restaurantID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListByRestaurant: %w", err)
	}
	return orders, nil
}

// listBy returns the newest orders whose column equals id. column is always
// a constant from this file.
func (r *OrderRepository) listBy(ctx context.Context, column string, id int64, limit int) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM `+r.table+`
		WHERE `+column+` = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		id, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return orders, nil
}

// Update persists the mutable fields the state machine owns.
func (r *OrderRepository) Update(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	err := tx.QueryRowContext(ctx,
		`UPDATE `+r.table+` SET status = $1, payment_id = $2, payment_status = $3,
			cancel_reason = $4, updated_at = now()
		WHERE id = $5
		RETURNING updated_at`,
		o.Status, o.PaymentID, o.PaymentStatus, o.CancelReason, o.ID,
	).Scan(&o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("Update: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("Update: %w", err)
	}
	return nil
}

func scanOrder(s scanner) (*domain.Order, error) {
	var o domain.Order
	var items []byte
	err := s.Scan(
		&o.ID, &o.CustomerID, &o.RestaurantID, &o.Status, &o.PaymentID, &o.PaymentStatus,
		&items, &o.Subtotal, &o.DeliveryFee, &o.Tax, &o.Total, &o.DeliveryAddress, &o.PickupAddress,
		&o.DeliveryLatitude, &o.DeliveryLongitude, &o.CancelReason, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return &o, nil
}
