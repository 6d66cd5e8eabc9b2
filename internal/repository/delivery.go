package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/josh-kwaku/fooddelivery-saga/internal/domain"
)

const deliveryColumns = `id, order_id, restaurant_id, customer_id, agent_id, status,
	pickup_address, delivery_address, delivery_fee,
	delivery_latitude, delivery_longitude, agent_latitude, agent_longitude,
	distance_km, estimated_minutes, pickup_time, delivery_time, last_location_update,
	created_at, updated_at`

type DeliveryRepository struct {
	db    *sql.DB
	table string
}

func NewDeliveryRepository(db *sql.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db, table: table(SchemaDeliveries, "deliveries")}
}

// Create inserts d unless a delivery for the same order already exists, in
// which case it returns ErrDuplicateDelivery and leaves d untouched.
func (r *DeliveryRepository) Create(ctx context.Context, tx *sql.Tx, d *domain.Delivery) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO `+r.table+` (
			order_id, restaurant_id, customer_id, agent_id, status,
			pickup_address, delivery_address, delivery_fee,
			delivery_latitude, delivery_longitude, distance_km, estimated_minutes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING id, created_at, updated_at`,
		d.OrderID, d.RestaurantID, d.CustomerID, d.AgentID, d.Status,
		d.PickupAddress, d.DeliveryAddress, d.DeliveryFee,
		d.DeliveryLatitude, d.DeliveryLongitude, d.DistanceKm, d.EstimatedMinutes,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("Create: order %d: %w", d.OrderID, domain.ErrDuplicateDelivery)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *DeliveryRepository) GetByID(ctx context.Context, id int64) (*domain.Delivery, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM `+r.table+` WHERE id = $1`, id,
	)
	d, err := scanDelivery(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return d, nil
}

func (r *DeliveryRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*domain.Delivery, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM `+r.table+` WHERE id = $1 FOR UPDATE`, id,
	)
	d, err := scanDelivery(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return d, nil
}

func (r *DeliveryRepository) GetByOrderIDForUpdate(ctx context.Context, tx *sql.Tx, orderID int64) (*domain.Delivery, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM `+r.table+` WHERE order_id = $1 FOR UPDATE`, orderID,
	)
	d, err := scanDelivery(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByOrderIDForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByOrderIDForUpdate: %w", err)
	}
	return d, nil
}

// ListAvailable returns unassigned deliveries, oldest first.
func (r *DeliveryRepository) ListAvailable(ctx context.Context, limit int) ([]domain.Delivery, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+` FROM `+r.table+`
		WHERE status = $1 AND agent_id IS NULL
		ORDER BY created_at ASC LIMIT $2`,
		domain.DeliveryStatusAssigned, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListAvailable: %w", err)
	}
	defer rows.Close()

	var deliveries []domain.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("ListAvailable: scan: %w", err)
		}
		deliveries = append(deliveries, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListAvailable: rows: %w", err)
	}
	return deliveries, nil
}

func (r *DeliveryRepository) Update(ctx context.Context, tx *sql.Tx, d *domain.Delivery) error {
	err := tx.QueryRowContext(ctx,
		`UPDATE `+r.table+` SET agent_id = $1, status = $2,
			agent_latitude = $3, agent_longitude = $4, distance_km = $5, estimated_minutes = $6,
			pickup_time = $7, delivery_time = $8, last_location_update = $9, updated_at = now()
		WHERE id = $10
		RETURNING updated_at`,
		d.AgentID, d.Status,
		d.AgentLatitude, d.AgentLongitude, d.DistanceKm, d.EstimatedMinutes,
		d.PickupTime, d.DeliveryTime, d.LastLocationUpdate, d.ID,
	).Scan(&d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("Update: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("Update: %w", err)
	}
	return nil
}

func scanDelivery(s scanner) (*domain.Delivery, error) {
	var d domain.Delivery
	err := s.Scan(
		&d.ID, &d.OrderID, &d.RestaurantID, &d.CustomerID, &d.AgentID, &d.Status,
		&d.PickupAddress, &d.DeliveryAddress, &d.DeliveryFee,
		&d.DeliveryLatitude, &d.DeliveryLongitude, &d.AgentLatitude, &d.AgentLongitude,
		&d.DistanceKm, &d.EstimatedMinutes, &d.PickupTime, &d.DeliveryTime, &d.LastLocationUpdate,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
