package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type DeliveryStatus string

const (
	DeliveryStatusAssigned  DeliveryStatus = "ASSIGNED"
	DeliveryStatusPickedUp  DeliveryStatus = "PICKED_UP"
	DeliveryStatusInTransit DeliveryStatus = "IN_TRANSIT"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	DeliveryStatusCancelled DeliveryStatus = "CANCELLED"
)

var deliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryStatusAssigned:  {DeliveryStatusPickedUp, DeliveryStatusCancelled},
	DeliveryStatusPickedUp:  {DeliveryStatusInTransit},
	DeliveryStatusInTransit: {DeliveryStatusDelivered},
}

const DefaultPickupAddress = "Restaurant Address"

func ParseDeliveryStatus(s string) (DeliveryStatus, error) {
	st := DeliveryStatus(s)
	switch st {
	case DeliveryStatusAssigned, DeliveryStatusPickedUp, DeliveryStatusInTransit,
		DeliveryStatusDelivered, DeliveryStatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("ParseDeliveryStatus: %q: %w", s, ErrInvalidRequest)
}

func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusCancelled
}

func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	for _, allowed := range deliveryTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Delivery struct {
	ID                 int64
	OrderID            int64
	RestaurantID       int64
	CustomerID         int64
	AgentID            *int64
	Status             DeliveryStatus
	PickupAddress      string
	DeliveryAddress    string
	DeliveryFee        decimal.Decimal
	DeliveryLatitude   *float64
	DeliveryLongitude  *float64
	AgentLatitude      *float64
	AgentLongitude     *float64
	DistanceKm         *float64
	EstimatedMinutes   *int
	PickupTime         *time.Time
	DeliveryTime       *time.Time
	LastLocationUpdate *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (d *Delivery) transitionError(to DeliveryStatus) error {
	return &TransitionError{Aggregate: "delivery", From: string(d.Status), To: string(to)}
}

func (d *Delivery) Accept(agentID int64) error {
	if d.AgentID != nil && *d.AgentID != agentID {
		return ErrAlreadyAssigned
	}
	if d.Status != DeliveryStatusAssigned {
		return d.transitionError(DeliveryStatusAssigned)
	}
	d.AgentID = &agentID
	return nil
}

// Advance moves the delivery one step forward. Cancelling is only possible
// while no agent is bound; a bound agent backs out through Release.
func (d *Delivery) Advance(to DeliveryStatus, at time.Time) error {
	if !d.Status.CanTransitionTo(to) {
		return d.transitionError(to)
	}
	if to == DeliveryStatusCancelled && d.AgentID != nil {
		return d.transitionError(to)
	}
	if to == DeliveryStatusPickedUp && d.AgentID == nil {
		return ErrAgentRequired
	}
	d.Status = to
	switch to {
	case DeliveryStatusPickedUp:
		d.PickupTime = &at
	case DeliveryStatusDelivered:
		d.DeliveryTime = &at
	}
	return nil
}

// Release unbinds agentID before pickup and puts the delivery back in the
// available pool.
func (d *Delivery) Release(agentID int64) error {
	if d.AgentID == nil || *d.AgentID != agentID {
		return ErrForbidden
	}
	if d.Status != DeliveryStatusAssigned {
		return d.transitionError(DeliveryStatusAssigned)
	}
	d.AgentID = nil
	d.AgentLatitude = nil
	d.AgentLongitude = nil
	d.DistanceKm = nil
	d.EstimatedMinutes = nil
	d.LastLocationUpdate = nil
	return nil
}

// CancelForOrder applies an upstream order cancellation. It is a no-op
// returning ErrStaleEvent once the delivery has left ASSIGNED.
func (d *Delivery) CancelForOrder() error {
	if d.Status != DeliveryStatusAssigned {
		return ErrStaleEvent
	}
	d.Status = DeliveryStatusCancelled
	return nil
}

// UpdateLocation records the agent position and refreshes distance and ETA
// when the destination is known.
func (d *Delivery) UpdateLocation(lat, lon float64, at time.Time) error {
	agent := Coordinate{Lat: lat, Lon: lon}
	if !agent.Valid() {
		return ErrInvalidCoordinates
	}
	if d.Status.IsTerminal() {
		return d.transitionError(d.Status)
	}
	d.AgentLatitude = &lat
	d.AgentLongitude = &lon
	d.LastLocationUpdate = &at

	if d.DeliveryLatitude != nil && d.DeliveryLongitude != nil {
		dest := Coordinate{Lat: *d.DeliveryLatitude, Lon: *d.DeliveryLongitude}
		dist := HaversineKm(agent, dest)
		eta := EstimateMinutes(dist)
		d.DistanceKm = &dist
		d.EstimatedMinutes = &eta
	}
	return nil
}
