package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversineKm(t *testing.T) {
	agent := Coordinate{Lat: 12.9716, Lon: 77.5946}
	dest := Coordinate{Lat: 12.9352, Lon: 77.6101}

	dist := HaversineKm(agent, dest)
	assert.Equal(t, 4.38, dist)
	assert.Equal(t, 9, EstimateMinutes(dist))

	assert.Equal(t, dist, HaversineKm(agent, dest))
	assert.Equal(t, dist, HaversineKm(dest, agent))
	assert.Equal(t, 0.0, HaversineKm(agent, agent))
	assert.Equal(t, 111.19, HaversineKm(Coordinate{0, 0}, Coordinate{0, 1}))
}

func TestEstimateMinutes(t *testing.T) {
	assert.Equal(t, 0, EstimateMinutes(0))
	assert.Equal(t, 1, EstimateMinutes(0.01))
	assert.Equal(t, 60, EstimateMinutes(30))
	assert.Equal(t, 61, EstimateMinutes(30.01))
}

func TestDeliveryAccept(t *testing.T) {
	d := &Delivery{Status: DeliveryStatusAssigned}
	require.NoError(t, d.Accept(5))
	require.NoError(t, d.Accept(5))
	require.ErrorIs(t, d.Accept(6), ErrAlreadyAssigned)
	assert.Equal(t, int64(5), *d.AgentID)

	d = &Delivery{Status: DeliveryStatusCancelled}
	require.ErrorIs(t, d.Accept(5), ErrInvalidTransition)
}

func TestDeliveryAdvance(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	agent := int64(3)

	tests := []struct {
		name      string
		from      DeliveryStatus
		agent     *int64
		to        DeliveryStatus
		wantErrIs error
	}{
		{"pick up", DeliveryStatusAssigned, &agent, DeliveryStatusPickedUp, nil},
		{"pick up without agent", DeliveryStatusAssigned, nil, DeliveryStatusPickedUp, ErrAgentRequired},
		{"in transit", DeliveryStatusPickedUp, &agent, DeliveryStatusInTransit, nil},
		{"delivered", DeliveryStatusInTransit, &agent, DeliveryStatusDelivered, nil},
		{"skip to delivered", DeliveryStatusAssigned, &agent, DeliveryStatusDelivered, ErrInvalidTransition},
		{"backward", DeliveryStatusInTransit, &agent, DeliveryStatusPickedUp, ErrInvalidTransition},
		{"cancel after pickup", DeliveryStatusPickedUp, &agent, DeliveryStatusCancelled, ErrInvalidTransition},
		{"cancel unassigned", DeliveryStatusAssigned, nil, DeliveryStatusCancelled, nil},
		{"cancel with agent bound", DeliveryStatusAssigned, &agent, DeliveryStatusCancelled, ErrInvalidTransition},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := &Delivery{Status: tc.from, AgentID: tc.agent}
			err := d.Advance(tc.to, now)
			if tc.wantErrIs != nil {
				require.ErrorIs(t, err, tc.wantErrIs)
				assert.Equal(t, tc.from, d.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.to, d.Status)
		})
	}
}

func TestDeliveryAdvance_StampsTimes(t *testing.T) {
	agent := int64(1)
	d := &Delivery{Status: DeliveryStatusAssigned, AgentID: &agent}
	pickedUp := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	delivered := pickedUp.Add(20 * time.Minute)

	require.NoError(t, d.Advance(DeliveryStatusPickedUp, pickedUp))
	require.NoError(t, d.Advance(DeliveryStatusInTransit, pickedUp.Add(time.Minute)))
	require.NoError(t, d.Advance(DeliveryStatusDelivered, delivered))

	assert.Equal(t, pickedUp, *d.PickupTime)
	assert.Equal(t, delivered, *d.DeliveryTime)
}

func TestDeliveryRelease(t *testing.T) {
	agent := int64(7)
	lat, lon := 12.9716, 77.5946
	d := &Delivery{Status: DeliveryStatusAssigned, AgentID: &agent, AgentLatitude: &lat, AgentLongitude: &lon}

	require.ErrorIs(t, d.Release(8), ErrForbidden)
	require.NoError(t, d.Release(agent))
	assert.Nil(t, d.AgentID)
	assert.Nil(t, d.AgentLatitude)
	assert.Equal(t, DeliveryStatusAssigned, d.Status)

	// once released it can be cancelled again
	require.NoError(t, d.Advance(DeliveryStatusCancelled, time.Now()))

	d = &Delivery{Status: DeliveryStatusPickedUp, AgentID: &agent}
	require.ErrorIs(t, d.Release(agent), ErrInvalidTransition)
	assert.Equal(t, agent, *d.AgentID)
}

func TestDeliveryCancelForOrder(t *testing.T) {
	d := &Delivery{Status: DeliveryStatusAssigned}
	require.NoError(t, d.CancelForOrder())
	assert.Equal(t, DeliveryStatusCancelled, d.Status)

	d = &Delivery{Status: DeliveryStatusInTransit}
	require.ErrorIs(t, d.CancelForOrder(), ErrStaleEvent)
	assert.Equal(t, DeliveryStatusInTransit, d.Status)
}

func TestDeliveryUpdateLocation(t *testing.T) {
	lat, lon := 12.9352, 77.6101
	d := &Delivery{Status: DeliveryStatusInTransit, DeliveryLatitude: &lat, DeliveryLongitude: &lon}
	now := time.Now().UTC()

	require.NoError(t, d.UpdateLocation(12.9716, 77.5946, now))
	require.NotNil(t, d.DistanceKm)
	assert.Equal(t, 4.38, *d.DistanceKm)
	assert.Equal(t, 9, *d.EstimatedMinutes)
	assert.Equal(t, now, *d.LastLocationUpdate)

	require.ErrorIs(t, d.UpdateLocation(91, 0, now), ErrInvalidCoordinates)
	require.ErrorIs(t, d.UpdateLocation(0, -181, now), ErrInvalidCoordinates)
}

func TestDeliveryUpdateLocation_UnknownDestination(t *testing.T) {
	d := &Delivery{Status: DeliveryStatusAssigned}
	require.NoError(t, d.UpdateLocation(12.9716, 77.5946, time.Now()))
	assert.Nil(t, d.DistanceKm)
	assert.Nil(t, d.EstimatedMinutes)
	assert.Equal(t, 12.9716, *d.AgentLatitude)
}
