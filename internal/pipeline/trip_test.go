package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTripDetectorEmitsOneTrip(t *testing.T) {
	d := NewTripDetector()

	assert.Nil(t, d.Observe("dev", testFrame(36.00, 10.0, 50, true, testBase), nil))
	assert.Nil(t, d.Observe("dev", testFrame(36.01, 10.0, 55, true, testBase.Add(60*time.Second)), nil))
	assert.Nil(t, d.Observe("dev", testFrame(36.02, 10.0, 45, true, testBase.Add(120*time.Second)), nil))

	// Stopped, but not yet 300 s past the last qualifying frame.
	assert.Nil(t, d.Observe("dev", testFrame(36.02, 10.0, 0, true, testBase.Add(180*time.Second)), nil))

	trip := d.Observe("dev", testFrame(36.02, 10.0, 0, true, testBase.Add(500*time.Second)), nil)
	require.NotNil(t, trip)
	assert.Equal(t, testBase, trip.StartAt)
	assert.Equal(t, testBase.Add(120*time.Second), trip.EndAt)
	assert.InDelta(t, 2.22, trip.DistanceKM, 0.1)
	assert.Equal(t, 55.0, trip.MaxSpeedKPH)
	assert.InDelta(t, trip.DistanceKM/(120.0/3600.0), trip.AverageSpeedKPH, 1e-9)

	// The trip is closed; further stopped frames emit nothing.
	assert.Nil(t, d.Observe("dev", testFrame(36.02, 10.0, 0, true, testBase.Add(600*time.Second)), nil))
}

func TestTripDetectorSuppressesShortTrips(t *testing.T) {
	d := NewTripDetector()

	// 30 s of movement is under the minimum duration.
	assert.Nil(t, d.Observe("dev", testFrame(36.00, 10.0, 50, true, testBase), nil))
	assert.Nil(t, d.Observe("dev", testFrame(36.005, 10.0, 50, true, testBase.Add(30*time.Second)), nil))
	assert.Nil(t, d.Observe("dev", testFrame(36.005, 10.0, 0, true, testBase.Add(400*time.Second)), nil))
}

func TestTripDetectorSuppressesShortDistance(t *testing.T) {
	d := NewTripDetector()

	// 90 s but only ~55 m of travel, under the 0.1 km floor.
	assert.Nil(t, d.Observe("dev", testFrame(36.0, 10.0, 6, true, testBase), nil))
	assert.Nil(t, d.Observe("dev", testFrame(36.0005, 10.0, 6, true, testBase.Add(90*time.Second)), nil))
	assert.Nil(t, d.Observe("dev", testFrame(36.0005, 10.0, 0, true, testBase.Add(500*time.Second)), nil))
}

func TestTripDetectorAccumulatesDrivingEventCounters(t *testing.T) {
	d := NewTripDetector()

	events := []DrivingEvent{
		{DeviceID: "dev", Type: EventHarshBraking},
		{DeviceID: "dev", Type: EventOverspeeding},
	}
	assert.Nil(t, d.Observe("dev", testFrame(36.00, 10.0, 50, true, testBase), nil))
	assert.Nil(t, d.Observe("dev", testFrame(36.01, 10.0, 130, true, testBase.Add(60*time.Second)), events))
	assert.Nil(t, d.Observe("dev", testFrame(36.02, 10.0, 50, true, testBase.Add(120*time.Second)), nil))

	trip := d.Observe("dev", testFrame(36.02, 10.0, 0, true, testBase.Add(500*time.Second)), nil)
	require.NotNil(t, trip)
	assert.Equal(t, 1, trip.HarshBraking)
	assert.Equal(t, 1, trip.Overspeeding)
	assert.Equal(t, 0, trip.SharpTurns)
}
