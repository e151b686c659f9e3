package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuelTrackerDetectsRefuel(t *testing.T) {
	tr := NewFuelTracker()

	first := testFrame(36.0, 10.0, 40, true, testBase)
	first.FuelRaw = 50
	assert.Empty(t, tr.Observe("dev", first))

	second := testFrame(36.0, 10.0, 40, true, testBase.Add(time.Minute))
	second.FuelRaw = 65
	events := tr.Observe("dev", second)
	require.Len(t, events, 1)
	assert.Equal(t, FuelRefuel, events[0].Type)
	assert.Equal(t, 15.0, events[0].DeltaPct)
}

func TestFuelTrackerDetectsTheft(t *testing.T) {
	tr := NewFuelTracker()

	first := testFrame(36.0, 10.0, 0, false, testBase)
	first.FuelRaw = 50
	first.OdometerKM = 1000
	assert.Empty(t, tr.Observe("dev", first))

	// 15 points gone, vehicle parked, odometer unchanged.
	second := testFrame(36.0, 10.0, 0, false, testBase.Add(time.Hour))
	second.FuelRaw = 35
	second.OdometerKM = 1000
	events := tr.Observe("dev", second)
	require.Len(t, events, 1)
	assert.Equal(t, FuelTheft, events[0].Type)
}

func TestFuelTrackerDetectsConsumptionSpike(t *testing.T) {
	tr := NewFuelTracker()

	first := testFrame(36.0, 10.0, 40, true, testBase)
	first.FuelRaw = 50
	first.OdometerKM = 1000
	assert.Empty(t, tr.Observe("dev", first))

	// -7 points over 2 km: expected burn is 2/5 + 5 margin = 5.4.
	second := testFrame(36.0, 10.0, 40, true, testBase.Add(10*time.Minute))
	second.FuelRaw = 43
	second.OdometerKM = 1002
	events := tr.Observe("dev", second)
	require.Len(t, events, 1)
	assert.Equal(t, FuelConsumptionSpike, events[0].Type)
}

func TestFuelTrackerNormalConsumptionIsSilent(t *testing.T) {
	tr := NewFuelTracker()

	first := testFrame(36.0, 10.0, 40, true, testBase)
	first.FuelRaw = 50
	first.OdometerKM = 1000
	assert.Empty(t, tr.Observe("dev", first))

	// -7 points over 30 km is within the expected burn envelope.
	second := testFrame(36.0, 10.0, 40, true, testBase.Add(30*time.Minute))
	second.FuelRaw = 43
	second.OdometerKM = 1030
	assert.Empty(t, tr.Observe("dev", second))
}

func TestFuelTrackerLowFuel(t *testing.T) {
	tr := NewFuelTracker()
	frame := testFrame(36.0, 10.0, 40, true, testBase)
	frame.FuelRaw = 10
	events := tr.Observe("dev", frame)
	require.Len(t, events, 1)
	assert.Equal(t, FuelLow, events[0].Type)
}

func TestFuelTrackerConfigurableLowFuelThreshold(t *testing.T) {
	tr := NewFuelTracker().WithLowFuelThreshold(5)
	frame := testFrame(36.0, 10.0, 40, true, testBase)
	frame.FuelRaw = 10
	assert.Empty(t, tr.Observe("dev", frame))
}

func TestFuelTrackerTheftSuppressesLowFuel(t *testing.T) {
	tr := NewFuelTracker()

	first := testFrame(36.0, 10.0, 0, false, testBase)
	first.FuelRaw = 20
	first.OdometerKM = 1000
	assert.Empty(t, tr.Observe("dev", first))

	// Parked drop from 20% to 8%: a theft anomaly, and 8% is also under
	// the low-fuel threshold. Only the theft is emitted.
	second := testFrame(36.0, 10.0, 0, false, testBase.Add(time.Hour))
	second.FuelRaw = 8
	second.OdometerKM = 1000
	events := tr.Observe("dev", second)
	require.Len(t, events, 1)
	assert.Equal(t, FuelTheft, events[0].Type)
}

func TestFuelTrackerLowFuelOnQuietFrame(t *testing.T) {
	tr := NewFuelTracker()

	first := testFrame(36.0, 10.0, 40, true, testBase)
	first.FuelRaw = 12
	tr.Observe("dev", first) // first reading, emits its own low-fuel alert

	// An ordinary -2 drop with the tank under the threshold classifies as
	// low fuel, nothing else.
	second := testFrame(36.0, 10.0, 40, true, testBase.Add(time.Minute))
	second.FuelRaw = 10
	events := tr.Observe("dev", second)
	require.Len(t, events, 1)
	assert.Equal(t, FuelLow, events[0].Type)
}

func TestFuelTrackerSensorError(t *testing.T) {
	tr := NewFuelTracker()
	frame := testFrame(36.0, 10.0, 40, true, testBase)
	frame.FuelRaw = 150
	events := tr.Observe("dev", frame)
	require.Len(t, events, 1)
	assert.Equal(t, FuelSensorError, events[0].Type)
}
