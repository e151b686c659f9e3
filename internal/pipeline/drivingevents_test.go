package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHarshBrakingFromSpeedDelta(t *testing.T) {
	d := NewDrivingEventsDetector()

	assert.Empty(t, d.Observe("dev", testFrame(36.0, 10.0, 100, true, testBase), nil))

	// 100 -> 60 km/h over 2 s is -5.56 m/s².
	events := d.Observe("dev", testFrame(36.0, 10.0, 60, true, testBase.Add(2*time.Second)), nil)
	require.Len(t, events, 1)
	assert.Equal(t, EventHarshBraking, events[0].Type)
}

func TestHarshBrakingCooldownEmitsOnce(t *testing.T) {
	d := NewDrivingEventsDetector()

	assert.Empty(t, d.Observe("dev", testFrame(36.0, 10.0, 100, true, testBase), nil))
	first := d.Observe("dev", testFrame(36.0, 10.0, 60, true, testBase.Add(2*time.Second)), nil)
	require.Len(t, first, 1)

	// Still braking hard 2 s later, inside the 10 s cooldown.
	second := d.Observe("dev", testFrame(36.0, 10.0, 25, true, testBase.Add(4*time.Second)), nil)
	assert.Empty(t, second)

	// Past the cooldown the same kind can fire again.
	assert.Empty(t, d.Observe("dev", testFrame(36.0, 10.0, 90, true, testBase.Add(20*time.Second)), nil))
	third := d.Observe("dev", testFrame(36.0, 10.0, 50, true, testBase.Add(22*time.Second)), nil)
	require.Len(t, third, 1)
	assert.Equal(t, EventHarshBraking, third[0].Type)
}

func TestHarshAccelerationFromSpeedDelta(t *testing.T) {
	d := NewDrivingEventsDetector()
	assert.Empty(t, d.Observe("dev", testFrame(36.0, 10.0, 20, true, testBase), nil))

	// 20 -> 50 km/h over 2 s is +4.17 m/s².
	events := d.Observe("dev", testFrame(36.0, 10.0, 50, true, testBase.Add(2*time.Second)), nil)
	require.Len(t, events, 1)
	assert.Equal(t, EventHarshAcceleration, events[0].Type)
}

func TestSharpTurnSeverity(t *testing.T) {
	d := NewDrivingEventsDetector()

	first := testFrame(36.0, 10.0, 40, true, testBase)
	first.HeadingDeg = 10
	assert.Empty(t, d.Observe("dev", first, nil))

	turned := testFrame(36.0, 10.0, 40, true, testBase.Add(5*time.Second))
	turned.HeadingDeg = 120
	events := d.Observe("dev", turned, nil)
	require.Len(t, events, 1)
	assert.Equal(t, EventSharpTurn, events[0].Type)
	assert.Equal(t, SeverityHigh, events[0].Severity)
}

func TestMemsEvents(t *testing.T) {
	d := NewDrivingEventsDetector()

	frame := testFrame(36.0, 10.0, 40, true, testBase)
	frame.MemsX = -30 // -0.47 g
	frame.MemsY = 28  // 0.44 g
	frame.MemsZ = -40 // -0.63 g
	events := d.Observe("dev", frame, nil)

	kinds := make(map[DrivingEventType]bool, len(events))
	for _, ev := range events {
		kinds[ev.Type] = true
	}
	assert.True(t, kinds[EventHarshBraking])
	assert.True(t, kinds[EventCornering])
	assert.True(t, kinds[EventPothole])
}

func TestSpeedBumpRequiresSpeed(t *testing.T) {
	d := NewDrivingEventsDetector()

	slow := testFrame(36.0, 10.0, 20, true, testBase)
	slow.MemsZ = 40 // 0.63 g
	for _, ev := range d.Observe("dev", slow, nil) {
		assert.NotEqual(t, EventSpeedBump, ev.Type)
	}

	fast := testFrame(36.0, 10.0, 40, true, testBase.Add(time.Minute))
	fast.MemsZ = 40
	events := d.Observe("dev", fast, nil)
	require.Len(t, events, 1)
	assert.Equal(t, EventSpeedBump, events[0].Type)
}

func TestOverspeedingSeverityBands(t *testing.T) {
	cases := []struct {
		speed float64
		want  EventSeverity
	}{
		{125, SeverityMedium},
		{145, SeverityHigh},
		{155, SeverityCritical},
	}
	for _, tc := range cases {
		d := NewDrivingEventsDetector()
		events := d.Observe("dev", testFrame(36.0, 10.0, tc.speed, true, testBase), nil)
		require.Len(t, events, 1)
		assert.Equal(t, EventOverspeeding, events[0].Type)
		assert.Equal(t, tc.want, events[0].Severity)
	}
}

func TestSlowFramesStillAdvancePrevState(t *testing.T) {
	d := NewDrivingEventsDetector()

	assert.Empty(t, d.Observe("dev", testFrame(36.0, 10.0, 100, true, testBase), nil))

	// A below-threshold frame emits nothing but resets the baseline.
	assert.Empty(t, d.Observe("dev", testFrame(36.0, 10.0, 2, true, testBase.Add(30*time.Second)), nil))

	// Against the 2 km/h baseline this is ordinary acceleration spread
	// over 30 s, not a harsh event against the stale 100 km/h one.
	events := d.Observe("dev", testFrame(36.0, 10.0, 40, true, testBase.Add(60*time.Second)), nil)
	assert.Empty(t, events)
}
