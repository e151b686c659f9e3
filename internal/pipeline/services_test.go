package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleettrack/ingestd/internal/routing"
)

func testServices() *Services {
	cfg := GateConfig{LocalOffsetMinutes: 0}
	src := &staticGeofenceSource{}
	return NewServices(cfg, src, nil, &staticRouter{}, nil)
}

func TestProcessAcceptedFrameCarriesAlertLabel(t *testing.T) {
	s := testServices()

	frame := testFrame(36.0, 10.0, 40, true, time.Now().UTC().Add(-time.Hour))
	frame.SendFlag = 5
	out, ok := s.Process(context.Background(), "dev", "", "", frame, nil)
	require.True(t, ok)
	assert.Equal(t, "speeding", out.AlertLabel)
	assert.Equal(t, "high", out.AlertSeverity)
}

func TestProcessRejectsThrottledFrame(t *testing.T) {
	s := testServices()

	// First stopped frame for the device is accepted and marks the
	// wall-clock throttle window.
	first := testFrame(36.0, 10.0, 0, false, time.Now().UTC().Add(-time.Hour))
	_, ok := s.Process(context.Background(), "dev", "", "", first, nil)
	require.True(t, ok)

	// A second stopped frame minutes later is inside the 30 min window.
	second := testFrame(36.0, 10.0, 0, false, time.Now().UTC().Add(-50*time.Minute))
	_, ok = s.Process(context.Background(), "dev", "", "", second, nil)
	assert.False(t, ok)
}

func TestProcessFillsGapsFromLastStoredPosition(t *testing.T) {
	s := testServices()
	s.GapFiller = NewGapFiller(&staticRouter{route: &routing.Route{
		Geometry: []routing.LatLng{{Lat: 36.0, Lng: 10.0}, {Lat: 36.018, Lng: 10.0}},
	}}, nil)

	at := time.Now().UTC().Add(-time.Hour)
	last := &LastPosition{Lat: 36.0, Lng: 10.0, RecordedAt: at.Add(-180 * time.Second)}
	frame := testFrame(36.018, 10.0, 40, true, at)

	out, ok := s.Process(context.Background(), "dev", "", "", frame, last)
	require.True(t, ok)
	require.Len(t, out.Interpolated, 3)
}

func TestProcessRejectsValidatorFailures(t *testing.T) {
	s := testServices()
	frame := testFrame(36.0, 10.0, 260, true, time.Now().UTC().Add(-time.Hour))
	_, ok := s.Process(context.Background(), "dev", "", "", frame, nil)
	assert.False(t, ok)
}
