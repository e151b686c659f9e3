package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleettrack/ingestd/internal/routing"
)

type staticRouter struct {
	route *routing.Route
	err   error
}

func (r *staticRouter) Route(ctx context.Context, from, to routing.LatLng) (*routing.Route, error) {
	return r.route, r.err
}

func TestGapFillerInterpolatesAlongRoute(t *testing.T) {
	// ~2 km north over 180 s: implied speed 40 km/h.
	last := LastPosition{Lat: 36.0, Lng: 10.0, RecordedAt: testBase}
	newLat, newLng := 36.018, 10.0
	newTime := testBase.Add(180 * time.Second)

	router := &staticRouter{route: &routing.Route{
		Geometry: []routing.LatLng{
			{Lat: 36.0, Lng: 10.0},
			{Lat: 36.0045, Lng: 10.0},
			{Lat: 36.009, Lng: 10.0},
			{Lat: 36.0135, Lng: 10.0},
			{Lat: 36.018, Lng: 10.0},
		},
	}}
	g := NewGapFiller(router, nil)

	points := g.Fill(context.Background(), "dev", last, newLat, newLng, newTime)
	require.Len(t, points, 3)

	assert.Equal(t, testBase.Add(60*time.Second), points[0].RecordedAt)
	assert.Equal(t, testBase.Add(120*time.Second), points[1].RecordedAt)
	assert.Equal(t, testBase.Add(180*time.Second), points[2].RecordedAt)

	for _, p := range points {
		assert.True(t, p.IgnitionOn)
		// Due north along the polyline.
		assert.InDelta(t, 0.0, p.HeadingDeg, 0.5)
		assert.InDelta(t, 40.0, p.SpeedKPH, 1.0)
	}
	assert.InDelta(t, 36.006, points[0].Lat, 1e-3)
	assert.InDelta(t, 36.012, points[1].Lat, 1e-3)
	assert.InDelta(t, 36.018, points[2].Lat, 1e-3)
}

func TestGapFillerFallsBackToLinearOnRoutingFailure(t *testing.T) {
	last := LastPosition{Lat: 36.0, Lng: 10.0, RecordedAt: testBase}
	g := NewGapFiller(&staticRouter{err: errors.New("timeout")}, nil)

	points := g.Fill(context.Background(), "dev", last, 36.018, 10.0, testBase.Add(180*time.Second))
	require.Len(t, points, 3)
	assert.InDelta(t, 36.006, points[0].Lat, 1e-9)
	assert.InDelta(t, 36.012, points[1].Lat, 1e-9)
	assert.InDelta(t, 36.018, points[2].Lat, 1e-9)
}

func TestGapFillerSkipsShortGaps(t *testing.T) {
	last := LastPosition{Lat: 36.0, Lng: 10.0, RecordedAt: testBase}
	g := NewGapFiller(&staticRouter{}, nil)

	assert.Nil(t, g.Fill(context.Background(), "dev", last, 36.018, 10.0, testBase.Add(60*time.Second)))
}

func TestGapFillerSkipsShortDistances(t *testing.T) {
	last := LastPosition{Lat: 36.0, Lng: 10.0, RecordedAt: testBase}
	g := NewGapFiller(&staticRouter{}, nil)

	// ~110 m is under the 500 m floor.
	assert.Nil(t, g.Fill(context.Background(), "dev", last, 36.001, 10.0, testBase.Add(300*time.Second)))
}

func TestGapFillerSkipsImplausibleSpeeds(t *testing.T) {
	last := LastPosition{Lat: 36.0, Lng: 10.0, RecordedAt: testBase}
	g := NewGapFiller(&staticRouter{}, nil)

	// ~10 km in 120 s is 300 km/h: a teleport, not a gap.
	assert.Nil(t, g.Fill(context.Background(), "dev", last, 36.09, 10.0, testBase.Add(120*time.Second)))
}
