package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleettrack/ingestd/internal/routing"
)

const (
	minGapDurationSec    = 120.0
	minGapDistanceMeters = 500.0
	maxImplicitSpeedKPH  = 150.0
	gapFrameIntervalSec  = 60.0
)

// InterpolatedPosition is a synthesized position inserted to cover a gap.
type InterpolatedPosition struct {
	DeviceID   string
	Lat, Lng   float64
	RecordedAt time.Time
	SpeedKPH   float64
	HeadingDeg float64
	IgnitionOn bool
}

// LastPosition is the minimal shape the gap filler needs about the
// previously stored position for a device.
type LastPosition struct {
	Lat, Lng   float64
	RecordedAt time.Time
}

// Router is the capability the gap filler needs from the routing adapter;
// *routing.Client satisfies it in production.
type Router interface {
	Route(ctx context.Context, from, to routing.LatLng) (*routing.Route, error)
}

// GapFiller reconstructs missing frames via road-routing interpolation,
// falling back to linear interpolation on routing failure.
type GapFiller struct {
	router Router
	log    *logrus.Entry
}

// NewGapFiller builds a GapFiller over router.
func NewGapFiller(router Router, log *logrus.Entry) *GapFiller {
	return &GapFiller{router: router, log: log}
}

// Fill evaluates the gap between last and the new frame's position/time and
// returns the interpolated rows to insert, if the gap qualifies.
func (g *GapFiller) Fill(ctx context.Context, deviceID string, last LastPosition, newLat, newLng float64, newTime time.Time) []InterpolatedPosition {
	gapSec := newTime.Sub(last.RecordedAt).Seconds()
	if gapSec < minGapDurationSec {
		return nil
	}

	distanceM := haversineMeters(last.Lat, last.Lng, newLat, newLng)
	if distanceM < minGapDistanceMeters {
		return nil
	}

	implicitSpeed := (distanceM / 1000) / (gapSec / 3600)
	if implicitSpeed > maxImplicitSpeedKPH {
		return nil
	}

	numPoints := int(gapSec / gapFrameIntervalSec)
	if numPoints < 1 {
		return nil
	}

	route, err := g.router.Route(ctx, routing.LatLng{Lat: last.Lat, Lng: last.Lng}, routing.LatLng{Lat: newLat, Lng: newLng})
	if err != nil && g.log != nil {
		g.log.WithFields(logrus.Fields{"device_uid": deviceID, "stage": "gap_filler", "reason": err.Error()}).Warn("routing adapter failure, falling back to linear interpolation")
	}
	if route == nil || len(route.Geometry) < 2 {
		return g.linearInterpolate(deviceID, last, newLat, newLng, newTime, numPoints)
	}

	return g.interpolateAlongRoute(deviceID, last, newTime, route.Geometry, numPoints)
}

func (g *GapFiller) interpolateAlongRoute(deviceID string, last LastPosition, newTime time.Time, geometry []routing.LatLng, numPoints int) []InterpolatedPosition {
	segLengths := make([]float64, len(geometry)-1)
	total := 0.0
	for i := 1; i < len(geometry); i++ {
		segLengths[i-1] = haversineMeters(geometry[i-1].Lat, geometry[i-1].Lng, geometry[i].Lat, geometry[i].Lng)
		total += segLengths[i-1]
	}
	if total == 0 {
		return nil
	}

	// One point per gapFrameIntervalSec: the last interpolated point lands
	// on the new frame's own instant and on the route's final vertex.
	totalDuration := newTime.Sub(last.RecordedAt)
	timeStep := totalDuration / time.Duration(numPoints)
	avgSpeed := (total / 1000) / (totalDuration.Seconds() / 3600)

	positions := make([]InterpolatedPosition, 0, numPoints)
	for i := 1; i <= numPoints; i++ {
		progress := float64(i) / float64(numPoints)
		target := total * progress
		lat, lng, heading := positionAtDistance(geometry, segLengths, target)

		positions = append(positions, InterpolatedPosition{
			DeviceID:   deviceID,
			Lat:        lat,
			Lng:        lng,
			RecordedAt: last.RecordedAt.Add(timeStep * time.Duration(i)),
			SpeedKPH:   avgSpeed,
			HeadingDeg: heading,
			IgnitionOn: true,
		})
	}
	return positions
}

func positionAtDistance(geometry []routing.LatLng, segLengths []float64, target float64) (lat, lng, heading float64) {
	accumulated := 0.0
	for i, segLen := range segLengths {
		if accumulated+segLen >= target {
			from, to := geometry[i], geometry[i+1]
			progress := 0.0
			if segLen > 0 {
				progress = (target - accumulated) / segLen
			}
			lat = from.Lat + (to.Lat-from.Lat)*progress
			lng = from.Lng + (to.Lng-from.Lng)*progress
			heading = calculateHeading(from.Lat, from.Lng, to.Lat, to.Lng)
			return
		}
		accumulated += segLen
	}
	last := geometry[len(geometry)-1]
	prev := geometry[len(geometry)-2]
	return last.Lat, last.Lng, calculateHeading(prev.Lat, prev.Lng, last.Lat, last.Lng)
}

func (g *GapFiller) linearInterpolate(deviceID string, last LastPosition, newLat, newLng float64, newTime time.Time, numPoints int) []InterpolatedPosition {
	distanceM := haversineMeters(last.Lat, last.Lng, newLat, newLng)
	gapSec := newTime.Sub(last.RecordedAt).Seconds()
	avgSpeed := (distanceM / 1000) / (gapSec / 3600)
	heading := calculateHeading(last.Lat, last.Lng, newLat, newLng)
	timeStep := newTime.Sub(last.RecordedAt) / time.Duration(numPoints)

	positions := make([]InterpolatedPosition, 0, numPoints)
	for i := 1; i <= numPoints; i++ {
		progress := float64(i) / float64(numPoints)
		positions = append(positions, InterpolatedPosition{
			DeviceID:   deviceID,
			Lat:        last.Lat + (newLat-last.Lat)*progress,
			Lng:        last.Lng + (newLng-last.Lng)*progress,
			RecordedAt: last.RecordedAt.Add(timeStep * time.Duration(i)),
			SpeedKPH:   avgSpeed,
			HeadingDeg: heading,
			IgnitionOn: true,
		})
	}
	return positions
}
