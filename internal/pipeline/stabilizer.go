package pipeline

import (
	"sync"
	"time"

	"github.com/fleettrack/ingestd/internal/codec"
)

// Stabilizer thresholds.
const (
	stoppedSpeedThresholdKPH  = 3.0
	maxDriftDistanceMeters    = 50.0
	minMovementDistanceMeters = 10.0
)

// anchor is the remembered position while a device sits at rest.
type anchor struct {
	lat, lng float64
	at       time.Time
}

// Stabilizer suppresses GPS drift at rest by anchoring coordinates. It
// keeps one anchor per device behind a single mutex.
type Stabilizer struct {
	mu      sync.Mutex
	anchors map[string]*anchor
}

// NewStabilizer returns an empty Stabilizer ready for use.
func NewStabilizer() *Stabilizer {
	return &Stabilizer{anchors: make(map[string]*anchor)}
}

// Apply rewrites frame.Latitude/Longitude in place to the device's anchor
// when the device is stationary and within drift tolerance; otherwise it
// passes the frame through unchanged and updates anchor state.
func (s *Stabilizer) Apply(deviceID string, frame *codec.Frame) {
	stopped := frame.SpeedKPH <= stoppedSpeedThresholdKPH || !frame.IgnitionOn

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.anchors[deviceID]
	if !ok {
		if stopped {
			s.anchors[deviceID] = &anchor{lat: frame.Latitude, lng: frame.Longitude, at: frame.RecordedAt}
		}
		return
	}

	dist := haversineMeters(a.lat, a.lng, frame.Latitude, frame.Longitude)

	if !stopped {
		if dist > minMovementDistanceMeters {
			delete(s.anchors, deviceID)
		}
		return
	}

	if dist <= maxDriftDistanceMeters {
		frame.Latitude = a.lat
		frame.Longitude = a.lng
		return
	}

	s.anchors[deviceID] = &anchor{lat: frame.Latitude, lng: frame.Longitude, at: frame.RecordedAt}
}
