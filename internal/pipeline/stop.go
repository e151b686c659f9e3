package pipeline

import (
	"sync"
	"time"

	"github.com/fleettrack/ingestd/internal/codec"
)

const (
	minStopDurationSec    = 60.0
	stopSpeedThresholdKPH = 2.0

	trafficStopMaxSec  = 180.0
	deliveryStopMaxSec = 900.0
)

// StopType classifies a completed stop.
type StopType string

const (
	StopParking  StopType = "parking"
	StopTraffic  StopType = "traffic"
	StopDelivery StopType = "delivery"
)

// CompletedStop is emitted when a stationary interval ends having lasted at
// least minStopDurationSec.
type CompletedStop struct {
	DeviceID string
	Type     StopType
	StartAt  time.Time
	EndAt    time.Time
	Lat, Lng float64
}

type stopState struct {
	tracking           bool
	start              time.Time
	lat, lng           float64
	ignitionOffAtStart bool
}

// StopDetector implements the moving/stopped-tracking state machine. One
// instance is shared across all connections; each device's state lives
// behind the single mutex.
type StopDetector struct {
	mu    sync.Mutex
	state map[string]*stopState
}

// NewStopDetector returns an empty StopDetector.
func NewStopDetector() *StopDetector {
	return &StopDetector{state: make(map[string]*stopState)}
}

// Observe feeds one accepted frame to the detector and returns a completed
// stop, if the frame's transition closed one.
func (d *StopDetector) Observe(deviceID string, frame *codec.Frame) *CompletedStop {
	stopped := frame.SpeedKPH < stopSpeedThresholdKPH || !frame.IgnitionOn

	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.state[deviceID]
	if !ok {
		s = &stopState{}
		d.state[deviceID] = s
	}

	if stopped {
		if !s.tracking {
			s.tracking = true
			s.start = frame.RecordedAt
			s.lat, s.lng = frame.Latitude, frame.Longitude
			s.ignitionOffAtStart = !frame.IgnitionOn
		}
		return nil
	}

	if !s.tracking {
		return nil
	}
	s.tracking = false
	duration := frame.RecordedAt.Sub(s.start).Seconds()
	if duration < minStopDurationSec {
		return nil
	}

	return &CompletedStop{
		DeviceID: deviceID,
		Type:     classifyStop(s.ignitionOffAtStart, duration),
		StartAt:  s.start,
		EndAt:    frame.RecordedAt,
		Lat:      s.lat,
		Lng:      s.lng,
	}
}

func classifyStop(ignitionOff bool, durationSec float64) StopType {
	if ignitionOff {
		return StopParking
	}
	switch {
	case durationSec < trafficStopMaxSec:
		return StopTraffic
	case durationSec < deliveryStopMaxSec:
		return StopDelivery
	default:
		return StopParking
	}
}
