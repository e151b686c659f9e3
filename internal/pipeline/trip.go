package pipeline

import (
	"sync"
	"time"

	"github.com/fleettrack/ingestd/internal/codec"
)

const (
	minTripDurationSec      = 60.0
	minTripDistanceKM       = 0.1
	movingSpeedThresholdKPH = 5.0
	tripEndStopDurationSec  = 300.0
)

// CompletedTrip is emitted when an active interval ends meeting the minimum
// duration and distance.
type CompletedTrip struct {
	DeviceID          string
	StartAt, EndAt    time.Time
	DistanceKM        float64
	MaxSpeedKPH       float64
	AverageSpeedKPH   float64
	HarshBraking      int
	HarshAcceleration int
	SharpTurns        int
	Overspeeding      int
}

type tripState struct {
	active           bool
	start            time.Time
	lastMoving       time.Time
	lastLat, lastLng float64
	distanceKM       float64
	maxSpeed         float64
	counters         TripEventCounters
}

// TripDetector implements the idle/active trip state machine.
type TripDetector struct {
	mu    sync.Mutex
	state map[string]*tripState
}

// NewTripDetector returns an empty TripDetector.
func NewTripDetector() *TripDetector {
	return &TripDetector{state: make(map[string]*tripState)}
}

// Observe feeds one accepted frame, plus the driving events already detected
// for it, into the trip state machine and returns a completed trip when the
// frame's transition closed one.
func (d *TripDetector) Observe(deviceID string, frame *codec.Frame, events []DrivingEvent) *CompletedTrip {
	moving := frame.IgnitionOn && frame.SpeedKPH >= movingSpeedThresholdKPH

	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.state[deviceID]
	if !ok {
		s = &tripState{}
		d.state[deviceID] = s
	}

	if moving {
		if !s.active {
			s.active = true
			s.start = frame.RecordedAt
			s.lastMoving = frame.RecordedAt
			s.lastLat, s.lastLng = frame.Latitude, frame.Longitude
			s.distanceKM = 0
			s.maxSpeed = 0
			s.counters = TripEventCounters{}
		} else {
			segment := haversineMeters(s.lastLat, s.lastLng, frame.Latitude, frame.Longitude) / 1000
			s.distanceKM += segment
			s.lastLat, s.lastLng = frame.Latitude, frame.Longitude
			s.lastMoving = frame.RecordedAt
		}
		if frame.SpeedKPH > s.maxSpeed {
			s.maxSpeed = frame.SpeedKPH
		}
		for _, ev := range events {
			s.counters.Increment(ev.Type)
		}
		return nil
	}

	if !s.active {
		return nil
	}
	if frame.RecordedAt.Sub(s.lastMoving).Seconds() < tripEndStopDurationSec {
		return nil
	}

	s.active = false
	duration := s.lastMoving.Sub(s.start).Seconds()
	if duration < minTripDurationSec || s.distanceKM < minTripDistanceKM {
		return nil
	}

	avgSpeed := 0.0
	if duration > 0 {
		avgSpeed = s.distanceKM / (duration / 3600)
	}

	return &CompletedTrip{
		DeviceID:          deviceID,
		StartAt:           s.start,
		EndAt:             s.lastMoving,
		DistanceKM:        s.distanceKM,
		MaxSpeedKPH:       s.maxSpeed,
		AverageSpeedKPH:   avgSpeed,
		HarshBraking:      s.counters.HarshBraking,
		HarshAcceleration: s.counters.HarshAcceleration,
		SharpTurns:        s.counters.SharpTurns,
		Overspeeding:      s.counters.Overspeeding,
	}
}
