package pipeline

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleettrack/ingestd/internal/codec"
)

// Validator thresholds.
const (
	maxSpeedKPH             = 250.0
	maxJumpDistanceMeters   = 5_000.0
	speedCoherenceTolerance = 1.0
	minTimeForSpeedCheckSec = 10.0
	maxTimeForSpeedCheckSec = 300.0
	nullIslandDegrees       = 0.01
)

type lastValid struct {
	lat, lng, speed float64
	at              time.Time
}

// Validator rejects impossible or incoherent positions and remembers the
// last accepted position per device so it can reason about jumps.
type Validator struct {
	mu   sync.Mutex
	last map[string]*lastValid
	log  *logrus.Entry
}

// NewValidator returns an empty Validator.
func NewValidator(log *logrus.Entry) *Validator {
	return &Validator{last: make(map[string]*lastValid), log: log}
}

// Accept reports whether frame should continue through the pipeline for
// deviceID, and updates last-valid state on acceptance.
func (v *Validator) Accept(deviceID string, frame *codec.Frame) bool {
	if frame.SpeedKPH > maxSpeedKPH {
		v.reject(deviceID, frame, "speed over max")
		return false
	}
	if abs(frame.Latitude) < nullIslandDegrees && abs(frame.Longitude) < nullIslandDegrees {
		v.reject(deviceID, frame, "null island")
		return false
	}

	v.mu.Lock()
	prev, ok := v.last[deviceID]
	v.mu.Unlock()

	if ok {
		gap := frame.RecordedAt.Sub(prev.at).Seconds()
		if gap >= minTimeForSpeedCheckSec && gap < maxTimeForSpeedCheckSec {
			jump := haversineMeters(prev.lat, prev.lng, frame.Latitude, frame.Longitude)
			if jump > maxJumpDistanceMeters {
				v.reject(deviceID, frame, "implausible jump")
				return false
			}
		}
		if gap > 0 && gap <= maxTimeForSpeedCheckSec {
			calculatedSpeed := haversineMeters(prev.lat, prev.lng, frame.Latitude, frame.Longitude) / gap * 3.6
			if calculatedSpeed > maxSpeedKPH*1.5 {
				v.reject(deviceID, frame, "implausible calculated speed")
				return false
			}
			if abs(calculatedSpeed-frame.SpeedKPH) > speedCoherenceTolerance && v.log != nil {
				v.log.WithFields(logrus.Fields{
					"device_uid":       deviceID,
					"reported_speed":   frame.SpeedKPH,
					"calculated_speed": calculatedSpeed,
				}).Debug("speed incoherence (not rejected)")
			}
		}
	}

	v.mu.Lock()
	v.last[deviceID] = &lastValid{lat: frame.Latitude, lng: frame.Longitude, speed: frame.SpeedKPH, at: frame.RecordedAt}
	v.mu.Unlock()
	return true
}

func (v *Validator) reject(deviceID string, frame *codec.Frame, reason string) {
	if v.log == nil {
		return
	}
	v.log.WithFields(logrus.Fields{
		"device_uid": deviceID,
		"stage":      "validator",
		"reason":     reason,
	}).Warn("frame rejected")
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
