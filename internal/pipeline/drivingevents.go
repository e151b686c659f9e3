package pipeline

import (
	"sync"
	"time"

	"github.com/fleettrack/ingestd/internal/codec"
)

// Driving-event thresholds.
const (
	harshBrakingAccelMS2 = -4.0
	harshAccelAccelMS2   = 3.5

	memsHarshBrakingG    = -0.4
	memsHarshAccelG      = 0.4
	memsCorneringG       = 0.4
	memsSpeedBumpG       = 0.5
	memsPotholeG         = -0.6
	speedBumpMinSpeedKPH = 30.0

	sharpTurnDeltaDeg  = 45.0
	sharpTurnHighDeg   = 90.0
	sharpTurnMaxGapSec = 10.0

	overspeedLimitKPH    = 120.0
	overspeedHighKPH     = 140.0
	overspeedCriticalKPH = 150.0

	minSpeedForEventsKPH = 5.0
	eventCooldownSec     = 10.0
)

// DrivingEventType enumerates the event kinds the detector emits.
type DrivingEventType string

const (
	EventHarshBraking      DrivingEventType = "harsh_braking"
	EventHarshAcceleration DrivingEventType = "harsh_acceleration"
	EventSharpTurn         DrivingEventType = "sharp_turn"
	EventCornering         DrivingEventType = "cornering"
	EventSpeedBump         DrivingEventType = "speed_bump"
	EventPothole           DrivingEventType = "pothole"
	EventOverspeeding      DrivingEventType = "overspeeding"
)

// EventSeverity is a coarse ranking used by downstream alerting.
type EventSeverity string

const (
	SeverityLow      EventSeverity = "low"
	SeverityMedium   EventSeverity = "medium"
	SeverityHigh     EventSeverity = "high"
	SeverityCritical EventSeverity = "critical"
)

// DrivingEvent is one emitted detection.
type DrivingEvent struct {
	DeviceID string
	Type     DrivingEventType
	Severity EventSeverity
	At       time.Time
	Lat, Lng float64
	Detail   string
}

type drivingEventPrev struct {
	at       time.Time
	speed    float64
	heading  float64
	lat, lng float64
	cooldown map[DrivingEventType]time.Time
}

// DrivingEventsDetector evaluates each accepted frame against the previous
// frame of the same device. It ignores frames below
// minSpeedForEventsKPH for emission purposes, but still advances prev-frame
// state so the next fast frame has a correct baseline.
type DrivingEventsDetector struct {
	mu   sync.Mutex
	prev map[string]*drivingEventPrev
}

// NewDrivingEventsDetector returns an empty detector.
func NewDrivingEventsDetector() *DrivingEventsDetector {
	return &DrivingEventsDetector{prev: make(map[string]*drivingEventPrev)}
}

// Observe returns zero or more driving events triggered by frame, and
// updates per-device trailing state and the counters in tripCounters (trip
// detector's own per-kind tallies; nil is accepted when no trip is active).
func (d *DrivingEventsDetector) Observe(deviceID string, frame *codec.Frame, tripCounters *TripEventCounters) []DrivingEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.prev[deviceID]
	if !ok {
		p = &drivingEventPrev{cooldown: make(map[DrivingEventType]time.Time)}
		d.prev[deviceID] = p
	}

	var events []DrivingEvent
	emit := func(kind DrivingEventType, severity EventSeverity, detail string) {
		if last, ok := p.cooldown[kind]; ok && frame.RecordedAt.Sub(last).Seconds() < eventCooldownSec {
			return
		}
		p.cooldown[kind] = frame.RecordedAt
		events = append(events, DrivingEvent{
			DeviceID: deviceID, Type: kind, Severity: severity,
			At: frame.RecordedAt, Lat: frame.Latitude, Lng: frame.Longitude, Detail: detail,
		})
		if tripCounters != nil {
			tripCounters.Increment(kind)
		}
	}

	if frame.SpeedKPH >= minSpeedForEventsKPH {
		if ok {
			gap := frame.RecordedAt.Sub(p.at).Seconds()
			if gap > 0 {
				deltaSpeedMS := (frame.SpeedKPH - p.speed) / 3.6
				accel := deltaSpeedMS / gap
				if accel < harshBrakingAccelMS2 {
					emit(EventHarshBraking, severityFromAccel(accel, true), "speed-delta")
				}
				if accel > harshAccelAccelMS2 {
					emit(EventHarshAcceleration, severityFromAccel(accel, false), "speed-delta")
				}
				if gap <= sharpTurnMaxGapSec {
					delta := normalizeAngle(frame.HeadingDeg - p.heading)
					if abs(delta) > sharpTurnDeltaDeg {
						sev := SeverityMedium
						if abs(delta) > sharpTurnHighDeg {
							sev = SeverityHigh
						}
						emit(EventSharpTurn, sev, "heading-delta")
					}
				}
			}
		}

		mx := float64(frame.MemsX) / codec.MemsGDivisor
		my := float64(frame.MemsY) / codec.MemsGDivisor
		mz := float64(frame.MemsZ) / codec.MemsGDivisor

		if mx < memsHarshBrakingG {
			emit(EventHarshBraking, severityFromG(mx, true), "mems-x")
		}
		if mx > memsHarshAccelG {
			emit(EventHarshAcceleration, severityFromG(mx, false), "mems-x")
		}
		if abs(my) > memsCorneringG {
			emit(EventCornering, SeverityMedium, "mems-y")
		}
		if mz > memsSpeedBumpG && frame.SpeedKPH > speedBumpMinSpeedKPH {
			emit(EventSpeedBump, SeverityLow, "mems-z")
		}
		if mz < memsPotholeG {
			emit(EventPothole, SeverityMedium, "mems-z")
		}
		if frame.SpeedKPH > overspeedLimitKPH {
			emit(EventOverspeeding, severityFromSpeed(frame.SpeedKPH), "speed")
		}
	}

	p.at = frame.RecordedAt
	p.speed = frame.SpeedKPH
	p.heading = frame.HeadingDeg
	p.lat, p.lng = frame.Latitude, frame.Longitude

	return events
}

func severityFromAccel(accel float64, braking bool) EventSeverity {
	if braking {
		if accel < harshBrakingAccelMS2*1.5 {
			return SeverityHigh
		}
		return SeverityMedium
	}
	if accel > harshAccelAccelMS2*1.5 {
		return SeverityHigh
	}
	return SeverityMedium
}

func severityFromG(g float64, braking bool) EventSeverity {
	if braking {
		if g < memsHarshBrakingG*1.5 {
			return SeverityHigh
		}
		return SeverityMedium
	}
	if g > memsHarshAccelG*1.5 {
		return SeverityHigh
	}
	return SeverityMedium
}

func severityFromSpeed(speed float64) EventSeverity {
	switch {
	case speed > overspeedCriticalKPH:
		return SeverityCritical
	case speed > overspeedHighKPH:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// TripEventCounters tallies driving-event counts for the currently active
// trip.
type TripEventCounters struct {
	HarshBraking, HarshAcceleration, SharpTurns, Overspeeding int
}

// Increment bumps the counter matching kind, if trip detector tracks it.
func (c *TripEventCounters) Increment(kind DrivingEventType) {
	switch kind {
	case EventHarshBraking:
		c.HarshBraking++
	case EventHarshAcceleration:
		c.HarshAcceleration++
	case EventSharpTurn:
		c.SharpTurns++
	case EventOverspeeding:
		c.Overspeeding++
	}
}
