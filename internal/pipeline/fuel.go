package pipeline

import (
	"sync"
	"time"

	"github.com/fleettrack/ingestd/internal/codec"
)

const (
	refuelThresholdPercent          = 10.0
	theftThresholdPercent           = -10.0
	theftMaxOdometerAdvanceKM       = 5.0
	consumptionDropThresholdPercent = -5.0
	consumptionExcessPerKMPercent   = 1.0 / 5.0
	consumptionExcessMarginPercent  = 5.0
	defaultLowFuelThresholdPercent  = 15.0
)

// FuelEventType enumerates the anomaly kinds the fuel tracker emits.
type FuelEventType string

const (
	FuelReading          FuelEventType = "reading"
	FuelRefuel           FuelEventType = "refuel"
	FuelConsumptionSpike FuelEventType = "consumption_spike"
	FuelTheft            FuelEventType = "theft"
	FuelSensorError      FuelEventType = "sensor_error"
	FuelLow              FuelEventType = "low_fuel"
)

// FuelEvent is one emission from the tracker.
type FuelEvent struct {
	DeviceID string
	Type     FuelEventType
	At       time.Time
	FuelRaw  int
	DeltaPct float64
}

type fuelState struct {
	haveReading bool
	lastFuel    int
	lastOdo     int
}

// FuelTracker implements the refuel/theft/consumption-spike/low-fuel
// classifier. The low-fuel threshold is configurable per instance, e.g.
// from per-company store configuration.
type FuelTracker struct {
	mu               sync.Mutex
	state            map[string]*fuelState
	lowFuelThreshold float64
}

// NewFuelTracker returns a tracker using the default low-fuel threshold.
func NewFuelTracker() *FuelTracker {
	return &FuelTracker{state: make(map[string]*fuelState), lowFuelThreshold: defaultLowFuelThresholdPercent}
}

// WithLowFuelThreshold overrides the default 15% low-fuel threshold, e.g.
// when resolved from per-company store configuration.
func (t *FuelTracker) WithLowFuelThreshold(pct float64) *FuelTracker {
	t.lowFuelThreshold = pct
	return t
}

// Observe classifies frame's fuel reading against the device's prior state
// and returns the anomaly events triggered, if any. State always advances,
// even when fuel is out of range.
func (t *FuelTracker) Observe(deviceID string, frame *codec.Frame) []FuelEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.state[deviceID]
	if !ok {
		s = &fuelState{}
		t.state[deviceID] = s
	}

	var events []FuelEvent
	emit := func(kind FuelEventType, delta float64) {
		events = append(events, FuelEvent{DeviceID: deviceID, Type: kind, At: frame.RecordedAt, FuelRaw: frame.FuelRaw, DeltaPct: delta})
	}

	if frame.FuelRaw < 0 || frame.FuelRaw > 100 {
		emit(FuelSensorError, 0)
		s.haveReading = false
		return events
	}

	// Low fuel is a fallback classification: a frame that already reads as
	// a refuel, theft, or spike never doubles as a low-fuel alert.
	if s.haveReading {
		delta := float64(frame.FuelRaw - s.lastFuel)
		odoAdvance := frame.OdometerKM - s.lastOdo

		switch {
		case delta >= refuelThresholdPercent:
			emit(FuelRefuel, delta)
		case delta <= theftThresholdPercent && float64(odoAdvance) < theftMaxOdometerAdvanceKM && !frame.IgnitionOn:
			emit(FuelTheft, delta)
		case delta < consumptionDropThresholdPercent &&
			-delta > float64(odoAdvance)*consumptionExcessPerKMPercent+consumptionExcessMarginPercent:
			// The drop exceeds distance/5 percent plus a 5-point margin;
			// a spike, not normal use.
			emit(FuelConsumptionSpike, delta)
		case float64(frame.FuelRaw) <= t.lowFuelThreshold:
			emit(FuelLow, 0)
		}
	} else if float64(frame.FuelRaw) <= t.lowFuelThreshold {
		emit(FuelLow, 0)
	}

	s.haveReading = true
	s.lastFuel = frame.FuelRaw
	s.lastOdo = frame.OdometerKM
	return events
}
