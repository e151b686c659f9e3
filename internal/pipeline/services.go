package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleettrack/ingestd/internal/codec"
)

// Services aggregates every stateful stage the ingest pipeline needs, built
// once and passed into every connection task instead of living as package
// globals.
type Services struct {
	Stabilizer    *Stabilizer
	Validator     *Validator
	Gates         *Gates
	LastPersisted *LastPersisted
	Stop          *StopDetector
	Trip          *TripDetector
	DrivingEvents *DrivingEventsDetector
	Fuel          *FuelTracker
	Geofence      *GeofenceDetector
	GapFiller     *GapFiller

	Log *logrus.Entry
}

// NewServices wires the stage instances together using cfg, geofenceSource,
// an optional geofence snapshot cache, and a routing client.
func NewServices(cfg GateConfig, geofenceSource GeofenceSource, geofenceCache GeofenceSnapshotCache, router Router, log *logrus.Entry) *Services {
	lastPersisted := NewLastPersisted()
	return &Services{
		Stabilizer:    NewStabilizer(),
		Validator:     NewValidator(log),
		Gates:         NewGates(cfg, lastPersisted, log, nil),
		LastPersisted: lastPersisted,
		Stop:          NewStopDetector(),
		Trip:          NewTripDetector(),
		DrivingEvents: NewDrivingEventsDetector(),
		Fuel:          NewFuelTracker(),
		Geofence:      NewGeofenceDetector(geofenceSource, geofenceCache, nil),
		GapFiller:     NewGapFiller(router, log),
		Log:           log,
	}
}

// Outcome is everything the pipeline produced for one accepted frame, ready
// for the persistence fan-out and publisher.
type Outcome struct {
	Frame          *codec.Frame
	AlertLabel     string
	AlertSeverity  string
	Stop           *CompletedStop
	Trip           *CompletedTrip
	DrivingEvents  []DrivingEvent
	FuelEvents     []FuelEvent
	GeofenceEvents []GeofenceEvent
	Interpolated   []InterpolatedPosition
}

// Process runs one decoded frame through stabilizer, validator, and
// admission gates, then through every detector if it survives. It returns
// (nil, false) when any stage rejected or dropped the frame.
func (s *Services) Process(ctx context.Context, deviceID, companyID, vehicleID string, frame *codec.Frame, last *LastPosition) (*Outcome, bool) {
	s.Stabilizer.Apply(deviceID, frame)

	if !s.Validator.Accept(deviceID, frame) {
		return nil, false
	}
	if !s.Gates.Accept(deviceID, frame) {
		return nil, false
	}

	out := &Outcome{Frame: frame}
	if frame.SendFlag != 0 {
		out.AlertLabel, out.AlertSeverity = codec.SendFlagLabel(frame.SendFlag)
	}

	out.DrivingEvents = s.DrivingEvents.Observe(deviceID, frame, nil)
	out.Stop = s.Stop.Observe(deviceID, frame)
	out.Trip = s.Trip.Observe(deviceID, frame, out.DrivingEvents)
	out.FuelEvents = s.Fuel.Observe(deviceID, frame)
	out.GeofenceEvents = s.Geofence.Observe(deviceID, companyID, vehicleID, frame)

	if last != nil {
		out.Interpolated = s.GapFiller.Fill(ctx, deviceID, *last, frame.Latitude, frame.Longitude, frame.RecordedAt)
	}

	s.LastPersisted.Mark(deviceID, time.Now())
	return out, true
}
