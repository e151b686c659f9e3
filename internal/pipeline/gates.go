package pipeline

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleettrack/ingestd/internal/codec"
)

// Legacy epoch-fix constants: opt-in via GateConfig.LegacyEpochFix, never
// applied unconditionally.
const (
	legacyEpochThresholdUnix = 1_451_606_400 // 2016-01-01 UTC
	legacyEpochOffsetSeconds = 619_315_200
)

const (
	stoppedThrottleSpeedKPH = 20.0
	stoppedThrottleWindow   = 30 * time.Minute

	globalRangeMinDegrees = 0.05
	looseRangeMaxDegrees  = 0.3
)

// GateConfig holds the knobs the admission gates need from configuration.
type GateConfig struct {
	// LegacyEpochFix enables the pre-2016 timestamp correction; off by
	// default, it is a workaround for one legacy firmware revision only.
	LegacyEpochFix bool
	// LocalOffsetMinutes is added to the already-UTC-corrected instant.
	LocalOffsetMinutes int
}

// DefaultGateConfig is the production default: no epoch fix, +60 minutes.
func DefaultGateConfig() GateConfig {
	return GateConfig{LegacyEpochFix: false, LocalOffsetMinutes: 60}
}

// LastPersisted tracks, per device, the wall-clock time at which the
// pipeline last accepted a position for persistence, not the frame's own
// recorded_at: bulk history replay carries old timestamps and would
// otherwise defeat the stopped-vehicle throttle. Services.Process marks it
// before the session writes the row, so a failed store write still counts.
type LastPersisted struct {
	mu sync.Mutex
	at map[string]time.Time
}

// NewLastPersisted returns an empty tracker.
func NewLastPersisted() *LastPersisted {
	return &LastPersisted{at: make(map[string]time.Time)}
}

func (p *LastPersisted) get(deviceID string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.at[deviceID]
	return t, ok
}

// Mark records now as the wall-clock persistence time for deviceID.
func (p *LastPersisted) Mark(deviceID string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.at[deviceID] = now
}

// Gates applies the business admission rules after the validator and before
// persistence. Accept returns false when any gate drops the frame; dropped
// frames have no downstream effect.
type Gates struct {
	cfg      GateConfig
	log      *logrus.Entry
	lastSeen *LastPersisted
	now      func() time.Time
}

// NewGates builds a Gates evaluator. now defaults to time.Now when nil.
func NewGates(cfg GateConfig, lastSeen *LastPersisted, log *logrus.Entry, now func() time.Time) *Gates {
	if now == nil {
		now = time.Now
	}
	return &Gates{cfg: cfg, log: log, lastSeen: lastSeen, now: now}
}

// Accept runs the stopped-vehicle throttle and gates 1-8 against frame,
// correcting its RecordedAt in place when the legacy epoch fix and local
// offset apply.
func (g *Gates) Accept(deviceID string, frame *codec.Frame) bool {
	if deviceID != "" && !frame.IgnitionOn && frame.SpeedKPH < stoppedThrottleSpeedKPH {
		if last, ok := g.lastSeen.get(deviceID); ok {
			if g.now().Sub(last) < stoppedThrottleWindow {
				g.drop(deviceID, "stopped vehicle throttle")
				return false
			}
		}
	}

	if frame.SendFlag == 2 {
		g.drop(deviceID, "send-flag heartbeat")
		return false
	}

	g.correctTimestamp(frame)

	serverTodayPlusOne := truncateToDay(g.now()).Add(24 * time.Hour)
	if !frame.RecordedAt.Before(serverTodayPlusOne) {
		g.drop(deviceID, "future date")
		return false
	}

	if frame.HeadingDeg < 0 || frame.HeadingDeg > 360 || frame.SpeedKPH < 0 || frame.SpeedKPH > 300 {
		g.drop(deviceID, "heading or speed out of range")
		return false
	}

	if abs(frame.Latitude) < globalRangeMinDegrees && abs(frame.Longitude) < globalRangeMinDegrees {
		g.drop(deviceID, "near null island")
		return false
	}

	if !frame.IsValid && abs(frame.Latitude) < looseRangeMaxDegrees && abs(frame.Longitude) < looseRangeMaxDegrees {
		g.drop(deviceID, "not gps-valid and within loose range")
		return false
	}

	if frame.Latitude < -90 || frame.Latitude > 90 || frame.Longitude < -180 || frame.Longitude > 180 {
		g.drop(deviceID, "out of global range")
		return false
	}

	return true
}

func (g *Gates) correctTimestamp(frame *codec.Frame) {
	if g.cfg.LegacyEpochFix && frame.RecordedAt.Unix() < legacyEpochThresholdUnix {
		frame.RecordedAt = frame.RecordedAt.Add(legacyEpochOffsetSeconds * time.Second)
	}
	frame.RecordedAt = frame.RecordedAt.Add(time.Duration(g.cfg.LocalOffsetMinutes) * time.Minute)
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func (g *Gates) drop(deviceID, reason string) {
	if g.log == nil {
		return
	}
	g.log.WithFields(logrus.Fields{
		"device_uid": deviceID,
		"stage":      "admission",
		"reason":     reason,
	}).Info("frame dropped")
}
