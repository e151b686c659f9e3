package pipeline

import (
	"strings"
	"sync"
	"time"

	"github.com/fleettrack/ingestd/internal/codec"
)

const geofenceRefreshInterval = 60 * time.Second

// GeofenceShape is either a polygon or a circle.
type GeofenceShape struct {
	Vertices  [][2]float64 // [lat, lng], empty when circle-shaped
	CenterLat float64
	CenterLng float64
	RadiusM   float64
	IsCircle  bool
}

// Geofence mirrors the store's geofence row shape.
type Geofence struct {
	ID                        string
	Name                      string
	Shape                     GeofenceShape
	AlertOnEntry, AlertOnExit bool
	CooldownMinutes           int
	CompanyID                 string
	AssignedVehicleIDs        []string // empty = all vehicles of the company
	ActiveDays                []time.Weekday
	ActiveStart, ActiveEnd    *time.Duration // time-of-day offsets; may wrap past midnight
}

// GeofenceEvent is emitted on an entry/exit edge the geofence requests and
// whose per-device-per-geofence cooldown has elapsed.
type GeofenceEvent struct {
	DeviceID   string
	GeofenceID string
	Entered    bool
	At         time.Time
	DurationSince time.Duration // only set on exit
}

// GeofenceSource loads the currently active geofence set from the store.
type GeofenceSource interface {
	LoadGeofences() ([]Geofence, error)
}

type geofenceDeviceState struct {
	inside     map[string]bool // geofenceID -> currently inside
	enteredAt  map[string]time.Time
	lastNotify map[string]time.Time
}

// GeofenceDetector tracks per-device geofence membership and emits
// entry/exit events. It is shared across all connections; refresh happens
// lazily on Observe so no background task is required per connection.
// TODO: move the refresh onto a dedicated task publishing snapshots once
// per-frame latency under store pressure becomes measurable.
type GeofenceDetector struct {
	source GeofenceSource
	cache  GeofenceSnapshotCache // optional; degrades to "last known" on store outage

	mu          sync.Mutex
	geofences   []Geofence
	lastRefresh time.Time
	devices     map[string]*geofenceDeviceState

	now func() time.Time
}

// GeofenceSnapshotCache persists the last-loaded geofence set so a transient
// store outage during refresh degrades gracefully instead of dropping all
// geofences (see internal/geocache).
type GeofenceSnapshotCache interface {
	Save([]Geofence) error
	Load() ([]Geofence, error)
}

// NewGeofenceDetector builds a detector over source, optionally backed by a
// snapshot cache. now defaults to time.Now when nil.
func NewGeofenceDetector(source GeofenceSource, cache GeofenceSnapshotCache, now func() time.Time) *GeofenceDetector {
	if now == nil {
		now = time.Now
	}
	return &GeofenceDetector{source: source, cache: cache, devices: make(map[string]*geofenceDeviceState), now: now}
}

func (d *GeofenceDetector) refreshLocked() {
	if d.now().Sub(d.lastRefresh) <= geofenceRefreshInterval && d.lastRefresh != (time.Time{}) {
		return
	}
	fences, err := d.source.LoadGeofences()
	if err != nil {
		if d.cache != nil {
			if cached, cacheErr := d.cache.Load(); cacheErr == nil {
				d.geofences = cached
			}
		}
		return
	}
	d.geofences = fences
	d.lastRefresh = d.now()
	if d.cache != nil {
		_ = d.cache.Save(fences)
	}
}

// Observe refreshes the geofence set if stale, tests frame's position
// against every geofence applicable to companyID/vehicleID, and returns the
// entry/exit events that pass the requested-edge and cooldown checks.
func (d *GeofenceDetector) Observe(deviceID, companyID, vehicleID string, frame *codec.Frame) []GeofenceEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.refreshLocked()

	ds, ok := d.devices[deviceID]
	if !ok {
		ds = &geofenceDeviceState{inside: map[string]bool{}, enteredAt: map[string]time.Time{}, lastNotify: map[string]time.Time{}}
		d.devices[deviceID] = ds
	}

	var events []GeofenceEvent
	for _, g := range d.geofences {
		if !geofenceApplies(g, companyID, vehicleID, frame.RecordedAt) {
			continue
		}
		wasInside := ds.inside[g.ID]
		nowInside := isPointInside(g.Shape, frame.Latitude, frame.Longitude)
		ds.inside[g.ID] = nowInside

		switch {
		case !wasInside && nowInside:
			ds.enteredAt[g.ID] = frame.RecordedAt
			if g.AlertOnEntry && d.canNotify(ds, g, frame.RecordedAt) {
				events = append(events, GeofenceEvent{DeviceID: deviceID, GeofenceID: g.ID, Entered: true, At: frame.RecordedAt})
				ds.lastNotify[g.ID] = frame.RecordedAt
			}
		case wasInside && !nowInside:
			since := frame.RecordedAt.Sub(ds.enteredAt[g.ID])
			if g.AlertOnExit && d.canNotify(ds, g, frame.RecordedAt) {
				events = append(events, GeofenceEvent{DeviceID: deviceID, GeofenceID: g.ID, Entered: false, At: frame.RecordedAt, DurationSince: since})
				ds.lastNotify[g.ID] = frame.RecordedAt
			}
		}
	}
	return events
}

func (d *GeofenceDetector) canNotify(ds *geofenceDeviceState, g Geofence, now time.Time) bool {
	last, ok := ds.lastNotify[g.ID]
	if !ok {
		return true
	}
	return now.Sub(last) >= time.Duration(g.CooldownMinutes)*time.Minute
}

func isPointInside(shape GeofenceShape, lat, lng float64) bool {
	if shape.IsCircle {
		return haversineMeters(shape.CenterLat, shape.CenterLng, lat, lng) <= shape.RadiusM
	}
	return pointInPolygon(lat, lng, shape.Vertices)
}

func geofenceApplies(g Geofence, companyID, vehicleID string, at time.Time) bool {
	if g.CompanyID != "" && g.CompanyID != companyID {
		return false
	}
	if len(g.AssignedVehicleIDs) > 0 {
		found := false
		for _, v := range g.AssignedVehicleIDs {
			if v == vehicleID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !isActiveDay(g.ActiveDays, at.Weekday()) {
		return false
	}
	return isActiveWindow(g.ActiveStart, g.ActiveEnd, at)
}

func isActiveDay(days []time.Weekday, today time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	for _, d := range days {
		if d == today {
			return true
		}
	}
	return false
}

// isActiveWindow evaluates a time-of-day window that may wrap past
// midnight (e.g. 22:00-06:00).
func isActiveWindow(start, end *time.Duration, at time.Time) bool {
	if start == nil || end == nil {
		return true
	}
	tod := time.Duration(at.Hour())*time.Hour + time.Duration(at.Minute())*time.Minute + time.Duration(at.Second())*time.Second
	if *start <= *end {
		return tod >= *start && tod <= *end
	}
	return tod >= *start || tod <= *end
}

// ParseActiveDays converts a comma-separated weekday-name list (as stored
// by the relational store) into []time.Weekday.
func ParseActiveDays(csv string) []time.Weekday {
	if csv == "" {
		return nil
	}
	names := map[string]time.Weekday{
		"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
		"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
	}
	var days []time.Weekday
	for _, part := range strings.Split(csv, ",") {
		if d, ok := names[strings.ToLower(strings.TrimSpace(part))]; ok {
			days = append(days, d)
		}
	}
	return days
}
