// Package store defines the narrow capability interfaces the ingest
// pipeline needs from the relational store, and a pgx-backed
// implementation against Postgres.
package store

import (
	"context"
	"strconv"
	"time"

	"github.com/fleettrack/ingestd/internal/codec"
	"github.com/fleettrack/ingestd/internal/pipeline"
)

// DeviceMetadata is the upsert payload for ensure_device/upsert_device_from_info.
type DeviceMetadata struct {
	MAT      string
	Firmware string
	ICC      string
}

// VehicleInfo is what the pipeline needs to resolve a device's company and
// vehicle association.
type VehicleInfo struct {
	VehicleID string
	CompanyID string
}

// TelemetryStore is the write/read surface the pipeline depends on. It is
// kept narrow and generic-over-implementation for testability.
type TelemetryStore interface {
	EnsureDevice(ctx context.Context, imei, protocol string, meta DeviceMetadata) (deviceID string, err error)
	UpsertDeviceFromInfo(ctx context.Context, info *codec.InfoFrame, protocol string) error
	GetDeviceID(ctx context.Context, imei string) (deviceID string, ok bool, err error)
	GetDeviceVehicleInfo(ctx context.Context, deviceID string) (VehicleInfo, error)
	GetLastPosition(ctx context.Context, deviceID string) (*pipeline.LastPosition, error)

	InsertPosition(ctx context.Context, deviceID string, frame *codec.Frame, eventKey string, interpolated bool) error
	InsertAlert(ctx context.Context, deviceID, label, severity string, frame *codec.Frame) error
	InsertVehicleStop(ctx context.Context, stop pipeline.CompletedStop) error
	InsertTrip(ctx context.Context, trip pipeline.CompletedTrip) error
	InsertFuelRecord(ctx context.Context, event pipeline.FuelEvent) error
	InsertGeofenceEvent(ctx context.Context, event pipeline.GeofenceEvent) error
	InsertDrivingEvent(ctx context.Context, event pipeline.DrivingEvent) error
}

// GeofenceSource loads the currently active geofences; Postgres satisfies
// this as well as TelemetryStore, but it is kept separate so the geofence
// detector depends on nothing else from the store.
type GeofenceSource interface {
	LoadGeofences(ctx context.Context) ([]pipeline.Geofence, error)
}

// EventKey builds the natural key used to deduplicate position rows:
// "{IMEI}:{recorded_at}:{lat:.6}:{lng:.6}".
func EventKey(imei string, recordedAt time.Time, lat, lng float64) string {
	return imei + ":" + recordedAt.UTC().Format(time.RFC3339) + ":" +
		strconv.FormatFloat(lat, 'f', 6, 64) + ":" + strconv.FormatFloat(lng, 'f', 6, 64)
}
