package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleettrack/ingestd/internal/codec"
	"github.com/fleettrack/ingestd/internal/pipeline"
)

func secondsToDuration(s int64) time.Duration { return time.Duration(s) * time.Second }

// Postgres implements TelemetryStore and GeofenceSource over a pgx
// connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL with a pool capped at maxConns connections
// (the DB_POOL_SIZE setting, 10 by default); a non-positive maxConns keeps
// pgx's own default cap.
func Open(ctx context.Context, databaseURL string, maxConns int32) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) EnsureDevice(ctx context.Context, imei, protocol string, meta DeviceMetadata) (string, error) {
	var deviceID string
	err := p.pool.QueryRow(ctx, `
		INSERT INTO devices (imei, protocol, mat, firmware, icc, last_seen_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), now())
		ON CONFLICT (imei) DO UPDATE SET protocol = EXCLUDED.protocol, last_seen_at = now()
		RETURNING id::text
	`, imei, protocol, meta.MAT, meta.Firmware, meta.ICC).Scan(&deviceID)
	if err != nil {
		return "", fmt.Errorf("store: ensure device: %w", err)
	}
	return deviceID, nil
}

func (p *Postgres) UpsertDeviceFromInfo(ctx context.Context, info *codec.InfoFrame, protocol string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO devices (imei, protocol, mat, firmware, icc, last_seen_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), now())
		ON CONFLICT (imei) DO UPDATE SET
			mat = EXCLUDED.mat, firmware = EXCLUDED.firmware, icc = EXCLUDED.icc, last_seen_at = now()
	`, info.IMEI, protocol, info.MAT, info.Firmware, info.ICC)
	if err != nil {
		return fmt.Errorf("store: upsert device from info: %w", err)
	}
	return nil
}

func (p *Postgres) GetDeviceID(ctx context.Context, imei string) (string, bool, error) {
	var id string
	err := p.pool.QueryRow(ctx, `SELECT id::text FROM devices WHERE imei = $1`, imei).Scan(&id)
	if err != nil {
		return "", false, nil
	}
	return id, true, nil
}

func (p *Postgres) GetDeviceVehicleInfo(ctx context.Context, deviceID string) (VehicleInfo, error) {
	var info VehicleInfo
	err := p.pool.QueryRow(ctx, `
		SELECT COALESCE(v.id::text, ''), COALESCE(v.company_id::text, '')
		FROM devices d LEFT JOIN vehicles v ON v.id = d.vehicle_id
		WHERE d.id = $1
	`, deviceID).Scan(&info.VehicleID, &info.CompanyID)
	if err != nil {
		return VehicleInfo{}, fmt.Errorf("store: get device vehicle info: %w", err)
	}
	return info, nil
}

func (p *Postgres) GetLastPosition(ctx context.Context, deviceID string) (*pipeline.LastPosition, error) {
	var pos pipeline.LastPosition
	err := p.pool.QueryRow(ctx, `
		SELECT lat, lng, recorded_at FROM positions
		WHERE device_id = $1 ORDER BY recorded_at DESC LIMIT 1
	`, deviceID).Scan(&pos.Lat, &pos.Lng, &pos.RecordedAt)
	if err != nil {
		return nil, nil
	}
	return &pos, nil
}

func (p *Postgres) InsertPosition(ctx context.Context, deviceID string, frame *codec.Frame, eventKey string, interpolated bool) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO positions (
			device_id, event_key, recorded_at, lat, lng, speed_kph, heading_deg,
			power_voltage, power_source_rescue, fuel_raw, ignition_on, is_valid,
			is_real_time, mems_x, mems_y, mems_z, temperature_raw, odometer_km,
			send_flag, raw_payload, address, is_interpolated
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,NULLIF($21,''),$22)
		ON CONFLICT (event_key) DO NOTHING
	`,
		deviceID, eventKey, frame.RecordedAt, frame.Latitude, frame.Longitude, frame.SpeedKPH, frame.HeadingDeg,
		frame.PowerVoltage, frame.PowerSourceRescue, frame.FuelRaw, frame.IgnitionOn, frame.IsValid,
		frame.IsRealTime, frame.MemsX, frame.MemsY, frame.MemsZ, frame.TemperatureRaw, frame.OdometerKM,
		frame.SendFlag, frame.RawPayload, frame.Address, interpolated)
	if err != nil {
		return fmt.Errorf("store: insert position: %w", err)
	}
	return nil
}

func (p *Postgres) InsertAlert(ctx context.Context, deviceID, label, severity string, frame *codec.Frame) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO alerts (device_id, label, severity, recorded_at, lat, lng)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, deviceID, label, severity, frame.RecordedAt, frame.Latitude, frame.Longitude)
	if err != nil {
		return fmt.Errorf("store: insert alert: %w", err)
	}
	return nil
}

func (p *Postgres) InsertVehicleStop(ctx context.Context, stop pipeline.CompletedStop) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO vehicle_stops (device_id, stop_type, started_at, ended_at, lat, lng)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, stop.DeviceID, string(stop.Type), stop.StartAt, stop.EndAt, stop.Lat, stop.Lng)
	if err != nil {
		return fmt.Errorf("store: insert vehicle stop: %w", err)
	}
	return nil
}

func (p *Postgres) InsertTrip(ctx context.Context, trip pipeline.CompletedTrip) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO trips (
			device_id, started_at, ended_at, distance_km, max_speed_kph, average_speed_kph,
			harsh_braking, harsh_acceleration, sharp_turns, overspeeding
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, trip.DeviceID, trip.StartAt, trip.EndAt, trip.DistanceKM, trip.MaxSpeedKPH, trip.AverageSpeedKPH,
		trip.HarshBraking, trip.HarshAcceleration, trip.SharpTurns, trip.Overspeeding)
	if err != nil {
		return fmt.Errorf("store: insert trip: %w", err)
	}
	return nil
}

func (p *Postgres) InsertFuelRecord(ctx context.Context, event pipeline.FuelEvent) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO fuel_records (device_id, event_type, recorded_at, fuel_raw, delta_pct)
		VALUES ($1,$2,$3,$4,$5)
	`, event.DeviceID, string(event.Type), event.At, event.FuelRaw, event.DeltaPct)
	if err != nil {
		return fmt.Errorf("store: insert fuel record: %w", err)
	}
	return nil
}

func (p *Postgres) InsertGeofenceEvent(ctx context.Context, event pipeline.GeofenceEvent) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO geofence_events (device_id, geofence_id, entered, recorded_at, duration_since_secs)
		VALUES ($1,$2,$3,$4,$5)
	`, event.DeviceID, event.GeofenceID, event.Entered, event.At, int64(event.DurationSince.Seconds()))
	if err != nil {
		return fmt.Errorf("store: insert geofence event: %w", err)
	}
	return nil
}

func (p *Postgres) InsertDrivingEvent(ctx context.Context, event pipeline.DrivingEvent) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO driving_events (device_id, event_type, severity, recorded_at, lat, lng, detail)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, event.DeviceID, string(event.Type), string(event.Severity), event.At, event.Lat, event.Lng, event.Detail)
	if err != nil {
		return fmt.Errorf("store: insert driving event: %w", err)
	}
	return nil
}

// LoadGeofences implements GeofenceSource; GeofenceSourceAdapter bridges it
// to the context-free pipeline.GeofenceSource. Only
// active geofences are returned; polygon vertices are stored as a JSON
// [[lat,lng],...] array alongside the circle columns.
func (p *Postgres) LoadGeofences(ctx context.Context) ([]pipeline.Geofence, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id::text, name, is_circle, center_lat, center_lng, radius_m, vertices,
			alert_on_entry, alert_on_exit, cooldown_minutes, company_id::text,
			assigned_vehicle_ids, active_days, active_start_secs, active_end_secs
		FROM geofences
		WHERE active
	`)
	if err != nil {
		return nil, fmt.Errorf("store: load geofences: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Geofence
	for rows.Next() {
		var (
			g                         pipeline.Geofence
			isCircle                  bool
			centerLat, centerLng, rad float64
			verticesJSON              []byte
			assignedVehicles          []string
			activeDays                string
			activeStart, activeEnd    *int64
		)
		if err := rows.Scan(&g.ID, &g.Name, &isCircle, &centerLat, &centerLng, &rad, &verticesJSON,
			&g.AlertOnEntry, &g.AlertOnExit, &g.CooldownMinutes, &g.CompanyID,
			&assignedVehicles, &activeDays, &activeStart, &activeEnd); err != nil {
			return nil, fmt.Errorf("store: scan geofence: %w", err)
		}
		g.Shape = pipeline.GeofenceShape{IsCircle: isCircle, CenterLat: centerLat, CenterLng: centerLng, RadiusM: rad}
		if len(verticesJSON) > 0 {
			if err := json.Unmarshal(verticesJSON, &g.Shape.Vertices); err != nil {
				return nil, fmt.Errorf("store: decode geofence vertices: %w", err)
			}
		}
		g.AssignedVehicleIDs = assignedVehicles
		g.ActiveDays = pipeline.ParseActiveDays(activeDays)
		if activeStart != nil && activeEnd != nil {
			start := secondsToDuration(*activeStart)
			end := secondsToDuration(*activeEnd)
			g.ActiveStart, g.ActiveEnd = &start, &end
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
