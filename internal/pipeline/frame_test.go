package pipeline

import (
	"time"

	"github.com/fleettrack/ingestd/internal/codec"
)

// testBase is an arbitrary fixed instant so detector tests are deterministic.
var testBase = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func testFrame(lat, lng, speed float64, ignition bool, at time.Time) *codec.Frame {
	return &codec.Frame{
		Kind:       codec.KindRealTime,
		Version:    codec.VersionV3,
		RecordedAt: at,
		Latitude:   lat,
		Longitude:  lng,
		SpeedKPH:   speed,
		IgnitionOn: ignition,
		IsValid:    true,
		FuelRaw:    50,
	}
}
