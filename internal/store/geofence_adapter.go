package store

import (
	"context"

	"github.com/fleettrack/ingestd/internal/pipeline"
)

// GeofenceSourceAdapter bridges a context-aware GeofenceSource (Postgres,
// in production) to pipeline.GeofenceSource, which the geofence detector
// calls synchronously from inside Observe once its 60s refresh interval has
// elapsed (there is no separate timer), so a single background context
// suffices.
type GeofenceSourceAdapter struct {
	Source GeofenceSource
	Ctx    context.Context
}

// LoadGeofences implements pipeline.GeofenceSource.
func (a GeofenceSourceAdapter) LoadGeofences() ([]pipeline.Geofence, error) {
	ctx := a.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return a.Source.LoadGeofences(ctx)
}
