package geocache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleettrack/ingestd/internal/pipeline"
)

func TestCacheSaveLoadRoundTrip(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "geofences.db"))
	require.NoError(t, err)
	defer c.Close()

	fences := []pipeline.Geofence{
		{ID: "g1", Name: "depot", Shape: pipeline.GeofenceShape{
			Vertices: [][2]float64{{36.0, 10.0}, {36.0, 10.1}, {36.1, 10.1}},
		}, AlertOnEntry: true, CooldownMinutes: 30},
		{ID: "g2", Name: "yard", Shape: pipeline.GeofenceShape{
			IsCircle: true, CenterLat: 36.0, CenterLng: 10.0, RadiusM: 250,
		}},
	}
	require.NoError(t, c.Save(fences))

	loaded, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, fences, loaded)
}

func TestCacheLoadBeforeSaveIsEmpty(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "geofences.db"))
	require.NoError(t, err)
	defer c.Close()

	loaded, err := c.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
