package routing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteParsesGeoJSONGeometry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/route/v1/driving/")
		w.Header().Set("Content-Type", "application/json")
		// OSRM returns [lng, lat] pairs.
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":2000,"duration":180,
			"geometry":{"coordinates":[[10.0,36.0],[10.0,36.009],[10.0,36.018]]}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	route, err := c.Route(context.Background(), LatLng{Lat: 36.0, Lng: 10.0}, LatLng{Lat: 36.018, Lng: 10.0})
	require.NoError(t, err)
	require.NotNil(t, route)

	assert.Equal(t, 2000.0, route.DistanceMeters)
	assert.Equal(t, 180.0, route.DurationSec)
	require.Len(t, route.Geometry, 3)
	assert.Equal(t, 36.009, route.Geometry[1].Lat)
	assert.Equal(t, 10.0, route.Geometry[1].Lng)
}

func TestRouteNoRouteIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"NoRoute","routes":[]}`))
	}))
	defer srv.Close()

	route, err := NewClient(srv.URL).Route(context.Background(), LatLng{}, LatLng{})
	require.NoError(t, err)
	assert.Nil(t, route)
}

func TestRouteWithoutBaseURLFails(t *testing.T) {
	_, err := NewClient("").Route(context.Background(), LatLng{}, LatLng{})
	assert.Error(t, err)
}
