package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReverseParsesDisplayName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/reverse")
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Write([]byte(`{"display_name":"Avenue Habib Bourguiba, Tunis"}`))
	}))
	defer srv.Close()

	addr, err := NewClient(srv.URL).Reverse(context.Background(), 36.8, 10.18)
	require.NoError(t, err)
	assert.Equal(t, "Avenue Habib Bourguiba, Tunis", addr)
}

func TestReverseCachesByRoundedCoordinates(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"display_name":"somewhere"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Reverse(context.Background(), 36.80001, 10.18001)
	require.NoError(t, err)

	// Within ~11 m of the first lookup: served from cache.
	_, err = c.Reverse(context.Background(), 36.80003, 10.18003)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestReverseNoAnswerIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"Unable to geocode"}`))
	}))
	defer srv.Close()

	addr, err := NewClient(srv.URL).Reverse(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, addr)
}

func TestNilClientIsDisabled(t *testing.T) {
	addr, err := NewClient("").Reverse(context.Background(), 36.8, 10.18)
	require.NoError(t, err)
	assert.Empty(t, addr)
}
