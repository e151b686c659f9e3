// Package routing adapts the OSRM HTTP routing service for the gap filler.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RequestTimeout bounds every routing request.
const RequestTimeout = 5 * time.Second

// LatLng is a decimal-degree coordinate pair.
type LatLng struct {
	Lat, Lng float64
}

// Route is a driving route between two points.
type Route struct {
	DistanceMeters float64
	DurationSec    float64
	Geometry       []LatLng
}

// Client calls an OSRM-compatible routing service.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient returns a Client bound to baseURL (the OSRM_URL environment
// variable). An empty baseURL makes every Route call fail,
// pushing the gap filler onto its linear-interpolation fallback.
func NewClient(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: RequestTimeout},
		baseURL:    baseURL,
	}
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Coordinates [][2]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

// Route requests a driving route from -> to. It returns (nil, nil) when
// OSRM reports no route, and a non-nil error when no base URL is configured
// or on transport or decode failure; the gap filler treats every outcome
// short of a usable polyline
// as "no route".
func (c *Client) Route(ctx context.Context, from, to LatLng) (*Route, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("routing: no OSRM base URL configured")
	}

	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=full&geometries=geojson",
		c.baseURL, from.Lng, from.Lat, to.Lng, to.Lat)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("routing: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("routing: call osrm: %w", err)
	}
	defer resp.Body.Close()

	var parsed osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("routing: decode osrm response: %w", err)
	}
	if parsed.Code != "Ok" || len(parsed.Routes) == 0 {
		return nil, nil
	}

	r := parsed.Routes[0]
	geometry := make([]LatLng, len(r.Geometry.Coordinates))
	for i, c := range r.Geometry.Coordinates {
		geometry[i] = LatLng{Lat: c[1], Lng: c[0]}
	}

	return &Route{DistanceMeters: r.Distance, DurationSec: r.Duration, Geometry: geometry}, nil
}
