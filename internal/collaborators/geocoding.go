// Package collaborators defines the narrow, capability-style interfaces the
// dispatch core calls into: geocoding, push notification, and realtime
// broadcast. Each is a pure external collaborator per the system's scope —
// only its contract with the core matters, so each is a single-method
// interface that is trivial to fake in tests.
package collaborators

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Geocoder resolves a free-text address to coordinates. Failures return
// (nil, nil) — null coordinates are tolerated per the system's Non-goals,
// never surfaced as an error that blocks booking creation.
type Geocoder interface {
	Resolve(ctx context.Context, address string) (lat, lon *float64, err error)
}

// NominatimGeocoder resolves addresses via the OpenStreetMap Nominatim
// public search API, the same service the source system used. Nominatim's
// usage policy caps anonymous callers at one request per second, so every
// call passes through a limiter before it reaches the network.
type NominatimGeocoder struct {
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
	limiter    *rate.Limiter
}

// NewNominatimGeocoder creates a geocoder against the Nominatim search API,
// rate limited to one request per second per Nominatim's usage policy.
func NewNominatimGeocoder(logger *slog.Logger) *NominatimGeocoder {
	return &NominatimGeocoder{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		userAgent:  "dispatch-engine/1.0 (ops@example.invalid)",
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
	}
}

type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Resolve implements Geocoder. Any failure — network, parse, empty result
// set — is logged and degrades to (nil, nil, nil), matching the spec's "no
// SLA on geocoding" non-goal.
func (g *NominatimGeocoder) Resolve(ctx context.Context, address string) (*float64, *float64, error) {
	if address == "" {
		return nil, nil, nil
	}

	if err := g.limiter.Wait(ctx); err != nil {
		g.logger.Warn("geocoding rate limiter wait aborted", slog.String("error", err.Error()))
		return nil, nil, nil
	}

	u := "https://nominatim.openstreetmap.org/search?" + url.Values{
		"q":      {address},
		"format": {"json"},
		"limit":  {"1"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		g.logger.Warn("geocoding request build failed", slog.String("error", err.Error()))
		return nil, nil, nil
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Warn("geocoding request failed", slog.String("address", address), slog.String("error", err.Error()))
		return nil, nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.logger.Warn("geocoding returned non-200", slog.Int("status", resp.StatusCode))
		return nil, nil, nil
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		g.logger.Warn("geocoding response decode failed", slog.String("error", err.Error()))
		return nil, nil, nil
	}
	if len(results) == 0 {
		return nil, nil, nil
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, nil, nil
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, nil, nil
	}

	g.logger.Info("geocoded address", slog.String("address", address), slog.Float64("lat", lat), slog.Float64("lon", lon))
	return &lat, &lon, nil
}

// NopGeocoder always returns null coordinates; useful for local runs and
// environments without outbound network access.
type NopGeocoder struct{}

// Resolve implements Geocoder by always declining to resolve.
func (NopGeocoder) Resolve(context.Context, string) (*float64, *float64, error) {
	return nil, nil, nil
}

var _ Geocoder = (*NominatimGeocoder)(nil)
var _ Geocoder = NopGeocoder{}
