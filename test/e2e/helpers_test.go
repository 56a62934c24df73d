//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	// EnvServerURL points the suite at an already-running server instead of
	// the in-process one TestMain starts by default.
	EnvServerURL = "E2E_SERVER_URL"
	// DefaultAdminToken is the operator token the in-process server is
	// configured with; only used when no external server is supplied.
	DefaultAdminToken = "e2e-admin-token"
)

// TestEnv is the shared handle E2E tests use to talk to the dispatch engine
// and to the admin surface that drives reconciliation sweeps directly.
type TestEnv struct {
	ServerURL  string
	AdminToken string
	HTTPClient *http.Client
}

// NewTestEnv builds a TestEnv pointed at the server TestMain started (or an
// external one, if EnvServerURL is set).
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	return &TestEnv{
		ServerURL:  os.Getenv(EnvServerURL),
		AdminToken: DefaultAdminToken,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// WaitForServer polls /health until the server reports ready or timeout elapses.
func (e *TestEnv) WaitForServer(t *testing.T, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := e.HTTPClient.Get(e.ServerURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server at %s did not become healthy within %v", e.ServerURL, timeout)
}

func (e *TestEnv) doJSON(t *testing.T, method, path, token string, body any, out any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, e.ServerURL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.HTTPClient.Do(req)
	require.NoError(t, err)

	if out != nil {
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, out))
		}
	}
	return resp
}

// customerToken derives a unique bearer token for a simulated customer; the
// core trusts the token's value directly as the user id, so any unique
// string doubles as both.
func customerToken(label string) string {
	return "customer-" + label
}

// providerToken derives a unique bearer token for a simulated provider.
func providerToken(label string) string {
	return "provider-" + label
}

// CreateService adds a catalog entry via the admin API, returning its id.
func (e *TestEnv) CreateService(t *testing.T, name string, basePrice float64) string {
	t.Helper()

	req := map[string]any{"name": name, "base_price": basePrice}
	var svc struct {
		ID string `json:"id"`
	}
	resp := e.doJSON(t, http.MethodPost, "/api/v1/admin/services", e.AdminToken, req, &svc)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return svc.ID
}

// RegisterProvider creates a provider profile for the given bearer token,
// returning the provider's id.
func (e *TestEnv) RegisterProvider(t *testing.T, token, businessName string, lat, lon float64) string {
	t.Helper()

	req := map[string]any{
		"business_name": businessName,
		"latitude":      lat,
		"longitude":     lon,
	}
	var provider struct {
		ID string `json:"id"`
	}
	resp := e.doJSON(t, http.MethodPost, "/api/v1/provider", token, req, &provider)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return provider.ID
}

// LinkProviderService links a registered provider to a catalog service.
func (e *TestEnv) LinkProviderService(t *testing.T, token, serviceID string) {
	t.Helper()

	req := map[string]any{"service_id": serviceID}
	resp := e.doJSON(t, http.MethodPost, "/api/v1/provider/services", token, req, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// CreateBooking places a booking as the given customer, returning the
// created booking's id. Dispatch runs asynchronously once the handler
// returns, so tests must poll for the resulting offer/status change.
func (e *TestEnv) CreateBooking(t *testing.T, token, serviceID string, lat, lon float64) string {
	t.Helper()

	req := map[string]any{
		"service_id":   serviceID,
		"service_date": time.Now().AddDate(0, 0, 1).Format("2006-01-02"),
		"service_time": "10:00",
		"location":     "123 Main St",
		"latitude":     lat,
		"longitude":    lon,
	}
	var result struct {
		Booking struct {
			ID string `json:"id"`
		} `json:"booking"`
	}
	resp := e.doJSON(t, http.MethodPost, "/api/v1/bookings", token, req, &result)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return result.Booking.ID
}

// bookingView is the shape returned by both the customer and admin booking
// read endpoints.
type bookingView struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	ProviderID string `json:"provider_id,omitempty"`
}

// GetBooking fetches a booking as its owning customer.
func (e *TestEnv) GetBooking(t *testing.T, token, bookingID string) *bookingView {
	t.Helper()

	var b bookingView
	resp := e.doJSON(t, http.MethodGet, "/api/v1/bookings/"+bookingID, token, nil, &b)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return &b
}

// GetBookingAsAdmin fetches a booking through the admin surface, bypassing
// ownership checks.
func (e *TestEnv) GetBookingAsAdmin(t *testing.T, bookingID string) *bookingView {
	t.Helper()

	var b bookingView
	resp := e.doJSON(t, http.MethodGet, "/api/v1/admin/bookings/"+bookingID, e.AdminToken, nil, &b)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return &b
}

// CancelBooking cancels a booking as its owning customer.
func (e *TestEnv) CancelBooking(t *testing.T, token, bookingID string) *http.Response {
	t.Helper()
	resp := e.doJSON(t, http.MethodPost, "/api/v1/bookings/"+bookingID+"/cancel", token, nil, nil)
	resp.Body.Close()
	return resp
}

// offerView is the shape of a pending offer as returned to a provider.
type offerView struct {
	ID        string    `json:"id"`
	BookingID string    `json:"booking_id"`
	Status    string    `json:"status"`
	Score     float64   `json:"score"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// ListOffers returns the offers currently pending for a provider.
func (e *TestEnv) ListOffers(t *testing.T, token string) []offerView {
	t.Helper()

	var result struct {
		Offers []offerView `json:"offers"`
	}
	resp := e.doJSON(t, http.MethodGet, "/api/v1/provider/offers", token, nil, &result)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return result.Offers
}

// ListOffersForBooking returns every offer ever created for a booking,
// regardless of status, via the admin audit endpoint.
func (e *TestEnv) ListOffersForBooking(t *testing.T, bookingID string) []offerView {
	t.Helper()

	var result struct {
		Offers []offerView `json:"offers"`
	}
	resp := e.doJSON(t, http.MethodGet, "/api/v1/admin/bookings/"+bookingID+"/offers", e.AdminToken, nil, &result)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return result.Offers
}

// acceptResult mirrors models.AcceptResult.
type acceptResult struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	BookingID string `json:"booking_id,omitempty"`
}

// AcceptOffer accepts an offer as the given provider.
func (e *TestEnv) AcceptOffer(t *testing.T, token, offerID string) *acceptResult {
	t.Helper()

	var result acceptResult
	resp := e.doJSON(t, http.MethodPost, "/api/v1/provider/offers/"+offerID+"/accept", token, nil, &result)
	defer resp.Body.Close()
	require.Contains(t, []int{http.StatusOK, http.StatusConflict}, resp.StatusCode)
	return &result
}

// DeclineOffer declines an offer as the given provider.
func (e *TestEnv) DeclineOffer(t *testing.T, token, offerID string) *acceptResult {
	t.Helper()

	var result acceptResult
	resp := e.doJSON(t, http.MethodPost, "/api/v1/provider/offers/"+offerID+"/decline", token, nil, &result)
	defer resp.Body.Close()
	require.Contains(t, []int{http.StatusOK, http.StatusConflict}, resp.StatusCode)
	return &result
}

// StartWork transitions a confirmed booking to in_progress.
func (e *TestEnv) StartWork(t *testing.T, token, bookingID string) *http.Response {
	t.Helper()
	resp := e.doJSON(t, http.MethodPost, "/api/v1/provider/bookings/"+bookingID+"/start", token, nil, nil)
	resp.Body.Close()
	return resp
}

// CompleteWork transitions an in-progress booking to completed.
func (e *TestEnv) CompleteWork(t *testing.T, token, bookingID string) *http.Response {
	t.Helper()
	resp := e.doJSON(t, http.MethodPost, "/api/v1/provider/bookings/"+bookingID+"/complete", token, nil, nil)
	resp.Body.Close()
	return resp
}

// TriggerReconcile runs sweeps A/B/C (and D, if scheduled is true) out of
// band, rather than waiting for the reconciler's own ticker.
func (e *TestEnv) TriggerReconcile(t *testing.T, scheduled bool) {
	t.Helper()

	path := "/api/v1/admin/reconcile"
	if scheduled {
		path += "?scheduled=true"
	}
	resp := e.doJSON(t, http.MethodPost, path, e.AdminToken, nil, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// WaitForBookingStatus polls a booking (as its owning customer) until it
// reaches the expected status or the timeout elapses.
func (e *TestEnv) WaitForBookingStatus(t *testing.T, token, bookingID, expected string, timeout time.Duration) *bookingView {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var last *bookingView
	for {
		select {
		case <-ctx.Done():
			status := "unknown"
			if last != nil {
				status = last.Status
			}
			t.Fatalf("booking %s did not reach status %q within %v (last status: %s)", bookingID, expected, timeout, status)
		case <-ticker.C:
			last = e.GetBooking(t, token, bookingID)
			if last.Status == expected {
				return last
			}
		}
	}
}

// WaitForOffer polls a provider's offer list until at least one offer for
// the given booking appears, or the timeout elapses.
func (e *TestEnv) WaitForOffer(t *testing.T, token, bookingID string, timeout time.Duration) *offerView {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Fatalf("no offer for booking %s appeared for provider within %v", bookingID, timeout)
		case <-ticker.C:
			for _, o := range e.ListOffers(t, token) {
				if o.BookingID == bookingID {
					offer := o
					return &offer
				}
			}
		}
	}
}

// GenerateLabel produces a unique label for test-scoped bearer tokens and
// business names, since sqlite enforces a provider-per-user uniqueness
// constraint and all tests share one database.
func GenerateLabel(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
