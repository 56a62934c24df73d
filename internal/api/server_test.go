package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/collaborators"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/service/booking"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/service/dispatch"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/storage"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/pkg/models"
)

const testAdminToken = "test-admin-token"

func newTestServer(t *testing.T) (*Server, *storage.CatalogStore) {
	t.Helper()
	ctx := context.Background()
	db, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bookingStore := storage.NewBookingStore(db)
	providerStore := storage.NewProviderStore(db)
	catalogStore := storage.NewCatalogStore(db)
	offerStore := storage.NewOfferStore(db)

	selector := dispatch.NewCandidateSelector(providerStore, bookingStore,
		dispatch.SelectorConfig{EarthRadiusKM: 6371, MissingProviderCoordsAsZeroDistance: true}, logger)
	dispatcher := dispatch.NewOfferDispatcher(selector, bookingStore, offerStore, catalogStore,
		collaborators.NewLoggingNotifier(logger), dispatch.DispatcherConfig{TopN: 3, OfferTTL: 5 * time.Minute}, logger)
	arbitration := dispatch.NewArbitrationEngine(offerStore, bookingStore, providerStore, logger)
	stateMachine := booking.New(bookingStore, offerStore, providerStore, logger)

	s := New(bookingStore, providerStore, catalogStore, dispatcher, arbitration, stateMachine, collaborators.NopGeocoder{},
		WithLogger(logger), WithAdminToken(testAdminToken))
	s.SetReady(true)
	return s, catalogStore
}

func mustCreateService(t *testing.T, catalog *storage.CatalogStore) string {
	t.Helper()
	price := 50.0
	svc := &models.Service{ID: "svc-" + t.Name(), Name: "plumbing", BasePrice: &price}
	require.NoError(t, catalog.CreateService(context.Background(), svc))
	return svc.ID
}

func doRequest(s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestServer_HealthAndReady(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodGet, "/ready", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestServer_CreateBookingRequiresAuth(t *testing.T) {
	s, _ := newTestServer(t)
	w := doRequest(s, http.MethodPost, "/api/v1/bookings", "", map[string]any{})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func bookingCreateBody(svcID string) map[string]any {
	return map[string]any{
		"service_id":   svcID,
		"service_date": time.Now().Format("2006-01-02"),
		"service_time": "10:00",
		"location":     "123 Main St",
	}
}

func TestServer_CreateAndListBooking(t *testing.T) {
	s, catalog := newTestServer(t)
	svcID := mustCreateService(t, catalog)

	w := doRequest(s, http.MethodPost, "/api/v1/bookings", "customer-1", bookingCreateBody(svcID))
	require.Equal(t, http.StatusCreated, w.Code)

	var created map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	bookingMap := created["booking"].(map[string]any)
	require.Equal(t, "customer-1", bookingMap["user_id"])
	require.Equal(t, "pending", bookingMap["status"])

	w = doRequest(s, http.MethodGet, "/api/v1/bookings", "customer-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.EqualValues(t, 1, listed["count"])

	// A different caller sees none of this booking.
	w = doRequest(s, http.MethodGet, "/api/v1/bookings", "customer-2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.EqualValues(t, 0, listed["count"])
}

func TestServer_GetBookingOwnershipEnforced(t *testing.T) {
	s, catalog := newTestServer(t)
	svcID := mustCreateService(t, catalog)

	w := doRequest(s, http.MethodPost, "/api/v1/bookings", "customer-1", bookingCreateBody(svcID))
	require.Equal(t, http.StatusCreated, w.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	bookingID := created["booking"].(map[string]any)["id"].(string)

	w = doRequest(s, http.MethodGet, "/api/v1/bookings/"+bookingID, "customer-2", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(s, http.MethodGet, "/api/v1/bookings/"+bookingID, "customer-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestServer_CancelBooking(t *testing.T) {
	s, catalog := newTestServer(t)
	svcID := mustCreateService(t, catalog)

	w := doRequest(s, http.MethodPost, "/api/v1/bookings", "customer-1", bookingCreateBody(svcID))
	require.Equal(t, http.StatusCreated, w.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	bookingID := created["booking"].(map[string]any)["id"].(string)

	w = doRequest(s, http.MethodPost, "/api/v1/bookings/"+bookingID+"/cancel", "customer-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodPost, "/api/v1/bookings/"+bookingID+"/cancel", "customer-1", nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestServer_ProviderRegistrationAndOffers(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/v1/provider", "provider-1", map[string]any{
		"business_name": "Ace Plumbing",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(s, http.MethodPost, "/api/v1/provider", "provider-1", map[string]any{
		"business_name": "Ace Plumbing",
	})
	require.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(s, http.MethodGet, "/api/v1/provider/offers", "provider-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.EqualValues(t, 0, listed["count"])
}

func TestServer_ProviderEndpointsRequireProviderProfile(t *testing.T) {
	s, _ := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/api/v1/provider/offers", "no-such-provider", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_AdminRoutesRequireAdminToken(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/v1/admin/stats", "", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(s, http.MethodGet, "/api/v1/admin/stats", "not-the-admin-token", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(s, http.MethodGet, "/api/v1/admin/stats", testAdminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestServer_CatalogIsPublic(t *testing.T) {
	s, catalog := newTestServer(t)
	mustCreateService(t, catalog)

	w := doRequest(s, http.MethodGet, "/api/v1/services", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.EqualValues(t, 1, listed["count"])
}

func TestServer_AdminCreateService(t *testing.T) {
	s, _ := newTestServer(t)
	w := doRequest(s, http.MethodPost, "/api/v1/admin/services", testAdminToken, map[string]any{
		"name": "electrical repair",
	})
	require.Equal(t, http.StatusCreated, w.Code)
}
