package reconcile

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/collaborators"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/service/dispatch"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/storage"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	ctx := context.Background()
	db, err := storage.New(t.TempDir() + "/test.db")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(func() { db.Close() })
	return db
}

func testHarness(db *storage.DB) (*Reconciler, *storage.BookingStore, *storage.OfferStore, *storage.ProviderStore, *storage.CatalogStore) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bookingStore := storage.NewBookingStore(db)
	offerStore := storage.NewOfferStore(db)
	providerStore := storage.NewProviderStore(db)
	catalogStore := storage.NewCatalogStore(db)

	selector := dispatch.NewCandidateSelector(providerStore, bookingStore, dispatch.SelectorConfig{EarthRadiusKM: 6371, MissingProviderCoordsAsZeroDistance: true}, logger)
	dispatcher := dispatch.NewOfferDispatcher(selector, bookingStore, offerStore, catalogStore, collaborators.NewLoggingNotifier(logger), dispatch.DispatcherConfig{TopN: 3, OfferTTL: 5 * time.Minute}, logger)

	r := New(offerStore, bookingStore, dispatcher, WithLogger(logger), WithScheduledSweepEnabled(false))
	return r, bookingStore, offerStore, providerStore, catalogStore
}

func mustCreateService(t *testing.T, db *storage.DB) string {
	t.Helper()
	svcID := uuid.NewString()
	_, err := db.ExecContext(context.Background(), `INSERT INTO services (id, name) VALUES (?, ?)`, svcID, "plumbing")
	require.NoError(t, err)
	return svcID
}

func mustCreateBooking(t *testing.T, db *storage.DB, svcID string) *models.Booking {
	t.Helper()
	now := time.Now().UTC()
	b := &models.Booking{
		ID: uuid.NewString(), BookingNumber: uuid.NewString(), UserID: uuid.NewString(),
		ServiceID: svcID, ServiceDate: now, ServiceTime: "10:00", Location: "123 Main St",
		Status: models.BookingPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, storage.NewBookingStore(db).Create(context.Background(), b))
	return b
}

func TestReconciler_SweepA_ExpiresStaleOffers(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	r, bookingStore, offerStore, providerStore, _ := testHarness(db)

	svcID := mustCreateService(t, db)
	booking := mustCreateBooking(t, db, svcID)
	_ = bookingStore
	p := &models.Provider{ID: uuid.NewString(), UserID: uuid.NewString(), BusinessName: "P", IsAvailable: false, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, providerStore.Create(ctx, p))
	past := time.Now().UTC().Add(-time.Hour)
	offer := &models.Offer{
		ID: uuid.NewString(), BookingID: booking.ID, ProviderID: p.ID,
		Status: models.OfferPending, Score: 10, NotifiedAt: past, ExpiresAt: past.Add(time.Minute), CreatedAt: past,
	}
	require.NoError(t, offerStore.Create(ctx, offer))

	r.RunSweeps(ctx)

	updated, err := offerStore.Get(ctx, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OfferExpired, updated.Status)
}

func TestReconciler_SweepB_RedispatchesDriftedBooking(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	r, bookingStore, offerStore, providerStore, catalog := testHarness(db)

	svcID := mustCreateService(t, db)
	booking := mustCreateBooking(t, db, svcID)
	require.NoError(t, bookingStore.SetDispatchOutcome(ctx, booking.ID, models.BookingAwaitingProvider, "stale", time.Now().UTC()))

	p := &models.Provider{ID: uuid.NewString(), UserID: uuid.NewString(), BusinessName: "P", IsAvailable: true, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, providerStore.Create(ctx, p))
	require.NoError(t, catalog.LinkProviderService(ctx, &models.ProviderService{ID: uuid.NewString(), ProviderID: p.ID, ServiceID: svcID, IsActive: true}))

	r.RunSweeps(ctx)

	pending, err := offerStore.ListPendingByBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "drifted booking should get a fresh offer")
}
