package booking

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

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

func mustCreateService(t *testing.T, db *storage.DB) string {
	t.Helper()
	svcID := uuid.NewString()
	_, err := db.ExecContext(context.Background(), `INSERT INTO services (id, name) VALUES (?, ?)`, svcID, "plumbing")
	require.NoError(t, err)
	return svcID
}

func mustCreateBooking(t *testing.T, db *storage.DB, svcID string, status models.BookingStatus) *models.Booking {
	t.Helper()
	now := time.Now().UTC()
	b := &models.Booking{
		ID: uuid.NewString(), BookingNumber: uuid.NewString(), UserID: uuid.NewString(),
		ServiceID: svcID, ServiceDate: now, ServiceTime: "10:00", Location: "123 Main St",
		Status: status, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, storage.NewBookingStore(db).Create(context.Background(), b))
	return b
}

func newStateMachine(db *storage.DB) (*StateMachine, *storage.BookingStore, *storage.OfferStore, *storage.ProviderStore) {
	bookings := storage.NewBookingStore(db)
	offers := storage.NewOfferStore(db)
	providers := storage.NewProviderStore(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(bookings, offers, providers, logger), bookings, offers, providers
}

func TestStateMachine_CancelDeclinesPendingOffers(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sm, bookings, offers, providers := newStateMachine(db)

	svcID := mustCreateService(t, db)
	booking := mustCreateBooking(t, db, svcID, models.BookingAwaitingProvider)

	now := time.Now().UTC()
	provider := &models.Provider{ID: uuid.NewString(), UserID: uuid.NewString(), BusinessName: "P", IsAvailable: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, providers.Create(ctx, provider))
	offer := &models.Offer{
		ID: uuid.NewString(), BookingID: booking.ID, ProviderID: provider.ID,
		Status: models.OfferPending, Score: 10, NotifiedAt: now, ExpiresAt: now.Add(5 * time.Minute), CreatedAt: now,
	}
	require.NoError(t, offers.Create(ctx, offer))

	require.NoError(t, sm.Cancel(ctx, booking.ID))

	updatedBooking, err := bookings.Get(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, updatedBooking.Status)

	pending, err := offers.ListPendingByBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Empty(t, pending, "cancellation must leave no pending offers")
}

func TestStateMachine_CancelRejectsTerminalBooking(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sm, _, _, _ := newStateMachine(db)

	svcID := mustCreateService(t, db)
	booking := mustCreateBooking(t, db, svcID, models.BookingCompleted)

	err := sm.Cancel(ctx, booking.ID)
	require.Error(t, err)
	var terminalErr *TerminalError
	assert.ErrorAs(t, err, &terminalErr)
}

func TestStateMachine_StartAndCompleteWork(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sm, bookings, _, _ := newStateMachine(db)

	svcID := mustCreateService(t, db)
	booking := mustCreateBooking(t, db, svcID, models.BookingConfirmed)

	require.NoError(t, sm.StartWork(ctx, booking.ID))
	updated, err := bookings.Get(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingInProgress, updated.Status)

	require.NoError(t, sm.CompleteWork(ctx, booking.ID))
	updated, err = bookings.Get(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCompleted, updated.Status)
}

func TestStateMachine_StartWorkRejectsWrongOrigin(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sm, _, _, _ := newStateMachine(db)

	svcID := mustCreateService(t, db)
	booking := mustCreateBooking(t, db, svcID, models.BookingPending)

	err := sm.StartWork(ctx, booking.ID)
	require.Error(t, err)
	var invalidErr *InvalidTransitionError
	assert.ErrorAs(t, err, &invalidErr)
}

func TestStateMachine_SubmitRatingRecomputesProviderMean(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sm, bookings, _, providers := newStateMachine(db)

	now := time.Now()
	provider := &models.Provider{ID: uuid.NewString(), UserID: uuid.NewString(), BusinessName: "P", IsAvailable: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, providers.Create(ctx, provider))

	svcID := mustCreateService(t, db)

	first := mustCreateBooking(t, db, svcID, models.BookingCompleted)
	first.ProviderID = provider.ID
	require.NoError(t, bookings.Update(ctx, first))
	require.NoError(t, sm.SubmitRating(ctx, first.ID, 4.0, "good"))

	second := mustCreateBooking(t, db, svcID, models.BookingCompleted)
	second.ProviderID = provider.ID
	require.NoError(t, bookings.Update(ctx, second))
	require.NoError(t, sm.SubmitRating(ctx, second.ID, 2.0, "meh"))

	updatedProvider, err := providers.Get(ctx, provider.ID)
	require.NoError(t, err)
	require.NotNil(t, updatedProvider.Rating)
	assert.InDelta(t, 3.0, *updatedProvider.Rating, 0.0001)
}

func TestStateMachine_SubmitRatingRejectsIncompleteBooking(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sm, _, _, _ := newStateMachine(db)

	svcID := mustCreateService(t, db)
	booking := mustCreateBooking(t, db, svcID, models.BookingConfirmed)

	err := sm.SubmitRating(ctx, booking.ID, 5.0, "too soon")
	require.Error(t, err)
	var ratingErr *RatingNotAllowedError
	assert.ErrorAs(t, err, &ratingErr)
}
