// Package booking implements the booking state machine (C5): the legal
// transitions a booking may take after C2/C3 have produced an assignment,
// plus the owner/admin-initiated transitions (start, complete, cancel) and
// the completed-only rating path that feeds the provider's rolling rating.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/logging"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/metrics"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/storage"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/pkg/models"
)

// StateMachine validates and applies booking status transitions.
type StateMachine struct {
	bookings  *storage.BookingStore
	offers    *storage.OfferStore
	providers *storage.ProviderStore
	logger    *slog.Logger
	now       func() time.Time
}

// New builds a StateMachine.
func New(bookings *storage.BookingStore, offers *storage.OfferStore, providers *storage.ProviderStore, logger *slog.Logger) *StateMachine {
	return &StateMachine{
		bookings:  bookings,
		offers:    offers,
		providers: providers,
		logger:    logger,
		now:       time.Now,
	}
}

// Cancel moves a booking to cancelled from any non-terminal state and
// declines every pending offer for it (P5). Valid from pending,
// awaiting_provider, confirmed, and in_progress.
func (sm *StateMachine) Cancel(ctx context.Context, bookingID string) error {
	b, err := sm.bookings.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.IsTerminal() {
		return &TerminalError{BookingID: bookingID, Status: string(b.Status)}
	}

	now := sm.now().UTC()
	ok, err := sm.bookings.SetStatus(ctx, bookingID, b.Status, models.BookingCancelled, now)
	if err != nil {
		return err
	}
	if !ok {
		return &InvalidTransitionError{BookingID: bookingID, From: string(b.Status), To: string(models.BookingCancelled)}
	}

	if err := sm.offers.DeclineAllPendingForBooking(ctx, bookingID, now); err != nil {
		sm.logger.Error("failed to decline pending offers on cancel",
			slog.String("booking_id", bookingID), slog.String("error", err.Error()))
		return err
	}

	metrics.UpdateBookingStatus(string(b.Status), string(models.BookingCancelled))
	metrics.RecordOfferDeclined("cascade")
	logging.Audit(ctx, "booking_cancelled", "booking_id", bookingID, "previous_status", string(b.Status))
	return nil
}

// StartWork moves a confirmed booking to in_progress.
func (sm *StateMachine) StartWork(ctx context.Context, bookingID string) error {
	return sm.transition(ctx, bookingID, models.BookingConfirmed, models.BookingInProgress)
}

// CompleteWork moves an in_progress booking to completed.
func (sm *StateMachine) CompleteWork(ctx context.Context, bookingID string) error {
	return sm.transition(ctx, bookingID, models.BookingInProgress, models.BookingCompleted)
}

func (sm *StateMachine) transition(ctx context.Context, bookingID string, from, to models.BookingStatus) error {
	b, err := sm.bookings.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.Status != from {
		if b.IsTerminal() {
			return &TerminalError{BookingID: bookingID, Status: string(b.Status)}
		}
		return &InvalidTransitionError{BookingID: bookingID, From: string(b.Status), To: string(to)}
	}

	now := sm.now().UTC()
	ok, err := sm.bookings.SetStatus(ctx, bookingID, from, to, now)
	if err != nil {
		return err
	}
	if !ok {
		return &InvalidTransitionError{BookingID: bookingID, From: from, To: to}
	}

	metrics.UpdateBookingStatus(string(from), string(to))
	logging.Audit(ctx, "booking_transitioned", "booking_id", bookingID, "from", string(from), "to", string(to))
	return nil
}

// SubmitRating records a customer rating/review for a completed booking and
// recomputes the assigned provider's rolling rating as the mean of all their
// non-null booking ratings (P6). The rating write, the mean query and the
// provider update run as separate statements, not in one transaction.
func (sm *StateMachine) SubmitRating(ctx context.Context, bookingID string, rating float64, review string) error {
	b, err := sm.bookings.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.Status != models.BookingCompleted {
		return &RatingNotAllowedError{BookingID: bookingID, Status: string(b.Status)}
	}

	now := sm.now().UTC()
	ok, err := sm.bookings.SetRatingAndReview(ctx, bookingID, rating, review, now)
	if err != nil {
		return err
	}
	if !ok {
		return &RatingNotAllowedError{BookingID: bookingID, Status: string(b.Status)}
	}

	if !b.IsAssigned() {
		return nil
	}

	avg, count, err := sm.bookings.AverageRatingForProvider(ctx, b.ProviderID)
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	if err := sm.providers.SetRating(ctx, b.ProviderID, avg); err != nil {
		return err
	}

	metrics.RecordProviderRatingUpdate()
	logging.Audit(ctx, "provider_rating_updated", "booking_id", bookingID, "provider_id", b.ProviderID, "rating", avg)
	return nil
}

// ErrBookingNotFound is returned when a booking lookup finds nothing. Kept
// as an alias so callers in other packages don't need to import storage
// directly to check for it.
var ErrBookingNotFound = storage.ErrNotFound

// IsNotFound reports whether err wraps storage.ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
