package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/logging"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/metrics"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/storage"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/pkg/models"
)

const displaySearchingForMore = "Searching for more providers..."

// ArbitrationEngine handles the three provider-facing offer operations:
// list pending, accept, decline (C3).
type ArbitrationEngine struct {
	offers    *storage.OfferStore
	bookings  *storage.BookingStore
	providers *storage.ProviderStore
	logger    *slog.Logger
}

// NewArbitrationEngine builds an ArbitrationEngine.
func NewArbitrationEngine(offers *storage.OfferStore, bookings *storage.BookingStore, providers *storage.ProviderStore, logger *slog.Logger) *ArbitrationEngine {
	return &ArbitrationEngine{offers: offers, bookings: bookings, providers: providers, logger: logger}
}

// ListPending returns a provider's pending offers, lazily expiring any whose
// TTL has elapsed before returning them.
func (a *ArbitrationEngine) ListPending(ctx context.Context, providerID string) ([]*models.Offer, error) {
	offers, err := a.offers.ListPendingByProvider(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending offers: %w", err)
	}

	now := time.Now().UTC()
	live := make([]*models.Offer, 0, len(offers))
	for _, o := range offers {
		if o.IsExpired(now) {
			if _, err := a.offers.Expire(ctx, o.ID); err != nil {
				a.logger.Warn("failed to lazily expire offer", slog.String("offer_id", o.ID), slog.String("error", err.Error()))
			} else {
				metrics.RecordOfferExpired()
			}
			continue
		}
		live = append(live, o)
	}
	return live, nil
}

// ListForBooking returns every offer ever created for a booking, regardless
// of status — an operator/audit view, distinct from ListPending which is
// scoped to one provider's live offers.
func (a *ArbitrationEngine) ListForBooking(ctx context.Context, bookingID string) ([]*models.Offer, error) {
	offers, err := a.offers.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers for booking: %w", err)
	}
	return offers, nil
}

// Accept validates and applies a provider's acceptance of an offer,
// following the exact validation order: existence, ownership, pending
// status, non-expiry, then booking-not-yet-assigned. Every state conflict is
// a structured result; only storage failures are returned as errors.
func (a *ArbitrationEngine) Accept(ctx context.Context, offerID, providerID string) (*models.AcceptResult, error) {
	offer, err := a.offers.Get(ctx, offerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &models.AcceptResult{Success: false, Error: "Offer not found"}, nil
		}
		return nil, fmt.Errorf("failed to load offer: %w", err)
	}

	if offer.ProviderID != providerID {
		return &models.AcceptResult{Success: false, Error: "Unauthorized"}, nil
	}

	if offer.Status != models.OfferPending {
		return &models.AcceptResult{Success: false, Error: fmt.Sprintf("Offer already %s", offer.Status)}, nil
	}

	now := time.Now().UTC()
	if offer.IsExpired(now) {
		if _, err := a.offers.Expire(ctx, offer.ID); err != nil {
			return nil, fmt.Errorf("failed to expire offer: %w", err)
		}
		metrics.RecordOfferExpired()
		return &models.AcceptResult{Success: false, Error: "Offer has expired"}, nil
	}

	booking, err := a.bookings.Get(ctx, offer.BookingID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &models.AcceptResult{Success: false, Error: "Booking not found"}, nil
		}
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if booking.IsAssigned() {
		return &models.AcceptResult{Success: false, Error: "Booking already assigned to another provider"}, nil
	}

	distance, arrival := placeholderDistanceAndArrival()

	// Accept, sibling-decline, and booking assignment happen inside a single
	// transaction so a concurrent accept on a sibling offer can never land
	// between the offer-level and booking-level writes.
	accepted, assigned, err := a.offers.AcceptAndAssign(ctx, offer.ID, offer.BookingID, providerID, models.BookingConfirmed, distance, arrival, now)
	if err != nil {
		return nil, fmt.Errorf("failed to accept offer: %w", err)
	}
	if !accepted {
		// Someone else accepted, expired, or declined this exact offer between
		// our read and write.
		return &models.AcceptResult{Success: false, Error: "Offer no longer pending"}, nil
	}
	if !assigned {
		metrics.RecordRaceConflict()
		return &models.AcceptResult{Success: false, Error: "Booking already assigned to another provider"}, nil
	}

	metrics.RecordOfferAccepted()
	metrics.UpdateBookingStatus(string(models.BookingAwaitingProvider), string(models.BookingConfirmed))
	logging.Audit(ctx, "offer_accepted", "offer_id", offer.ID, "booking_id", offer.BookingID, "provider_id", providerID)

	return &models.AcceptResult{Success: true, Message: "Booking accepted successfully", BookingID: offer.BookingID}, nil
}

// Decline validates ownership and pending status, then declines the offer.
// If the booking now has no pending offers and no assigned provider, its
// display field is updated to prompt a re-dispatch by C4; the re-dispatch
// itself is left to the reconciliation sweep.
func (a *ArbitrationEngine) Decline(ctx context.Context, offerID, providerID string) (*models.AcceptResult, error) {
	offer, err := a.offers.Get(ctx, offerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &models.AcceptResult{Success: false, Error: "Offer not found"}, nil
		}
		return nil, fmt.Errorf("failed to load offer: %w", err)
	}

	if offer.ProviderID != providerID {
		return &models.AcceptResult{Success: false, Error: "Unauthorized"}, nil
	}

	if offer.Status != models.OfferPending {
		return &models.AcceptResult{Success: false, Error: fmt.Sprintf("Offer already %s", offer.Status)}, nil
	}

	now := time.Now().UTC()
	declined, err := a.offers.Decline(ctx, offer.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to decline offer: %w", err)
	}
	if !declined {
		return &models.AcceptResult{Success: false, Error: "Offer no longer pending"}, nil
	}
	metrics.RecordOfferDeclined("explicit")

	remaining, err := a.bookings.CountPendingOffers(ctx, offer.BookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to count remaining offers: %w", err)
	}
	if remaining == 0 {
		if err := a.bookings.SetDisplayIfUnassigned(ctx, offer.BookingID, displaySearchingForMore, now); err != nil {
			return nil, fmt.Errorf("failed to update booking display: %w", err)
		}
	}

	logging.Audit(ctx, "offer_declined", "offer_id", offer.ID, "booking_id", offer.BookingID, "provider_id", providerID)
	return &models.AcceptResult{Success: true, Message: "Offer declined"}, nil
}

// placeholderDistanceAndArrival returns a display-only distance/arrival
// estimate. These values never feed back into scoring or state and are a
// placeholder until a real dispatch-time distance calculation is wired in.
func placeholderDistanceAndArrival() (distance, arrival string) {
	estimatedMiles := 1 + rand.Float64()*14 // 1.0 - 15.0
	arrivalMinutes := 30 + rand.IntN(91)    // 30 - 120
	return fmt.Sprintf("%.1f miles", estimatedMiles), fmt.Sprintf("%d minutes", arrivalMinutes)
}
