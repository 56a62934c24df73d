package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/collaborators"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/logging"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/metrics"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/storage"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/pkg/models"
	"github.com/google/uuid"
)

const (
	displayNoProviders      = "No providers available"
	displayFindingProviders = "Finding providers..."
)

// DispatcherConfig tunes the offer dispatcher.
type DispatcherConfig struct {
	TopN     int
	OfferTTL time.Duration
}

// OfferDispatcher turns a candidate ranking into offers (C2).
type OfferDispatcher struct {
	selector *CandidateSelector
	bookings *storage.BookingStore
	offers   *storage.OfferStore
	catalog  *storage.CatalogStore
	notifier collaborators.Notifier
	cfg      DispatcherConfig
	logger   *slog.Logger
}

// NewOfferDispatcher builds an OfferDispatcher.
func NewOfferDispatcher(
	selector *CandidateSelector,
	bookings *storage.BookingStore,
	offers *storage.OfferStore,
	catalog *storage.CatalogStore,
	notifier collaborators.Notifier,
	cfg DispatcherConfig,
	logger *slog.Logger,
) *OfferDispatcher {
	if cfg.TopN <= 0 {
		cfg.TopN = 3
	}
	if cfg.OfferTTL <= 0 {
		cfg.OfferTTL = 5 * time.Minute
	}
	return &OfferDispatcher{
		selector: selector,
		bookings: bookings,
		offers:   offers,
		catalog:  catalog,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// Dispatch runs C1 for the booking and creates up to TopN offers. It is a
// no-op if the booking already has a pending offer (preserves I1) or is
// already assigned or cancelled.
func (d *OfferDispatcher) Dispatch(ctx context.Context, bookingID string) ([]*models.Offer, error) {
	booking, err := d.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}

	if booking.Status == models.BookingCancelled {
		return nil, nil
	}
	if booking.IsAssigned() {
		return nil, nil
	}

	pendingCount, err := d.bookings.CountPendingOffers(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending offers: %w", err)
	}
	if pendingCount > 0 {
		return nil, nil
	}

	candidates, err := d.selector.Select(ctx, booking.ServiceID, booking)
	if err != nil {
		return nil, fmt.Errorf("candidate selection failed: %w", err)
	}

	now := time.Now().UTC()

	if len(candidates) == 0 {
		if err := d.bookings.SetDispatchOutcome(ctx, bookingID, models.BookingPending, displayNoProviders, now); err != nil {
			return nil, fmt.Errorf("failed to mark booking pending: %w", err)
		}
		logging.Audit(ctx, "dispatch_no_candidates", "booking_id", bookingID)
		return nil, nil
	}

	if err := d.bookings.SetDispatchOutcome(ctx, bookingID, models.BookingAwaitingProvider, displayFindingProviders, now); err != nil {
		return nil, fmt.Errorf("failed to mark booking awaiting provider: %w", err)
	}

	top := candidates
	if len(top) > d.cfg.TopN {
		top = top[:d.cfg.TopN]
	}

	created := make([]*models.Offer, 0, len(top))
	for _, c := range top {
		offer := &models.Offer{
			ID:         uuid.NewString(),
			BookingID:  bookingID,
			ProviderID: c.ProviderID,
			Status:     models.OfferPending,
			Score:      c.Score,
			NotifiedAt: now,
			ExpiresAt:  now.Add(d.cfg.OfferTTL),
			CreatedAt:  now,
		}
		if err := d.offers.Create(ctx, offer); err != nil {
			d.logger.Warn("failed to create offer", slog.String("booking_id", bookingID), slog.String("provider_id", c.ProviderID), slog.String("error", err.Error()))
			continue
		}
		created = append(created, offer)
		metrics.RecordOfferCreated()
		d.notify(ctx, booking, offer)
	}

	logging.Audit(ctx, "dispatch_offers_created", "booking_id", bookingID, "offer_count", len(created))
	return created, nil
}

// notify sends a best-effort push notification for a freshly created offer.
// Failure is logged and never surfaces to the caller — offer validity is
// unaffected.
func (d *OfferDispatcher) notify(ctx context.Context, booking *models.Booking, offer *models.Offer) {
	data := collaborators.NotificationData{
		BookingID: booking.ID,
		OfferID:   offer.ID,
		Type:      collaborators.NotificationNewAssignment,
	}
	if err := d.notifier.Send(ctx, offer.ProviderID, "New job available", "A new booking matches your services", data); err != nil {
		d.logger.Warn("offer notification failed", slog.String("offer_id", offer.ID), slog.String("error", err.Error()))
	}
}

// Renotify re-fires the notification side effect for an existing pending
// offer. It never mutates offer or booking state — it exists to compensate
// for notifications the collaborator silently dropped (Sweep C).
func (d *OfferDispatcher) Renotify(ctx context.Context, booking *models.Booking, offer *models.Offer) {
	d.notify(ctx, booking, offer)
}
