package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP request metrics for API server
var (
	// HTTPRequestDuration tracks the duration of HTTP requests
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests by method, path, and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestsTotal counts the total number of HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)
)

// Core dispatch metrics
var (
	// BookingsCreated counts bookings created by service category
	BookingsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_bookings_created_total",
			Help: "Total number of bookings created by service category",
		},
		[]string{"category"},
	)

	// BookingsActive tracks the number of bookings in each status
	BookingsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_bookings_active",
			Help: "Number of bookings by status",
		},
		[]string{"status"},
	)

	// OffersCreated counts offers created by the dispatcher
	OffersCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_offers_created_total",
			Help: "Total number of offers created by the offer dispatcher",
		},
	)

	// OffersAccepted counts offers accepted by providers
	OffersAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_offers_accepted_total",
			Help: "Total number of offers accepted by providers",
		},
	)

	// OffersDeclined counts offers declined by providers, directly or by cascade
	OffersDeclined = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_offers_declined_total",
			Help: "Total number of offers declined, by reason (explicit, cascade)",
		},
		[]string{"reason"},
	)

	// OffersExpired counts offers expired lazily by the arbitration engine or
	// by the reconciliation sweep
	OffersExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_offers_expired_total",
			Help: "Total number of offers expired (lazily or by sweep A)",
		},
	)

	// FallbackActivations counts candidate-selection runs that fell back to
	// the all-available-providers set because no eligible match existed.
	FallbackActivations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_fallback_activations_total",
			Help: "Total number of candidate selections that used the fallback provider set",
		},
	)

	// NoCandidatesFound counts candidate selections that produced zero
	// candidates even after fallback.
	NoCandidatesFound = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_no_candidates_total",
			Help: "Total number of candidate selections that found no eligible or fallback providers",
		},
	)

	// CandidateSelectionDuration tracks C1 latency
	CandidateSelectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_candidate_selection_duration_seconds",
			Help:    "Duration of candidate selection (C1) runs",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RaceConflicts counts accepts whose booking assignment lost the race to a
	// concurrent acceptance (OfferStore.AcceptAndAssign reported assigned=false).
	RaceConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_accept_race_conflicts_total",
			Help: "Total number of accept attempts that lost the race to a concurrent winner",
		},
	)

	// ReconcileSweepDuration tracks how long each reconciliation sweep takes
	ReconcileSweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_reconcile_sweep_duration_seconds",
			Help:    "Duration of a reconciliation sweep by sweep name",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)

	// ReconcileSweepItems counts items processed per sweep run
	ReconcileSweepItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_reconcile_sweep_items_total",
			Help: "Total number of items processed by a reconciliation sweep, by sweep name",
		},
		[]string{"sweep"},
	)

	// ReconcileSweepErrors counts sweep iterations that errored
	ReconcileSweepErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_reconcile_sweep_errors_total",
			Help: "Total number of reconciliation sweep errors by sweep name",
		},
		[]string{"sweep"},
	)

	// ProviderRatingUpdates counts rolling-rating recomputations
	ProviderRatingUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_provider_rating_updates_total",
			Help: "Total number of provider rating recomputations after a completed booking is rated",
		},
	)

	// GeocodingFailures counts address resolution failures (non-fatal)
	GeocodingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_geocoding_failures_total",
			Help: "Total number of address geocoding attempts that degraded to null coordinates",
		},
	)
)

// RecordBookingCreated increments the booking created counter
func RecordBookingCreated(category string) {
	BookingsCreated.WithLabelValues(category).Inc()
}

// UpdateBookingStatus moves the active-bookings gauge between two statuses
func UpdateBookingStatus(oldStatus, newStatus string) {
	if oldStatus != "" {
		BookingsActive.WithLabelValues(oldStatus).Dec()
	}
	if newStatus != "" {
		BookingsActive.WithLabelValues(newStatus).Inc()
	}
}

// RecordOfferCreated increments the offer created counter
func RecordOfferCreated() {
	OffersCreated.Inc()
}

// RecordOfferAccepted increments the offer accepted counter
func RecordOfferAccepted() {
	OffersAccepted.Inc()
}

// RecordOfferDeclined increments the offer declined counter by reason
func RecordOfferDeclined(reason string) {
	OffersDeclined.WithLabelValues(reason).Inc()
}

// RecordOfferExpired increments the offer expired counter
func RecordOfferExpired() {
	OffersExpired.Inc()
}

// RecordOffersExpired adds n to the offer expired counter (batch sweep use).
func RecordOffersExpired(n int) {
	OffersExpired.Add(float64(n))
}

// RecordFallbackActivation increments the fallback activation counter
func RecordFallbackActivation() {
	FallbackActivations.Inc()
}

// RecordNoCandidatesFound increments the no-candidates counter
func RecordNoCandidatesFound() {
	NoCandidatesFound.Inc()
}

// RecordCandidateSelectionDuration records how long a C1 run took
func RecordCandidateSelectionDuration(d time.Duration) {
	CandidateSelectionDuration.Observe(d.Seconds())
}

// RecordRaceConflict increments the accept-race-conflict counter
func RecordRaceConflict() {
	RaceConflicts.Inc()
}

// RecordSweep records the duration, item count, and optional error for one
// reconciliation sweep run.
func RecordSweep(sweep string, duration time.Duration, items int, err error) {
	ReconcileSweepDuration.WithLabelValues(sweep).Observe(duration.Seconds())
	ReconcileSweepItems.WithLabelValues(sweep).Add(float64(items))
	if err != nil {
		ReconcileSweepErrors.WithLabelValues(sweep).Inc()
	}
}

// RecordProviderRatingUpdate increments the rating recomputation counter
func RecordProviderRatingUpdate() {
	ProviderRatingUpdates.Inc()
}

// RecordGeocodingFailure increments the geocoding failure counter
func RecordGeocodingFailure() {
	GeocodingFailures.Inc()
}

// RecordHTTPRequest records the duration and increments the counter for an HTTP request
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// BookingCount holds the count of bookings for a status on startup.
type BookingCount struct {
	Status string
	Count  int
}

// InitializeBookingMetrics populates the active-bookings gauge from database
// state on startup, before the reconciler's first sweep runs.
func InitializeBookingMetrics(ctx context.Context, counts []BookingCount) error {
	for _, c := range counts {
		BookingsActive.WithLabelValues(c.Status).Set(float64(c.Count))
	}
	slog.Info("initialized booking metrics from database",
		slog.Int("label_combinations", len(counts)))
	return nil
}
