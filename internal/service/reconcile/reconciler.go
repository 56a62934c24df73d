// Package reconcile implements the Reconciliation Loop (C4): the scheduled
// sweeps that repair drift between offers, bookings, and the dispatch
// process without relying on any single request having seen it happen.
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/logging"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/metrics"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/service/dispatch"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/storage"
)

const (
	// DefaultSweepInterval is how often sweeps A, B, and C run.
	DefaultSweepInterval = time.Minute
	// DefaultScheduledInterval is how often sweep D runs.
	DefaultScheduledInterval = time.Hour
	// DefaultScheduledHorizon is how far ahead sweep D looks for
	// not-yet-dispatched scheduled bookings.
	DefaultScheduledHorizon = 24 * time.Hour
	// DefaultBatchSize caps the number of rows a single sweep tick touches.
	DefaultBatchSize = 200
)

// Reconciler runs the three mandatory sweeps (A/B/C) on a fast ticker and
// the optional scheduled-bookings sweep (D) on a slower one.
type Reconciler struct {
	offers     *storage.OfferStore
	bookings   *storage.BookingStore
	dispatcher *dispatch.OfferDispatcher
	logger     *slog.Logger

	sweepInterval     time.Duration
	scheduledInterval time.Duration
	scheduledHorizon  time.Duration
	batchSize         int
	scheduledEnabled  bool

	now func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

// WithSweepInterval sets the cadence of sweeps A, B, and C.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Reconciler) { r.sweepInterval = d }
}

// WithScheduledInterval sets the cadence of sweep D.
func WithScheduledInterval(d time.Duration) Option {
	return func(r *Reconciler) { r.scheduledInterval = d }
}

// WithScheduledHorizon sets how far ahead sweep D looks.
func WithScheduledHorizon(d time.Duration) Option {
	return func(r *Reconciler) { r.scheduledHorizon = d }
}

// WithBatchSize caps rows touched per sweep tick.
func WithBatchSize(n int) Option {
	return func(r *Reconciler) { r.batchSize = n }
}

// WithScheduledSweepEnabled toggles sweep D.
func WithScheduledSweepEnabled(enabled bool) Option {
	return func(r *Reconciler) { r.scheduledEnabled = enabled }
}

// WithTimeFunc overrides time.Now, for deterministic tests.
func WithTimeFunc(fn func() time.Time) Option {
	return func(r *Reconciler) { r.now = fn }
}

// New builds a Reconciler.
func New(offers *storage.OfferStore, bookings *storage.BookingStore, dispatcher *dispatch.OfferDispatcher, opts ...Option) *Reconciler {
	r := &Reconciler{
		offers:            offers,
		bookings:          bookings,
		dispatcher:        dispatcher,
		logger:            slog.Default(),
		sweepInterval:     DefaultSweepInterval,
		scheduledInterval: DefaultScheduledInterval,
		scheduledHorizon:  DefaultScheduledHorizon,
		batchSize:         DefaultBatchSize,
		scheduledEnabled:  true,
		now:               time.Now,
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins both sweep loops in the background.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	r.logger.Info("reconciler starting",
		slog.Duration("sweep_interval", r.sweepInterval),
		slog.Duration("scheduled_interval", r.scheduledInterval))

	go r.run(ctx)
	return nil
}

// Stop gracefully stops the reconciler and waits for the loop to exit.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	stopCh := r.stopCh
	doneCh := r.doneCh
	r.mu.Unlock()

	r.logger.Info("reconciler stopping")
	close(stopCh)
	<-doneCh
	r.logger.Info("reconciler stopped")
}

// IsRunning reports whether the background loop is active.
func (r *Reconciler) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Reconciler) run(ctx context.Context) {
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		close(r.doneCh)
	}()

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	var scheduledTicker *time.Ticker
	var scheduledC <-chan time.Time
	if r.scheduledEnabled {
		scheduledTicker = time.NewTicker(r.scheduledInterval)
		defer scheduledTicker.Stop()
		scheduledC = scheduledTicker.C
	}

	r.RunSweeps(ctx)
	if r.scheduledEnabled {
		r.RunScheduledSweep(ctx)
	}

	for {
		select {
		case <-ticker.C:
			r.RunSweeps(ctx)
		case <-scheduledC:
			r.RunScheduledSweep(ctx)
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunSweeps runs sweeps A, B, and C once, in order.
func (r *Reconciler) RunSweeps(ctx context.Context) {
	r.sweepExpireStale(ctx)
	r.sweepRedispatchDrift(ctx)
	r.sweepNotifyRefresh(ctx)
}

// sweepExpireStale is Sweep A: expire every pending offer past its TTL.
func (r *Reconciler) sweepExpireStale(ctx context.Context) {
	start := time.Now()
	count, err := r.offers.ExpireStale(ctx, r.now(), r.batchSize)
	metrics.RecordSweep("expire_stale", time.Since(start), count, err)
	if err != nil {
		r.logger.Error("sweep A failed", slog.String("error", err.Error()))
		return
	}
	if count > 0 {
		r.logger.Info("sweep A expired stale offers", slog.Int("count", count))
		logging.Audit(ctx, "sweep_expire_stale", "count", count)
		metrics.RecordOffersExpired(count)
	}
}

// sweepRedispatchDrift is Sweep B: re-run C2 for any booking with no
// assigned provider and no live offer.
func (r *Reconciler) sweepRedispatchDrift(ctx context.Context) {
	start := time.Now()
	drifted, err := r.bookings.ListDrifted(ctx, r.batchSize)
	if err != nil {
		metrics.RecordSweep("redispatch_drift", time.Since(start), 0, err)
		r.logger.Error("sweep B failed to list drifted bookings", slog.String("error", err.Error()))
		return
	}

	for _, b := range drifted {
		if _, err := r.dispatcher.Dispatch(ctx, b.ID); err != nil {
			r.logger.Error("sweep B failed to redispatch booking",
				slog.String("booking_id", b.ID), slog.String("error", err.Error()))
		}
	}

	metrics.RecordSweep("redispatch_drift", time.Since(start), len(drifted), nil)
	if len(drifted) > 0 {
		r.logger.Info("sweep B redispatched drifted bookings", slog.Int("count", len(drifted)))
		logging.Audit(ctx, "sweep_redispatch_drift", "count", len(drifted))
	}
}

// sweepNotifyRefresh is Sweep C: re-fire notifications for bookings still
// awaiting a response. It never mutates dispatch state.
func (r *Reconciler) sweepNotifyRefresh(ctx context.Context) {
	start := time.Now()
	bookings, err := r.bookings.ListAwaitingWithPendingOffers(ctx, r.batchSize)
	if err != nil {
		metrics.RecordSweep("notify_refresh", time.Since(start), 0, err)
		r.logger.Error("sweep C failed to list awaiting bookings", slog.String("error", err.Error()))
		return
	}

	for _, b := range bookings {
		pending, err := r.offers.ListPendingByBooking(ctx, b.ID)
		if err != nil {
			r.logger.Error("sweep C failed to list pending offers",
				slog.String("booking_id", b.ID), slog.String("error", err.Error()))
			continue
		}
		for _, o := range pending {
			r.dispatcher.Renotify(ctx, b, o)
		}
	}

	metrics.RecordSweep("notify_refresh", time.Since(start), len(bookings), nil)
}

// RunScheduledSweep is Sweep D: ensure bookings whose service date falls
// within the configured horizon have been dispatched. It is expressible as
// Sweep B plus a date filter.
func (r *Reconciler) RunScheduledSweep(ctx context.Context) {
	start := time.Now()
	upcoming, err := r.bookings.ListScheduledSoon(ctx, r.now(), r.scheduledHorizon, r.batchSize)
	if err != nil {
		metrics.RecordSweep("scheduled", time.Since(start), 0, err)
		r.logger.Error("sweep D failed to list scheduled bookings", slog.String("error", err.Error()))
		return
	}

	for _, b := range upcoming {
		if _, err := r.dispatcher.Dispatch(ctx, b.ID); err != nil {
			r.logger.Error("sweep D failed to dispatch scheduled booking",
				slog.String("booking_id", b.ID), slog.String("error", err.Error()))
		}
	}

	metrics.RecordSweep("scheduled", time.Since(start), len(upcoming), nil)
	if len(upcoming) > 0 {
		r.logger.Info("sweep D dispatched upcoming scheduled bookings", slog.Int("count", len(upcoming)))
		logging.Audit(ctx, "sweep_scheduled", "count", len(upcoming))
	}
}
