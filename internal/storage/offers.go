package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/pkg/models"
)

// OfferStore handles offer (assignment queue) persistence.
type OfferStore struct {
	db *DB
}

// NewOfferStore creates a new offer store.
func NewOfferStore(db *DB) *OfferStore {
	return &OfferStore{db: db}
}

const offerColumns = `
	id, booking_id, provider_id, status, score, notified_at, expires_at, responded_at, created_at
`

// Create inserts a new offer. Returns ErrAlreadyExists if a pending offer
// already exists for this booking+provider pair (enforced by the partial
// unique index, preserving I1 under concurrent dispatch).
func (s *OfferStore) Create(ctx context.Context, o *models.Offer) error {
	query := `
		INSERT INTO offers (id, booking_id, provider_id, status, score, notified_at, expires_at, responded_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		o.ID, o.BookingID, o.ProviderID, o.Status, o.Score, o.NotifiedAt, o.ExpiresAt, nullTimePtr(o.RespondedAt), o.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create offer: %w", err)
	}
	return nil
}

func scanOffer(row interface{ Scan(...interface{}) error }) (*models.Offer, error) {
	o := &models.Offer{}
	var respondedAt sql.NullTime
	err := row.Scan(&o.ID, &o.BookingID, &o.ProviderID, &o.Status, &o.Score, &o.NotifiedAt, &o.ExpiresAt, &respondedAt, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	if respondedAt.Valid {
		t := respondedAt.Time
		o.RespondedAt = &t
	}
	return o, nil
}

// Get retrieves an offer by id.
func (s *OfferStore) Get(ctx context.Context, id string) (*models.Offer, error) {
	row := s.db.QueryRowContext(ctx, "SELECT"+offerColumns+"FROM offers WHERE id = ?", id)
	o, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	return o, nil
}

// ListPendingByProvider returns a provider's pending offers, newest first.
func (s *OfferStore) ListPendingByProvider(ctx context.Context, providerID string) ([]*models.Offer, error) {
	query := "SELECT" + offerColumns + `
		FROM offers WHERE provider_id = ? AND status = 'pending'
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending offers: %w", err)
	}
	defer rows.Close()

	var offers []*models.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

// ListPendingByBooking returns all pending offers for a booking.
func (s *OfferStore) ListPendingByBooking(ctx context.Context, bookingID string) ([]*models.Offer, error) {
	query := "SELECT" + offerColumns + "FROM offers WHERE booking_id = ? AND status = 'pending'"
	rows, err := s.db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending offers for booking: %w", err)
	}
	defer rows.Close()

	var offers []*models.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

// ListByBooking returns every offer for a booking regardless of status,
// newest first — used by the admin surface to inspect the full history of
// an assignment race.
func (s *OfferStore) ListByBooking(ctx context.Context, bookingID string) ([]*models.Offer, error) {
	query := "SELECT" + offerColumns + `
		FROM offers WHERE booking_id = ?
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers for booking: %w", err)
	}
	defer rows.Close()

	var offers []*models.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

// Expire transitions a single offer from pending to expired. Returns true if
// the transition happened (it is a no-op if the offer already moved on).
func (s *OfferStore) Expire(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE offers SET status = 'expired' WHERE id = ? AND status = 'pending'
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to expire offer: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// ExpireStale transitions every pending offer with expires_at before now to
// expired, capped at limit rows per call (Sweep A). Returns the number of
// offers transitioned.
func (s *OfferStore) ExpireStale(ctx context.Context, now time.Time, limit int) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE offers SET status = 'expired'
		WHERE id IN (
			SELECT id FROM offers WHERE status = 'pending' AND expires_at < ? LIMIT ?
		)
	`, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale offers: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}

// Accept transitions the offer to accepted with responded_at = now. Only
// succeeds if the offer is currently pending.
func (s *OfferStore) Accept(ctx context.Context, id string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE offers SET status = 'accepted', responded_at = ? WHERE id = ? AND status = 'pending'
	`, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to accept offer: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// Decline transitions the offer to declined with responded_at = now. Only
// succeeds if the offer is currently pending.
func (s *OfferStore) Decline(ctx context.Context, id string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE offers SET status = 'declined', responded_at = ? WHERE id = ? AND status = 'pending'
	`, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to decline offer: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// AcceptAndAssign accepts an offer, cascade-declines its siblings, and
// assigns the booking's provider in a single transaction. Without this, the
// offer-level accept and the booking-level assignment are separate
// statements and a second provider's concurrent accept on a sibling offer
// can slip through between them, leaving two offers marked accepted for one
// booking. accepted reports whether this offer was still pending and not
// past its expires_at as of now; assigned
// reports whether this call actually won the booking (false means someone
// else already holds it, and the whole transaction is rolled back so the
// offer reverts to pending rather than being stranded as accepted).
func (s *OfferStore) AcceptAndAssign(ctx context.Context, offerID, bookingID, providerID string, status models.BookingStatus, distance, arrival string, now time.Time) (accepted, assigned bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, false, fmt.Errorf("failed to begin accept transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE offers SET status = 'accepted', responded_at = ? WHERE id = ? AND status = 'pending' AND expires_at >= ?
	`, now, offerID, now)
	if err != nil {
		return false, false, fmt.Errorf("failed to accept offer: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return false, false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE offers SET status = 'declined', responded_at = ?
		WHERE booking_id = ? AND id != ? AND status = 'pending'
	`, now, bookingID, offerID); err != nil {
		return false, false, fmt.Errorf("failed to decline sibling offers: %w", err)
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE bookings SET
			provider_id = ?,
			status = ?,
			provider_distance = ?,
			estimated_arrival = ?,
			updated_at = ?
		WHERE id = ? AND provider_id IS NULL
	`, providerID, status, distance, arrival, now, bookingID)
	if err != nil {
		return false, false, fmt.Errorf("failed to assign provider: %w", err)
	}
	rows, err = result.RowsAffected()
	if err != nil {
		return false, false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return true, false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, false, fmt.Errorf("failed to commit accept transaction: %w", err)
	}
	return true, true, nil
}

// DeclineOtherPending cascade-declines every other pending offer for a
// booking once one has been accepted, preserving I3.
func (s *OfferStore) DeclineOtherPending(ctx context.Context, bookingID, acceptedOfferID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE offers SET status = 'declined', responded_at = ?
		WHERE booking_id = ? AND id != ? AND status = 'pending'
	`, now, bookingID, acceptedOfferID)
	if err != nil {
		return fmt.Errorf("failed to decline sibling offers: %w", err)
	}
	return nil
}

// DeclineAllPendingForBooking declines every pending offer for a booking —
// used on cancellation (P5).
func (s *OfferStore) DeclineAllPendingForBooking(ctx context.Context, bookingID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE offers SET status = 'declined', responded_at = ?
		WHERE booking_id = ? AND status = 'pending'
	`, now, bookingID)
	if err != nil {
		return fmt.Errorf("failed to decline offers for cancelled booking: %w", err)
	}
	return nil
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
