package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/pkg/models"
)

// BookingStore handles booking persistence.
type BookingStore struct {
	db *DB
}

// NewBookingStore creates a new booking store.
func NewBookingStore(db *DB) *BookingStore {
	return &BookingStore{db: db}
}

const bookingColumns = `
	id, booking_number, user_id, service_id, provider_id,
	service_date, service_time, location, latitude, longitude, pincode,
	special_instructions, status, estimated_price, final_price,
	provider_distance, estimated_arrival, rating, review,
	created_at, updated_at
`

// Create inserts a new booking.
func (s *BookingStore) Create(ctx context.Context, b *models.Booking) error {
	query := `
		INSERT INTO bookings (
			id, booking_number, user_id, service_id, provider_id,
			service_date, service_time, location, latitude, longitude, pincode,
			special_instructions, status, estimated_price, final_price,
			provider_distance, estimated_arrival, rating, review,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		b.ID, b.BookingNumber, b.UserID, b.ServiceID, nullString(b.ProviderID),
		b.ServiceDate, b.ServiceTime, b.Location, b.Latitude, b.Longitude, nullString(b.Pincode),
		nullString(b.Special), b.Status, b.EstimatedPrice, b.FinalPrice,
		nullString(b.ProviderDistance), nullString(b.EstimatedArrival), b.Rating, nullString(b.Review),
		b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

func scanBooking(row interface{ Scan(...interface{}) error }) (*models.Booking, error) {
	b := &models.Booking{}
	var providerID, pincode, special, providerDistance, estimatedArrival, review sql.NullString
	var estimatedPrice, finalPrice, rating sql.NullFloat64
	var latitude, longitude sql.NullFloat64

	err := row.Scan(
		&b.ID, &b.BookingNumber, &b.UserID, &b.ServiceID, &providerID,
		&b.ServiceDate, &b.ServiceTime, &b.Location, &latitude, &longitude, &pincode,
		&special, &b.Status, &estimatedPrice, &finalPrice,
		&providerDistance, &estimatedArrival, &rating, &review,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.ProviderID = providerID.String
	b.Pincode = pincode.String
	b.Special = special.String
	b.ProviderDistance = providerDistance.String
	b.EstimatedArrival = estimatedArrival.String
	b.Review = review.String
	if latitude.Valid {
		v := latitude.Float64
		b.Latitude = &v
	}
	if longitude.Valid {
		v := longitude.Float64
		b.Longitude = &v
	}
	if estimatedPrice.Valid {
		v := estimatedPrice.Float64
		b.EstimatedPrice = &v
	}
	if finalPrice.Valid {
		v := finalPrice.Float64
		b.FinalPrice = &v
	}
	if rating.Valid {
		v := rating.Float64
		b.Rating = &v
	}
	return b, nil
}

// Get retrieves a booking by id.
func (s *BookingStore) Get(ctx context.Context, id string) (*models.Booking, error) {
	query := "SELECT" + bookingColumns + "FROM bookings WHERE id = ?"
	row := s.db.QueryRowContext(ctx, query, id)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// GetByNumber retrieves a booking by its human-facing booking number.
func (s *BookingStore) GetByNumber(ctx context.Context, number string) (*models.Booking, error) {
	query := "SELECT" + bookingColumns + "FROM bookings WHERE booking_number = ?"
	row := s.db.QueryRowContext(ctx, query, number)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// Update persists all mutable fields of a booking.
func (s *BookingStore) Update(ctx context.Context, b *models.Booking) error {
	query := `
		UPDATE bookings SET
			provider_id = ?,
			status = ?,
			estimated_price = ?,
			final_price = ?,
			provider_distance = ?,
			estimated_arrival = ?,
			rating = ?,
			review = ?,
			updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		nullString(b.ProviderID), b.Status, b.EstimatedPrice, b.FinalPrice,
		nullString(b.ProviderDistance), nullString(b.EstimatedArrival), b.Rating, nullString(b.Review),
		b.UpdatedAt, b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignProvider performs the race-safe winner election for accept (C3).
// It only succeeds when the booking currently has no assigned provider,
// implementing the conditional-update-predicated-on-null fix called for in
// place of the source's read-then-write race. Returns ErrAlreadyAssigned
// (zero rows affected) when a concurrent accept has already won.
func (s *BookingStore) AssignProvider(ctx context.Context, bookingID, providerID string, status models.BookingStatus, distance, arrival string, now time.Time) error {
	query := `
		UPDATE bookings SET
			provider_id = ?,
			status = ?,
			provider_distance = ?,
			estimated_arrival = ?,
			updated_at = ?
		WHERE id = ? AND provider_id IS NULL
	`
	result, err := s.db.ExecContext(ctx, query, providerID, status, distance, arrival, now, bookingID)
	if err != nil {
		return fmt.Errorf("failed to assign provider: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAlreadyAssigned
	}
	return nil
}

// SetDisplayIfUnassigned updates only the display fields, guarded by
// provider_id IS NULL so a decline that races with a concurrent accept never
// clobbers the winner's state — mirrors the defensive guard the source takes
// on its decline path.
func (s *BookingStore) SetDisplayIfUnassigned(ctx context.Context, bookingID, display string, now time.Time) error {
	query := `
		UPDATE bookings SET provider_distance = ?, updated_at = ?
		WHERE id = ? AND provider_id IS NULL
	`
	_, err := s.db.ExecContext(ctx, query, display, now, bookingID)
	if err != nil {
		return fmt.Errorf("failed to update booking display: %w", err)
	}
	return nil
}

// SetDispatchOutcome transitions a booking after C2 runs: either into
// awaiting_provider (offers created) or pending with a "no providers"
// display (offers empty).
func (s *BookingStore) SetDispatchOutcome(ctx context.Context, bookingID string, status models.BookingStatus, display string, now time.Time) error {
	query := `
		UPDATE bookings SET status = ?, provider_distance = ?, updated_at = ?
		WHERE id = ?
	`
	_, err := s.db.ExecContext(ctx, query, status, display, now, bookingID)
	if err != nil {
		return fmt.Errorf("failed to set dispatch outcome: %w", err)
	}
	return nil
}

// CountPendingOffers returns the number of pending offers for a booking.
func (s *BookingStore) CountPendingOffers(ctx context.Context, bookingID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM offers WHERE booking_id = ? AND status = 'pending'
	`, bookingID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending offers: %w", err)
	}
	return count, nil
}

// CountActiveByProvider returns the number of bookings a provider is
// actively working (pending/confirmed/in_progress) — used by C1's workload
// penalty.
func (s *BookingStore) CountActiveByProvider(ctx context.Context, providerIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(providerIDs))
	if len(providerIDs) == 0 {
		return counts, nil
	}

	placeholders := make([]string, len(providerIDs))
	args := make([]interface{}, 0, len(providerIDs)+3)
	for i, id := range providerIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	args = append(args, string(models.BookingPending), string(models.BookingConfirmed), string(models.BookingInProgress))

	query := fmt.Sprintf(`
		SELECT provider_id, COUNT(*) FROM bookings
		WHERE provider_id IN (%s) AND status IN (?, ?, ?)
		GROUP BY provider_id
	`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count active bookings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var providerID string
		var count int
		if err := rows.Scan(&providerID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan active booking count: %w", err)
		}
		counts[providerID] = count
	}
	return counts, rows.Err()
}

// List returns bookings matching the filter.
func (s *BookingStore) List(ctx context.Context, filter models.BookingListFilter) ([]*models.Booking, error) {
	query := "SELECT" + bookingColumns + "FROM bookings WHERE 1=1"
	var args []interface{}

	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.ProviderID != "" {
		query += " AND provider_id = ?"
		args = append(args, filter.ProviderID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, filter.Skip)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// ListDrifted returns bookings in {awaiting_provider, pending} with no
// assigned provider and no pending offer — the Sweep B (C4) target set.
func (s *BookingStore) ListDrifted(ctx context.Context, limit int) ([]*models.Booking, error) {
	query := "SELECT" + bookingColumns + `
		FROM bookings b
		WHERE b.status IN ('awaiting_provider', 'pending')
		  AND b.provider_id IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM offers o WHERE o.booking_id = b.id AND o.status = 'pending'
		  )
		ORDER BY b.updated_at ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list drifted bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// ListAwaitingWithPendingOffers returns bookings in awaiting_provider with
// at least one pending offer — the Sweep C (C4) notify-refresh target set.
func (s *BookingStore) ListAwaitingWithPendingOffers(ctx context.Context, limit int) ([]*models.Booking, error) {
	query := "SELECT" + bookingColumns + `
		FROM bookings b
		WHERE b.status = 'awaiting_provider'
		  AND EXISTS (
			SELECT 1 FROM offers o WHERE o.booking_id = b.id AND o.status = 'pending'
		  )
		ORDER BY b.updated_at ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list awaiting bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// ListScheduledSoon returns active, unassigned bookings whose service date
// falls within the given horizon of now — the Sweep D target set.
func (s *BookingStore) ListScheduledSoon(ctx context.Context, now time.Time, horizon time.Duration, limit int) ([]*models.Booking, error) {
	query := "SELECT" + bookingColumns + `
		FROM bookings b
		WHERE b.status IN ('awaiting_provider', 'pending')
		  AND b.provider_id IS NULL
		  AND b.service_date <= ?
		  AND NOT EXISTS (
			SELECT 1 FROM offers o WHERE o.booking_id = b.id AND o.status = 'pending'
		  )
		ORDER BY b.service_date ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, now.Add(horizon), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// SetRatingAndReview persists a customer's rating/review for a completed
// booking. Only succeeds if the booking is currently completed.
func (s *BookingStore) SetRatingAndReview(ctx context.Context, bookingID string, rating float64, review string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bookings SET rating = ?, review = ?, updated_at = ?
		WHERE id = ? AND status = 'completed'
	`, rating, nullString(review), now, bookingID)
	if err != nil {
		return false, fmt.Errorf("failed to set booking rating: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// AverageRatingForProvider computes the arithmetic mean of every non-null
// rating across a provider's bookings (P6). Returns 0, 0 if none exist.
func (s *BookingStore) AverageRatingForProvider(ctx context.Context, providerID string) (float64, int, error) {
	var avg sql.NullFloat64
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT AVG(rating), COUNT(rating) FROM bookings WHERE provider_id = ? AND rating IS NOT NULL
	`, providerID).Scan(&avg, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to average provider rating: %w", err)
	}
	return avg.Float64, count, nil
}

// SetStatus transitions a booking to a new status, guarded by the expected
// current status so a stale caller cannot clobber a newer transition.
func (s *BookingStore) SetStatus(ctx context.Context, bookingID string, from, to models.BookingStatus, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bookings SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, to, now, bookingID, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition booking status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// CountByStatus returns the number of bookings in each status, for the
// startup metrics seed and the admin stats endpoint.
func (s *BookingStore) CountByStatus(ctx context.Context) (map[models.BookingStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM bookings GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count bookings by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.BookingStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan booking status count: %w", err)
		}
		counts[models.BookingStatus(status)] = count
	}
	return counts, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
