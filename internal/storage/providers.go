package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/pkg/models"
)

// ProviderStore handles provider persistence.
type ProviderStore struct {
	db *DB
}

// NewProviderStore creates a new provider store.
func NewProviderStore(db *DB) *ProviderStore {
	return &ProviderStore{db: db}
}

const providerColumns = `
	id, user_id, business_name, latitude, longitude, pincode,
	rating, experience_years, is_available, created_at, updated_at
`

// Create inserts a new provider.
func (s *ProviderStore) Create(ctx context.Context, p *models.Provider) error {
	query := `
		INSERT INTO providers (id, user_id, business_name, latitude, longitude, pincode, rating, experience_years, is_available, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.UserID, p.BusinessName, p.Latitude, p.Longitude, nullString(p.Pincode),
		p.Rating, p.ExperienceYears, p.IsAvailable, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create provider: %w", err)
	}
	return nil
}

func scanProvider(row interface{ Scan(...interface{}) error }) (*models.Provider, error) {
	p := &models.Provider{}
	var pincode sql.NullString
	var latitude, longitude, rating sql.NullFloat64

	err := row.Scan(&p.ID, &p.UserID, &p.BusinessName, &latitude, &longitude, &pincode,
		&rating, &p.ExperienceYears, &p.IsAvailable, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Pincode = pincode.String
	if latitude.Valid {
		v := latitude.Float64
		p.Latitude = &v
	}
	if longitude.Valid {
		v := longitude.Float64
		p.Longitude = &v
	}
	if rating.Valid {
		v := rating.Float64
		p.Rating = &v
	}
	return p, nil
}

// Get retrieves a provider by id.
func (s *ProviderStore) Get(ctx context.Context, id string) (*models.Provider, error) {
	row := s.db.QueryRowContext(ctx, "SELECT"+providerColumns+"FROM providers WHERE id = ?", id)
	p, err := scanProvider(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return p, nil
}

// GetByUserID resolves a provider profile from a caller's user id — the
// provider endpoints' 404-if-not-a-provider lookup.
func (s *ProviderStore) GetByUserID(ctx context.Context, userID string) (*models.Provider, error) {
	row := s.db.QueryRowContext(ctx, "SELECT"+providerColumns+"FROM providers WHERE user_id = ?", userID)
	p, err := scanProvider(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider by user: %w", err)
	}
	return p, nil
}

// Update persists a provider's mutable profile fields.
func (s *ProviderStore) Update(ctx context.Context, p *models.Provider) error {
	query := `
		UPDATE providers SET
			business_name = ?, latitude = ?, longitude = ?, pincode = ?,
			experience_years = ?, is_available = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		p.BusinessName, p.Latitude, p.Longitude, nullString(p.Pincode),
		p.ExperienceYears, p.IsAvailable, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update provider: %w", err)
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

// SetRating persists a provider's rolling rating (P6). It writes the given
// value as-is; the caller computes the mean of the provider's booking ratings.
func (s *ProviderStore) SetRating(ctx context.Context, providerID string, rating float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE providers SET rating = ? WHERE id = ?`, rating, providerID)
	if err != nil {
		return fmt.Errorf("failed to update provider rating: %w", err)
	}
	return nil
}

// EligibleForService returns available providers linked to a service via
// provider_services. This is the primary (non-fallback) eligibility query
// for C1, resolved in a single batched join rather than per-provider
// roundtrips.
func (s *ProviderStore) EligibleForService(ctx context.Context, serviceID string) ([]*models.Provider, error) {
	query := `
		SELECT DISTINCT p.id, p.user_id, p.business_name, p.latitude, p.longitude, p.pincode,
			p.rating, p.experience_years, p.is_available, p.created_at, p.updated_at
		FROM providers p
		JOIN provider_services ps ON ps.provider_id = p.id
		WHERE ps.service_id = ? AND ps.is_active = 1 AND p.is_available = 1
		ORDER BY p.id ASC
	`
	return s.queryProviders(ctx, query, serviceID)
}

// AllAvailable returns every available provider — the fallback eligibility
// set used when the service-linked set is empty.
func (s *ProviderStore) AllAvailable(ctx context.Context) ([]*models.Provider, error) {
	query := "SELECT" + providerColumns + "FROM providers WHERE is_available = 1 ORDER BY id ASC"
	return s.queryProviders(ctx, query)
}

// AnyExist reports whether the providers table has any rows at all.
func (s *ProviderStore) AnyExist(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM providers").Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count providers: %w", err)
	}
	return count > 0, nil
}

// List returns every provider, paginated — the admin CRUD listing.
func (s *ProviderStore) List(ctx context.Context, skip, limit int) ([]*models.Provider, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	query := "SELECT" + providerColumns + "FROM providers ORDER BY created_at DESC LIMIT ? OFFSET ?"
	return s.queryProviders(ctx, query, limit, skip)
}

// Count returns the total number of provider rows.
func (s *ProviderStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM providers").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count providers: %w", err)
	}
	return count, nil
}

func (s *ProviderStore) queryProviders(ctx context.Context, query string, args ...interface{}) ([]*models.Provider, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query providers: %w", err)
	}
	defer rows.Close()

	var providers []*models.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}
