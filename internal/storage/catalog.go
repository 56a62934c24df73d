package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/pkg/models"
)

// CatalogStore handles the thin CRUD catalog tables (services, categories,
// provider-service links, profiles) that sit outside the dispatch core but
// the core needs rows from to do its job.
type CatalogStore struct {
	db *DB
}

// NewCatalogStore creates a new catalog store.
func NewCatalogStore(db *DB) *CatalogStore {
	return &CatalogStore{db: db}
}

// GetService retrieves a service by id.
func (s *CatalogStore) GetService(ctx context.Context, id string) (*models.Service, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, base_price, duration_minutes, category_id
		FROM services WHERE id = ?
	`, id)

	svc := &models.Service{}
	var description, categoryID sql.NullString
	var basePrice sql.NullFloat64
	var duration sql.NullInt64

	err := row.Scan(&svc.ID, &svc.Name, &description, &basePrice, &duration, &categoryID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	svc.Description = description.String
	svc.CategoryID = categoryID.String
	if basePrice.Valid {
		v := basePrice.Float64
		svc.BasePrice = &v
	}
	if duration.Valid {
		v := int(duration.Int64)
		svc.DurationMinutes = &v
	}
	return svc, nil
}

// ListServices returns every service in the catalog, optionally filtered by
// category id.
func (s *CatalogStore) ListServices(ctx context.Context, categoryID string) ([]*models.Service, error) {
	query := `SELECT id, name, description, base_price, duration_minutes, category_id FROM services`
	var args []interface{}
	if categoryID != "" {
		query += ` WHERE category_id = ?`
		args = append(args, categoryID)
	}
	query += ` ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	var services []*models.Service
	for rows.Next() {
		svc := &models.Service{}
		var description, categoryID sql.NullString
		var basePrice sql.NullFloat64
		var duration sql.NullInt64
		if err := rows.Scan(&svc.ID, &svc.Name, &description, &basePrice, &duration, &categoryID); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		svc.Description = description.String
		svc.CategoryID = categoryID.String
		if basePrice.Valid {
			v := basePrice.Float64
			svc.BasePrice = &v
		}
		if duration.Valid {
			v := int(duration.Int64)
			svc.DurationMinutes = &v
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

// CreateService inserts a new service into the catalog — admin-only.
func (s *CatalogStore) CreateService(ctx context.Context, svc *models.Service) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO services (id, name, description, base_price, duration_minutes, category_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, svc.ID, svc.Name, nullString(svc.Description), svc.BasePrice, svc.DurationMinutes, nullString(svc.CategoryID))
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	return nil
}

// ListCategories returns every service category.
func (s *CatalogStore) ListCategories(ctx context.Context) ([]*models.ServiceCategory, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, icon FROM service_categories ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []*models.ServiceCategory
	for rows.Next() {
		c := &models.ServiceCategory{}
		var description, icon sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &description, &icon); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		c.Description = description.String
		c.Icon = icon.String
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// GetProfile retrieves a customer profile by user id.
func (s *CatalogStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, full_name, phone, address, created_at FROM profiles WHERE user_id = ?
	`, userID)
	p := &models.Profile{}
	var fullName, phone, address sql.NullString
	err := row.Scan(&p.ID, &p.UserID, &fullName, &phone, &address, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	p.FullName = fullName.String
	p.Phone = phone.String
	p.Address = address.String
	return p, nil
}

// UpsertProfile creates or updates a customer profile, keyed by user id.
func (s *CatalogStore) UpsertProfile(ctx context.Context, p *models.Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, user_id, full_name, phone, address, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET full_name = excluded.full_name, phone = excluded.phone, address = excluded.address
	`, p.ID, p.UserID, nullString(p.FullName), nullString(p.Phone), nullString(p.Address), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// ProviderIDsForService returns the set of provider ids actively linked to a
// service.
func (s *CatalogStore) ProviderIDsForService(ctx context.Context, serviceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_id FROM provider_services WHERE service_id = ? AND is_active = 1
	`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider-service links: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan provider id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LinkProviderService creates or reactivates a provider-service link.
func (s *CatalogStore) LinkProviderService(ctx context.Context, link *models.ProviderService) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_services (id, provider_id, service_id, custom_price, is_active)
		VALUES (?, ?, ?, ?, 1)
	`, link.ID, link.ProviderID, link.ServiceID, link.CustomPrice)
	if err != nil {
		return fmt.Errorf("failed to link provider to service: %w", err)
	}
	return nil
}

// ListProviderServices returns a provider's active service links.
func (s *CatalogStore) ListProviderServices(ctx context.Context, providerID string) ([]*models.ProviderService, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider_id, service_id, custom_price, is_active
		FROM provider_services WHERE provider_id = ? AND is_active = 1
	`, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider services: %w", err)
	}
	defer rows.Close()

	var links []*models.ProviderService
	for rows.Next() {
		l := &models.ProviderService{}
		var customPrice sql.NullFloat64
		if err := rows.Scan(&l.ID, &l.ProviderID, &l.ServiceID, &customPrice, &l.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan provider service: %w", err)
		}
		if customPrice.Valid {
			v := customPrice.Float64
			l.CustomPrice = &v
		}
		links = append(links, l)
	}
	return links, rows.Err()
}
