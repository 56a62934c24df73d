package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite doesn't handle concurrent writes well
	db.SetMaxIdleConns(1)

	return &DB{db}, nil
}

// Migrate runs database migrations
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCatalog,
		migrationProviders,
		migrationBookings,
		migrationOffers,
		migrationProviderServices,
		migrationIndexes,
	}

	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	// Index migrations that may fail if already present (idempotent by design)
	indexMigrations := []string{
		migrationOfferDuplicatePrevention,
	}

	for _, migration := range indexMigrations {
		_, _ = db.ExecContext(ctx, migration) // Ignore errors for idempotency
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

const migrationCatalog = `
CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL UNIQUE,
	full_name TEXT,
	phone TEXT,
	address TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS service_categories (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	icon TEXT
);

CREATE TABLE IF NOT EXISTS services (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	base_price REAL,
	duration_minutes INTEGER,
	category_id TEXT REFERENCES service_categories(id)
);
`

const migrationProviders = `
CREATE TABLE IF NOT EXISTS providers (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL UNIQUE,
	business_name TEXT NOT NULL,
	latitude REAL,
	longitude REAL,
	pincode TEXT,
	rating REAL,
	experience_years INTEGER NOT NULL DEFAULT 0,
	is_available INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const migrationBookings = `
CREATE TABLE IF NOT EXISTS bookings (
	id TEXT PRIMARY KEY,
	booking_number TEXT NOT NULL UNIQUE,
	user_id TEXT NOT NULL,
	service_id TEXT NOT NULL REFERENCES services(id),
	provider_id TEXT REFERENCES providers(id),
	service_date DATETIME NOT NULL,
	service_time TEXT NOT NULL,
	location TEXT NOT NULL,
	latitude REAL,
	longitude REAL,
	pincode TEXT,
	special_instructions TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	estimated_price REAL,
	final_price REAL,
	provider_distance TEXT,
	estimated_arrival TEXT,
	rating REAL,
	review TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const migrationOffers = `
CREATE TABLE IF NOT EXISTS offers (
	id TEXT PRIMARY KEY,
	booking_id TEXT NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
	provider_id TEXT NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
	status TEXT NOT NULL DEFAULT 'pending',
	score REAL NOT NULL DEFAULT 0,
	notified_at DATETIME,
	expires_at DATETIME NOT NULL,
	responded_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const migrationProviderServices = `
CREATE TABLE IF NOT EXISTS provider_services (
	id TEXT PRIMARY KEY,
	provider_id TEXT NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
	service_id TEXT NOT NULL REFERENCES services(id) ON DELETE CASCADE,
	custom_price REAL,
	is_active INTEGER NOT NULL DEFAULT 1
);
`

const migrationIndexes = `
CREATE INDEX IF NOT EXISTS idx_bookings_user_id ON bookings(user_id);
CREATE INDEX IF NOT EXISTS idx_bookings_provider_id ON bookings(provider_id);
CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status);
CREATE INDEX IF NOT EXISTS idx_offers_booking_id ON offers(booking_id);
CREATE INDEX IF NOT EXISTS idx_offers_provider_id ON offers(provider_id);
CREATE INDEX IF NOT EXISTS idx_offers_status ON offers(status);
CREATE INDEX IF NOT EXISTS idx_offers_expires_at ON offers(expires_at);
CREATE INDEX IF NOT EXISTS idx_provider_services_provider_id ON provider_services(provider_id);
CREATE INDEX IF NOT EXISTS idx_provider_services_service_id ON provider_services(service_id);
`

// migrationOfferDuplicatePrevention enforces invariant I1 (at most one
// pending offer per booking+provider pair) at the schema layer, the same
// belt-and-suspenders partial-unique-index technique used to prevent
// duplicate active sessions in the teacher system.
const migrationOfferDuplicatePrevention = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_offers_booking_provider_pending
ON offers(booking_id, provider_id)
WHERE status = 'pending';
`
