package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	AdminToken string `mapstructure:"admin_token"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// DispatchConfig holds the Candidate Selector (C1) and Offer Dispatcher (C2)
// tunables.
type DispatchConfig struct {
	OfferTTL      time.Duration `mapstructure:"offer_ttl"`
	TopN          int           `mapstructure:"top_n"`
	EarthRadiusKM float64       `mapstructure:"earth_radius_km"`
	// MissingProviderCoordsAsZeroDistance controls the open question flagged
	// in the source: when true (default, matches source behavior), a
	// provider missing coordinates is scored as if distance were 0 (full
	// +20 bonus); when false, the distance bonus is omitted entirely.
	MissingProviderCoordsAsZeroDistance bool `mapstructure:"missing_provider_coords_as_zero_distance"`
}

// ReconcileConfig holds the Reconciliation Loop (C4) cadence and batch
// tunables.
type ReconcileConfig struct {
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	ScheduledInterval   time.Duration `mapstructure:"scheduled_interval"`
	ScheduledHorizon    time.Duration `mapstructure:"scheduled_horizon"`
	BatchSize           int           `mapstructure:"batch_size"`
	DeploymentID        string        `mapstructure:"deployment_id"`
	StartupSweepEnabled bool          `mapstructure:"startup_sweep_enabled"`
	StartupSweepTimeout time.Duration `mapstructure:"startup_sweep_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Config file is optional
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration primarily from environment variables
func LoadFromEnv() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// Database defaults
	v.SetDefault("database.path", "./data/dispatch.db")

	// Dispatch defaults, per spec: TTL = 5 min, N = 3, radius = 6371 km
	v.SetDefault("dispatch.offer_ttl", 5*time.Minute)
	v.SetDefault("dispatch.top_n", 3)
	v.SetDefault("dispatch.earth_radius_km", 6371.0)
	v.SetDefault("dispatch.missing_provider_coords_as_zero_distance", true)

	// Reconciliation defaults: sweeps A/B/C at ~1 min, Sweep D hourly with a
	// 24h scheduled-booking horizon
	v.SetDefault("reconcile.sweep_interval", time.Minute)
	v.SetDefault("reconcile.scheduled_interval", time.Hour)
	v.SetDefault("reconcile.scheduled_horizon", 24*time.Hour)
	v.SetDefault("reconcile.batch_size", 200)
	v.SetDefault("reconcile.startup_sweep_enabled", true)
	v.SetDefault("reconcile.startup_sweep_timeout", 2*time.Minute)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func bindEnvVars(v *viper.Viper) {
	bindEnv := func(key string, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			slog.Warn("failed to bind environment variable",
				slog.String("key", key),
				slog.String("env_var", envVar),
				slog.String("error", err.Error()))
		}
	}

	bindEnv("database.path", "DATABASE_PATH")
	bindEnv("server.host", "SERVER_HOST")
	bindEnv("server.port", "SERVER_PORT")
	bindEnv("logging.level", "LOG_LEVEL")
	bindEnv("logging.format", "LOG_FORMAT")
	bindEnv("reconcile.deployment_id", "DEPLOYMENT_ID")
	bindEnv("server.admin_token", "ADMIN_TOKEN")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Dispatch.OfferTTL <= 0 {
		return fmt.Errorf("dispatch.offer_ttl must be positive")
	}
	if c.Dispatch.TopN <= 0 {
		return fmt.Errorf("dispatch.top_n must be positive")
	}
	if c.Dispatch.EarthRadiusKM <= 0 {
		return fmt.Errorf("dispatch.earth_radius_km must be positive")
	}
	if c.Reconcile.SweepInterval <= 0 {
		return fmt.Errorf("reconcile.sweep_interval must be positive")
	}
	if c.Reconcile.BatchSize <= 0 {
		return fmt.Errorf("reconcile.batch_size must be positive")
	}
	return nil
}
