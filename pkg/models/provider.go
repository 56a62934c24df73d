package models

import "time"

// Provider represents a service provider available for dispatch.
type Provider struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	BusinessName    string    `json:"business_name"`
	Latitude        *float64  `json:"latitude,omitempty"`
	Longitude       *float64  `json:"longitude,omitempty"`
	Pincode         string    `json:"pincode,omitempty"`
	Rating          *float64  `json:"rating,omitempty"`
	ExperienceYears int       `json:"experience_years"`
	IsAvailable     bool      `json:"is_available"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ProviderService links a provider to a service it offers, optionally at a
// custom price.
type ProviderService struct {
	ID          string   `json:"id"`
	ProviderID  string   `json:"provider_id"`
	ServiceID   string   `json:"service_id"`
	CustomPrice *float64 `json:"custom_price,omitempty"`
	IsActive    bool     `json:"is_active"`
}

// UpdateProviderRequest updates a provider's mutable profile fields.
type UpdateProviderRequest struct {
	BusinessName    *string  `json:"business_name,omitempty"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	Pincode         *string  `json:"pincode,omitempty"`
	ExperienceYears *int     `json:"experience_years,omitempty"`
	IsAvailable     *bool    `json:"is_available,omitempty"`
}
