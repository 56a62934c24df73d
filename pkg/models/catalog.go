package models

import "time"

// Profile is a customer-facing user profile (the identity collaborator
// supplies the user id; this is the catalog record attached to it).
type Profile struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	FullName  string    `json:"full_name,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ServiceCategory groups related services.
type ServiceCategory struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

// Service is a bookable offering in the catalog.
type Service struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	BasePrice       *float64 `json:"base_price,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	CategoryID      string  `json:"category_id,omitempty"`
}
