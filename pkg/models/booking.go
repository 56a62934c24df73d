package models

import "time"

// BookingStatus represents the current state of a booking
type BookingStatus string

const (
	BookingPending          BookingStatus = "pending"           // created, no live offers yet
	BookingAwaitingProvider BookingStatus = "awaiting_provider"  // dispatched, waiting on a response
	BookingConfirmed        BookingStatus = "confirmed"          // a provider accepted
	BookingInProgress       BookingStatus = "in_progress"        // provider started work
	BookingCompleted        BookingStatus = "completed"          // provider finished work
	BookingCancelled        BookingStatus = "cancelled"          // withdrawn by owner or admin
)

// Booking represents a customer's request for a service at a place and time.
type Booking struct {
	ID             string        `json:"id"`
	BookingNumber  string        `json:"booking_number"`
	UserID         string        `json:"user_id"`
	ServiceID      string        `json:"service_id"`
	ProviderID     string        `json:"provider_id,omitempty"`
	ServiceDate    time.Time     `json:"service_date"`
	ServiceTime    string        `json:"service_time"`
	Location       string        `json:"location"`
	Latitude       *float64      `json:"latitude,omitempty"`
	Longitude      *float64      `json:"longitude,omitempty"`
	Pincode        string        `json:"pincode,omitempty"`
	Special        string        `json:"special_instructions,omitempty"`
	Status         BookingStatus `json:"status"`
	EstimatedPrice *float64      `json:"estimated_price,omitempty"`
	FinalPrice     *float64      `json:"final_price,omitempty"`
	ProviderDistance string      `json:"provider_distance,omitempty"`
	EstimatedArrival string      `json:"estimated_arrival,omitempty"`
	Rating         *float64      `json:"rating,omitempty"`
	Review         string        `json:"review,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// IsActive returns true if the booking has not reached a terminal state.
func (b *Booking) IsActive() bool {
	return b.Status != BookingCompleted && b.Status != BookingCancelled
}

// IsTerminal returns true if the booking is in a terminal state.
func (b *Booking) IsTerminal() bool {
	return b.Status == BookingCompleted || b.Status == BookingCancelled
}

// IsAssigned returns true if the booking has a provider assigned.
func (b *Booking) IsAssigned() bool {
	return b.ProviderID != ""
}

// CreateBookingRequest is the request to create a new booking.
type CreateBookingRequest struct {
	ServiceID    string  `json:"service_id" binding:"required"`
	ServiceDate  string  `json:"service_date" binding:"required"` // YYYY-MM-DD
	ServiceTime  string  `json:"service_time" binding:"required"`
	Location     string  `json:"location" binding:"required"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Pincode      string  `json:"pincode,omitempty"`
	Special      string  `json:"special_instructions,omitempty"`
}

// BookingListFilter defines parameters for listing bookings.
type BookingListFilter struct {
	UserID     string
	ProviderID string
	Status     BookingStatus
	Skip       int
	Limit      int
}
