package storage

import "errors"

// Common storage errors
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	// ErrAlreadyAssigned is returned by BookingStore.AssignProvider when a
	// concurrent accept already won the booking (zero rows affected by the
	// conditional update).
	ErrAlreadyAssigned = errors.New("booking already assigned to another provider")
)
