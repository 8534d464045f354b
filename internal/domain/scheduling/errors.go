package scheduling

import (
	"errors"
	"fmt"
)

// Booking and lifecycle failures. Callers match them with errors.Is.
var (
	ErrDoctorNotFound          = errors.New("doctor not found")
	ErrAppointmentNotFound     = errors.New("appointment not found")
	ErrDoctorUnavailable       = errors.New("doctor is not accepting bookings")
	ErrSlotUnavailable         = errors.New("slot is not available")
	ErrInvalidPatientReference = errors.New("exactly one of patient_id or guest_details is required")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrInvalidSource           = errors.New("source must be website or direct")
	ErrInvalidStatus           = errors.New("invalid appointment status")
	ErrForbidden               = errors.New("actor may not modify this record")
	ErrNoAvailability          = errors.New("no available slot within the lookahead horizon")
)

// ErrStorageConflict is returned when the store's uniqueness rule rejects a
// concurrent duplicate booking. It matches ErrSlotUnavailable.
var ErrStorageConflict = fmt.Errorf("%w: concurrent booking for the same slot", ErrSlotUnavailable)
