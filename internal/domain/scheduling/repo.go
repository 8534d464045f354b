package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type DoctorRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	// Upsert writes the doctor and replaces its weekly template. Used by the
	// operator import command, never by the booking paths.
	Upsert(ctx context.Context, d *Doctor) error
}

// AppointmentFilter narrows List; zero fields are ignored.
type AppointmentFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Date      *Date
	Status    Status
}

type AppointmentRepository interface {
	// Create inserts a. A live appointment already holding the same
	// (doctor, date, time) makes it fail with ErrStorageConflict.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// OccupiedTimes lists slot times held by live appointments.
	OccupiedTimes(ctx context.Context, doctorID uuid.UUID, date Date) ([]SlotTime, error)
	// UpdateStatus moves id from -> to only if it is still in from. It
	// reports whether a row changed.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (bool, error)
	List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error)
	// MarkCommissionsPaid flips paid on unpaid website commissions of live
	// appointments among ids, stamping updated_at with at, and returns how
	// many changed.
	MarkCommissionsPaid(ctx context.Context, ids []uuid.UUID, at time.Time) (int, error)
	CommissionTotals(ctx context.Context, doctorID uuid.UUID) (*CommissionSummary, error)
}

// SlotCache holds occupied-slot lists for the availability read path.
// Every key carries a generation that Invalidate bumps; a fill only lands
// when the generation it read before querying the store is still current,
// so a read racing a booking or cancellation cannot write back stale data.
type SlotCache interface {
	// Get returns the cached values, whether they were present, and the
	// key's current generation.
	Get(ctx context.Context, key string) ([]string, int64, bool, error)
	// SetIfGeneration stores values unless key was invalidated after gen
	// was read. It reports whether the write landed.
	SetIfGeneration(ctx context.Context, key string, gen int64, values []string) (bool, error)
	// Invalidate drops the cached values and bumps the generation.
	Invalidate(ctx context.Context, key string) error
}
