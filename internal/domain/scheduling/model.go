package scheduling

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Doctor is the scheduling view of a doctor profile. The profile layer owns
// these rows; this package only reads them.
type Doctor struct {
	ID                    uuid.UUID        `json:"id"`
	Name                  string           `json:"name"`
	ConsultationFee       float64          `json:"consultation_fee"`
	Currency              string           `json:"currency"`
	TrialExpiresAt        *time.Time       `json:"trial_expires_at,omitempty"`
	SubscriptionExpiresAt *time.Time       `json:"subscription_expires_at,omitempty"`
	IsManuallyDeactivated bool             `json:"is_manually_deactivated"`
	IsPaused              bool             `json:"is_paused"`
	Schedule              ScheduleTemplate `json:"schedule"`
}

// Status is an appointment's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusAttended  Status = "attended"
	StatusNoShow    Status = "no_show"
)

var validStatuses = map[Status]bool{
	StatusPending: true, StatusConfirmed: true, StatusCompleted: true,
	StatusCancelled: true, StatusAttended: true, StatusNoShow: true,
}

func (s Status) Valid() bool { return validStatuses[s] }

// Source is the acquisition channel of a booking.
type Source string

const (
	SourceWebsite Source = "website"
	SourceDirect  Source = "direct"
)

func (s Source) Valid() bool { return s == SourceWebsite || s == SourceDirect }

// Commission is the referral fee owed for a booking.
type Commission struct {
	Amount float64 `json:"amount"`
	Paid   bool    `json:"paid"`
}

// GuestDetails identifies a patient booking without an account.
type GuestDetails struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Appointment maps to the appointment table. Exactly one of PatientID and
// Guest is set.
type Appointment struct {
	ID         uuid.UUID     `json:"id"`
	DoctorID   uuid.UUID     `json:"doctor_id"`
	PatientID  *uuid.UUID    `json:"patient_id,omitempty"`
	Guest      *GuestDetails `json:"guest_details,omitempty"`
	Date       Date          `json:"date"`
	Time       SlotTime      `json:"time"`
	Status     Status        `json:"status"`
	Source     Source        `json:"source"`
	Commission Commission    `json:"commission"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// TimeLabel is the 12-hour display form of the appointment's slot.
func (a *Appointment) TimeLabel() string { return a.Time.Label() }

// MarshalJSON adds the display label next to the stored time.
func (a Appointment) MarshalJSON() ([]byte, error) {
	type plain Appointment
	return json.Marshal(struct {
		plain
		TimeLabel string `json:"time_label"`
	}{plain(a), a.TimeLabel()})
}

// Live reports whether the appointment still occupies its slot.
func (a *Appointment) Live() bool { return a.Status != StatusCancelled }

// Actor is the authenticated caller of a mutating operation.
type Actor struct {
	UserID   string
	Roles    []string
	DoctorID *uuid.UUID
}

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleDoctor   = "doctor"
	RolePatient  = "patient"
)

func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsOperator reports whether the actor may act on any doctor's records.
func (a Actor) IsOperator() bool {
	return a.HasRole(RoleOperator) || a.HasRole(RoleAdmin)
}

// Owns reports whether the actor is the doctor identified by doctorID.
func (a Actor) Owns(doctorID uuid.UUID) bool {
	return a.HasRole(RoleDoctor) && a.DoctorID != nil && *a.DoctorID == doctorID
}

// FirstSlot is the earliest free slot found by a lookahead scan.
type FirstSlot struct {
	Date Date `json:"date"`
	Slot Slot `json:"slot"`
}

// CommissionSummary aggregates a doctor's commissions on live appointments.
type CommissionSummary struct {
	DoctorID    uuid.UUID `json:"doctor_id"`
	Currency    string    `json:"currency"`
	UnpaidTotal float64   `json:"unpaid_total"`
	PaidTotal   float64   `json:"paid_total"`
	UnpaidCount int       `json:"unpaid_count"`
}
