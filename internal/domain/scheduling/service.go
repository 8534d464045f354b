package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/docbook/booking/internal/platform/clock"
)

// LookaheadDays is how many days, today included, FirstAvailableSlot scans.
const LookaheadDays = 14

const lookaheadWorkers = 4

// BookingRequest carries the inputs of BookAppointment.
type BookingRequest struct {
	DoctorID  uuid.UUID     `json:"doctor_id"`
	Date      Date          `json:"date"`
	Time      SlotTime      `json:"time"`
	PatientID *uuid.UUID    `json:"patient_id,omitempty"`
	Guest     *GuestDetails `json:"guest_details,omitempty"`
	Source    Source        `json:"source"`
}

// Observer receives booking outcomes and status changes, typically to
// count them.
type Observer interface {
	Booking(outcome string)
	Transition(from, to string)
}

type nopObserver struct{}

func (nopObserver) Booking(string)            {}
func (nopObserver) Transition(string, string) {}

// Options configures a Service. Zero values fall back to sane defaults.
type Options struct {
	Clock        clock.Clock
	Location     *time.Location
	Cache        SlotCache
	Logger       zerolog.Logger
	StoreTimeout time.Duration
	Observer     Observer
}

type Service struct {
	doctors      DoctorRepository
	appointments AppointmentRepository
	clock        clock.Clock
	loc          *time.Location
	cache        SlotCache
	log          zerolog.Logger
	storeTimeout time.Duration
	observer     Observer
}

func NewService(doctors DoctorRepository, appts AppointmentRepository, opts Options) *Service {
	s := &Service{
		doctors:      doctors,
		appointments: appts,
		clock:        opts.Clock,
		loc:          opts.Location,
		cache:        opts.Cache,
		log:          opts.Logger,
		storeTimeout: opts.StoreTimeout,
		observer:     opts.Observer,
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = 5 * time.Second
	}
	return s
}

// Location is the clinic time zone used to interpret dates and slot times.
func (s *Service) Location() *time.Location { return s.loc }

// Today is the current calendar day in the clinic time zone.
func (s *Service) Today() Date { return DateIn(s.clock.Now(), s.loc) }

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

func (s *Service) getDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.doctors.GetByID(ctx, id)
}

// -- Availability --

func cacheKey(doctorID uuid.UUID, date Date) string {
	return "occupied:" + doctorID.String() + ":" + date.String()
}

// occupied returns the live slot times for (doctor, date). When cached is
// true the slot cache may answer; booking always passes false.
func (s *Service) occupied(ctx context.Context, doctorID uuid.UUID, date Date, cached bool) ([]SlotTime, error) {
	key := cacheKey(doctorID, date)
	useCache := cached && s.cache != nil
	var gen int64
	if useCache {
		vals, g, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("slot cache read failed")
			useCache = false
		} else if ok {
			if out, err := parseSlotTimes(vals); err == nil {
				return out, nil
			}
		}
		gen = g
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	times, err := s.appointments.OccupiedTimes(sctx, doctorID, date)
	if err != nil {
		return nil, err
	}

	if useCache {
		vals := make([]string, len(times))
		for i, st := range times {
			vals[i] = st.String()
		}
		stored, err := s.cache.SetIfGeneration(ctx, key, gen, vals)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("slot cache write failed")
		} else if !stored {
			s.log.Debug().Str("key", key).Msg("slot cache fill skipped, invalidated during read")
		}
	}
	return times, nil
}

func parseSlotTimes(vals []string) ([]SlotTime, error) {
	out := make([]SlotTime, 0, len(vals))
	for _, v := range vals {
		st, err := ParseSlotTime(v)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *Service) invalidate(ctx context.Context, doctorID uuid.UUID, date Date) {
	if s.cache == nil {
		return
	}
	key := cacheKey(doctorID, date)
	if err := s.cache.Invalidate(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("slot cache invalidation failed")
	}
}

func (s *Service) availableFor(ctx context.Context, d *Doctor, date Date, now time.Time, cached bool) ([]Slot, error) {
	slots := GenerateDailySlots(date, d.Schedule, now, s.loc)
	if len(slots) == 0 {
		return []Slot{}, nil
	}
	occ, err := s.occupied(ctx, d.ID, date, cached)
	if err != nil {
		return nil, err
	}
	return subtractOccupied(slots, occ), nil
}

// AvailableSlots lists the bookable slots for doctorID on date, in order.
// A doctor that cannot currently take bookings has none.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date Date) ([]Slot, error) {
	d, err := s.getDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if !IsBookable(d, now) {
		return []Slot{}, nil
	}
	return s.availableFor(ctx, d, date, now, true)
}

// FirstAvailableSlot finds the earliest free slot from today through the
// next LookaheadDays-1 days.
func (s *Service) FirstAvailableSlot(ctx context.Context, doctorID uuid.UUID) (*FirstSlot, error) {
	d, err := s.getDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if !IsBookable(d, now) {
		return nil, ErrNoAvailability
	}

	today := DateIn(now, s.loc)
	days := make([][]Slot, LookaheadDays)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookaheadWorkers)
	for i := 0; i < LookaheadDays; i++ {
		i := i
		g.Go(func() error {
			slots, err := s.availableFor(gctx, d, today.AddDays(i), now, true)
			if err != nil {
				return err
			}
			days[i] = slots
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scan availability for doctor %s: %w", doctorID, err)
	}

	for i, slots := range days {
		if len(slots) > 0 {
			return &FirstSlot{Date: today.AddDays(i), Slot: slots[0]}, nil
		}
	}
	return nil, ErrNoAvailability
}

// DoctorBookingStatus reports whether the doctor accepts bookings right now
// and, when not, why.
func (s *Service) DoctorBookingStatus(ctx context.Context, doctorID uuid.UUID) (bool, string, error) {
	d, err := s.getDoctor(ctx, doctorID)
	if err != nil {
		return false, "", err
	}
	reason := BookingBlockReason(d, s.clock.Now())
	return reason == "", reason, nil
}

// -- Lifecycle --

func validatePatientReference(req BookingRequest) error {
	switch {
	case req.PatientID != nil && req.Guest != nil:
		return ErrInvalidPatientReference
	case req.PatientID != nil:
		if *req.PatientID == uuid.Nil {
			return ErrInvalidPatientReference
		}
		return nil
	case req.Guest != nil:
		if strings.TrimSpace(req.Guest.Name) == "" || strings.TrimSpace(req.Guest.Phone) == "" {
			return ErrInvalidPatientReference
		}
		return nil
	default:
		return ErrInvalidPatientReference
	}
}

// BookAppointment reserves a slot. Checks run in a fixed order and the first
// failure is returned: doctor eligibility, slot availability, then the
// patient reference. A concurrent booking that wins the same slot makes this
// one fail with ErrStorageConflict; it is never retried.
func (s *Service) BookAppointment(ctx context.Context, req BookingRequest) (_ *Appointment, err error) {
	defer func() { s.observer.Booking(bookingOutcome(err)) }()

	if !req.Source.Valid() {
		return nil, ErrInvalidSource
	}

	d, err := s.getDoctor(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if !IsBookable(d, now) {
		return nil, ErrDoctorUnavailable
	}

	free, err := s.availableFor(ctx, d, req.Date, now, false)
	if err != nil {
		return nil, err
	}
	found := false
	for _, sl := range free {
		if sl.Time == req.Time {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrSlotUnavailable
	}

	if err := validatePatientReference(req); err != nil {
		return nil, err
	}

	a := &Appointment{
		ID:         uuid.New(),
		DoctorID:   d.ID,
		PatientID:  req.PatientID,
		Guest:      req.Guest,
		Date:       req.Date,
		Time:       req.Time,
		Status:     StatusPending,
		Source:     req.Source,
		Commission: ComputeCommission(req.Source, d.ConsultationFee),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err = s.appointments.Create(sctx, a); err != nil {
		if errors.Is(err, ErrStorageConflict) {
			s.log.Warn().
				Str("doctor_id", d.ID.String()).
				Str("date", req.Date.String()).
				Str("time", req.Time.String()).
				Msg("booking lost slot race")
		}
		return nil, err
	}
	s.invalidate(ctx, d.ID, req.Date)

	s.log.Info().
		Str("appointment_id", a.ID.String()).
		Str("doctor_id", d.ID.String()).
		Str("date", a.Date.String()).
		Str("time", a.Time.String()).
		Str("source", string(a.Source)).
		Float64("commission", a.Commission.Amount).
		Msg("appointment booked")
	return a, nil
}

func bookingOutcome(err error) string {
	switch {
	case err == nil:
		return "booked"
	case errors.Is(err, ErrStorageConflict):
		return "conflict"
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, ErrDoctorUnavailable):
		return "doctor_unavailable"
	case errors.Is(err, ErrDoctorNotFound):
		return "doctor_not_found"
	case errors.Is(err, ErrInvalidPatientReference), errors.Is(err, ErrInvalidSource):
		return "invalid_request"
	default:
		return "error"
	}
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.appointments.GetByID(ctx, id)
}

func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, ErrInvalidStatus
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.appointments.List(ctx, f, limit, offset)
}

// UpdateStatus moves an appointment along its lifecycle on behalf of actor,
// who must be the owning doctor or an operator. The write only lands if the
// appointment is still in the status that was read; losing that race is
// reported as ErrInvalidTransition.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to Status, actor Actor) (*Appointment, error) {
	if !to.Valid() {
		return nil, ErrInvalidStatus
	}
	a, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsOperator() && !actor.Owns(a.DoctorID) {
		return nil, ErrForbidden
	}
	if !CanTransition(a.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
	}

	now := s.clock.Now()
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	ok, err := s.appointments.UpdateStatus(sctx, id, a.Status, to, now)
	if err != nil {
		s.log.Error().Err(err).Str("appointment_id", id.String()).Msg("status update failed")
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, id)
	}

	from := a.Status
	a.Status = to
	a.UpdatedAt = now
	if to == StatusCancelled {
		s.invalidate(ctx, a.DoctorID, a.Date)
	}
	s.observer.Transition(string(from), string(to))

	s.log.Info().
		Str("appointment_id", id.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("actor", actor.UserID).
		Msg("appointment status changed")
	return a, nil
}

// -- Commission --

// ReconcileCommissions marks the given website commissions paid. Only
// operators may reconcile.
func (s *Service) ReconcileCommissions(ctx context.Context, ids []uuid.UUID, actor Actor) (int, error) {
	if !actor.IsOperator() {
		return 0, ErrForbidden
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	n, err := s.appointments.MarkCommissionsPaid(ctx, ids, s.clock.Now())
	if err != nil {
		return 0, err
	}
	s.log.Info().Int("requested", len(ids)).Int("updated", n).Str("actor", actor.UserID).Msg("commissions reconciled")
	return n, nil
}

// CommissionSummary totals the doctor's commissions on live appointments.
// Doctors may only read their own.
func (s *Service) CommissionSummary(ctx context.Context, doctorID uuid.UUID, actor Actor) (*CommissionSummary, error) {
	if !actor.IsOperator() && !actor.Owns(doctorID) {
		return nil, ErrForbidden
	}
	d, err := s.getDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	sum, err := s.appointments.CommissionTotals(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	sum.Currency = d.Currency
	return sum, nil
}

// ImportDoctor validates and stores a doctor with its weekly template.
func (s *Service) ImportDoctor(ctx context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		return fmt.Errorf("doctor id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("doctor %s: name is required", d.ID)
	}
	if d.ConsultationFee < 0 {
		return fmt.Errorf("doctor %s: consultation_fee must not be negative", d.ID)
	}
	if err := d.Schedule.Validate(); err != nil {
		return fmt.Errorf("doctor %s: %w", d.ID, err)
	}
	if d.Currency == "" {
		d.Currency = "EGP"
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.doctors.Upsert(ctx, d)
}
