package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// slotKey identifies a doctor's slot on a day.
type slotKey struct {
	doctorID uuid.UUID
	date     Date
	time     SlotTime
}

// MemoryStore implements DoctorRepository and AppointmentRepository in
// process memory. It enforces the same live-slot uniqueness as the
// appointment_live_slot_uq index, so concurrent bookings behave as they do
// against Postgres.
type MemoryStore struct {
	mu           sync.RWMutex
	doctors      map[uuid.UUID]*Doctor
	appointments map[uuid.UUID]*Appointment
	liveSlots    map[slotKey]uuid.UUID // slot -> live appointment ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		doctors:      make(map[uuid.UUID]*Doctor),
		appointments: make(map[uuid.UUID]*Appointment),
		liveSlots:    make(map[slotKey]uuid.UUID),
	}
}

// Ping always succeeds; it lets the store back the health endpoint.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Doctors returns the store as a DoctorRepository.
func (m *MemoryStore) Doctors() DoctorRepository { return memDoctors{m} }

// Appointments returns the store as an AppointmentRepository.
func (m *MemoryStore) Appointments() AppointmentRepository { return memAppointments{m} }

type memDoctors struct{ m *MemoryStore }

func (r memDoctors) GetByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	d, ok := r.m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (r memDoctors) Upsert(_ context.Context, d *Doctor) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cp := *d
	r.m.doctors[d.ID] = &cp
	return nil
}

type memAppointments struct{ m *MemoryStore }

func (r memAppointments) Create(_ context.Context, a *Appointment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	key := slotKey{doctorID: a.DoctorID, date: a.Date, time: a.Time}
	if a.Live() {
		if _, taken := r.m.liveSlots[key]; taken {
			return ErrStorageConflict
		}
		r.m.liveSlots[key] = a.ID
	}
	cp := *a
	r.m.appointments[a.ID] = &cp
	return nil
}

func (r memAppointments) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	a, ok := r.m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r memAppointments) OccupiedTimes(_ context.Context, doctorID uuid.UUID, date Date) ([]SlotTime, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []SlotTime
	for k := range r.m.liveSlots {
		if k.doctorID == doctorID && k.date.Equal(date) {
			out = append(out, k.time)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r memAppointments) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, at time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.appointments[id]
	if !ok || a.Status != from {
		return false, nil
	}
	key := slotKey{doctorID: a.DoctorID, date: a.Date, time: a.Time}
	if to == StatusCancelled && r.m.liveSlots[key] == id {
		delete(r.m.liveSlots, key)
	}
	a.Status = to
	a.UpdatedAt = at
	return true, nil
}

func (r memAppointments) List(_ context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	var matched []*Appointment
	for _, a := range r.m.appointments {
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.PatientID != nil && (a.PatientID == nil || *a.PatientID != *f.PatientID) {
			continue
		}
		if f.Date != nil && !a.Date.Equal(*f.Date) {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		cp := *a
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	total := len(matched)
	if offset >= total {
		return []*Appointment{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

func (r memAppointments) MarkCommissionsPaid(_ context.Context, ids []uuid.UUID, at time.Time) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	n := 0
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		a, ok := r.m.appointments[id]
		if !ok || a.Source != SourceWebsite || !a.Live() || a.Commission.Paid {
			continue
		}
		a.Commission.Paid = true
		a.UpdatedAt = at
		n++
	}
	return n, nil
}

func (r memAppointments) CommissionTotals(_ context.Context, doctorID uuid.UUID) (*CommissionSummary, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	s := &CommissionSummary{DoctorID: doctorID}
	for _, a := range r.m.appointments {
		if a.DoctorID != doctorID || a.Source != SourceWebsite || !a.Live() {
			continue
		}
		if a.Commission.Paid {
			s.PaidTotal += a.Commission.Amount
		} else {
			s.UnpaidTotal += a.Commission.Amount
			s.UnpaidCount++
		}
	}
	s.UnpaidTotal = roundCents(s.UnpaidTotal)
	s.PaidTotal = roundCents(s.PaidTotal)
	return s, nil
}
