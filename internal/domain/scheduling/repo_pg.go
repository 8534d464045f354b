package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docbook/booking/internal/platform/db"
)

// pgUniqueViolation is the SQLSTATE raised by appointment_live_slot_uq.
const pgUniqueViolation = "23505"

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository { return &doctorRepoPG{pool: pool} }

func (r *doctorRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.QuerierFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const doctorCols = `id, name, consultation_fee, currency, trial_expires_at, subscription_expires_at,
	is_manually_deactivated, is_paused, slot_duration, waiting_time`

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var d Doctor
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctor WHERE id = $1`, id).Scan(
		&d.ID, &d.Name, &d.ConsultationFee, &d.Currency, &d.TrialExpiresAt, &d.SubscriptionExpiresAt,
		&d.IsManuallyDeactivated, &d.IsPaused, &d.Schedule.SlotDuration, &d.Schedule.WaitingTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDoctorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor %s: %w", id, err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT weekday, start_time, end_time, enabled
		FROM doctor_daily_schedule WHERE doctor_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get schedule for doctor %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var wd int16
		var start, end string
		var enabled bool
		if err := rows.Scan(&wd, &start, &end, &enabled); err != nil {
			return nil, fmt.Errorf("scan schedule row: %w", err)
		}
		if wd < 0 || wd > 6 {
			continue
		}
		d.Schedule.SetDay(time.Weekday(wd), start, end, enabled)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedule rows: %w", err)
	}
	return &d, nil
}

func (r *doctorRepoPG) Upsert(ctx context.Context, d *Doctor) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		_, err := q.Exec(ctx, `
			INSERT INTO doctor (`+doctorCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				consultation_fee = EXCLUDED.consultation_fee,
				currency = EXCLUDED.currency,
				trial_expires_at = EXCLUDED.trial_expires_at,
				subscription_expires_at = EXCLUDED.subscription_expires_at,
				is_manually_deactivated = EXCLUDED.is_manually_deactivated,
				is_paused = EXCLUDED.is_paused,
				slot_duration = EXCLUDED.slot_duration,
				waiting_time = EXCLUDED.waiting_time,
				updated_at = NOW()`,
			d.ID, d.Name, d.ConsultationFee, d.Currency, d.TrialExpiresAt, d.SubscriptionExpiresAt,
			d.IsManuallyDeactivated, d.IsPaused, d.Schedule.SlotDuration, d.Schedule.WaitingTime)
		if err != nil {
			return fmt.Errorf("upsert doctor %s: %w", d.ID, err)
		}

		if _, err := q.Exec(ctx, `DELETE FROM doctor_daily_schedule WHERE doctor_id = $1`, d.ID); err != nil {
			return fmt.Errorf("clear schedule for doctor %s: %w", d.ID, err)
		}
		for wd, ds := range d.Schedule.Days {
			if !ds.Present() {
				continue
			}
			if _, err := q.Exec(ctx, `
				INSERT INTO doctor_daily_schedule (doctor_id, weekday, start_time, end_time, enabled)
				VALUES ($1,$2,$3,$4,$5)`,
				d.ID, int16(wd), ds.StartTime, ds.EndTime, ds.Enabled); err != nil {
				return fmt.Errorf("insert %s schedule for doctor %s: %w", time.Weekday(wd), d.ID, err)
			}
		}
		return nil
	})
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.QuerierFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const apptCols = `id, doctor_id, patient_id, guest_name, guest_phone, slot_date, slot_time,
	status, source, commission_amount, commission_paid, created_at, updated_at`

func (r *appointmentRepoPG) scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a                     Appointment
		guestName, guestPhone *string
		slotDate              time.Time
		slotTime              string
	)
	err := row.Scan(&a.ID, &a.DoctorID, &a.PatientID, &guestName, &guestPhone, &slotDate, &slotTime,
		&a.Status, &a.Source, &a.Commission.Amount, &a.Commission.Paid, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if guestName != nil {
		a.Guest = &GuestDetails{Name: *guestName}
		if guestPhone != nil {
			a.Guest.Phone = *guestPhone
		}
	}
	a.Date = DateOf(slotDate)
	if a.Time, err = ParseSlotTime(slotTime); err != nil {
		return nil, fmt.Errorf("appointment %s: %w", a.ID, err)
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	var guestName, guestPhone *string
	if a.Guest != nil {
		guestName, guestPhone = &a.Guest.Name, &a.Guest.Phone
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment (`+apptCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		a.ID, a.DoctorID, a.PatientID, guestName, guestPhone, a.Date.Time(), a.Time.String(),
		a.Status, a.Source, a.Commission.Amount, a.Commission.Paid, a.CreatedAt, a.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrStorageConflict
	}
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := r.scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment %s: %w", id, err)
	}
	return a, nil
}

func (r *appointmentRepoPG) OccupiedTimes(ctx context.Context, doctorID uuid.UUID, date Date) ([]SlotTime, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT slot_time FROM appointment
		WHERE doctor_id = $1 AND slot_date = $2 AND status <> $3`,
		doctorID, date.Time(), StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("query occupied slots: %w", err)
	}
	defer rows.Close()

	var out []SlotTime
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan occupied slot: %w", err)
		}
		st, err := ParseSlotTime(s)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2`,
		id, from, to, at)
	if err != nil {
		return false, fmt.Errorf("update appointment %s status: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	query := `SELECT ` + apptCols + ` FROM appointment WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM appointment WHERE 1=1`
	var args []interface{}
	idx := 1

	add := func(clause string, v interface{}) {
		query += fmt.Sprintf(clause, idx)
		countQuery += fmt.Sprintf(clause, idx)
		args = append(args, v)
		idx++
	}
	if f.DoctorID != nil {
		add(` AND doctor_id = $%d`, *f.DoctorID)
	}
	if f.PatientID != nil {
		add(` AND patient_id = $%d`, *f.PatientID)
	}
	if f.Date != nil {
		add(` AND slot_date = $%d`, f.Date.Time())
	}
	if f.Status != "" {
		add(` AND status = $%d`, f.Status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	query += fmt.Sprintf(` ORDER BY slot_date ASC, slot_time ASC, created_at ASC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) MarkCommissionsPaid(ctx context.Context, ids []uuid.UUID, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET commission_paid = TRUE, updated_at = $4
		WHERE id = ANY($1::uuid[]) AND source = $2 AND status <> $3 AND NOT commission_paid`,
		strs, SourceWebsite, StatusCancelled, at)
	if err != nil {
		return 0, fmt.Errorf("mark commissions paid: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *appointmentRepoPG) CommissionTotals(ctx context.Context, doctorID uuid.UUID) (*CommissionSummary, error) {
	s := &CommissionSummary{DoctorID: doctorID}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			COALESCE(SUM(commission_amount) FILTER (WHERE NOT commission_paid), 0)::float8,
			COALESCE(SUM(commission_amount) FILTER (WHERE commission_paid), 0)::float8,
			COUNT(*) FILTER (WHERE NOT commission_paid)
		FROM appointment
		WHERE doctor_id = $1 AND source = $2 AND status <> $3`,
		doctorID, SourceWebsite, StatusCancelled,
	).Scan(&s.UnpaidTotal, &s.PaidTotal, &s.UnpaidCount)
	if err != nil {
		return nil, fmt.Errorf("commission totals for doctor %s: %w", doctorID, err)
	}
	s.UnpaidTotal = roundCents(s.UnpaidTotal)
	s.PaidTotal = roundCents(s.PaidTotal)
	return s, nil
}
