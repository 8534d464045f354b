package scheduling

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar day with no time-of-day or zone. It is stored as
// midnight UTC so that equality and DATE column round-trips are exact.
type Date struct {
	t time.Time
}

// NewDate builds a Date from its parts; out-of-range values normalize the
// way time.Date does.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// DateIn returns the calendar day of t as observed in loc.
func DateIn(t time.Time, loc *time.Location) Date {
	return DateOf(t.In(loc))
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return DateOf(t), nil
}

func (d Date) String() string { return d.t.Format(dateLayout) }

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool { return d.t.IsZero() }

// Time returns the day as midnight UTC, the form persisted in DATE columns.
func (d Date) Time() time.Time { return d.t }

func (d Date) Weekday() time.Weekday { return d.t.Weekday() }

// AddDays returns the date n days later (or earlier for negative n).
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

func (d Date) Equal(o Date) bool { return d.t.Equal(o.t) }

func (d Date) Before(o Date) bool { return d.t.Before(o.t) }

// At returns the instant at which slot time st begins on d in loc.
func (d Date) At(st SlotTime, loc *time.Location) time.Time {
	y, m, day := d.t.Date()
	return time.Date(y, m, day, st.Hour(), st.Minute(), 0, 0, loc)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// SlotTime is a time of day as minutes since midnight. It is the
// unambiguous representation used for comparison and storage; display
// labels are derived from it.
type SlotTime int

const minutesPerDay = 24 * 60

// ParseSlotTime parses a 24-hour HH:MM string.
func ParseSlotTime(s string) (SlotTime, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("invalid time format %q: expected HH:MM", s)
	}
	hour, err := strconv.Atoi(s[:2])
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(s[3:])
	if err != nil {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if hour < 0 || hour > 23 {
		return 0, fmt.Errorf("hour out of range in %q", s)
	}
	if minute < 0 || minute > 59 {
		return 0, fmt.Errorf("minute out of range in %q", s)
	}
	return SlotTime(hour*60 + minute), nil
}

func (st SlotTime) Hour() int   { return int(st) / 60 }
func (st SlotTime) Minute() int { return int(st) % 60 }

// String renders the storage form, e.g. "14:30".
func (st SlotTime) String() string {
	return fmt.Sprintf("%02d:%02d", st.Hour(), st.Minute())
}

// Label renders the 12-hour display form, e.g. "2:30 PM".
func (st SlotTime) Label() string {
	return time.Date(2000, 1, 1, st.Hour(), st.Minute(), 0, 0, time.UTC).Format("3:04 PM")
}

func (st SlotTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(st.String())
}

func (st *SlotTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseSlotTime(s)
	if err != nil {
		return err
	}
	*st = parsed
	return nil
}
