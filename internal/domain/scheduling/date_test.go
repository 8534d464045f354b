package scheduling

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cairo = time.FixedZone("EET", 2*60*60)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-10-24")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-24", d.String())
	assert.Equal(t, time.Saturday, d.Weekday())

	for _, bad := range []string{"", "24-10-2026", "2026-13-01", "2026-02-30", "2026-10-24T10:00:00Z"} {
		_, err := ParseDate(bad)
		assert.Error(t, err, bad)
	}
}

func TestDateIn_UsesClinicZone(t *testing.T) {
	// 23:30 UTC on the 23rd is already the 24th in Cairo.
	instant := time.Date(2026, 10, 23, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-10-23", DateIn(instant, time.UTC).String())
	assert.Equal(t, "2026-10-24", DateIn(instant, cairo).String())
}

func TestDate_Arithmetic(t *testing.T) {
	d := NewDate(2026, time.October, 31)
	next := d.AddDays(1)
	assert.Equal(t, "2026-11-01", next.String())
	assert.True(t, d.Before(next))
	assert.True(t, next.AddDays(-1).Equal(d))
	assert.True(t, Date{}.IsZero())
}

func TestDate_At(t *testing.T) {
	d := NewDate(2026, time.October, 24)
	got := d.At(SlotTime(10*60+30), cairo)
	assert.True(t, got.Equal(time.Date(2026, 10, 24, 8, 30, 0, 0, time.UTC)))
}

func TestParseSlotTime(t *testing.T) {
	st, err := ParseSlotTime("14:30")
	require.NoError(t, err)
	assert.Equal(t, 14, st.Hour())
	assert.Equal(t, 30, st.Minute())
	assert.Equal(t, "14:30", st.String())

	for _, bad := range []string{"", "9:00", "24:00", "12:60", "ab:cd", "12-30", "2:30 PM"} {
		_, err := ParseSlotTime(bad)
		assert.Error(t, err, bad)
	}
}

func TestSlotTime_Label(t *testing.T) {
	tests := map[string]string{
		"00:00": "12:00 AM",
		"09:05": "9:05 AM",
		"12:30": "12:30 PM",
		"17:30": "5:30 PM",
	}
	for in, want := range tests {
		st, err := ParseSlotTime(in)
		require.NoError(t, err)
		assert.Equal(t, want, st.Label(), in)
	}
}

func TestAppointmentJSON_IncludesTimeLabel(t *testing.T) {
	a := Appointment{
		Date:   NewDate(2026, time.October, 24),
		Time:   SlotTime(15 * 60),
		Status: StatusPending,
		Source: SourceWebsite,
		Guest:  &GuestDetails{Name: "Mona", Phone: "+201000000000"},
	}
	raw, err := json.Marshal(a)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "2026-10-24", out["date"])
	assert.Equal(t, "15:00", out["time"])
	assert.Equal(t, "3:00 PM", out["time_label"])
	assert.NotContains(t, out, "patient_id")
	assert.Contains(t, out, "guest_details")
}
