package scheduling

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultSlotDuration applies when a template leaves slot_duration unset.
const DefaultSlotDuration = 30

// DailySchedule is one weekday's working hours. Times are 24-hour "HH:MM".
type DailySchedule struct {
	Day       string `json:"day"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Enabled   bool   `json:"enabled"`
}

// Present reports whether the entry was defined at all.
func (ds DailySchedule) Present() bool { return ds.Day != "" }

// ScheduleTemplate is a doctor's recurring weekly availability. Entries are
// indexed by time.Weekday, so a template can never hold two entries for the
// same day.
type ScheduleTemplate struct {
	Days         [7]DailySchedule
	SlotDuration int
	// WaitingTime is stored and returned but not applied by the generator.
	WaitingTime int
}

// Day returns the entry for wd; ok is false when none was defined.
func (t *ScheduleTemplate) Day(wd time.Weekday) (DailySchedule, bool) {
	ds := t.Days[wd]
	return ds, ds.Present()
}

// SetDay installs ds under wd, overwriting any previous entry.
func (t *ScheduleTemplate) SetDay(wd time.Weekday, startTime, endTime string, enabled bool) {
	t.Days[wd] = DailySchedule{Day: wd.String(), StartTime: startTime, EndTime: endTime, Enabled: enabled}
}

// EffectiveSlotDuration returns the step used by the slot generator. Zero
// means unset and falls back to DefaultSlotDuration; negative values are
// returned as-is and produce no slots.
func (t *ScheduleTemplate) EffectiveSlotDuration() int {
	if t.SlotDuration == 0 {
		return DefaultSlotDuration
	}
	return t.SlotDuration
}

// Validate checks the template's invariants.
func (t *ScheduleTemplate) Validate() error {
	if t.SlotDuration < 0 {
		return fmt.Errorf("slot_duration must not be negative, got %d", t.SlotDuration)
	}
	if t.WaitingTime < 0 {
		return fmt.Errorf("waiting_time must not be negative, got %d", t.WaitingTime)
	}
	for wd, ds := range t.Days {
		if !ds.Present() || !ds.Enabled {
			continue
		}
		start, err := ParseSlotTime(ds.StartTime)
		if err != nil {
			return fmt.Errorf("%s start_time: %w", time.Weekday(wd), err)
		}
		end, err := ParseSlotTime(ds.EndTime)
		if err != nil {
			return fmt.Errorf("%s end_time: %w", time.Weekday(wd), err)
		}
		if start >= end {
			return fmt.Errorf("%s: start_time %s must be before end_time %s", time.Weekday(wd), ds.StartTime, ds.EndTime)
		}
	}
	return nil
}

// ParseWeekday resolves an English weekday name, case-insensitively.
func ParseWeekday(name string) (time.Weekday, error) {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if strings.EqualFold(wd.String(), strings.TrimSpace(name)) {
			return wd, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}

type templateJSON struct {
	DailySchedules []DailySchedule `json:"daily_schedules"`
	SlotDuration   int             `json:"slot_duration"`
	WaitingTime    int             `json:"waiting_time"`
}

// MarshalJSON emits only the defined days, Sunday first.
func (t ScheduleTemplate) MarshalJSON() ([]byte, error) {
	out := templateJSON{
		DailySchedules: []DailySchedule{},
		SlotDuration:   t.SlotDuration,
		WaitingTime:    t.WaitingTime,
	}
	for _, ds := range t.Days {
		if ds.Present() {
			out.DailySchedules = append(out.DailySchedules, ds)
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts a list of day entries and rejects duplicate weekdays.
func (t *ScheduleTemplate) UnmarshalJSON(b []byte) error {
	var in templateJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	var tpl ScheduleTemplate
	for _, ds := range in.DailySchedules {
		wd, err := ParseWeekday(ds.Day)
		if err != nil {
			return err
		}
		if tpl.Days[wd].Present() {
			return fmt.Errorf("duplicate schedule entry for %s", wd)
		}
		tpl.SetDay(wd, ds.StartTime, ds.EndTime, ds.Enabled)
	}
	tpl.SlotDuration = in.SlotDuration
	tpl.WaitingTime = in.WaitingTime
	*t = tpl
	return nil
}
