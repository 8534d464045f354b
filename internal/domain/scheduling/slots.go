package scheduling

import (
	"encoding/json"
	"time"
)

// Slot is a bookable start time on some day.
type Slot struct {
	Time SlotTime
}

func (s Slot) Label() string { return s.Time.Label() }

func (s Slot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Time  string `json:"time"`
		Label string `json:"label"`
	}{s.Time.String(), s.Label()})
}

// GenerateDailySlots derives the ordered slot starts for date from tpl.
//
// A missing or disabled day, unparsable hours, or a negative slot duration
// yield no slots. Slots step from start_time by the slot duration and the
// last one starts strictly before end_time; it may run past closing. When
// date is today in loc, slots that do not start strictly after now are
// dropped.
func GenerateDailySlots(date Date, tpl ScheduleTemplate, now time.Time, loc *time.Location) []Slot {
	ds, ok := tpl.Day(date.Weekday())
	if !ok || !ds.Enabled {
		return nil
	}
	step := tpl.EffectiveSlotDuration()
	if step <= 0 {
		return nil
	}
	start, err := ParseSlotTime(ds.StartTime)
	if err != nil {
		return nil
	}
	end, err := ParseSlotTime(ds.EndTime)
	if err != nil {
		return nil
	}

	today := DateIn(now, loc)
	if date.Before(today) {
		return nil
	}
	filterElapsed := date.Equal(today)

	var slots []Slot
	for st := start; st < end; st += SlotTime(step) {
		if filterElapsed && !date.At(st, loc).After(now) {
			continue
		}
		slots = append(slots, Slot{Time: st})
	}
	return slots
}

// subtractOccupied removes occupied times from slots, keeping order.
func subtractOccupied(slots []Slot, occupied []SlotTime) []Slot {
	if len(occupied) == 0 {
		return slots
	}
	taken := make(map[SlotTime]struct{}, len(occupied))
	for _, st := range occupied {
		taken[st] = struct{}{}
	}
	free := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if _, ok := taken[s.Time]; !ok {
			free = append(free, s)
		}
	}
	return free
}
