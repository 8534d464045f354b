package scheduling

import (
	"encoding/json"
	"testing"
	"time"
)

func TestScheduleTemplate_UnmarshalJSON(t *testing.T) {
	raw := `{
		"daily_schedules": [
			{"day": "saturday", "start_time": "10:00", "end_time": "18:00", "enabled": true},
			{"day": "Monday", "start_time": "09:00", "end_time": "13:00", "enabled": false}
		],
		"slot_duration": 20,
		"waiting_time": 10
	}`
	var tpl ScheduleTemplate
	if err := json.Unmarshal([]byte(raw), &tpl); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	sat, ok := tpl.Day(time.Saturday)
	if !ok || !sat.Enabled || sat.StartTime != "10:00" || sat.Day != "Saturday" {
		t.Errorf("unexpected saturday entry: %+v ok=%v", sat, ok)
	}
	if mon, ok := tpl.Day(time.Monday); !ok || mon.Enabled {
		t.Errorf("expected disabled monday entry, got %+v", mon)
	}
	if _, ok := tpl.Day(time.Sunday); ok {
		t.Error("expected no sunday entry")
	}
	if tpl.SlotDuration != 20 || tpl.WaitingTime != 10 {
		t.Errorf("unexpected durations: %d/%d", tpl.SlotDuration, tpl.WaitingTime)
	}
}

func TestScheduleTemplate_RejectsDuplicateDay(t *testing.T) {
	raw := `{"daily_schedules": [
		{"day": "Friday", "start_time": "10:00", "end_time": "12:00", "enabled": true},
		{"day": "friday", "start_time": "14:00", "end_time": "16:00", "enabled": true}
	]}`
	var tpl ScheduleTemplate
	if err := json.Unmarshal([]byte(raw), &tpl); err == nil {
		t.Fatal("expected duplicate day error")
	}
}

func TestScheduleTemplate_RejectsUnknownDay(t *testing.T) {
	var tpl ScheduleTemplate
	if err := json.Unmarshal([]byte(`{"daily_schedules":[{"day":"Funday"}]}`), &tpl); err == nil {
		t.Fatal("expected unknown weekday error")
	}
}

func TestScheduleTemplate_MarshalOmitsUndefinedDays(t *testing.T) {
	var tpl ScheduleTemplate
	tpl.SetDay(time.Tuesday, "09:00", "12:00", true)
	raw, err := json.Marshal(tpl)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out struct {
		DailySchedules []DailySchedule `json:"daily_schedules"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.DailySchedules) != 1 || out.DailySchedules[0].Day != "Tuesday" {
		t.Errorf("unexpected schedules: %+v", out.DailySchedules)
	}
}

func TestScheduleTemplate_EffectiveSlotDuration(t *testing.T) {
	tests := []struct {
		set, want int
	}{
		{0, DefaultSlotDuration},
		{15, 15},
		{-5, -5},
	}
	for _, tt := range tests {
		tpl := ScheduleTemplate{SlotDuration: tt.set}
		if got := tpl.EffectiveSlotDuration(); got != tt.want {
			t.Errorf("EffectiveSlotDuration(%d) = %d, want %d", tt.set, got, tt.want)
		}
	}
}

func TestScheduleTemplate_Validate(t *testing.T) {
	tests := []struct {
		name    string
		build   func(*ScheduleTemplate)
		wantErr bool
	}{
		{"valid", func(tpl *ScheduleTemplate) { tpl.SetDay(time.Saturday, "10:00", "18:00", true) }, false},
		{"disabled day skips checks", func(tpl *ScheduleTemplate) { tpl.SetDay(time.Saturday, "bad", "", false) }, false},
		{"start after end", func(tpl *ScheduleTemplate) { tpl.SetDay(time.Saturday, "18:00", "10:00", true) }, true},
		{"start equals end", func(tpl *ScheduleTemplate) { tpl.SetDay(time.Saturday, "10:00", "10:00", true) }, true},
		{"bad time", func(tpl *ScheduleTemplate) { tpl.SetDay(time.Saturday, "10am", "18:00", true) }, true},
		{"negative duration", func(tpl *ScheduleTemplate) { tpl.SlotDuration = -1 }, true},
		{"negative waiting time", func(tpl *ScheduleTemplate) { tpl.WaitingTime = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tpl ScheduleTemplate
			tt.build(&tpl)
			if err := tpl.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
