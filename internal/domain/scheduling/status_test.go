package scheduling

import "testing"

func TestCanTransition(t *testing.T) {
	all := []Status{StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusAttended, StatusNoShow}
	allowed := map[[2]Status]bool{
		{StatusPending, StatusConfirmed}:   true,
		{StatusPending, StatusCancelled}:   true,
		{StatusConfirmed, StatusAttended}:  true,
		{StatusConfirmed, StatusNoShow}:    true,
		{StatusConfirmed, StatusCancelled}: true,
		{StatusConfirmed, StatusCompleted}: true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusPending: false, StatusConfirmed: false,
		StatusCompleted: true, StatusCancelled: true, StatusAttended: true, StatusNoShow: true,
	}
	for s, want := range terminal {
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}

func TestStatus_Valid(t *testing.T) {
	if Status("rescheduled").Valid() {
		t.Error("unknown status reported valid")
	}
	if !StatusNoShow.Valid() {
		t.Error("no_show should be valid")
	}
	if Source("phone").Valid() || !SourceDirect.Valid() {
		t.Error("unexpected source validity")
	}
}
