package scheduling

// transitions lists the legal next states for each non-terminal status.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusAttended, StatusNoShow, StatusCancelled, StatusCompleted},
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
