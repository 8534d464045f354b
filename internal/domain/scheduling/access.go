package scheduling

import "time"

// Reasons returned by BookingBlockReason.
const (
	BlockDeactivated = "deactivated"
	BlockPaused      = "paused"
	BlockExpired     = "expired"
)

// IsBookable reports whether d may accept bookings at now. It must be
// evaluated per request; eligibility lapses with the passage of time alone.
func IsBookable(d *Doctor, now time.Time) bool {
	return BookingBlockReason(d, now) == ""
}

// BookingBlockReason explains why d cannot take bookings at now, or returns
// "" when it can.
func BookingBlockReason(d *Doctor, now time.Time) string {
	switch {
	case d.IsManuallyDeactivated:
		return BlockDeactivated
	case d.IsPaused:
		return BlockPaused
	case d.TrialExpiresAt != nil && now.Before(*d.TrialExpiresAt):
		return ""
	case d.SubscriptionExpiresAt != nil && now.Before(*d.SubscriptionExpiresAt):
		return ""
	default:
		return BlockExpired
	}
}
