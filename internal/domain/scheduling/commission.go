package scheduling

import "math"

// CommissionRate is the share of the consultation fee owed for a
// website-sourced booking.
const CommissionRate = 0.15

// ComputeCommission returns the referral fee for a new booking. Only
// website bookings carry a commission; it always starts unpaid.
func ComputeCommission(source Source, consultationFee float64) Commission {
	if source != SourceWebsite {
		return Commission{Amount: 0, Paid: false}
	}
	return Commission{Amount: roundCents(consultationFee * CommissionRate), Paid: false}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
