package scheduling

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeCommission(t *testing.T) {
	tests := []struct {
		name   string
		source Source
		fee    float64
		want   float64
	}{
		{"website", SourceWebsite, 300, 45},
		{"website rounds to cents", SourceWebsite, 333.33, 50},
		{"website rounds up", SourceWebsite, 199.99, 30},
		{"website free consultation", SourceWebsite, 0, 0},
		{"direct", SourceDirect, 300, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ComputeCommission(tt.source, tt.fee)
			assert.InDelta(t, tt.want, c.Amount, 1e-9)
			assert.False(t, c.Paid)
		})
	}
}
