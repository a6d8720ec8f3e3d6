package fees

import (
	"fmt"
	"math"
)

// Breakdown splits a gross gig amount into the platform commission and the
// worker's net earnings. All amounts are integer cents.
type Breakdown struct {
	GrossCents      int64
	CommissionCents int64
	WorkerNetCents  int64
}

// Calculate derives the fee breakdown for a gross amount at the given
// commission percent. Pure and deterministic; the percent comes from the
// platform settings collaborator, never from package state.
func Calculate(grossCents int64, commissionPercent float64) (Breakdown, error) {
	if grossCents <= 0 {
		return Breakdown{}, fmt.Errorf("fees: gross amount must be positive, got %d", grossCents)
	}
	if commissionPercent < 0 || commissionPercent > 100 {
		return Breakdown{}, fmt.Errorf("fees: commission percent out of range: %v", commissionPercent)
	}

	commission := int64(math.Round(float64(grossCents) * commissionPercent / 100))

	return Breakdown{
		GrossCents:      grossCents,
		CommissionCents: commission,
		WorkerNetCents:  grossCents - commission,
	}, nil
}
