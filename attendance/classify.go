package attendance

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/attendance-engine/core"
)

// =============================================================================
// STATUS CLASSIFIER
// =============================================================================

// Classification is the outcome of classifying one day's stamps.
type Classification struct {
	Status core.Status
	Worked time.Duration
	// InvertedSpan is set when check-out precedes check-in. Worked is
	// clamped to zero in that case.
	InvertedSpan bool
	// PolicyMissing is set when both stamps exist but no policy was
	// available to apply the hour thresholds.
	PolicyMissing bool
}

// Classify maps stamps to a status in priority order: no stamps is Absent,
// a single stamp is Pending, and a full span is graded against the policy's
// present and half-day thresholds. Lateness never influences the result.
func Classify(checkIn, checkOut *time.Time, policy *core.ShiftPolicy) Classification {
	switch {
	case checkIn == nil && checkOut == nil:
		return Classification{Status: core.StatusAbsent}
	case checkIn == nil || checkOut == nil:
		return Classification{Status: core.StatusPending}
	}

	c := Classification{Worked: checkOut.Sub(*checkIn)}
	if c.Worked < 0 {
		c.Worked = 0
		c.InvertedSpan = true
	}

	if policy == nil {
		c.Status = core.StatusPending
		c.PolicyMissing = true
		return c
	}

	switch {
	case c.Worked >= hoursToDuration(policy.PresentHours):
		c.Status = core.StatusPresent
	case c.Worked >= hoursToDuration(policy.HalfDayHours):
		c.Status = core.StatusHalfDay
	default:
		c.Status = core.StatusEarlyLeave
	}
	return c
}

var nanosPerHour = decimal.NewFromInt(int64(time.Hour))

func hoursToDuration(h decimal.Decimal) time.Duration {
	return time.Duration(h.Mul(nanosPerHour).IntPart())
}

// =============================================================================
// DERIVATION - Recompute a record's derived fields
// =============================================================================

// EffectivePolicy returns the record's frozen snapshot, or the fallback
// when the record predates snapshotting.
func EffectivePolicy(r *core.AttendanceRecord, fallback *core.ShiftPolicy) *core.ShiftPolicy {
	if r != nil && r.Policy != nil {
		return r.Policy
	}
	return fallback
}

// Derive recomputes status and late duration in place. Records carrying a
// manual status keep both fields untouched.
func Derive(r *core.AttendanceRecord, fallback *core.ShiftPolicy, loc *time.Location) Classification {
	if r.Status.IsManual() {
		return Classification{Status: r.Status}
	}

	policy := EffectivePolicy(r, fallback)
	c := Classify(r.CheckIn, r.CheckOut, policy)
	r.Status = c.Status

	if late, ok := LateDuration(r.CheckIn, policy, r.Date, loc); ok {
		r.LateDuration = &late
	} else {
		r.LateDuration = nil
	}
	return c
}
