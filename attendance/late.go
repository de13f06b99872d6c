/*
Package attendance derives daily attendance from check-in/check-out stamps.

PURPOSE:
  Holds the pure derivation rules (late duration, status classification)
  and the stateful components built on them: the policy registry, the
  per-day attendance ledger, the holiday batch processor and the monthly
  sheet.

TIME ZONES:
  Every calendar computation happens in the business location (by default
  Asia/Dhaka). Instants are stored as UTC; a record's Date is the calendar
  day of its check-in in the business location.

SEE ALSO:
  - classify.go: status classification
  - ledger.go: Empty -> CheckedIn -> Complete state machine
  - holiday.go: holiday expansion and retraction
*/
package attendance

import (
	"fmt"
	"time"

	"github.com/warp/attendance-engine/core"
)

// LateDuration returns how far a check-in ran past the policy start plus
// grace on the given date. The second result is false when the duration
// is undefined: no check-in or no policy. Policies with late tracking
// disabled always report a defined zero.
//
// Arriving exactly at start+grace is on time; one second later is one
// second late.
func LateDuration(checkIn *time.Time, policy *core.ShiftPolicy, date core.Date, loc *time.Location) (time.Duration, bool) {
	if checkIn == nil || policy == nil {
		return 0, false
	}
	if !policy.LateTracking {
		return 0, true
	}

	allowedBy := policy.Start.On(date, loc).Add(policy.Grace())
	if checkIn.After(allowedBy) {
		return checkIn.Sub(allowedBy), true
	}
	return 0, true
}

// FormatLate renders a late duration as m:ss under an hour and h:mm:ss
// otherwise.
func FormatLate(d time.Duration) string {
	total := int(d / time.Second)
	h, m, sec := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}
