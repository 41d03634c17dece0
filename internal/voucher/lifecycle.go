package voucher

import "time"

// Lifecycle drives a voucher's activity flag from its remaining usage and
// date window. It is evaluated inside the same transaction as every usage
// mutation so is_active never drifts from remaining_usage.
type Lifecycle struct {
	DayStartHour int
}

func (m Lifecycle) dayStart() int {
	if m.DayStartHour <= 0 || m.DayStartHour > 23 {
		return 7
	}
	return m.DayStartHour
}

// Reconcile adjusts v.IsActive after remaining usage moved from prevRemaining
// to v.RemainingUsage. It returns true when the flag changed and the row needs
// to be persisted with the new state.
//
// A voucher deactivates when its usage runs out, and reactivates when usage is
// restored while today still lies inside [StartDate, EndDate]. Any other field
// change leaves the flag untouched.
func (m Lifecycle) Reconcile(v *Voucher, prevRemaining int32, now time.Time) bool {
	if v == nil || prevRemaining == v.RemainingUsage {
		return false
	}

	if v.RemainingUsage <= 0 && v.IsActive {
		v.IsActive = false
		return true
	}

	if v.RemainingUsage > 0 && !v.IsActive {
		today := time.Date(now.Year(), now.Month(), now.Day(), m.dayStart(), 0, 0, 0, now.Location())
		startsBy := time.Date(v.StartDate.Year(), v.StartDate.Month(), v.StartDate.Day(), m.dayStart(), 0, 0, 0, v.StartDate.Location())
		endsBy := time.Date(v.EndDate.Year(), v.EndDate.Month(), v.EndDate.Day(), m.dayStart(), 0, 0, 0, v.EndDate.Location())
		if !startsBy.After(today) && !endsBy.Before(today) {
			v.IsActive = true
			return true
		}
	}
	return false
}
