package promotion

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidWindow is returned when a promotion's date range is inconsistent.
var ErrInvalidWindow = errors.New("promotion: end date must not precede start date")

// ErrWindowInPast is returned when a promotion would already be expired on creation.
var ErrWindowInPast = errors.New("promotion: end date must not precede today")

// Promotion is a time-boxed percentage discount on specific products of a branch.
type Promotion struct {
	ID        uuid.UUID
	BranchID  uuid.UUID
	Value     int64
	StartDate time.Time
	EndDate   time.Time
}

// Resolver picks the currently-active promotion for a menu item. The business
// day is anchored at DayStartHour (07:00 by default) rather than midnight to
// match restaurant operating hours.
type Resolver struct {
	DayStartHour int
	Now          func() time.Time
}

func (r Resolver) dayStart() int {
	if r.DayStartHour <= 0 || r.DayStartHour > 23 {
		return 7
	}
	return r.DayStartHour
}

func (r Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// BusinessDay returns the anchor instant of the business day containing t.
func (r Resolver) BusinessDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), r.dayStart(), 0, 0, 0, t.Location())
}

// Active returns the promotion applicable to the given branch at instant `at`,
// or nil when none is in window. When several windows overlap the most
// recently started one wins, keeping resolution deterministic.
func (r Resolver) Active(candidates []Promotion, branchID uuid.UUID, at time.Time) *Promotion {
	today := r.BusinessDay(at)
	var best *Promotion
	for i := range candidates {
		p := &candidates[i]
		if p.BranchID != branchID {
			continue
		}
		if p.Value <= 0 || p.Value > 100 {
			continue
		}
		if r.BusinessDay(p.StartDate).After(today) {
			continue
		}
		if r.BusinessDay(p.EndDate).Before(today) {
			continue
		}
		if best == nil || p.StartDate.After(best.StartDate) {
			best = p
		}
	}
	return best
}

// ValidateWindow enforces the creation-time invariants on a promotion's dates.
func (r Resolver) ValidateWindow(p Promotion) error {
	if p.EndDate.Before(p.StartDate) {
		return ErrInvalidWindow
	}
	if r.BusinessDay(p.EndDate).Before(r.BusinessDay(r.now())) {
		return ErrWindowInPast
	}
	return nil
}
