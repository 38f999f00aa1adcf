package rule

import (
	"time"

	"github.com/eliteGoblin/accountd/internal/domain"
)

// IsActive reports whether a rule blocks its target at the given
// instant. Pure arithmetic: no side effects, callable at any frequency.
func IsActive(spec domain.RuleSpec, now time.Time) bool {
	if !spec.Enabled {
		return false
	}

	switch spec.Kind {
	case domain.KindPermanent:
		return true

	case domain.KindTimer:
		if spec.StartTime.IsZero() || spec.DurationMinutes <= 0 {
			return false
		}
		end := spec.StartTime.Add(time.Duration(spec.DurationMinutes) * time.Minute)
		return !now.Before(spec.StartTime) && !now.After(end)

	case domain.KindSchedule:
		weekday := now.Weekday()
		inDays := false
		for _, day := range spec.Days {
			if day == weekday {
				inDays = true
				break
			}
		}
		if !inDays {
			return false
		}

		// A window whose end precedes its start never wraps past
		// midnight; it simply never matches. Deliberate policy.
		current := now.Hour()*60 + now.Minute()
		start := spec.StartHour*60 + spec.StartMinute
		end := spec.EndHour*60 + spec.EndMinute
		return current >= start && current <= end

	default:
		return false
	}
}

// TimerExpired reports whether a timer rule's window has fully
// elapsed. Expired rules stay inactive but are not auto-deleted;
// removal is a user decision and the CLI surfaces "expired" instead.
func TimerExpired(spec domain.RuleSpec, now time.Time) bool {
	if spec.Kind != domain.KindTimer || spec.StartTime.IsZero() {
		return false
	}
	end := spec.StartTime.Add(time.Duration(spec.DurationMinutes) * time.Minute)
	return now.After(end)
}
