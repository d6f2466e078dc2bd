package schedule

import (
	"fmt"
	"time"

	apperrors "github.com/acme/voice-batch-engine/pkg/errors"
)

// maxForwardDays caps the forward search in NextAvailableTime so a window
// whose holiday set excludes every day cannot loop forever.
const maxForwardDays = 3650

// TimeWindow is the daily hour range during which calls may be placed,
// with weekend and holiday exclusions evaluated in the window's timezone.
type TimeWindow struct {
	StartTime       string // "HH:MM"
	EndTime         string // "HH:MM"
	Timezone        string
	ExcludeWeekends bool
	Holidays        map[string]struct{} // "2006-01-02" dates
}

// Validate checks the window's times and timezone.
func (w TimeWindow) Validate() error {
	if _, err := minuteOfDay(w.StartTime); err != nil {
		return fmt.Errorf("%w: invalid window start %q", apperrors.ErrValidation, w.StartTime)
	}
	if _, err := minuteOfDay(w.EndTime); err != nil {
		return fmt.Errorf("%w: invalid window end %q", apperrors.ErrValidation, w.EndTime)
	}
	if w.Timezone != "" {
		if _, err := time.LoadLocation(w.Timezone); err != nil {
			return fmt.Errorf("%w: invalid window timezone %q", apperrors.ErrValidation, w.Timezone)
		}
	}
	return nil
}

// IsWithinWindow reports whether t falls inside the calling window.
func (w TimeWindow) IsWithinWindow(t time.Time) bool {
	local := t.In(w.location())

	if w.ExcludeWeekends {
		if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return false
		}
	}
	if _, holiday := w.Holidays[local.Format("2006-01-02")]; holiday {
		return false
	}

	minute := local.Hour()*60 + local.Minute()
	start, _ := minuteOfDay(w.StartTime)
	end, _ := minuteOfDay(w.EndTime)
	return minute >= start && minute <= end
}

// NextAvailableTime returns t unchanged when it is inside the window, or the
// start of the next permitted day otherwise. The search is monotonic and
// capped at maxForwardDays; on exhaustion the last candidate is returned.
func (w TimeWindow) NextAvailableTime(t time.Time) time.Time {
	if w.IsWithinWindow(t) {
		return t
	}

	loc := w.location()
	local := t.In(loc)
	end, _ := minuteOfDay(w.EndTime)
	if local.Hour()*60+local.Minute() > end {
		local = local.AddDate(0, 0, 1)
	}

	start, _ := minuteOfDay(w.StartTime)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), start/60, start%60, 0, 0, loc)
	for i := 0; i < maxForwardDays; i++ {
		if w.dayExcluded(candidate) {
			candidate = candidate.AddDate(0, 0, 1)
			continue
		}
		break
	}
	return candidate
}

func (w TimeWindow) dayExcluded(t time.Time) bool {
	if w.ExcludeWeekends {
		if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return true
		}
	}
	_, holiday := w.Holidays[t.Format("2006-01-02")]
	return holiday
}

func (w TimeWindow) location() *time.Location {
	if w.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func minuteOfDay(value string) (int, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, err
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}
