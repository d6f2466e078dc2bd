package schedule

import (
	"time"

	"github.com/google/uuid"
)

// Type enumerates how a schedule triggers its campaign.
type Type string

const (
	TypeImmediate Type = "immediate"
	TypeScheduled Type = "scheduled"
	TypeRecurring Type = "recurring"
)

// IsValid reports whether the type is one of the known values.
func (t Type) IsValid() bool {
	switch t {
	case TypeImmediate, TypeScheduled, TypeRecurring:
		return true
	}
	return false
}

// Schedule decides when a campaign is (re)started. Schedules are owned
// exclusively by the Scheduler; they reference campaigns by id only.
type Schedule struct {
	ID             uuid.UUID
	CampaignID     uuid.UUID
	Type           Type
	StartAt        *time.Time
	Window         *TimeWindow
	RepeatInterval time.Duration
	MaxOccurrences int
	BatchSize      int
	Occurrences    int
	LastRun        *time.Time
	NextRun        *time.Time
	Active         bool
	CreatedAt      time.Time
}

// calculateNextRun resolves the next trigger time, or nil when the schedule
// is exhausted or inactive.
func calculateNextRun(s *Schedule, now time.Time) *time.Time {
	if !s.Active {
		return nil
	}
	if s.MaxOccurrences > 0 && s.Occurrences >= s.MaxOccurrences {
		return nil
	}

	var base time.Time
	switch {
	case s.Type == TypeImmediate:
		base = now
	case s.LastRun != nil:
		base = s.LastRun.Add(s.RepeatInterval)
	case s.StartAt != nil:
		base = *s.StartAt
	default:
		base = now
	}

	if s.Window != nil {
		base = s.Window.NextAvailableTime(base)
	}
	return &base
}
