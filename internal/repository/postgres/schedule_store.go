package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/acme/voice-batch-engine/internal/schedule"
)

// ScheduleStore persists schedule snapshots.
type ScheduleStore struct {
	db *sqlx.DB
}

// NewScheduleStore constructs the store.
func NewScheduleStore(db *sqlx.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

// SaveSchedule upserts the schedule row.
func (s *ScheduleStore) SaveSchedule(ctx context.Context, sched *schedule.Schedule) error {
	q := `INSERT INTO schedules (
		id, campaign_id, schedule_type, start_at, repeat_interval_ms, max_occurrences,
		batch_size, occurrences, last_run, next_run, is_active,
		window_start, window_end, window_timezone, exclude_weekends, created_at
	) VALUES (
		:id, :campaign_id, :schedule_type, :start_at, :repeat_interval_ms, :max_occurrences,
		:batch_size, :occurrences, :last_run, :next_run, :is_active,
		:window_start, :window_end, :window_timezone, :exclude_weekends, :created_at
	) ON CONFLICT (id) DO UPDATE SET
		occurrences = EXCLUDED.occurrences,
		last_run = EXCLUDED.last_run,
		next_run = EXCLUDED.next_run,
		is_active = EXCLUDED.is_active,
		updated_at = NOW()`

	params := map[string]any{
		"id":                 sched.ID,
		"campaign_id":        sched.CampaignID,
		"schedule_type":      string(sched.Type),
		"start_at":           sched.StartAt,
		"repeat_interval_ms": sched.RepeatInterval.Milliseconds(),
		"max_occurrences":    sched.MaxOccurrences,
		"batch_size":         sched.BatchSize,
		"occurrences":        sched.Occurrences,
		"last_run":           sched.LastRun,
		"next_run":           sched.NextRun,
		"is_active":          sched.Active,
		"window_start":       nil,
		"window_end":         nil,
		"window_timezone":    nil,
		"exclude_weekends":   false,
		"created_at":         sched.CreatedAt,
	}
	if sched.Window != nil {
		params["window_start"] = sched.Window.StartTime
		params["window_end"] = sched.Window.EndTime
		params["window_timezone"] = sched.Window.Timezone
		params["exclude_weekends"] = sched.Window.ExcludeWeekends
	}

	if _, err := s.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("schedule store: upsert: %w", err)
	}
	return nil
}
