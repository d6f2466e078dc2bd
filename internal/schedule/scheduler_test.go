package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-batch-engine/pkg/logger"
)

type fakeStarter struct {
	mu     sync.Mutex
	starts []uuid.UUID
	sizes  []int
	err    error
}

func (f *fakeStarter) StartCampaign(ctx context.Context, campaignID uuid.UUID, batchSize int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.starts = append(f.starts, campaignID)
	f.sizes = append(f.sizes, batchSize)
	return nil
}

func (f *fakeStarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

func newTestScheduler(t *testing.T, starter CampaignStarter) *Scheduler {
	t.Helper()
	return NewScheduler(starter, nil, logger.NewNop(), time.Minute)
}

func TestCalculateNextRun(t *testing.T) {
	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	immediate := &Schedule{Type: TypeImmediate, Active: true}
	if got := calculateNextRun(immediate, now); got == nil || !got.Equal(now) {
		t.Errorf("immediate schedule next run = %v, want %v", got, now)
	}

	startAt := time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)
	scheduled := &Schedule{Type: TypeScheduled, StartAt: &startAt, Active: true}
	if got := calculateNextRun(scheduled, now); got == nil || !got.Equal(startAt) {
		t.Errorf("scheduled next run = %v, want %v", got, startAt)
	}

	lastRun := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	recurring := &Schedule{
		Type:           TypeRecurring,
		RepeatInterval: time.Hour,
		LastRun:        &lastRun,
		Active:         true,
	}
	want := lastRun.Add(time.Hour)
	if got := calculateNextRun(recurring, now); got == nil || !got.Equal(want) {
		t.Errorf("recurring next run = %v, want %v", got, want)
	}

	inactive := &Schedule{Type: TypeImmediate}
	if got := calculateNextRun(inactive, now); got != nil {
		t.Errorf("inactive schedule next run = %v, want nil", got)
	}

	exhausted := &Schedule{Type: TypeRecurring, RepeatInterval: time.Hour, Active: true, MaxOccurrences: 3, Occurrences: 3}
	if got := calculateNextRun(exhausted, now); got != nil {
		t.Errorf("exhausted schedule next run = %v, want nil", got)
	}
}

func TestCalculateNextRunRespectsWindow(t *testing.T) {
	// Friday 2024-01-05 19:00, outside the weekday window.
	now := time.Date(2024, 1, 5, 19, 0, 0, 0, time.UTC)
	sched := &Schedule{
		Type:   TypeImmediate,
		Active: true,
		Window: &TimeWindow{
			StartTime:       "09:00",
			EndTime:         "17:00",
			Timezone:        "UTC",
			ExcludeWeekends: true,
		},
	}

	got := calculateNextRun(sched, now)
	want := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	if got == nil || !got.Equal(want) {
		t.Fatalf("next run = %v, want %v", got, want)
	}
}

func TestCreateScheduleValidation(t *testing.T) {
	s := newTestScheduler(t, &fakeStarter{})

	cases := []CreateScheduleInput{
		{Type: TypeImmediate},                          // missing campaign
		{CampaignID: uuid.New(), Type: Type("hourly")}, // unknown type
		{CampaignID: uuid.New(), Type: TypeScheduled},  // missing start time
		{CampaignID: uuid.New(), Type: TypeRecurring},  // missing interval
		{
			CampaignID: uuid.New(),
			Type:       TypeImmediate,
			Window:     &TimeWindow{StartTime: "bad", EndTime: "17:00"},
		},
	}

	for _, tc := range cases {
		if _, err := s.CreateSchedule(context.Background(), tc); err == nil {
			t.Errorf("expected validation error for input %+v", tc)
		}
	}
}

func TestCreateImmediateSchedule(t *testing.T) {
	s := newTestScheduler(t, &fakeStarter{})

	sched, err := s.CreateSchedule(context.Background(), CreateScheduleInput{
		CampaignID: uuid.New(),
		Type:       TypeImmediate,
		BatchSize:  25,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sched.Active {
		t.Error("expected new schedule to be active")
	}
	if sched.NextRun == nil {
		t.Fatal("expected immediate schedule to have a next run")
	}
	if sched.NextRun.After(time.Now().UTC().Add(time.Second)) {
		t.Errorf("immediate next run too far in the future: %v", sched.NextRun)
	}
}

func TestExecuteScheduleImmediate(t *testing.T) {
	starter := &fakeStarter{}
	s := newTestScheduler(t, starter)

	campaignID := uuid.New()
	sched, err := s.CreateSchedule(context.Background(), CreateScheduleInput{
		CampaignID: campaignID,
		Type:       TypeImmediate,
		BatchSize:  10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.checkSchedules(context.Background(), time.Now().UTC())

	if starter.count() != 1 {
		t.Fatalf("expected 1 start, got %d", starter.count())
	}
	if starter.starts[0] != campaignID {
		t.Errorf("started wrong campaign: %s", starter.starts[0])
	}
	if starter.sizes[0] != 10 {
		t.Errorf("batch size = %d, want 10", starter.sizes[0])
	}

	after, err := s.GetSchedule(sched.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after.Active {
		t.Error("expected one-shot schedule to deactivate after running")
	}
	if after.Occurrences != 1 {
		t.Errorf("occurrences = %d, want 1", after.Occurrences)
	}
	if after.NextRun != nil {
		t.Errorf("expected no next run, got %v", after.NextRun)
	}
}

func TestExecuteScheduleRecurringStopsAtMaxOccurrences(t *testing.T) {
	starter := &fakeStarter{}
	s := newTestScheduler(t, starter)

	sched, err := s.CreateSchedule(context.Background(), CreateScheduleInput{
		CampaignID:     uuid.New(),
		Type:           TypeRecurring,
		RepeatInterval: time.Minute,
		MaxOccurrences: 3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Drive four ticks far enough apart that each interval has elapsed.
	now := time.Now().UTC()
	for i := 0; i < 4; i++ {
		s.checkSchedules(context.Background(), now.Add(time.Duration(i)*2*time.Minute))
	}

	if starter.count() != 3 {
		t.Fatalf("expected 3 starts, got %d", starter.count())
	}

	after, err := s.GetSchedule(sched.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after.Active {
		t.Error("expected schedule to deactivate after max occurrences")
	}
}

func TestExecuteScheduleFailureBackoff(t *testing.T) {
	starter := &fakeStarter{err: errors.New("campaign not found")}
	s := newTestScheduler(t, starter)

	start := time.Now().UTC().Add(-time.Minute)

	recurring, err := s.CreateSchedule(context.Background(), CreateScheduleInput{
		CampaignID:     uuid.New(),
		Type:           TypeRecurring,
		RepeatInterval: time.Hour,
		StartAt:        &start,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	immediate, err := s.CreateSchedule(context.Background(), CreateScheduleInput{
		CampaignID: uuid.New(),
		Type:       TypeImmediate,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now := time.Now().UTC()
	s.checkSchedules(context.Background(), now)

	rec, _ := s.GetSchedule(recurring.ID)
	if !rec.Active {
		t.Error("expected recurring schedule to stay active after a failed start")
	}
	if rec.NextRun == nil || !rec.NextRun.After(now) {
		t.Errorf("expected recurring schedule to back off, next run = %v", rec.NextRun)
	}
	if rec.Occurrences != 0 {
		t.Errorf("occurrences = %d, want 0", rec.Occurrences)
	}

	imm, _ := s.GetSchedule(immediate.ID)
	if imm.Active {
		t.Error("expected failed immediate schedule to deactivate")
	}
}

func TestExecuteScheduleSkipsCancelled(t *testing.T) {
	starter := &fakeStarter{}
	s := newTestScheduler(t, starter)

	sched, err := s.CreateSchedule(context.Background(), CreateScheduleInput{
		CampaignID: uuid.New(),
		Type:       TypeImmediate,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Cancellation can land between due-collection and execution; drive the
	// execution path directly on the live schedule to pin that interleaving.
	s.mu.Lock()
	live := s.schedules[sched.ID]
	s.mu.Unlock()

	if err := s.CancelSchedule(sched.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	s.executeSchedule(context.Background(), live, time.Now().UTC())

	if starter.count() != 0 {
		t.Fatalf("cancelled schedule still started its campaign (%d starts)", starter.count())
	}
}

func TestCancelSchedule(t *testing.T) {
	s := newTestScheduler(t, &fakeStarter{})

	sched, err := s.CreateSchedule(context.Background(), CreateScheduleInput{
		CampaignID:     uuid.New(),
		Type:           TypeRecurring,
		RepeatInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.CancelSchedule(sched.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after, err := s.GetSchedule(sched.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after.Active || after.NextRun != nil {
		t.Errorf("expected cancelled schedule to be inactive with no next run, got %+v", after)
	}

	if err := s.CancelSchedule(uuid.New()); err == nil {
		t.Error("expected error cancelling unknown schedule")
	}
}

func TestGetUpcomingSorted(t *testing.T) {
	s := newTestScheduler(t, &fakeStarter{})

	later := time.Now().UTC().Add(2 * time.Hour)
	sooner := time.Now().UTC().Add(time.Hour)
	farOut := time.Now().UTC().Add(48 * time.Hour)

	a, _ := s.CreateSchedule(context.Background(), CreateScheduleInput{
		CampaignID: uuid.New(), Type: TypeScheduled, StartAt: &later,
	})
	b, _ := s.CreateSchedule(context.Background(), CreateScheduleInput{
		CampaignID: uuid.New(), Type: TypeScheduled, StartAt: &sooner,
	})
	s.CreateSchedule(context.Background(), CreateScheduleInput{
		CampaignID: uuid.New(), Type: TypeScheduled, StartAt: &farOut,
	})

	upcoming := s.GetUpcoming(24 * time.Hour)
	if len(upcoming) != 2 {
		t.Fatalf("expected 2 upcoming schedules, got %d", len(upcoming))
	}
	if upcoming[0].ID != b.ID || upcoming[1].ID != a.ID {
		t.Error("expected upcoming schedules sorted soonest first")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	starter := &fakeStarter{}
	s := NewScheduler(starter, nil, logger.NewNop(), 10*time.Millisecond)

	if _, err := s.CreateSchedule(context.Background(), CreateScheduleInput{
		CampaignID: uuid.New(),
		Type:       TypeImmediate,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Start(context.Background())

	deadline := time.Now().Add(time.Second)
	for starter.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if starter.count() != 1 {
		t.Fatalf("expected the tick loop to fire the schedule once, got %d starts", starter.count())
	}
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	s := NewScheduler(&fakeStarter{}, nil, logger.NewNop(), 10*time.Millisecond)

	s.Start(context.Background())
	first := s.done
	s.Start(context.Background())
	if s.done != first {
		t.Fatal("second Start replaced the running tick loop")
	}
	s.Stop()

	// A stopped scheduler can be started again.
	s.Start(context.Background())
	if s.done == first {
		t.Fatal("restart after Stop did not spawn a new loop")
	}
	s.Stop()
}
