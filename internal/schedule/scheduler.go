package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	apperrors "github.com/acme/voice-batch-engine/pkg/errors"
	"github.com/acme/voice-batch-engine/pkg/logger"
)

// CampaignStarter is the slice of the campaign manager the scheduler needs.
type CampaignStarter interface {
	StartCampaign(ctx context.Context, campaignID uuid.UUID, batchSize int) error
}

// Store is an optional write-through sink for schedule snapshots.
type Store interface {
	SaveSchedule(ctx context.Context, s *Schedule) error
}

// Scheduler owns the schedule registry and triggers due campaigns from a
// periodic tick.
type Scheduler struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*Schedule

	starter CampaignStarter
	store   Store
	log     *logger.Logger
	tick    time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler constructs a scheduler. tick <= 0 defaults to one minute.
func NewScheduler(starter CampaignStarter, store Store, log *logger.Logger, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = time.Minute
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{
		schedules: make(map[uuid.UUID]*Schedule),
		starter:   starter,
		store:     store,
		log:       log,
		tick:      tick,
	}
}

// CreateScheduleInput captures schedule creation parameters.
type CreateScheduleInput struct {
	CampaignID     uuid.UUID
	Type           Type
	StartAt        *time.Time
	Window         *TimeWindow
	RepeatInterval time.Duration
	MaxOccurrences int
	BatchSize      int
}

// CreateSchedule registers a schedule and computes its first trigger time.
func (s *Scheduler) CreateSchedule(ctx context.Context, input CreateScheduleInput) (*Schedule, error) {
	if input.CampaignID == uuid.Nil {
		return nil, fmt.Errorf("%w: campaign id is required", apperrors.ErrValidation)
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown schedule type %q", apperrors.ErrValidation, input.Type)
	}
	if input.Type == TypeScheduled && input.StartAt == nil {
		return nil, fmt.Errorf("%w: scheduled type requires a start time", apperrors.ErrValidation)
	}
	if input.Type == TypeRecurring && input.RepeatInterval <= 0 {
		return nil, fmt.Errorf("%w: recurring type requires a repeat interval", apperrors.ErrValidation)
	}
	if input.Window != nil {
		if err := input.Window.Validate(); err != nil {
			return nil, err
		}
	}

	sched := &Schedule{
		ID:             uuid.New(),
		CampaignID:     input.CampaignID,
		Type:           input.Type,
		StartAt:        input.StartAt,
		Window:         input.Window,
		RepeatInterval: input.RepeatInterval,
		MaxOccurrences: input.MaxOccurrences,
		BatchSize:      input.BatchSize,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	}
	sched.NextRun = calculateNextRun(sched, time.Now().UTC())

	s.mu.Lock()
	s.schedules[sched.ID] = sched
	snapshot := *sched
	s.mu.Unlock()

	s.persist(ctx, &snapshot)
	s.log.Info("schedule created",
		zap.String("schedule_id", sched.ID.String()),
		zap.String("campaign_id", sched.CampaignID.String()),
		zap.String("type", string(sched.Type)),
	)
	return &snapshot, nil
}

// CancelSchedule deactivates a schedule.
func (s *Scheduler) CancelSchedule(id uuid.UUID) error {
	s.mu.Lock()
	sched, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: schedule %s", apperrors.ErrNotFound, id)
	}
	sched.Active = false
	sched.NextRun = nil
	snapshot := *sched
	s.mu.Unlock()

	s.persist(context.Background(), &snapshot)
	s.log.Info("schedule cancelled", zap.String("schedule_id", id.String()))
	return nil
}

// GetSchedule returns a copy of the schedule.
func (s *Scheduler) GetSchedule(id uuid.UUID) (*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return nil, fmt.Errorf("%w: schedule %s", apperrors.ErrNotFound, id)
	}
	snapshot := *sched
	return &snapshot, nil
}

// ListSchedules returns copies of all schedules, optionally active only.
func (s *Scheduler) ListSchedules(activeOnly bool) []*Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]*Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		if activeOnly && !sched.Active {
			continue
		}
		snapshot := *sched
		results = append(results, &snapshot)
	}
	return results
}

// GetUpcoming returns active schedules due within the horizon, soonest first.
func (s *Scheduler) GetUpcoming(within time.Duration) []*Schedule {
	horizon := time.Now().UTC().Add(within)

	s.mu.Lock()
	results := make([]*Schedule, 0)
	for _, sched := range s.schedules {
		if !sched.Active || sched.NextRun == nil || sched.NextRun.After(horizon) {
			continue
		}
		snapshot := *sched
		results = append(results, &snapshot)
	}
	s.mu.Unlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].NextRun.Before(*results[j].NextRun)
	})
	return results
}

// Start spawns the tick loop. It is a no-op while a loop is already running;
// Stop cancels the loop and waits for termination, after which Start may be
// called again.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.run(runCtx)
	}()
}

// Stop cancels the tick loop and awaits its exit.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		s.checkSchedules(ctx, time.Now().UTC())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// checkSchedules executes every active schedule whose trigger time has
// arrived.
func (s *Scheduler) checkSchedules(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]*Schedule, 0)
	for _, sched := range s.schedules {
		if sched.Active && sched.NextRun != nil && !sched.NextRun.After(now) {
			due = append(due, sched)
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return
	}

	tracer := otel.Tracer("voicebatch.scheduler")
	sctx, span := tracer.Start(ctx, "scheduler.tick")
	span.SetAttributes(attribute.Int("schedules.due", len(due)))
	defer span.End()

	for _, sched := range due {
		s.executeSchedule(sctx, sched, now)
	}
}

// executeSchedule starts the campaign and advances the schedule. A failed
// start does not leave the trigger hot: immediate schedules deactivate and
// the rest back off by one tick interval.
func (s *Scheduler) executeSchedule(ctx context.Context, sched *Schedule, now time.Time) {
	// The schedule may have been cancelled or advanced between due-collection
	// and this point; recheck before starting the campaign.
	s.mu.Lock()
	stale := !sched.Active || sched.NextRun == nil || sched.NextRun.After(now)
	s.mu.Unlock()
	if stale {
		return
	}

	err := s.starter.StartCampaign(ctx, sched.CampaignID, sched.BatchSize)

	s.mu.Lock()
	if err != nil {
		if sched.Type == TypeImmediate {
			sched.Active = false
			sched.NextRun = nil
		} else {
			retry := now.Add(s.tick)
			sched.NextRun = &retry
		}
		snapshot := *sched
		s.mu.Unlock()

		s.persist(ctx, &snapshot)
		s.log.Error("schedule execution failed",
			zap.String("schedule_id", sched.ID.String()),
			zap.String("campaign_id", sched.CampaignID.String()),
			zap.Error(err),
		)
		return
	}

	ran := now
	sched.LastRun = &ran
	sched.Occurrences++
	if sched.Type == TypeRecurring {
		sched.NextRun = calculateNextRun(sched, now)
		if sched.NextRun == nil {
			sched.Active = false
		}
	} else {
		sched.Active = false
		sched.NextRun = nil
	}
	snapshot := *sched
	s.mu.Unlock()

	s.persist(ctx, &snapshot)
	s.log.Info("schedule executed",
		zap.String("schedule_id", sched.ID.String()),
		zap.String("campaign_id", sched.CampaignID.String()),
		zap.Int("occurrences", snapshot.Occurrences),
	)
}

func (s *Scheduler) persist(ctx context.Context, sched *Schedule) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveSchedule(ctx, sched); err != nil {
		s.log.Warn("schedule snapshot save failed",
			zap.String("schedule_id", sched.ID.String()),
			zap.Error(err),
		)
	}
}
