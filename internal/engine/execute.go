package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/acme/voice-batch-engine/internal/dialer"
	"github.com/acme/voice-batch-engine/internal/domain"
)

// executeCampaign runs the campaign's jobs strictly in order. It is the only
// writer of job state while it runs; all mutations go through the manager
// lock so readers always see a consistent view.
func (m *Manager) executeCampaign(ctx context.Context, campaignID uuid.UUID, exec *execution) {
	defer m.wg.Done()
	defer close(exec.done)

	defer func() {
		if r := recover(); r != nil {
			m.mu.Lock()
			if campaign, ok := m.campaigns[campaignID]; ok {
				campaign.Status = domain.CampaignStatusFailed
			}
			if m.running[campaignID] == exec {
				delete(m.running, campaignID)
			}
			m.mu.Unlock()
			m.log.Error("campaign execution panicked",
				zap.String("campaign_id", campaignID.String()),
				zap.Any("panic", r),
			)
		}
	}()

	tracer := otel.Tracer("voicebatch.engine")
	sctx, span := tracer.Start(ctx, "campaign.execute", trace.WithAttributes(
		attribute.String("campaign.id", campaignID.String()),
	))
	defer span.End()

	jobCount := m.jobCount(campaignID)
	for idx := 0; idx < jobCount; idx++ {
		if !m.waitRunnable(sctx, campaignID) {
			m.log.Info("campaign execution stopped",
				zap.String("campaign_id", campaignID.String()),
				zap.Int("jobs_done", idx),
			)
			m.finalize(campaignID, exec, false)
			return
		}
		m.executeJob(sctx, campaignID, idx)
	}

	m.finalize(campaignID, exec, true)
}

// waitRunnable blocks while the campaign is paused and reports false once it
// is cancelled or the execution context ends.
func (m *Manager) waitRunnable(ctx context.Context, campaignID uuid.UUID) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		switch m.campaignStatus(campaignID) {
		case domain.CampaignStatusRunning:
			return true
		case domain.CampaignStatusPaused:
			select {
			case <-ctx.Done():
				return false
			case <-time.After(200 * time.Millisecond):
			}
		default:
			return false
		}
	}
}

// finalize settles the campaign's terminal state and fires the completion
// callback when the run finished all jobs. The registry entry is removed only
// when it still belongs to this execution; a cancelled campaign may have been
// restarted while this task was draining.
func (m *Manager) finalize(campaignID uuid.UUID, exec *execution, completed bool) {
	m.mu.Lock()
	if m.running[campaignID] == exec {
		delete(m.running, campaignID)
	}
	campaign, ok := m.campaigns[campaignID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if completed && !campaign.Status.IsTerminal() {
		now := time.Now().UTC()
		campaign.Status = domain.CampaignStatusCompleted
		campaign.CompletedAt = &now
	}
	campaign.UpdateStats()
	snapshot := snapshotCampaign(campaign)
	m.mu.Unlock()

	m.persist(context.Background(), &snapshot)
	if completed {
		m.log.Info("campaign completed",
			zap.String("campaign_id", campaignID.String()),
			zap.Int("total", snapshot.TotalCalls),
			zap.Int("successful", snapshot.SuccessfulCalls),
			zap.Int("failed", snapshot.FailedCalls),
		)
		m.emitCompleted(snapshot)
	}
}

// executeJob fans out the job's contacts under the concurrency cap. Every
// call runs independently; a failing call is captured as a failed result and
// never aborts its siblings.
func (m *Manager) executeJob(ctx context.Context, campaignID uuid.UUID, jobIdx int) {
	m.mu.Lock()
	campaign, ok := m.campaigns[campaignID]
	if !ok || jobIdx >= len(campaign.Jobs) {
		m.mu.Unlock()
		return
	}
	job := campaign.Jobs[jobIdx]
	now := time.Now().UTC()
	job.Status = domain.CampaignStatusRunning
	job.StartedAt = &now
	contacts := job.Contacts
	cfg := job.Config
	accountID := campaign.AccountID
	m.mu.Unlock()

	tracer := otel.Tracer("voicebatch.engine")
	jctx, span := tracer.Start(ctx, "job.execute", trace.WithAttributes(
		attribute.String("job.id", job.ID.String()),
		attribute.Int("job.contacts", len(contacts)),
		attribute.Int("job.concurrency", cfg.ConcurrentCalls),
	))
	defer span.End()

	limit := int64(cfg.ConcurrentCalls)
	if limit <= 0 {
		limit = int64(m.defaultConcurrency)
	}
	sem := semaphore.NewWeighted(limit)

	done := make(chan struct{})
	pending := len(contacts)
	if pending == 0 {
		close(done)
	}
	for _, contact := range contacts {
		go func(contact *domain.Contact) {
			defer func() {
				m.mu.Lock()
				pending--
				last := pending == 0
				m.mu.Unlock()
				if last {
					close(done)
				}
			}()

			if err := sem.Acquire(jctx, 1); err != nil {
				m.recordSkipped(campaignID, job, contact)
				return
			}
			defer sem.Release(1)

			result := m.executeCall(jctx, campaignID, job.ID, accountID, contact, cfg)
			m.recordResult(campaignID, job, result)
		}(contact)
	}
	<-done

	m.mu.Lock()
	end := time.Now().UTC()
	if jctx.Err() != nil {
		job.Status = domain.CampaignStatusCancelled
	} else {
		job.Status = domain.CampaignStatusCompleted
	}
	job.CompletedAt = &end
	m.mu.Unlock()
}

// executeCall marks the contact in progress, invokes the dialer with the
// configured timeout and retry budget, and converts the outcome or error into
// an immutable CallResult. This is the failure isolation boundary: nothing
// above it sees a dialer error.
func (m *Manager) executeCall(ctx context.Context, campaignID, jobID uuid.UUID, accountID string, contact *domain.Contact, cfg domain.CampaignConfig) domain.CallResult {
	m.mu.Lock()
	now := time.Now().UTC()
	contact.Status = domain.ContactStatusInProgress
	contact.Attempts++
	contact.LastAttempt = &now
	started := *contact
	m.mu.Unlock()

	m.emitCallStarted(started)

	release := m.acquireAccountSlot(ctx, accountID)
	if release != nil {
		defer release()
	}

	timeout := cfg.MaxCallDuration
	if timeout <= 0 {
		timeout = m.defaultCallTimeout
	}

	var (
		out     dialer.Outcome
		callErr error
	)
	attempts := 1 + cfg.RetryAttempts
	startedAt := time.Now().UTC()
	for attempt := 0; attempt < attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		out, callErr = m.dialer.Dial(callCtx, started, cfg)
		cancel()
		if callErr == nil || ctx.Err() != nil {
			break
		}
		if attempt+1 < attempts {
			select {
			case <-ctx.Done():
			case <-time.After(cfg.RetryDelay):
			}
		}
	}
	endedAt := time.Now().UTC()

	result := domain.CallResult{
		CampaignID:  campaignID,
		JobID:       jobID,
		Phone:       started.Phone,
		ContactName: started.Name,
		StartedAt:   startedAt,
		EndedAt:     endedAt,
	}

	switch {
	case callErr == nil:
		result.Status = domain.ContactStatusCompleted
		reported := out.Outcome
		if reported == "" {
			reported = domain.OutcomeSuccess
		}
		result.Outcome = &reported
		result.DurationSeconds = out.DurationSeconds
		result.Transcript = out.Transcript
		result.ExtractedData = out.ExtractedData
		result.RecordingURL = out.RecordingURL
	case errors.Is(callErr, context.Canceled) && ctx.Err() != nil:
		result.Status = domain.ContactStatusCancelled
		result.Error = "call cancelled"
	case errors.Is(callErr, context.DeadlineExceeded):
		result.Status = domain.ContactStatusFailed
		result.Error = fmt.Sprintf("call timed out after %s", timeout)
	default:
		result.Status = domain.ContactStatusFailed
		result.Error = callErr.Error()
	}

	m.mu.Lock()
	contact.Status = result.Status
	contact.Outcome = result.Outcome
	m.mu.Unlock()

	if callErr != nil {
		m.log.Debug("call failed",
			zap.String("campaign_id", campaignID.String()),
			zap.String("phone", started.Phone),
			zap.String("error", result.Error),
		)
	}
	return result
}

// recordResult folds a finished call into the job counters and emits the
// per-call and progress callbacks.
func (m *Manager) recordResult(campaignID uuid.UUID, job *domain.BatchJob, result domain.CallResult) {
	m.mu.Lock()
	job.Results = append(job.Results, result)
	job.CompletedCalls++
	if result.Status == domain.ContactStatusCompleted {
		job.SuccessfulCalls++
	} else {
		job.FailedCalls++
	}

	var progress float64
	var snapshot domain.Campaign
	campaign, ok := m.campaigns[campaignID]
	if ok {
		campaign.UpdateStats()
		progress = campaign.ProgressPercent()
		snapshot = snapshotCampaign(campaign)
	}
	m.mu.Unlock()

	if m.results != nil {
		if err := m.results.AppendResult(context.Background(), result); err != nil {
			m.log.Warn("result sink append failed",
				zap.String("campaign_id", campaignID.String()),
				zap.Error(err),
			)
		}
	}

	m.emitCallCompleted(result)
	if ok {
		m.emitProgress(snapshot, progress)
	}
}

// recordSkipped accounts for a contact whose slot acquisition was cancelled
// before the call could start.
func (m *Manager) recordSkipped(campaignID uuid.UUID, job *domain.BatchJob, contact *domain.Contact) {
	m.mu.Lock()
	contact.Status = domain.ContactStatusCancelled
	m.mu.Unlock()

	m.recordResult(campaignID, job, domain.CallResult{
		CampaignID: campaignID,
		JobID:      job.ID,
		Phone:      contact.Phone,
		Status:     domain.ContactStatusCancelled,
		Error:      "call cancelled",
		StartedAt:  time.Now().UTC(),
		EndedAt:    time.Now().UTC(),
	})
}

// acquireAccountSlot blocks until the account-level throttle admits the call,
// polling the same way the per-campaign limiter consumers do. Returns nil
// when no throttle is configured.
func (m *Manager) acquireAccountSlot(ctx context.Context, accountID string) func() {
	if m.throttle == nil || accountID == "" || m.accountConcurrency <= 0 {
		return nil
	}

	for {
		acquired, err := m.throttle.Acquire(ctx, accountID, m.accountConcurrency)
		if err != nil {
			m.log.Warn("account throttle acquire failed", zap.Error(err))
			return nil
		}
		if acquired {
			return func() {
				if err := m.throttle.Release(context.Background(), accountID); err != nil {
					m.log.Warn("account throttle release failed", zap.Error(err))
				}
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (m *Manager) jobCount(campaignID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if campaign, ok := m.campaigns[campaignID]; ok {
		return len(campaign.Jobs)
	}
	return 0
}
