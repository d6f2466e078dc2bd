package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/voice-batch-engine/internal/dialer"
	"github.com/acme/voice-batch-engine/internal/domain"
	apperrors "github.com/acme/voice-batch-engine/pkg/errors"
	"github.com/acme/voice-batch-engine/pkg/logger"
)

// Manager owns the campaign registry and drives batch execution. All public
// methods are safe for concurrent use; the registry and every campaign's
// mutable state are guarded by a single mutex, while the dialing itself runs
// outside the lock.
type Manager struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]*domain.Campaign
	running   map[uuid.UUID]*execution

	dialer    dialer.Dialer
	callbacks Callbacks
	store     CampaignStore
	results   ResultStore
	throttle  AccountThrottle
	log       *logger.Logger

	defaultConcurrency int
	defaultCallTimeout time.Duration
	accountConcurrency int

	wg     sync.WaitGroup
	closed bool
}

// execution tracks the cancellable task running one campaign.
type execution struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Options configures a Manager. Dialer is required; everything else has a
// working default or is optional.
type Options struct {
	Dialer             dialer.Dialer
	Callbacks          Callbacks
	Store              CampaignStore
	Results            ResultStore
	Throttle           AccountThrottle
	Logger             *logger.Logger
	DefaultConcurrency int
	DefaultCallTimeout time.Duration
	AccountConcurrency int
}

// NewManager constructs a campaign manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Dialer == nil {
		return nil, fmt.Errorf("%w: dialer is required", apperrors.ErrValidation)
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NopCallbacks{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.DefaultConcurrency <= 0 {
		opts.DefaultConcurrency = 5
	}
	if opts.DefaultCallTimeout <= 0 {
		opts.DefaultCallTimeout = 5 * time.Minute
	}

	return &Manager{
		campaigns:          make(map[uuid.UUID]*domain.Campaign),
		running:            make(map[uuid.UUID]*execution),
		dialer:             opts.Dialer,
		callbacks:          opts.Callbacks,
		store:              opts.Store,
		results:            opts.Results,
		throttle:           opts.Throttle,
		log:                opts.Logger,
		defaultConcurrency: opts.DefaultConcurrency,
		defaultCallTimeout: opts.DefaultCallTimeout,
		accountConcurrency: opts.AccountConcurrency,
	}, nil
}

// CreateCampaignInput captures campaign creation parameters.
type CreateCampaignInput struct {
	Name        string
	Description string
	Config      domain.CampaignConfig
	AccountID   string
	CreatedBy   string
}

// CreateCampaign registers a new draft campaign.
func (m *Manager) CreateCampaign(ctx context.Context, input CreateCampaignInput) (*domain.Campaign, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: campaign name is required", apperrors.ErrValidation)
	}
	if input.Config.Timezone != "" {
		if _, err := time.LoadLocation(input.Config.Timezone); err != nil {
			return nil, fmt.Errorf("%w: invalid timezone %s: %v", apperrors.ErrValidation, input.Config.Timezone, err)
		}
	}

	cfg := m.normalizeConfig(input.Config)
	campaign := domain.NewCampaign(input.Name, input.Description, cfg, input.AccountID, input.CreatedBy)

	m.mu.Lock()
	m.campaigns[campaign.ID] = campaign
	snapshot := snapshotCampaign(campaign)
	m.mu.Unlock()

	m.persist(ctx, &snapshot)
	m.log.Info("campaign created",
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("name", campaign.Name),
	)
	return &snapshot, nil
}

// ContactInput describes one dial target to add.
type ContactInput struct {
	Phone    string
	Name     string
	Email    string
	Metadata map[string]any
}

// AddContactsResult reports how many contacts were accepted.
type AddContactsResult struct {
	Added   int
	Skipped int
}

// AddContacts normalizes and appends contacts to a campaign. With validate
// set, invalid phone numbers are counted as skipped rather than failing the
// whole batch.
func (m *Manager) AddContacts(ctx context.Context, campaignID uuid.UUID, inputs []ContactInput, validate bool) (AddContactsResult, error) {
	m.mu.Lock()
	campaign, ok := m.campaigns[campaignID]
	if !ok {
		m.mu.Unlock()
		return AddContactsResult{}, fmt.Errorf("%w: campaign %s", apperrors.ErrNotFound, campaignID)
	}
	if campaign.Status != domain.CampaignStatusDraft && campaign.Status != domain.CampaignStatusScheduled {
		m.mu.Unlock()
		return AddContactsResult{}, fmt.Errorf("%w: cannot add contacts in status %s", apperrors.ErrConflict, campaign.Status)
	}

	var res AddContactsResult
	for _, in := range inputs {
		contact := domain.NewContact(in.Phone, in.Name, in.Email, in.Metadata)
		if validate && !contact.IsValidPhone() {
			res.Skipped++
			continue
		}
		campaign.Contacts = append(campaign.Contacts, contact)
		res.Added++
	}
	snapshot := snapshotCampaign(campaign)
	m.mu.Unlock()

	m.persist(ctx, &snapshot)
	m.log.Info("contacts added",
		zap.String("campaign_id", campaignID.String()),
		zap.Int("added", res.Added),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// StartCampaign partitions the contact list into jobs and launches the
// asynchronous execution task. batchSize <= 0 puts all contacts in one job.
func (m *Manager) StartCampaign(ctx context.Context, campaignID uuid.UUID, batchSize int) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("%w: manager is shut down", apperrors.ErrUnavailable)
	}
	campaign, ok := m.campaigns[campaignID]
	if !ok {
		m.mu.Unlock()
		m.log.Warn("start rejected: campaign not found", zap.String("campaign_id", campaignID.String()))
		return fmt.Errorf("%w: campaign %s", apperrors.ErrNotFound, campaignID)
	}
	if _, active := m.running[campaignID]; active {
		m.mu.Unlock()
		m.log.Warn("start rejected: campaign already running", zap.String("campaign_id", campaignID.String()))
		return fmt.Errorf("%w: campaign %s is already running", apperrors.ErrConflict, campaignID)
	}

	now := time.Now().UTC()
	campaign.Status = domain.CampaignStatusRunning
	campaign.StartedAt = &now
	campaign.CompletedAt = nil
	campaign.Jobs = partitionContacts(campaign, batchSize)
	campaign.UpdateStats()

	execCtx, cancel := context.WithCancel(context.Background())
	exec := &execution{cancel: cancel, done: make(chan struct{})}
	m.running[campaignID] = exec
	m.wg.Add(1)
	snapshot := snapshotCampaign(campaign)
	m.mu.Unlock()

	m.persist(ctx, &snapshot)
	m.log.Info("campaign started",
		zap.String("campaign_id", campaignID.String()),
		zap.Int("contacts", snapshot.TotalCalls),
		zap.Int("jobs", len(snapshot.Jobs)),
	)

	go m.executeCampaign(execCtx, campaignID, exec)
	return nil
}

// PauseCampaign stops the execution loop from starting new jobs. The job
// currently in flight drains gracefully.
func (m *Manager) PauseCampaign(campaignID uuid.UUID) error {
	return m.transition(campaignID, domain.CampaignStatusRunning, domain.CampaignStatusPaused)
}

// ResumeCampaign lets a paused execution loop continue.
func (m *Manager) ResumeCampaign(campaignID uuid.UUID) error {
	return m.transition(campaignID, domain.CampaignStatusPaused, domain.CampaignStatusRunning)
}

// CancelCampaign marks the campaign cancelled and cancels its execution task.
// Cancellation propagates into the per-call context, so in-flight calls whose
// dialer honors the context abort as well.
func (m *Manager) CancelCampaign(campaignID uuid.UUID) error {
	m.mu.Lock()
	campaign, ok := m.campaigns[campaignID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: campaign %s", apperrors.ErrNotFound, campaignID)
	}
	campaign.Status = domain.CampaignStatusCancelled
	exec := m.running[campaignID]
	delete(m.running, campaignID)
	m.mu.Unlock()

	if exec != nil {
		exec.cancel()
	}
	m.log.Info("campaign cancelled", zap.String("campaign_id", campaignID.String()))
	return nil
}

// GetCampaign returns a point-in-time copy of the campaign.
func (m *Manager) GetCampaign(campaignID uuid.UUID) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	campaign, ok := m.campaigns[campaignID]
	if !ok {
		return nil, fmt.Errorf("%w: campaign %s", apperrors.ErrNotFound, campaignID)
	}
	snapshot := snapshotCampaign(campaign)
	return &snapshot, nil
}

// ListCampaigns returns copies of campaigns, optionally filtered by account
// and status. Empty filter values match everything.
func (m *Manager) ListCampaigns(accountID string, status domain.CampaignStatus) []*domain.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]*domain.Campaign, 0, len(m.campaigns))
	for _, campaign := range m.campaigns {
		if accountID != "" && campaign.AccountID != accountID {
			continue
		}
		if status != "" && campaign.Status != status {
			continue
		}
		snapshot := snapshotCampaign(campaign)
		results = append(results, &snapshot)
	}
	return results
}

// GetCampaignResults flattens all job results in job order.
func (m *Manager) GetCampaignResults(campaignID uuid.UUID) ([]domain.CallResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	campaign, ok := m.campaigns[campaignID]
	if !ok {
		return nil, fmt.Errorf("%w: campaign %s", apperrors.ErrNotFound, campaignID)
	}

	var results []domain.CallResult
	for _, job := range campaign.Jobs {
		results = append(results, job.Results...)
	}
	return results, nil
}

// Stats is the aggregate view over a campaign's jobs.
type Stats struct {
	CampaignID      uuid.UUID
	Status          domain.CampaignStatus
	TotalCalls      int
	CompletedCalls  int
	SuccessfulCalls int
	FailedCalls     int
	ProgressPercent float64
	SuccessRate     float64
}

// GetCampaignStats computes statistics from the campaign's jobs.
func (m *Manager) GetCampaignStats(campaignID uuid.UUID) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	campaign, ok := m.campaigns[campaignID]
	if !ok {
		return Stats{}, fmt.Errorf("%w: campaign %s", apperrors.ErrNotFound, campaignID)
	}

	campaign.UpdateStats()
	return Stats{
		CampaignID:      campaign.ID,
		Status:          campaign.Status,
		TotalCalls:      campaign.TotalCalls,
		CompletedCalls:  campaign.CompletedCalls,
		SuccessfulCalls: campaign.SuccessfulCalls,
		FailedCalls:     campaign.FailedCalls,
		ProgressPercent: campaign.ProgressPercent(),
		SuccessRate:     campaign.SuccessRate(),
	}, nil
}

// Close cancels all running campaigns and waits for their tasks to drain.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	execs := make([]*execution, 0, len(m.running))
	for id, exec := range m.running {
		execs = append(execs, exec)
		if campaign, ok := m.campaigns[id]; ok {
			campaign.Status = domain.CampaignStatusCancelled
		}
	}
	m.running = make(map[uuid.UUID]*execution)
	m.mu.Unlock()

	for _, exec := range execs {
		exec.cancel()
	}
	m.wg.Wait()
}

func (m *Manager) transition(campaignID uuid.UUID, from, to domain.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	campaign, ok := m.campaigns[campaignID]
	if !ok {
		return fmt.Errorf("%w: campaign %s", apperrors.ErrNotFound, campaignID)
	}
	if campaign.Status != from {
		return fmt.Errorf("%w: campaign %s is %s, not %s", apperrors.ErrConflict, campaignID, campaign.Status, from)
	}
	campaign.Status = to
	m.log.Info("campaign status changed",
		zap.String("campaign_id", campaignID.String()),
		zap.String("status", string(to)),
	)
	return nil
}

func (m *Manager) campaignStatus(campaignID uuid.UUID) domain.CampaignStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if campaign, ok := m.campaigns[campaignID]; ok {
		return campaign.Status
	}
	return domain.CampaignStatusCancelled
}

func (m *Manager) normalizeConfig(cfg domain.CampaignConfig) domain.CampaignConfig {
	if cfg.ConcurrentCalls <= 0 {
		cfg.ConcurrentCalls = m.defaultConcurrency
	}
	if cfg.MaxCallDuration <= 0 {
		cfg.MaxCallDuration = m.defaultCallTimeout
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.RetryAttempts > 0 && cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return cfg
}

// persist writes a campaign snapshot to the store when one is configured.
func (m *Manager) persist(ctx context.Context, campaign *domain.Campaign) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveCampaign(ctx, campaign); err != nil {
		m.log.Warn("campaign snapshot save failed",
			zap.String("campaign_id", campaign.ID.String()),
			zap.Error(err),
		)
	}
}

// partitionContacts splits the contact list into ceil(N/B) jobs preserving
// the original order. Caller holds the lock.
func partitionContacts(campaign *domain.Campaign, batchSize int) []*domain.BatchJob {
	contacts := campaign.Contacts
	if batchSize <= 0 || batchSize >= len(contacts) {
		if len(contacts) == 0 {
			return nil
		}
		return []*domain.BatchJob{domain.NewBatchJob(campaign.ID, contacts, campaign.Config)}
	}

	jobs := make([]*domain.BatchJob, 0, (len(contacts)+batchSize-1)/batchSize)
	for start := 0; start < len(contacts); start += batchSize {
		end := start + batchSize
		if end > len(contacts) {
			end = len(contacts)
		}
		jobs = append(jobs, domain.NewBatchJob(campaign.ID, contacts[start:end], campaign.Config))
	}
	return jobs
}

// snapshotCampaign copies a campaign for release outside the lock. Contacts
// and results are copied by value; metadata maps are shared read-only.
func snapshotCampaign(campaign *domain.Campaign) domain.Campaign {
	snapshot := *campaign

	snapshot.Contacts = make([]*domain.Contact, len(campaign.Contacts))
	for i, contact := range campaign.Contacts {
		copied := *contact
		snapshot.Contacts[i] = &copied
	}

	snapshot.Jobs = make([]*domain.BatchJob, len(campaign.Jobs))
	for i, job := range campaign.Jobs {
		copied := *job
		copied.Results = append([]domain.CallResult(nil), job.Results...)
		copied.Contacts = make([]*domain.Contact, len(job.Contacts))
		for k, contact := range job.Contacts {
			cc := *contact
			copied.Contacts[k] = &cc
		}
		snapshot.Jobs[i] = &copied
	}
	return snapshot
}
