package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s CampaignStatus) IsTerminal() bool {
	switch s {
	case CampaignStatusCompleted, CampaignStatusFailed, CampaignStatusCancelled:
		return true
	}
	return false
}

// CampaignConfig carries per-campaign execution settings. Provider selections
// are opaque strings passed through to the dialer; Metadata is the side
// channel for unstructured extensions.
type CampaignConfig struct {
	ConcurrentCalls   int
	MaxCallDuration   time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
	CallWindowStart   string
	CallWindowEnd     string
	Timezone          string
	ExcludeWeekends   bool
	STTProvider       string
	TTSProvider       string
	LLMProvider       string
	TelephonyProvider string
	Metadata          map[string]string
}

// Campaign is a named batch-calling effort over a list of contacts.
type Campaign struct {
	ID          uuid.UUID
	Name        string
	Description string
	Config      CampaignConfig
	Status      CampaignStatus
	Contacts    []*Contact
	Jobs        []*BatchJob
	AccountID   string
	CreatedBy   string

	// Aggregates are a cache over Jobs, refreshed by UpdateStats.
	TotalCalls      int
	CompletedCalls  int
	SuccessfulCalls int
	FailedCalls     int

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// NewCampaign builds a draft campaign.
func NewCampaign(name, description string, cfg CampaignConfig, accountID, createdBy string) *Campaign {
	return &Campaign{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		Config:      cfg,
		Status:      CampaignStatusDraft,
		AccountID:   accountID,
		CreatedBy:   createdBy,
		CreatedAt:   time.Now().UTC(),
	}
}

// UpdateStats recomputes the aggregate counters from the jobs.
func (c *Campaign) UpdateStats() {
	c.TotalCalls = 0
	c.CompletedCalls = 0
	c.SuccessfulCalls = 0
	c.FailedCalls = 0
	for _, job := range c.Jobs {
		c.TotalCalls += job.TotalCalls
		c.CompletedCalls += job.CompletedCalls
		c.SuccessfulCalls += job.SuccessfulCalls
		c.FailedCalls += job.FailedCalls
	}
}

// ProgressPercent returns the share of contacts processed across all jobs.
func (c *Campaign) ProgressPercent() float64 {
	if c.TotalCalls == 0 {
		return 0
	}
	return float64(c.CompletedCalls) / float64(c.TotalCalls) * 100
}

// SuccessRate returns the share of completed calls that succeeded.
func (c *Campaign) SuccessRate() float64 {
	if c.CompletedCalls == 0 {
		return 0
	}
	return float64(c.SuccessfulCalls) / float64(c.CompletedCalls) * 100
}
