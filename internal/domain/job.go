package domain

import (
	"time"

	"github.com/google/uuid"
)

// BatchJob is a partition of a campaign's contact list. Jobs run strictly in
// creation order; contacts inside a job fan out concurrently.
type BatchJob struct {
	ID              uuid.UUID
	CampaignID      uuid.UUID
	Contacts        []*Contact
	Config          CampaignConfig
	Status          CampaignStatus
	TotalCalls      int
	CompletedCalls  int
	SuccessfulCalls int
	FailedCalls     int
	Results         []CallResult
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// NewBatchJob builds a job over the given slice of a campaign's contacts.
func NewBatchJob(campaignID uuid.UUID, contacts []*Contact, cfg CampaignConfig) *BatchJob {
	return &BatchJob{
		ID:         uuid.New(),
		CampaignID: campaignID,
		Contacts:   contacts,
		Config:     cfg,
		Status:     CampaignStatusDraft,
		TotalCalls: len(contacts),
		CreatedAt:  time.Now().UTC(),
	}
}

// ProgressPercent returns the share of contacts processed so far.
func (j *BatchJob) ProgressPercent() float64 {
	if j.TotalCalls == 0 {
		return 0
	}
	return float64(j.CompletedCalls) / float64(j.TotalCalls) * 100
}

// SuccessRate returns the share of completed calls that succeeded.
func (j *BatchJob) SuccessRate() float64 {
	if j.CompletedCalls == 0 {
		return 0
	}
	return float64(j.SuccessfulCalls) / float64(j.CompletedCalls) * 100
}
