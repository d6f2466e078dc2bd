package queue

import (
	"time"

	"github.com/google/uuid"
)

// CallEvent is emitted for every call start and completion.
type CallEvent struct {
	Event           string         `json:"event"`
	CampaignID      uuid.UUID      `json:"campaign_id"`
	JobID           uuid.UUID      `json:"job_id,omitempty"`
	Phone           string         `json:"phone"`
	Status          string         `json:"status,omitempty"`
	Outcome         string         `json:"outcome,omitempty"`
	DurationSeconds float64        `json:"duration_seconds,omitempty"`
	ExtractedData   map[string]any `json:"extracted_data,omitempty"`
	Error           string         `json:"error,omitempty"`
	OccurredAt      time.Time      `json:"occurred_at"`
}

// CampaignEvent is emitted on campaign progress and completion.
type CampaignEvent struct {
	Event           string    `json:"event"`
	CampaignID      uuid.UUID `json:"campaign_id"`
	Name            string    `json:"name"`
	Status          string    `json:"status"`
	ProgressPercent float64   `json:"progress_percent"`
	SuccessRate     float64   `json:"success_rate"`
	TotalCalls      int       `json:"total_calls"`
	CompletedCalls  int       `json:"completed_calls"`
	OccurredAt      time.Time `json:"occurred_at"`
}

const (
	EventCallStarted       = "call.started"
	EventCallCompleted     = "call.completed"
	EventCampaignProgress  = "campaign.progress"
	EventCampaignCompleted = "campaign.completed"
)
