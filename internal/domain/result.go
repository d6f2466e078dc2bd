package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallResult is the immutable record of one call attempt. It is created
// exactly once per attempt by the campaign manager and never mutated.
type CallResult struct {
	CampaignID      uuid.UUID
	JobID           uuid.UUID
	Phone           string
	ContactName     string
	Status          ContactStatus
	Outcome         *CallOutcome
	DurationSeconds float64
	StartedAt       time.Time
	EndedAt         time.Time
	Transcript      string
	ExtractedData   map[string]any
	RecordingURL    string
	Error           string
}
