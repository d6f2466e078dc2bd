package scylla

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/voice-batch-engine/internal/domain"
)

// ResultStore persists call results in Scylla, partitioned by campaign and
// day bucket so a campaign's results stay queryable after an engine restart.
type ResultStore struct {
	session *gocql.Session
}

// NewResultStore creates a new result store.
func NewResultStore(session *gocql.Session) *ResultStore {
	return &ResultStore{session: session}
}

// AppendResult inserts one call result.
func (s *ResultStore) AppendResult(ctx context.Context, result domain.CallResult) error {
	var outcome string
	if result.Outcome != nil {
		outcome = string(*result.Outcome)
	}

	extracted, err := json.Marshal(result.ExtractedData)
	if err != nil {
		return fmt.Errorf("result store: marshal extracted data: %w", err)
	}

	if err := s.session.Query(`INSERT INTO results_by_campaign
		(campaign_id, bucket, job_id, phone, contact_name, status, outcome, duration_seconds,
		 started_at, ended_at, transcript, extracted_data, recording_url, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.CampaignID.String(), bucketDate(result.StartedAt), result.JobID.String(),
		result.Phone, result.ContactName, string(result.Status), outcome, result.DurationSeconds,
		result.StartedAt, result.EndedAt, result.Transcript, string(extracted), result.RecordingURL, result.Error,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("result store: insert: %w", err)
	}
	return nil
}

// ListByCampaign pages through a campaign's archived results.
func (s *ResultStore) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.CallResult, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.session.Query(`SELECT bucket, job_id, phone, contact_name, status, outcome, duration_seconds,
		started_at, ended_at, transcript, extracted_data, recording_url, error
		FROM results_by_campaign WHERE campaign_id = ?`, campaignID.String()).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	results := make([]domain.CallResult, 0, limit)

	var (
		bucket     time.Time
		jobIDStr   string
		phone      string
		name       string
		status     string
		outcome    string
		duration   float64
		started    time.Time
		ended      time.Time
		transcript string
		extracted  string
		recording  string
		callError  string
	)

	for iter.Scan(&bucket, &jobIDStr, &phone, &name, &status, &outcome, &duration,
		&started, &ended, &transcript, &extracted, &recording, &callError) {
		jobID, err := uuid.Parse(jobIDStr)
		if err != nil {
			continue
		}

		result := domain.CallResult{
			CampaignID:      campaignID,
			JobID:           jobID,
			Phone:           phone,
			ContactName:     name,
			Status:          domain.ContactStatus(status),
			DurationSeconds: duration,
			StartedAt:       started,
			EndedAt:         ended,
			Transcript:      transcript,
			RecordingURL:    recording,
			Error:           callError,
		}
		if outcome != "" {
			value := domain.CallOutcome(outcome)
			result.Outcome = &value
		}
		if extracted != "" {
			var data map[string]any
			if err := json.Unmarshal([]byte(extracted), &data); err == nil {
				result.ExtractedData = data
			}
		}
		results = append(results, result)
	}

	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("result store: iter close: %w", err)
	}

	return results, iter.PageState(), nil
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
