package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/acme/voice-batch-engine/internal/domain"
)

// CampaignStore persists point-in-time campaign snapshots. The engine's
// in-memory registry is authoritative; rows here are durable copies consumed
// by reporting queries.
type CampaignStore struct {
	db *sqlx.DB
}

// NewCampaignStore constructs the store.
func NewCampaignStore(db *sqlx.DB) *CampaignStore {
	return &CampaignStore{db: db}
}

// SaveCampaign upserts the campaign row and replaces its contact rows in one
// transaction.
func (s *CampaignStore) SaveCampaign(ctx context.Context, campaign *domain.Campaign) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		q := `INSERT INTO campaigns (
			id, name, description, account_id, created_by, status,
			concurrent_calls, max_call_duration_ms, retry_attempts, retry_delay_ms,
			call_window_start, call_window_end, timezone, exclude_weekends,
			total_calls, completed_calls, successful_calls, failed_calls,
			created_at, started_at, completed_at
		) VALUES (
			:id, :name, :description, :account_id, :created_by, :status,
			:concurrent_calls, :max_call_duration_ms, :retry_attempts, :retry_delay_ms,
			:call_window_start, :call_window_end, :timezone, :exclude_weekends,
			:total_calls, :completed_calls, :successful_calls, :failed_calls,
			:created_at, :started_at, :completed_at
		) ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			concurrent_calls = EXCLUDED.concurrent_calls,
			max_call_duration_ms = EXCLUDED.max_call_duration_ms,
			retry_attempts = EXCLUDED.retry_attempts,
			retry_delay_ms = EXCLUDED.retry_delay_ms,
			total_calls = EXCLUDED.total_calls,
			completed_calls = EXCLUDED.completed_calls,
			successful_calls = EXCLUDED.successful_calls,
			failed_calls = EXCLUDED.failed_calls,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			updated_at = NOW()`

		params := map[string]any{
			"id":                   campaign.ID,
			"name":                 campaign.Name,
			"description":          campaign.Description,
			"account_id":           campaign.AccountID,
			"created_by":           campaign.CreatedBy,
			"status":               campaign.Status,
			"concurrent_calls":     campaign.Config.ConcurrentCalls,
			"max_call_duration_ms": campaign.Config.MaxCallDuration.Milliseconds(),
			"retry_attempts":       campaign.Config.RetryAttempts,
			"retry_delay_ms":       campaign.Config.RetryDelay.Milliseconds(),
			"call_window_start":    campaign.Config.CallWindowStart,
			"call_window_end":      campaign.Config.CallWindowEnd,
			"timezone":             campaign.Config.Timezone,
			"exclude_weekends":     campaign.Config.ExcludeWeekends,
			"total_calls":          campaign.TotalCalls,
			"completed_calls":      campaign.CompletedCalls,
			"successful_calls":     campaign.SuccessfulCalls,
			"failed_calls":         campaign.FailedCalls,
			"created_at":           campaign.CreatedAt,
			"started_at":           campaign.StartedAt,
			"completed_at":         campaign.CompletedAt,
		}

		if _, err := tx.NamedExecContext(ctx, q, params); err != nil {
			return fmt.Errorf("campaign store: upsert: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_contacts WHERE campaign_id = $1`, campaign.ID); err != nil {
			return fmt.Errorf("campaign store: delete contacts: %w", err)
		}

		if len(campaign.Contacts) == 0 {
			return nil
		}

		stmt, err := tx.PreparexContext(ctx, `INSERT INTO campaign_contacts
			(campaign_id, position, phone, name, email, status, outcome, attempts, last_attempt_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
		if err != nil {
			return fmt.Errorf("campaign store: prepare contacts insert: %w", err)
		}
		defer stmt.Close()

		for i, contact := range campaign.Contacts {
			var outcome *string
			if contact.Outcome != nil {
				v := string(*contact.Outcome)
				outcome = &v
			}
			if _, err := stmt.ExecContext(ctx, campaign.ID, i, contact.Phone, contact.Name, contact.Email,
				string(contact.Status), outcome, contact.Attempts, contact.LastAttempt); err != nil {
				return fmt.Errorf("campaign store: insert contact: %w", err)
			}
		}
		return nil
	})
}
