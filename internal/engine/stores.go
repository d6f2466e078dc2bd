package engine

import (
	"context"

	"github.com/acme/voice-batch-engine/internal/domain"
)

// CampaignStore is an optional write-through sink for campaign snapshots.
// The in-memory registry stays authoritative; the store is a durable copy.
type CampaignStore interface {
	SaveCampaign(ctx context.Context, campaign *domain.Campaign) error
}

// ResultStore is an optional write-through sink for call results.
type ResultStore interface {
	AppendResult(ctx context.Context, result domain.CallResult) error
}

// AccountThrottle caps concurrent calls per account across campaigns.
type AccountThrottle interface {
	Acquire(ctx context.Context, accountID string, limit int) (bool, error)
	Release(ctx context.Context, accountID string) error
}
