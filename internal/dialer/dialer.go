package dialer

import (
	"context"

	"github.com/acme/voice-batch-engine/internal/domain"
)

// Outcome captures what the voice pipeline reported for one call.
type Outcome struct {
	Outcome         domain.CallOutcome
	DurationSeconds float64
	Transcript      string
	ExtractedData   map[string]any
	RecordingURL    string
}

// Dialer places a single outbound call and returns its outcome. The engine
// never dials itself; implementations wrap the actual voice pipeline. Dial
// must be safe for concurrent use and must honor context cancellation.
type Dialer interface {
	Dial(ctx context.Context, contact domain.Contact, cfg domain.CampaignConfig) (Outcome, error)
}
