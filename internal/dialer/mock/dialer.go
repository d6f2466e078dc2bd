package mock

import (
	"context"
	"time"

	"github.com/acme/voice-batch-engine/internal/dialer"
	"github.com/acme/voice-batch-engine/internal/domain"
)

// Dialer simulates calls for integration runs. It is wired only when the
// configuration explicitly selects the mock provider; the engine refuses to
// run without a dialer rather than falling back to this one.
type Dialer struct {
	delay time.Duration
}

// NewDialer constructs a mock dialer that succeeds after a fixed delay.
func NewDialer(delay time.Duration) *Dialer {
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	return &Dialer{delay: delay}
}

// Dial waits the configured delay and reports success.
func (d *Dialer) Dial(ctx context.Context, contact domain.Contact, cfg domain.CampaignConfig) (dialer.Outcome, error) {
	select {
	case <-ctx.Done():
		return dialer.Outcome{}, ctx.Err()
	case <-time.After(d.delay):
	}

	return dialer.Outcome{
		Outcome:         domain.OutcomeSuccess,
		DurationSeconds: d.delay.Seconds(),
		Transcript:      "simulated call",
	}, nil
}
