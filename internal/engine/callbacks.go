package engine

import "github.com/acme/voice-batch-engine/internal/domain"

// Callbacks receives engine lifecycle events. Implementations must return
// quickly; the engine invokes them on their own goroutines and never waits.
type Callbacks interface {
	OnCallStarted(contact domain.Contact)
	OnCallCompleted(result domain.CallResult)
	OnCampaignProgress(campaign domain.Campaign, percent float64)
	OnCampaignCompleted(campaign domain.Campaign)
}

// NopCallbacks ignores all events.
type NopCallbacks struct{}

func (NopCallbacks) OnCallStarted(domain.Contact)                {}
func (NopCallbacks) OnCallCompleted(domain.CallResult)           {}
func (NopCallbacks) OnCampaignProgress(domain.Campaign, float64) {}
func (NopCallbacks) OnCampaignCompleted(domain.Campaign)         {}

func (m *Manager) emitCallStarted(contact domain.Contact) {
	go m.callbacks.OnCallStarted(contact)
}

func (m *Manager) emitCallCompleted(result domain.CallResult) {
	go m.callbacks.OnCallCompleted(result)
}

func (m *Manager) emitProgress(campaign domain.Campaign, percent float64) {
	go m.callbacks.OnCampaignProgress(campaign, percent)
}

func (m *Manager) emitCompleted(campaign domain.Campaign) {
	go m.callbacks.OnCampaignCompleted(campaign)
}
