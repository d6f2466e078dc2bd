package domain

import "testing"

func TestCampaignUpdateStats(t *testing.T) {
	campaign := NewCampaign("outreach", "", CampaignConfig{}, "acct-1", "tester")
	campaign.Jobs = []*BatchJob{
		{TotalCalls: 10, CompletedCalls: 10, SuccessfulCalls: 8, FailedCalls: 2},
		{TotalCalls: 5, CompletedCalls: 2, SuccessfulCalls: 1, FailedCalls: 1},
	}

	campaign.UpdateStats()

	if campaign.TotalCalls != 15 {
		t.Errorf("total calls = %d, want 15", campaign.TotalCalls)
	}
	if campaign.CompletedCalls != 12 {
		t.Errorf("completed calls = %d, want 12", campaign.CompletedCalls)
	}
	if campaign.SuccessfulCalls != 9 {
		t.Errorf("successful calls = %d, want 9", campaign.SuccessfulCalls)
	}
	if campaign.FailedCalls != 3 {
		t.Errorf("failed calls = %d, want 3", campaign.FailedCalls)
	}
	if got := campaign.ProgressPercent(); got != 80 {
		t.Errorf("progress = %v, want 80", got)
	}
	if got := campaign.SuccessRate(); got != 75 {
		t.Errorf("success rate = %v, want 75", got)
	}
}

func TestCampaignSuccessRate(t *testing.T) {
	campaign := &Campaign{CompletedCalls: 10, SuccessfulCalls: 7}
	if got := campaign.SuccessRate(); got != 70 {
		t.Fatalf("success rate = %v, want 70", got)
	}

	empty := &Campaign{}
	if got := empty.SuccessRate(); got != 0 {
		t.Fatalf("success rate with no completed calls = %v, want 0", got)
	}
	if got := empty.ProgressPercent(); got != 0 {
		t.Fatalf("progress with no calls = %v, want 0", got)
	}
}

func TestCampaignStatusIsTerminal(t *testing.T) {
	terminal := []CampaignStatus{CampaignStatusCompleted, CampaignStatusFailed, CampaignStatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}

	active := []CampaignStatus{CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusRunning, CampaignStatusPaused}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestBatchJobProgress(t *testing.T) {
	job := &BatchJob{TotalCalls: 4, CompletedCalls: 1, SuccessfulCalls: 1}
	if got := job.ProgressPercent(); got != 25 {
		t.Errorf("job progress = %v, want 25", got)
	}
	if got := job.SuccessRate(); got != 100 {
		t.Errorf("job success rate = %v, want 100", got)
	}

	empty := &BatchJob{}
	if got := empty.ProgressPercent(); got != 0 {
		t.Errorf("empty job progress = %v, want 0", got)
	}
}
