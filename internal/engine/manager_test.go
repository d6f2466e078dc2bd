package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-batch-engine/internal/dialer"
	"github.com/acme/voice-batch-engine/internal/domain"
)

// fakeDialer is an instrumented dialer for exercising the engine without a
// voice pipeline. fail decides per contact whether the call errors; block and
// delay simulate calls in flight.
type fakeDialer struct {
	mu     sync.Mutex
	calls  int
	active int
	peak   int

	delay time.Duration
	block chan struct{}
	fail  func(contact domain.Contact) error
}

func (d *fakeDialer) Dial(ctx context.Context, contact domain.Contact, cfg domain.CampaignConfig) (dialer.Outcome, error) {
	d.mu.Lock()
	d.calls++
	d.active++
	if d.active > d.peak {
		d.peak = d.active
	}
	delay := d.delay
	block := d.block
	fail := d.fail
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.active--
		d.mu.Unlock()
	}()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return dialer.Outcome{}, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return dialer.Outcome{}, ctx.Err()
		}
	}
	if fail != nil {
		if err := fail(contact); err != nil {
			return dialer.Outcome{}, err
		}
	}
	return dialer.Outcome{
		Outcome:         domain.OutcomeSuccess,
		DurationSeconds: 1,
		Transcript:      "test call",
	}, nil
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) peakConcurrency() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peak
}

func newTestManager(t *testing.T, d dialer.Dialer) *Manager {
	t.Helper()
	m, err := NewManager(Options{Dialer: d})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func createCampaignWithContacts(t *testing.T, m *Manager, n int, cfg domain.CampaignConfig) *domain.Campaign {
	t.Helper()
	campaign, err := m.CreateCampaign(context.Background(), CreateCampaignInput{
		Name:      "test campaign",
		Config:    cfg,
		AccountID: "acct-1",
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	inputs := make([]ContactInput, 0, n)
	for i := 0; i < n; i++ {
		inputs = append(inputs, ContactInput{Phone: fmt.Sprintf("+1415555%04d", i)})
	}
	if _, err := m.AddContacts(context.Background(), campaign.ID, inputs, false); err != nil {
		t.Fatalf("add contacts: %v", err)
	}
	return campaign
}

func waitForStatus(t *testing.T, m *Manager, id uuid.UUID, want domain.CampaignStatus) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		campaign, err := m.GetCampaign(id)
		if err != nil {
			t.Fatalf("get campaign: %v", err)
		}
		if campaign.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	campaign, _ := m.GetCampaign(id)
	t.Fatalf("campaign never reached %s, stuck at %s", want, campaign.Status)
}

func TestNewManagerRequiresDialer(t *testing.T) {
	if _, err := NewManager(Options{}); err == nil {
		t.Fatal("expected error when no dialer is configured")
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	m := newTestManager(t, &fakeDialer{})

	if _, err := m.CreateCampaign(context.Background(), CreateCampaignInput{}); err == nil {
		t.Error("expected error for empty name")
	}

	_, err := m.CreateCampaign(context.Background(), CreateCampaignInput{
		Name:   "bad tz",
		Config: domain.CampaignConfig{Timezone: "Mars/Olympus"},
	})
	if err == nil {
		t.Error("expected error for invalid timezone")
	}
}

func TestCreateCampaignAppliesDefaults(t *testing.T) {
	m := newTestManager(t, &fakeDialer{})

	campaign, err := m.CreateCampaign(context.Background(), CreateCampaignInput{Name: "defaults"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if campaign.Status != domain.CampaignStatusDraft {
		t.Errorf("status = %s, want draft", campaign.Status)
	}
	if campaign.Config.ConcurrentCalls != 5 {
		t.Errorf("concurrent calls = %d, want default 5", campaign.Config.ConcurrentCalls)
	}
	if campaign.Config.MaxCallDuration != 5*time.Minute {
		t.Errorf("max call duration = %s, want default 5m", campaign.Config.MaxCallDuration)
	}
}

func TestAddContactsValidation(t *testing.T) {
	m := newTestManager(t, &fakeDialer{})
	campaign, err := m.CreateCampaign(context.Background(), CreateCampaignInput{Name: "contacts"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := m.AddContacts(context.Background(), campaign.ID, []ContactInput{
		{Phone: "+14155551234"},
		{Phone: "not a phone"},
	}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Added != 1 || res.Skipped != 1 {
		t.Fatalf("added=%d skipped=%d, want 1/1", res.Added, res.Skipped)
	}

	if _, err := m.AddContacts(context.Background(), uuid.New(), nil, false); err == nil {
		t.Error("expected error for unknown campaign")
	}
}

func TestPartitionContacts(t *testing.T) {
	campaign := domain.NewCampaign("parts", "", domain.CampaignConfig{}, "", "")
	for i := 0; i < 10; i++ {
		campaign.Contacts = append(campaign.Contacts, domain.NewContact(fmt.Sprintf("+1415555%04d", i), "", "", nil))
	}

	jobs := partitionContacts(campaign, 3)
	if len(jobs) != 4 {
		t.Fatalf("job count = %d, want 4", len(jobs))
	}
	sizes := []int{3, 3, 3, 1}
	idx := 0
	for j, job := range jobs {
		if len(job.Contacts) != sizes[j] {
			t.Errorf("job %d size = %d, want %d", j, len(job.Contacts), sizes[j])
		}
		for _, contact := range job.Contacts {
			want := fmt.Sprintf("+1415555%04d", idx)
			if contact.Phone != want {
				t.Errorf("contact order broken: got %s, want %s", contact.Phone, want)
			}
			idx++
		}
	}

	if jobs := partitionContacts(campaign, 0); len(jobs) != 1 {
		t.Errorf("batchSize 0 should yield a single job, got %d", len(jobs))
	}
	if jobs := partitionContacts(campaign, 100); len(jobs) != 1 {
		t.Errorf("oversized batch should yield a single job, got %d", len(jobs))
	}

	empty := domain.NewCampaign("empty", "", domain.CampaignConfig{}, "", "")
	if jobs := partitionContacts(empty, 3); jobs != nil {
		t.Errorf("empty campaign should yield no jobs, got %d", len(jobs))
	}
}

func TestCampaignRunsToCompletion(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)
	campaign := createCampaignWithContacts(t, m, 10, domain.CampaignConfig{ConcurrentCalls: 4})

	if err := m.StartCampaign(context.Background(), campaign.ID, 3); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForStatus(t, m, campaign.ID, domain.CampaignStatusCompleted)

	if d.callCount() != 10 {
		t.Errorf("dial count = %d, want 10", d.callCount())
	}

	stats, err := m.GetCampaignStats(campaign.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalCalls != 10 || stats.CompletedCalls != 10 || stats.SuccessfulCalls != 10 {
		t.Errorf("stats = %+v, want 10/10/10", stats)
	}
	if stats.ProgressPercent != 100 || stats.SuccessRate != 100 {
		t.Errorf("progress=%v success=%v, want 100/100", stats.ProgressPercent, stats.SuccessRate)
	}

	results, err := m.GetCampaignResults(campaign.ID)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results) != 10 {
		t.Fatalf("result count = %d, want 10", len(results))
	}
	for _, r := range results {
		if r.Status != domain.ContactStatusCompleted {
			t.Errorf("result for %s has status %s, want completed", r.Phone, r.Status)
		}
		if r.Outcome == nil || *r.Outcome != domain.OutcomeSuccess {
			t.Errorf("result for %s missing success outcome", r.Phone)
		}
	}

	final, _ := m.GetCampaign(campaign.ID)
	if final.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if len(final.Jobs) != 4 {
		t.Errorf("job count = %d, want 4", len(final.Jobs))
	}
}

func TestConcurrencyCap(t *testing.T) {
	d := &fakeDialer{delay: 30 * time.Millisecond}
	m := newTestManager(t, d)
	campaign := createCampaignWithContacts(t, m, 12, domain.CampaignConfig{ConcurrentCalls: 2})

	if err := m.StartCampaign(context.Background(), campaign.ID, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForStatus(t, m, campaign.ID, domain.CampaignStatusCompleted)

	if peak := d.peakConcurrency(); peak > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak)
	}
	if d.callCount() != 12 {
		t.Fatalf("dial count = %d, want 12", d.callCount())
	}
}

func TestFailureIsolation(t *testing.T) {
	bad := "+14155550003"
	d := &fakeDialer{
		fail: func(contact domain.Contact) error {
			if contact.Phone == bad {
				return errors.New("carrier rejected")
			}
			return nil
		},
	}
	m := newTestManager(t, d)
	campaign := createCampaignWithContacts(t, m, 6, domain.CampaignConfig{ConcurrentCalls: 3})

	if err := m.StartCampaign(context.Background(), campaign.ID, 2); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForStatus(t, m, campaign.ID, domain.CampaignStatusCompleted)

	stats, err := m.GetCampaignStats(campaign.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.CompletedCalls != 6 {
		t.Errorf("completed = %d, want 6", stats.CompletedCalls)
	}
	if stats.FailedCalls != 1 || stats.SuccessfulCalls != 5 {
		t.Errorf("failed=%d successful=%d, want 1/5", stats.FailedCalls, stats.SuccessfulCalls)
	}

	results, _ := m.GetCampaignResults(campaign.ID)
	for _, r := range results {
		if r.Phone == bad {
			if r.Status != domain.ContactStatusFailed || r.Error != "carrier rejected" {
				t.Errorf("bad contact result = %+v, want failed with carrier error", r)
			}
		} else if r.Status != domain.ContactStatusCompleted {
			t.Errorf("sibling call for %s was dragged down: %+v", r.Phone, r)
		}
	}
}

func TestCallTimeoutBecomesFailedResult(t *testing.T) {
	d := &fakeDialer{delay: time.Second}
	m := newTestManager(t, d)
	campaign := createCampaignWithContacts(t, m, 1, domain.CampaignConfig{
		MaxCallDuration: 20 * time.Millisecond,
	})

	if err := m.StartCampaign(context.Background(), campaign.ID, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForStatus(t, m, campaign.ID, domain.CampaignStatusCompleted)

	results, _ := m.GetCampaignResults(campaign.ID)
	if len(results) != 1 {
		t.Fatalf("result count = %d, want 1", len(results))
	}
	if results[0].Status != domain.ContactStatusFailed {
		t.Fatalf("status = %s, want failed", results[0].Status)
	}
	if !strings.Contains(results[0].Error, "timed out") {
		t.Fatalf("error = %q, want timeout message", results[0].Error)
	}
}

func TestRetryOnFailure(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	d := &fakeDialer{
		fail: func(contact domain.Contact) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts == 1 {
				return errors.New("transient carrier error")
			}
			return nil
		},
	}
	m := newTestManager(t, d)
	campaign := createCampaignWithContacts(t, m, 1, domain.CampaignConfig{
		RetryAttempts: 2,
		RetryDelay:    5 * time.Millisecond,
	})

	if err := m.StartCampaign(context.Background(), campaign.ID, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForStatus(t, m, campaign.ID, domain.CampaignStatusCompleted)

	results, _ := m.GetCampaignResults(campaign.ID)
	if len(results) != 1 || results[0].Status != domain.ContactStatusCompleted {
		t.Fatalf("expected retried call to succeed, got %+v", results)
	}
	if d.callCount() != 2 {
		t.Fatalf("dial count = %d, want 2 (one failure, one retry)", d.callCount())
	}
}

func TestCancelCampaign(t *testing.T) {
	block := make(chan struct{})
	d := &fakeDialer{block: block}
	m := newTestManager(t, d)
	campaign := createCampaignWithContacts(t, m, 4, domain.CampaignConfig{ConcurrentCalls: 2})

	if err := m.StartCampaign(context.Background(), campaign.ID, 0); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Let calls get in flight before cancelling.
	deadline := time.Now().Add(time.Second)
	for d.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := m.CancelCampaign(campaign.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, _ := m.GetCampaign(campaign.ID)
	if got.Status != domain.CampaignStatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}

	if err := m.PauseCampaign(campaign.ID); err == nil {
		t.Error("expected pause of a cancelled campaign to fail")
	}

	// Cancel drops the execution tracking synchronously, so a restart is
	// accepted without waiting for the old task to drain.
	close(block)
	if err := m.StartCampaign(context.Background(), campaign.ID, 0); err != nil {
		t.Fatalf("restart after cancel: %v", err)
	}
	waitForStatus(t, m, campaign.ID, domain.CampaignStatusCompleted)
}

func TestCancelPropagatesToCalls(t *testing.T) {
	d := &fakeDialer{delay: 10 * time.Second}
	m := newTestManager(t, d)
	campaign := createCampaignWithContacts(t, m, 2, domain.CampaignConfig{ConcurrentCalls: 2})

	if err := m.StartCampaign(context.Background(), campaign.ID, 0); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for d.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	start := time.Now()
	if err := m.CancelCampaign(campaign.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	m.Close()

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("cancel waited %s for calls that should have aborted", elapsed)
	}

	results, _ := m.GetCampaignResults(campaign.ID)
	for _, r := range results {
		if r.Status != domain.ContactStatusCancelled {
			t.Errorf("result status = %s, want cancelled", r.Status)
		}
	}

	// The drained job must not claim completion when its fan-out was cut
	// short.
	got, _ := m.GetCampaign(campaign.ID)
	if len(got.Jobs) != 1 {
		t.Fatalf("job count = %d, want 1", len(got.Jobs))
	}
	if got.Jobs[0].Status != domain.CampaignStatusCancelled {
		t.Errorf("job status = %s, want cancelled", got.Jobs[0].Status)
	}
}

func TestPauseAndResume(t *testing.T) {
	block := make(chan struct{})
	d := &fakeDialer{block: block}
	m := newTestManager(t, d)
	campaign := createCampaignWithContacts(t, m, 4, domain.CampaignConfig{ConcurrentCalls: 2})

	if err := m.StartCampaign(context.Background(), campaign.ID, 2); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for d.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := m.PauseCampaign(campaign.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	close(block)

	// The in-flight job drains but the second one must not start while
	// paused.
	time.Sleep(500 * time.Millisecond)
	if d.callCount() != 2 {
		t.Fatalf("dial count while paused = %d, want 2", d.callCount())
	}
	got, _ := m.GetCampaign(campaign.ID)
	if got.Status != domain.CampaignStatusPaused {
		t.Fatalf("status = %s, want paused", got.Status)
	}

	if err := m.ResumeCampaign(campaign.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	waitForStatus(t, m, campaign.ID, domain.CampaignStatusCompleted)

	if d.callCount() != 4 {
		t.Fatalf("dial count = %d, want 4", d.callCount())
	}
}

func TestPauseRequiresRunning(t *testing.T) {
	m := newTestManager(t, &fakeDialer{})
	campaign, err := m.CreateCampaign(context.Background(), CreateCampaignInput{Name: "draft"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.PauseCampaign(campaign.ID); err == nil {
		t.Error("expected pause of a draft campaign to fail")
	}
	if err := m.ResumeCampaign(campaign.ID); err == nil {
		t.Error("expected resume of a draft campaign to fail")
	}
}

func TestStartCampaignRejectsDoubleStart(t *testing.T) {
	block := make(chan struct{})
	d := &fakeDialer{block: block}
	m := newTestManager(t, d)
	campaign := createCampaignWithContacts(t, m, 2, domain.CampaignConfig{})

	if err := m.StartCampaign(context.Background(), campaign.ID, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.StartCampaign(context.Background(), campaign.ID, 0); err == nil {
		t.Error("expected second start to be rejected while running")
	}
	close(block)
	waitForStatus(t, m, campaign.ID, domain.CampaignStatusCompleted)
}

func TestStartUnknownCampaign(t *testing.T) {
	m := newTestManager(t, &fakeDialer{})
	if err := m.StartCampaign(context.Background(), uuid.New(), 0); err == nil {
		t.Fatal("expected error for unknown campaign")
	}
}

func TestListCampaignsFilters(t *testing.T) {
	m := newTestManager(t, &fakeDialer{})

	for i, acct := range []string{"a", "a", "b"} {
		if _, err := m.CreateCampaign(context.Background(), CreateCampaignInput{
			Name:      fmt.Sprintf("campaign-%d", i),
			AccountID: acct,
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if got := len(m.ListCampaigns("", "")); got != 3 {
		t.Errorf("unfiltered list = %d, want 3", got)
	}
	if got := len(m.ListCampaigns("a", "")); got != 2 {
		t.Errorf("account filter = %d, want 2", got)
	}
	if got := len(m.ListCampaigns("", domain.CampaignStatusDraft)); got != 3 {
		t.Errorf("status filter = %d, want 3", got)
	}
	if got := len(m.ListCampaigns("", domain.CampaignStatusRunning)); got != 0 {
		t.Errorf("running filter = %d, want 0", got)
	}
}

func TestSnapshotsAreIsolated(t *testing.T) {
	m := newTestManager(t, &fakeDialer{})
	campaign := createCampaignWithContacts(t, m, 2, domain.CampaignConfig{})

	snap, err := m.GetCampaign(campaign.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap.Contacts[0].Phone = "+19999999999"
	snap.Status = domain.CampaignStatusFailed

	again, _ := m.GetCampaign(campaign.ID)
	if again.Contacts[0].Phone == "+19999999999" {
		t.Error("mutating a snapshot leaked into the registry")
	}
	if again.Status == domain.CampaignStatusFailed {
		t.Error("mutating snapshot status leaked into the registry")
	}
}

func TestManagerCloseStopsStarts(t *testing.T) {
	m, err := NewManager(Options{Dialer: &fakeDialer{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	campaign, err := m.CreateCampaign(context.Background(), CreateCampaignInput{Name: "shutdown"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.Close()
	if err := m.StartCampaign(context.Background(), campaign.ID, 0); err == nil {
		t.Fatal("expected start after Close to fail")
	}
}
