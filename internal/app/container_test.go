package app

import (
	"testing"
	"time"

	"github.com/acme/voice-batch-engine/internal/config"
)

func TestBuildDialerRequiresExplicitProvider(t *testing.T) {
	c := &Container{Config: &config.Config{}}
	if _, err := c.buildDialer(); err == nil {
		t.Fatal("expected error when dialer.provider_name is unset")
	}

	c.Config.Dialer.ProviderName = "twilio"
	if _, err := c.buildDialer(); err == nil {
		t.Fatal("expected error for unknown dialer provider")
	}
}

func TestBuildDialerMock(t *testing.T) {
	c := &Container{Config: &config.Config{}}
	c.Config.Dialer.ProviderName = "mock"
	c.Config.Dialer.MockDelay = time.Millisecond

	d, err := c.buildDialer()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d == nil {
		t.Fatal("expected a dialer for the mock provider")
	}
}
