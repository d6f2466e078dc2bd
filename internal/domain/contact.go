package domain

import (
	"regexp"
	"strings"
	"time"
)

// ContactStatus enumerates lifecycle states of a dial target.
type ContactStatus string

const (
	ContactStatusPending    ContactStatus = "pending"
	ContactStatusInProgress ContactStatus = "in_progress"
	ContactStatusCompleted  ContactStatus = "completed"
	ContactStatusFailed     ContactStatus = "failed"
	ContactStatusNoAnswer   ContactStatus = "no_answer"
	ContactStatusBusy       ContactStatus = "busy"
	ContactStatusVoicemail  ContactStatus = "voicemail"
	ContactStatusCancelled  ContactStatus = "cancelled"
)

// CallOutcome enumerates business outcomes of a completed call.
type CallOutcome string

const (
	OutcomeSuccess           CallOutcome = "success"
	OutcomeCallbackRequested CallOutcome = "callback_requested"
	OutcomeNotInterested     CallOutcome = "not_interested"
	OutcomeWrongNumber       CallOutcome = "wrong_number"
	OutcomeDoNotCall         CallOutcome = "do_not_call"
	OutcomeTransferred       CallOutcome = "transferred"
	OutcomeIncomplete        CallOutcome = "incomplete"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// Contact is a single dial target within a campaign.
type Contact struct {
	Phone       string
	Name        string
	Email       string
	Metadata    map[string]any
	Attempts    int
	LastAttempt *time.Time
	Status      ContactStatus
	Outcome     *CallOutcome
}

// NewContact builds a contact with a normalized phone number.
func NewContact(phone, name, email string, metadata map[string]any) *Contact {
	return &Contact{
		Phone:    NormalizePhone(phone),
		Name:     name,
		Email:    email,
		Metadata: metadata,
		Status:   ContactStatusPending,
	}
}

// IsValidPhone reports whether the contact's phone is a valid E.164 number.
func (c *Contact) IsValidPhone() bool {
	return e164Pattern.MatchString(c.Phone)
}

// NormalizePhone strips everything but digits and prefixes the result with a
// plus, so "+1 (555) 123-4567" and "15551234567" both become "+15551234567".
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "+" + b.String()
}
