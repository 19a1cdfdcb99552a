package email

import (
	"strings"
	"testing"
)

func setSenderEnv(t *testing.T) {
	t.Setenv("MAILTRAP_API_TOKEN", "test-token")
	t.Setenv("EMAIL_SENDER", "reports@kalbooks.example")
	t.Setenv("EMAIL_RECIPIENTS", "ops@kalbooks.example; sales@kalbooks.example")
}

func TestNewSender_SplitsRecipients(t *testing.T) {
	setSenderEnv(t)
	s, err := NewSender()
	if err != nil {
		t.Fatal(err)
	}
	if len(s.recipients) != 2 || s.recipients[1] != "sales@kalbooks.example" {
		t.Fatalf("recipients %v, want both addresses trimmed", s.recipients)
	}
}

func TestNewSender_RejectsInvalidRecipient(t *testing.T) {
	setSenderEnv(t)
	t.Setenv("EMAIL_RECIPIENTS", "ops@kalbooks.example;not-an-address")
	if _, err := NewSender(); err == nil || !strings.Contains(err.Error(), "not-an-address") {
		t.Fatalf("want error naming the bad address, got %v", err)
	}
}

func TestNewSender_RequiresToken(t *testing.T) {
	setSenderEnv(t)
	t.Setenv("MAILTRAP_API_TOKEN", "")
	if _, err := NewSender(); err == nil {
		t.Fatal("want error when MAILTRAP_API_TOKEN is unset")
	}
}
