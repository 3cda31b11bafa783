package messaging

import (
	"context"
	"errors"
	"testing"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// mockSender captures the params passed to the Twilio API.
type mockSender struct {
	params *twilioApi.CreateMessageParams
	err    error
}

func (m *mockSender) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	m.params = params
	if m.err != nil {
		return nil, m.err
	}
	return &twilioApi.ApiV2010Message{}, nil
}

func TestValidateAndCanonicalizeRecipient(t *testing.T) {
	s := &TwilioService{api: &mockSender{}, from: "+15550001111"}

	got, err := s.ValidateAndCanonicalizeRecipient("+1 (555) 123-4567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "15551234567" {
		t.Errorf("canonical = %q, want 15551234567", got)
	}

	if _, err := s.ValidateAndCanonicalizeRecipient(""); !errors.Is(err, ErrEmptyRecipient) {
		t.Errorf("empty recipient: err = %v", err)
	}
	if _, err := s.ValidateAndCanonicalizeRecipient("abc"); err == nil {
		t.Error("digit-less recipient must fail")
	}
	if _, err := s.ValidateAndCanonicalizeRecipient("12345"); err == nil {
		t.Error("short number must fail")
	}
}

func TestSendMessage(t *testing.T) {
	sender := &mockSender{}
	s := &TwilioService{api: sender, from: "+15550001111"}

	if err := s.SendMessage(context.Background(), "+1 555-123-4567", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if sender.params == nil {
		t.Fatal("no message was created")
	}
	if got := *sender.params.To; got != "+15551234567" {
		t.Errorf("to = %q", got)
	}
	if got := *sender.params.From; got != "+15550001111" {
		t.Errorf("from = %q", got)
	}
	if got := *sender.params.Body; got != "hello" {
		t.Errorf("body = %q", got)
	}
}

func TestSendMessage_APIError(t *testing.T) {
	sender := &mockSender{err: errors.New("twilio down")}
	s := &TwilioService{api: sender, from: "+15550001111"}

	if err := s.SendMessage(context.Background(), "15551234567", "hello"); err == nil {
		t.Error("expected wrapped API error")
	}
}

func TestNewTwilioService_RequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewTwilioService(); err == nil {
		t.Error("missing credentials must fail")
	}
	if _, err := NewTwilioService(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Error("missing from number must fail")
	}
	if _, err := NewTwilioService(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromNumber("+15550001111")); err != nil {
		t.Errorf("complete config must succeed: %v", err)
	}
}
