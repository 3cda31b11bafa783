package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/sifxtreme/jarvis-sub000/internal/messaging"
	"github.com/sifxtreme/jarvis-sub000/internal/models"
)

// echoDispatcher returns a canned response and records the message it saw.
type echoDispatcher struct {
	last models.Message
	resp models.Response
}

func (d *echoDispatcher) Process(ctx context.Context, msg models.Message) models.Response {
	d.last = msg
	return d.resp
}

func TestMessagesHandler(t *testing.T) {
	d := &echoDispatcher{resp: models.TextResponse("Created \"Lunch\".")}
	srv := NewServer(d, nil)

	body := `{"user_id":"u1","thread_id":"t1","text":"lunch friday"}`
	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp models.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if resp.Text != "Created \"Lunch\"." {
		t.Errorf("text = %q", resp.Text)
	}
	if d.last.UserID != "u1" || d.last.Text != "lunch friday" {
		t.Errorf("dispatcher saw %+v", d.last)
	}
}

func TestMessagesHandler_BadRequests(t *testing.T) {
	srv := NewServer(&echoDispatcher{}, nil)
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON: status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{"user_id":"u1"}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid message: status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET: status = %d", rec.Code)
	}
}

func TestTwilioWebhookHandler_RepliesViaSMS(t *testing.T) {
	d := &echoDispatcher{resp: models.TextResponse("Should I create \"Lunch\"? (yes/no)")}
	mock := &messaging.MockService{}
	srv := NewServer(d, mock)

	form := url.Values{"From": {"+1 (555) 123-4567"}, "Body": {"lunch friday at noon"}}
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if d.last.UserID != "15551234567" || d.last.ThreadID != "15551234567" {
		t.Errorf("phone number must become the user and thread id, got %+v", d.last)
	}
	if len(mock.Sent) != 1 || mock.Sent[0].Body != "Should I create \"Lunch\"? (yes/no)" {
		t.Errorf("reply not sent: %+v", mock.Sent)
	}
	if mock.Sent[0].To != "+1 (555) 123-4567" {
		t.Errorf("reply must go to the original sender, got %q", mock.Sent[0].To)
	}
}

func TestTwilioWebhookHandler_ImageOnlyMessage(t *testing.T) {
	d := &echoDispatcher{resp: models.TextResponse("Saved image")}
	srv := NewServer(d, &messaging.MockService{})

	form := url.Values{"From": {"15551234567"}, "MediaUrl0": {"https://api.twilio.com/media/abc"}}
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if d.last.ImageRef != "https://api.twilio.com/media/abc" {
		t.Errorf("image ref = %q", d.last.ImageRef)
	}
}

func TestTwilioWebhookHandler_MissingFrom(t *testing.T) {
	srv := NewServer(&echoDispatcher{}, &messaging.MockService{})

	form := url.Values{"Body": {"hello"}}
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	srv := NewServer(&echoDispatcher{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var health map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("invalid health JSON: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("status = %v", health["status"])
	}
}
