package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/sifxtreme/jarvis-sub000/internal/models"
)

// messagesHandler handles POST /api/messages: one inbound dialogue turn as
// JSON, one response as JSON. Dialogue-level failures (executor errors, auth
// expiry) stay inside the 200 response body; only transport problems map to
// HTTP error codes.
func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.messagesHandler: processing message", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.messagesHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var msg models.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		slog.Warn("Server.messagesHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format", models.ErrorCodeInternal))
		return
	}
	if err := msg.Validate(); err != nil {
		slog.Warn("Server.messagesHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error(), models.ErrorCodeInternal))
		return
	}

	resp := s.dispatcher.Process(r.Context(), msg)
	slog.Info("Server.messagesHandler: message processed", "userID", msg.UserID, "threadID", msg.ThreadID,
		"errorCode", resp.ErrorCode)
	writeJSONResponse(w, http.StatusOK, resp)
}

// twilioWebhookHandler handles POST /webhook/twilio: Twilio posts inbound SMS
// as form data. The sender's number doubles as user and thread id so each
// phone number gets one continuous conversation.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.twilioWebhookHandler: processing webhook", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: failed to parse form", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	from := r.PostFormValue("From")
	body := r.PostFormValue("Body")
	mediaURL := r.PostFormValue("MediaUrl0")
	if from == "" {
		slog.Warn("Server.twilioWebhookHandler: missing From")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	userID := from
	if s.msgService != nil {
		canonical, err := s.msgService.ValidateAndCanonicalizeRecipient(from)
		if err != nil {
			slog.Warn("Server.twilioWebhookHandler: recipient validation failed", "error", err, "from", from)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		userID = canonical
	}

	msg := models.Message{UserID: userID, ThreadID: userID, Text: body, ImageRef: mediaURL}
	if err := msg.Validate(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: empty message", "error", err, "from", from)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	resp := s.dispatcher.Process(r.Context(), msg)
	slog.Info("Server.twilioWebhookHandler: message processed", "userID", userID, "errorCode", resp.ErrorCode)

	if s.msgService != nil {
		if err := s.msgService.SendMessage(r.Context(), from, resp.Text); err != nil {
			slog.Error("Server.twilioWebhookHandler: failed to send reply", "error", err, "to", from)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	// Without an outbound service, answer inline so local setups still work.
	writeJSONResponse(w, http.StatusOK, resp)
}

// healthHandler provides a health check endpoint for monitoring.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
