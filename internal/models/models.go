// Package models defines the core data structures for the Jarvis dialogue engine.
//
// It includes the inbound/outbound wire contract shared by transport adapters,
// the intent and confidence enumerations, and validation helpers.
package models

import (
	"errors"
	"strings"
)

// Kind identifies a flow variant (one domain action family).
type Kind string

const (
	// KindEvent handles calendar event creation.
	KindEvent Kind = "event"
	// KindTransaction handles financial transaction logging.
	KindTransaction Kind = "transaction"
	// KindMemory handles saving free-form memories.
	KindMemory Kind = "memory"
)

// Intent is the classified purpose of an inbound message.
type Intent string

const (
	IntentCreateEvent       Intent = "create_event"
	IntentUpdateEvent       Intent = "update_event"
	IntentDeleteEvent       Intent = "delete_event"
	IntentListEvents        Intent = "list_events"
	IntentCreateTransaction Intent = "create_transaction"
	IntentCreateMemory      Intent = "create_memory"
	IntentSearchMemory      Intent = "search_memory"
	IntentUnknown           Intent = "unknown"
)

// IsValidIntent checks if the given intent is supported.
func IsValidIntent(i Intent) bool {
	switch i {
	case IntentCreateEvent, IntentUpdateEvent, IntentDeleteEvent, IntentListEvents,
		IntentCreateTransaction, IntentCreateMemory, IntentSearchMemory, IntentUnknown:
		return true
	default:
		return false
	}
}

// Confidence is the three-level ordinal attached to an extraction or
// classification. It gates whether a confirmation round-trip is required.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

var confidenceRank = map[Confidence]int{
	ConfidenceLow:    1,
	ConfidenceMedium: 2,
	ConfidenceHigh:   3,
}

// ParseConfidence normalizes a raw confidence string. Unknown or absent
// values default to medium per the classifier contract.
func ParseConfidence(raw string) Confidence {
	switch Confidence(strings.ToLower(strings.TrimSpace(raw))) {
	case ConfidenceLow:
		return ConfidenceLow
	case ConfidenceHigh:
		return ConfidenceHigh
	default:
		return ConfidenceMedium
	}
}

// AtLeast reports whether c is at least as confident as other.
func (c Confidence) AtLeast(other Confidence) bool {
	return confidenceRank[c] >= confidenceRank[other]
}

// FrontendAction is an action code the presentation layer reacts to.
type FrontendAction string

const (
	// ActionReconnectCalendar tells the client to start the calendar re-auth flow.
	ActionReconnectCalendar FrontendAction = "reconnect_calendar"
)

// Error codes returned on the wire for machine-readable failure handling.
const (
	ErrorCodeAuthExpired = "auth_expired"
	ErrorCodeExecutor    = "executor_error"
	ErrorCodeInternal    = "internal_error"
)

// Validation error variables for inbound messages.
var (
	ErrEmptyUserID   = errors.New("user id cannot be empty")
	ErrEmptyThreadID = errors.New("thread id cannot be empty")
	ErrEmptyMessage  = errors.New("message must contain text or an image")
)

// Message is the inbound wire contract consumed from every transport adapter.
type Message struct {
	UserID   string `json:"user_id"`
	ThreadID string `json:"thread_id"`
	Text     string `json:"text,omitempty"`
	ImageRef string `json:"image_ref,omitempty"` // opaque reference to an uploaded image
}

// Validate performs basic validation on an inbound message.
func (m *Message) Validate() error {
	if m.UserID == "" {
		return ErrEmptyUserID
	}
	if m.ThreadID == "" {
		return ErrEmptyThreadID
	}
	if strings.TrimSpace(m.Text) == "" && m.ImageRef == "" {
		return ErrEmptyMessage
	}
	return nil
}

// Response is the outbound wire contract consumed by web/mobile/chat adapters.
type Response struct {
	Text         string         `json:"text"`
	EventCreated bool           `json:"event_created,omitempty"`
	Action       FrontendAction `json:"action,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
}

// TextResponse builds a plain text response.
func TextResponse(text string) Response {
	return Response{Text: text}
}

// Error builds an error-shaped response with a machine-readable code.
func Error(text, code string) Response {
	return Response{Text: text, ErrorCode: code}
}
