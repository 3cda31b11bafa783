// Package models defines the typed extraction payloads and domain entities.
package models

import (
	"strings"
	"time"
)

// Payload is the normalized, flow-specific structure produced by the
// extraction collaborator. Each flow variant owns exactly one concrete type.
type Payload interface {
	PayloadKind() Kind
	ExtractionConfidence() Confidence
}

// EventPayload is the extracted shape for calendar events. Dates are ISO
// (YYYY-MM-DD) and times are 24h HH:MM strings as produced by the extractor;
// empty fields were not extracted.
type EventPayload struct {
	Title       string     `json:"title,omitempty"`
	Date        string     `json:"date,omitempty"`
	StartTime   string     `json:"start_time,omitempty"`
	EndTime     string     `json:"end_time,omitempty"`
	Recurrence  string     `json:"recurrence,omitempty"` // none, daily, weekly, monthly, yearly
	Location    string     `json:"location,omitempty"`
	Description string     `json:"description,omitempty"`
	Confidence  Confidence `json:"confidence,omitempty"`
}

func (p EventPayload) PayloadKind() Kind                { return KindEvent }
func (p EventPayload) ExtractionConfidence() Confidence { return p.Confidence }

// IsRecurring reports whether the payload describes a repeating event.
func (p EventPayload) IsRecurring() bool {
	r := strings.ToLower(strings.TrimSpace(p.Recurrence))
	return r != "" && r != "none"
}

// TransactionPayload is the extracted shape for ledger transactions. Amount
// stays a decimal string end to end; arithmetic is out of scope here.
type TransactionPayload struct {
	Merchant   string     `json:"merchant,omitempty"`
	Amount     string     `json:"amount,omitempty"`
	Date       string     `json:"date,omitempty"`
	Source     string     `json:"source,omitempty"` // paying account, e.g. "amex"
	Category   string     `json:"category,omitempty"`
	Confidence Confidence `json:"confidence,omitempty"`
}

func (p TransactionPayload) PayloadKind() Kind                { return KindTransaction }
func (p TransactionPayload) ExtractionConfidence() Confidence { return p.Confidence }

// MemoryPayload is the extracted shape for saved memories.
type MemoryPayload struct {
	Content    string     `json:"content,omitempty"`
	URL        string     `json:"url,omitempty"`
	ImageRef   string     `json:"image_ref,omitempty"`
	Confidence Confidence `json:"confidence,omitempty"`
}

func (p MemoryPayload) PayloadKind() Kind                { return KindMemory }
func (p MemoryPayload) ExtractionConfidence() Confidence { return p.Confidence }

// CalendarEvent is a stored calendar entity.
type CalendarEvent struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
	Recurrence  string    `json:"recurrence,omitempty"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsRecurring reports whether the event repeats.
func (e CalendarEvent) IsRecurring() bool {
	r := strings.ToLower(strings.TrimSpace(e.Recurrence))
	return r != "" && r != "none"
}

// Transaction is a stored ledger entity.
type Transaction struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Merchant  string    `json:"merchant"`
	Amount    string    `json:"amount"`
	Date      string    `json:"date"`
	Source    string    `json:"source"`
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Memory is a stored memory entity.
type Memory struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	URL       string    `json:"url,omitempty"`
	ImageRef  string    `json:"image_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Candidate is a scored reference to a calendar event offered as a possible
// match for an ambiguous reference. Distance is time from "now", used only
// as an ascending tie-break.
type Candidate struct {
	Event    CalendarEvent `json:"event"`
	Score    int           `json:"score"`
	Distance time.Duration `json:"distance"`
}

// CandidateRef is the slimmed-down candidate shape persisted in pending
// payloads (select_event_for_update / select_event_for_delete).
type CandidateRef struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	StartAt time.Time `json:"start_at"`
}

// Ref converts a candidate to its persistable reference.
func (c Candidate) Ref() CandidateRef {
	return CandidateRef{ID: c.Event.ID, Title: c.Event.Title, StartAt: c.Event.StartAt}
}
