// Package flow implements the dialogue state machine: flow variants for the
// supported domain actions, the engine that drives their create/correction
// lifecycle, candidate resolution for ambiguous references, idempotency
// guarding, and the top-level dispatcher.
package flow

import "time"

// ConversationContext carries everything a flow or engine call needs about
// the current turn. It replaces implicit per-handler state with an explicit
// value passed down the call chain.
type ConversationContext struct {
	UserID        string
	ThreadID      string
	Text          string
	ImageRef      string
	CorrelationID string
	Now           time.Time
	Location      *time.Location
	RecentTurns   []string
}

// HasImage reports whether the turn carries an attached image.
func (c ConversationContext) HasImage() bool {
	return c.ImageRef != ""
}

// TZ returns the context location, defaulting to UTC.
func (c ConversationContext) TZ() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}
