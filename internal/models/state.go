// Package models defines thread state structures for the dialogue engine.
package models

import "time"

// PendingAction names the clarification/confirmation state a thread is
// currently waiting on. It is a closed enumeration; the dispatcher's routing
// table must cover every value.
type PendingAction string

// Generic pending actions.
const (
	PendingClarifyIntent      PendingAction = "clarify_intent"
	PendingClarifyImageIntent PendingAction = "clarify_image_intent"
)

// Per-entity creation pending actions.
const (
	PendingClarifyEventFields       PendingAction = "clarify_event_fields"
	PendingConfirmEvent             PendingAction = "confirm_event"
	PendingSelectEventExtraction    PendingAction = "select_event_from_extraction"
	PendingClarifyTransactionFields PendingAction = "clarify_transaction_fields"
	PendingConfirmTransaction       PendingAction = "confirm_transaction"
	PendingSelectTxnExtraction      PendingAction = "select_transaction_from_extraction"
	PendingClarifyMemoryFields      PendingAction = "clarify_memory_fields"
	PendingConfirmMemory            PendingAction = "confirm_memory"
)

// Event mutation pending actions.
const (
	PendingSelectEventForUpdate  PendingAction = "select_event_for_update"
	PendingSelectEventForDelete  PendingAction = "select_event_for_delete"
	PendingConfirmUpdate         PendingAction = "confirm_update"
	PendingConfirmDelete         PendingAction = "confirm_delete"
	PendingClarifyUpdateTarget   PendingAction = "clarify_update_target"
	PendingClarifyUpdateChanges  PendingAction = "clarify_update_changes"
	PendingClarifyDeleteTarget   PendingAction = "clarify_delete_target"
	PendingClarifyRecurringScope PendingAction = "clarify_recurring_scope"
	PendingClarifyListQuery      PendingAction = "clarify_list_query"
)

// IsValidPendingAction checks membership in the closed enumeration.
func IsValidPendingAction(pa PendingAction) bool {
	switch pa {
	case PendingClarifyIntent, PendingClarifyImageIntent,
		PendingClarifyEventFields, PendingConfirmEvent, PendingSelectEventExtraction,
		PendingClarifyTransactionFields, PendingConfirmTransaction, PendingSelectTxnExtraction,
		PendingClarifyMemoryFields, PendingConfirmMemory,
		PendingSelectEventForUpdate, PendingSelectEventForDelete,
		PendingConfirmUpdate, PendingConfirmDelete,
		PendingClarifyUpdateTarget, PendingClarifyUpdateChanges, PendingClarifyDeleteTarget,
		PendingClarifyRecurringScope, PendingClarifyListQuery:
		return true
	default:
		return false
	}
}

// RecurringScope says whether a mutation targets one occurrence or the series.
type RecurringScope string

const (
	ScopeInstance RecurringScope = "instance"
	ScopeSeries   RecurringScope = "series"
)

// Payload keys shared between the flows and the dispatcher. The payload map
// is persisted as JSON in the thread state; these keys define its shape per
// pending action.
const (
	PayloadKeyEvent       = "event"
	PayloadKeyTransaction = "transaction"
	PayloadKeyMemory      = "memory"
	PayloadKeyCandidates  = "candidates"
	PayloadKeyItems       = "items"
	PayloadKeyEventID     = "event_id"
	PayloadKeyChanges     = "changes"
	PayloadKeySnapshot    = "snapshot"
	PayloadKeyAction      = "action"
	PayloadKeyScope       = "scope"
	PayloadKeyImageRef    = "image_ref"
	PayloadKeyText        = "text"
	PayloadKeyQuery       = "query"
)

// LastAction is the per-thread idempotency ledger entry.
type LastAction struct {
	ActionType string    `json:"action_type"`
	Signature  string    `json:"signature"`
	CreatedAt  time.Time `json:"created_at"`
}

// ThreadState is the durable record for one conversation thread.
//
// Payload is only meaningful in conjunction with PendingAction: clearing the
// pending action must also clear the payload. LastEntityID, LastAction, and
// RecentTurns survive a clear.
type ThreadState struct {
	ThreadID      string         `json:"thread_id"`
	UserID        string         `json:"user_id"`
	PendingAction PendingAction  `json:"pending_action,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	LastEntityID  string         `json:"last_entity_id,omitempty"`
	LastAction    *LastAction    `json:"last_action,omitempty"`
	// RecentTurns is a bounded log of the latest user/assistant exchanges,
	// fed back into classification and extraction prompts.
	RecentTurns []string  `json:"recent_turns,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasPending reports whether the thread is waiting on the user's next message.
func (ts *ThreadState) HasPending() bool {
	return ts.PendingAction != ""
}
