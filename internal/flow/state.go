package flow

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sifxtreme/jarvis-sub000/internal/models"
	"github.com/sifxtreme/jarvis-sub000/internal/store"
)

// StateManager mediates all thread-state mutations so the pending-action
// invariant holds in one place: setting a pending action replaces the payload
// wholesale, and clearing it clears the payload while LastEntityID and
// LastAction survive.
type StateManager struct {
	store store.ThreadStore
}

// NewStateManager creates a StateManager backed by a thread store.
func NewStateManager(st store.ThreadStore) *StateManager {
	slog.Debug("Creating StateManager")
	return &StateManager{store: st}
}

// Load returns the thread's state, creating a fresh in-memory record on first
// contact. The record is not persisted until a mutation saves it.
func (sm *StateManager) Load(userID, threadID string) (*models.ThreadState, error) {
	state, err := sm.store.GetThreadState(userID, threadID)
	if err != nil {
		slog.Error("StateManager.Load failed", "error", err, "userID", userID, "threadID", threadID)
		return nil, err
	}
	if state == nil {
		now := time.Now().UTC()
		state = &models.ThreadState{
			UserID:    userID,
			ThreadID:  threadID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		slog.Debug("StateManager.Load created fresh state", "userID", userID, "threadID", threadID)
	}
	return state, nil
}

// SetPending replaces the thread's pending action and payload wholesale.
func (sm *StateManager) SetPending(state *models.ThreadState, action models.PendingAction, payload map[string]any) error {
	if !models.IsValidPendingAction(action) {
		return fmt.Errorf("unknown pending action %q", action)
	}
	state.PendingAction = action
	state.Payload = payload
	state.UpdatedAt = time.Now().UTC()
	if err := sm.store.SaveThreadState(*state); err != nil {
		slog.Error("StateManager.SetPending save failed", "error", err, "threadID", state.ThreadID, "action", action)
		return err
	}
	slog.Debug("StateManager.SetPending succeeded", "threadID", state.ThreadID, "action", action)
	return nil
}

// ClearPending resolves the dialogue: pending action and payload are cleared,
// LastEntityID and LastAction are preserved.
func (sm *StateManager) ClearPending(state *models.ThreadState) error {
	state.PendingAction = ""
	state.Payload = nil
	state.UpdatedAt = time.Now().UTC()
	if err := sm.store.SaveThreadState(*state); err != nil {
		slog.Error("StateManager.ClearPending save failed", "error", err, "threadID", state.ThreadID)
		return err
	}
	slog.Debug("StateManager.ClearPending succeeded", "threadID", state.ThreadID)
	return nil
}

// SetLastEntity records the most recently created/referenced entity so a
// later "update it" can resolve without a target description.
func (sm *StateManager) SetLastEntity(state *models.ThreadState, entityID string) error {
	state.LastEntityID = entityID
	state.UpdatedAt = time.Now().UTC()
	if err := sm.store.SaveThreadState(*state); err != nil {
		slog.Error("StateManager.SetLastEntity save failed", "error", err, "threadID", state.ThreadID)
		return err
	}
	return nil
}

// maxRecentTurns bounds the per-thread turn log. Three exchanges is enough
// context for classification without bloating prompts.
const maxRecentTurns = 6

// RecordTurn appends the latest exchange to the thread's turn log, keeping
// only the most recent entries.
func (sm *StateManager) RecordTurn(state *models.ThreadState, userText, assistantText string) error {
	state.RecentTurns = append(state.RecentTurns, "User: "+userText, "Assistant: "+assistantText)
	if extra := len(state.RecentTurns) - maxRecentTurns; extra > 0 {
		state.RecentTurns = state.RecentTurns[extra:]
	}
	state.UpdatedAt = time.Now().UTC()
	if err := sm.store.SaveThreadState(*state); err != nil {
		slog.Error("StateManager.RecordTurn save failed", "error", err, "threadID", state.ThreadID)
		return err
	}
	return nil
}

// RecordAction overwrites the thread's idempotency ledger entry after a real
// execution.
func (sm *StateManager) RecordAction(state *models.ThreadState, actionType, signature string, at time.Time) error {
	state.LastAction = &models.LastAction{ActionType: actionType, Signature: signature, CreatedAt: at}
	state.UpdatedAt = time.Now().UTC()
	if err := sm.store.SaveThreadState(*state); err != nil {
		slog.Error("StateManager.RecordAction save failed", "error", err, "threadID", state.ThreadID)
		return err
	}
	return nil
}

// Reset wipes the thread entirely. Used only by the top-level catch-all.
func (sm *StateManager) Reset(userID, threadID string) error {
	if err := sm.store.DeleteThreadState(userID, threadID); err != nil {
		slog.Error("StateManager.Reset failed", "error", err, "userID", userID, "threadID", threadID)
		return err
	}
	slog.Info("StateManager.Reset succeeded", "userID", userID, "threadID", threadID)
	return nil
}

// encodePayload converts a typed payload into the map shape persisted in
// thread state.
func encodePayload(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("flow.encodePayload marshal failed", "error", err)
		return map[string]any{}
	}
	m := make(map[string]any)
	if err := json.Unmarshal(b, &m); err != nil {
		slog.Error("flow.encodePayload unmarshal failed", "error", err)
		return map[string]any{}
	}
	return m
}

// encodeSlice converts a slice of typed values into the []any shape persisted
// in thread state.
func encodeSlice[T any](items []T) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, encodePayload(item))
	}
	return out
}

// decodePayload reads the value stored under key in a pending payload back
// into its typed form. Returns false when the key is absent or malformed.
func decodePayload[T any](payload map[string]any, key string) (T, bool) {
	var out T
	raw, ok := payload[key]
	if !ok {
		return out, false
	}
	b, err := json.Marshal(raw)
	if err != nil {
		slog.Error("flow.decodePayload marshal failed", "error", err, "key", key)
		return out, false
	}
	if err := json.Unmarshal(b, &out); err != nil {
		slog.Error("flow.decodePayload unmarshal failed", "error", err, "key", key)
		return out, false
	}
	return out, true
}

// payloadString reads a plain string value from a pending payload.
func payloadString(payload map[string]any, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}
