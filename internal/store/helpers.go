package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sifxtreme/jarvis-sub000/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// marshalThreadState converts the JSON-shaped thread state columns to strings.
func marshalThreadState(state models.ThreadState) (payloadJSON, lastActionJSON string, err error) {
	if len(state.Payload) > 0 {
		b, err := json.Marshal(state.Payload)
		if err != nil {
			return "", "", fmt.Errorf("marshal thread payload failed: %w", err)
		}
		payloadJSON = string(b)
	}
	if state.LastAction != nil {
		b, err := json.Marshal(state.LastAction)
		if err != nil {
			return "", "", fmt.Errorf("marshal last action failed: %w", err)
		}
		lastActionJSON = string(b)
	}
	return payloadJSON, lastActionJSON, nil
}

// scanThreadState scans a ThreadState from a single sql.Row.
func scanThreadState(row *sql.Row) (*models.ThreadState, error) {
	var state models.ThreadState
	var pendingAction, payloadJSON, lastEntityID, lastActionJSON sql.NullString
	err := row.Scan(
		&state.UserID, &state.ThreadID, &pendingAction, &payloadJSON,
		&lastEntityID, &lastActionJSON, &state.CreatedAt, &state.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	state.PendingAction = models.PendingAction(pendingAction.String)
	state.LastEntityID = lastEntityID.String
	if payloadJSON.String != "" {
		state.Payload = make(map[string]any)
		if err := json.Unmarshal([]byte(payloadJSON.String), &state.Payload); err != nil {
			slog.Error("store.scanThreadState payload unmarshal failed", "error", err, "threadID", state.ThreadID)
			// Continue with empty payload rather than failing
			state.Payload = make(map[string]any)
		}
	}
	if lastActionJSON.String != "" {
		var la models.LastAction
		if err := json.Unmarshal([]byte(lastActionJSON.String), &la); err != nil {
			slog.Error("store.scanThreadState last action unmarshal failed", "error", err, "threadID", state.ThreadID)
		} else {
			state.LastAction = &la
		}
	}
	return &state, nil
}

// scanEvent scans a CalendarEvent from sql.Rows.
func scanEvent(rows *sql.Rows) (models.CalendarEvent, error) {
	var e models.CalendarEvent
	var recurrence, location, description sql.NullString
	err := rows.Scan(
		&e.ID, &e.UserID, &e.Title, &e.StartAt, &e.EndAt,
		&recurrence, &location, &description, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return e, fmt.Errorf("scan event failed: %w", err)
	}
	e.Recurrence = recurrence.String
	e.Location = location.String
	e.Description = description.String
	return e, nil
}

// scanEventRow scans a CalendarEvent from a single sql.Row.
func scanEventRow(row *sql.Row) (models.CalendarEvent, error) {
	var e models.CalendarEvent
	var recurrence, location, description sql.NullString
	err := row.Scan(
		&e.ID, &e.UserID, &e.Title, &e.StartAt, &e.EndAt,
		&recurrence, &location, &description, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return e, err
	}
	e.Recurrence = recurrence.String
	e.Location = location.String
	e.Description = description.String
	return e, nil
}
