// Package executor performs the side-effecting domain actions the dialogue
// engine decides on: calendar mutations, ledger writes, and memory storage.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/sifxtreme/jarvis-sub000/internal/models"
)

// ErrAuthExpired indicates the user's calendar authorization is no longer
// valid. The dispatcher reacts by asking the user to reconnect and leaves
// thread state untouched so the action can be retried afterwards.
var ErrAuthExpired = errors.New("calendar authorization expired")

// UpdateChanges holds the field changes for an event update. Empty fields are
// left unchanged.
type UpdateChanges struct {
	Title     string `json:"title,omitempty"`
	Date      string `json:"date,omitempty"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
	Location  string `json:"location,omitempty"`
}

// IsEmpty reports whether no change was requested.
func (c UpdateChanges) IsEmpty() bool {
	return c == (UpdateChanges{})
}

// Executor is the external collaborator that applies domain actions. Errors
// must be distinguishable: ErrAuthExpired (possibly wrapped) for expired
// grants, anything else for generic failures.
type Executor interface {
	CreateEvent(ctx context.Context, userID string, p models.EventPayload) (*models.CalendarEvent, error)
	UpdateEvent(ctx context.Context, userID, eventID string, changes UpdateChanges, scope models.RecurringScope) (*models.CalendarEvent, error)
	DeleteEvent(ctx context.Context, userID, eventID string, scope models.RecurringScope) error
	ListEvents(ctx context.Context, userID string, from, to time.Time) ([]models.CalendarEvent, error)

	CreateTransaction(ctx context.Context, userID string, p models.TransactionPayload) (*models.Transaction, error)

	SaveMemory(ctx context.Context, userID string, p models.MemoryPayload) (*models.Memory, error)
	SearchMemories(ctx context.Context, userID, query string, limit int) ([]models.Memory, error)
}
