package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sifxtreme/jarvis-sub000/internal/models"
)

// entityStore is the persistence surface the local executor needs. Defined
// here so the executor package does not depend on a concrete store.
type entityStore interface {
	SaveEvent(e models.CalendarEvent) error
	GetEvent(userID, id string) (*models.CalendarEvent, error)
	DeleteEvent(userID, id string) error
	ListEventsBetween(userID string, from, to time.Time) ([]models.CalendarEvent, error)
	SaveTransaction(t models.Transaction) error
	SaveMemory(m models.Memory) error
	SearchMemories(userID, query string, limit int) ([]models.Memory, error)
}

// Compile-time check that StoreExecutor implements Executor.
var _ Executor = (*StoreExecutor)(nil)

// StoreExecutor applies actions against the local entity store. It stands in
// for remote calendar/ledger backends so the system runs end to end without
// external credentials.
type StoreExecutor struct {
	store entityStore
	loc   *time.Location
}

// NewStoreExecutor creates an executor backed by the given entity store.
// Times are interpreted in loc; pass nil for UTC.
func NewStoreExecutor(store entityStore, loc *time.Location) *StoreExecutor {
	if loc == nil {
		loc = time.UTC
	}
	return &StoreExecutor{store: store, loc: loc}
}

// DefaultEventDuration is applied when no end time was extracted.
const DefaultEventDuration = time.Hour

// CreateEvent materializes an event payload into a stored calendar event.
func (x *StoreExecutor) CreateEvent(ctx context.Context, userID string, p models.EventPayload) (*models.CalendarEvent, error) {
	startAt, err := x.resolveStart(p.Date, p.StartTime)
	if err != nil {
		return nil, fmt.Errorf("invalid event date/time: %w", err)
	}
	endAt := startAt.Add(DefaultEventDuration)
	if p.EndTime != "" {
		if t, err := time.ParseInLocation("15:04", p.EndTime, x.loc); err == nil {
			endAt = time.Date(startAt.Year(), startAt.Month(), startAt.Day(), t.Hour(), t.Minute(), 0, 0, x.loc)
			if !endAt.After(startAt) {
				endAt = startAt.Add(DefaultEventDuration)
			}
		}
	}

	now := time.Now().UTC()
	event := models.CalendarEvent{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       p.Title,
		StartAt:     startAt,
		EndAt:       endAt,
		Recurrence:  p.Recurrence,
		Location:    p.Location,
		Description: p.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := x.store.SaveEvent(event); err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	slog.Info("StoreExecutor.CreateEvent: event created", "eventID", event.ID, "userID", userID, "title", event.Title)
	return &event, nil
}

// UpdateEvent applies the given changes to an existing event. Scope is
// recorded on the event but occurrence splitting is left to the calendar
// backend; the local store updates the stored record either way.
func (x *StoreExecutor) UpdateEvent(ctx context.Context, userID, eventID string, changes UpdateChanges, scope models.RecurringScope) (*models.CalendarEvent, error) {
	event, err := x.store.GetEvent(userID, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load event %s: %w", eventID, err)
	}
	if event == nil {
		return nil, fmt.Errorf("event %s not found", eventID)
	}

	if changes.Title != "" {
		event.Title = changes.Title
	}
	date := event.StartAt.In(x.loc).Format("2006-01-02")
	startTime := event.StartAt.In(x.loc).Format("15:04")
	if changes.Date != "" {
		date = changes.Date
	}
	if changes.StartTime != "" {
		startTime = changes.StartTime
	}
	if changes.Date != "" || changes.StartTime != "" {
		duration := event.EndAt.Sub(event.StartAt)
		startAt, err := x.resolveStart(date, startTime)
		if err != nil {
			return nil, fmt.Errorf("invalid event date/time: %w", err)
		}
		event.StartAt = startAt
		event.EndAt = startAt.Add(duration)
	}
	if changes.EndTime != "" {
		if t, err := time.ParseInLocation("15:04", changes.EndTime, x.loc); err == nil {
			local := event.StartAt.In(x.loc)
			endAt := time.Date(local.Year(), local.Month(), local.Day(), t.Hour(), t.Minute(), 0, 0, x.loc)
			if endAt.After(event.StartAt) {
				event.EndAt = endAt
			}
		}
	}
	if changes.Location != "" {
		event.Location = changes.Location
	}
	event.UpdatedAt = time.Now().UTC()

	if err := x.store.SaveEvent(*event); err != nil {
		return nil, fmt.Errorf("failed to update event %s: %w", eventID, err)
	}
	slog.Info("StoreExecutor.UpdateEvent: event updated", "eventID", eventID, "userID", userID, "scope", scope)
	return event, nil
}

// DeleteEvent removes an event.
func (x *StoreExecutor) DeleteEvent(ctx context.Context, userID, eventID string, scope models.RecurringScope) error {
	event, err := x.store.GetEvent(userID, eventID)
	if err != nil {
		return fmt.Errorf("failed to load event %s: %w", eventID, err)
	}
	if event == nil {
		return fmt.Errorf("event %s not found", eventID)
	}
	if err := x.store.DeleteEvent(userID, eventID); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", eventID, err)
	}
	slog.Info("StoreExecutor.DeleteEvent: event deleted", "eventID", eventID, "userID", userID, "scope", scope)
	return nil
}

// ListEvents returns events starting in [from, to).
func (x *StoreExecutor) ListEvents(ctx context.Context, userID string, from, to time.Time) ([]models.CalendarEvent, error) {
	events, err := x.store.ListEventsBetween(userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// CreateTransaction materializes a transaction payload into the ledger.
func (x *StoreExecutor) CreateTransaction(ctx context.Context, userID string, p models.TransactionPayload) (*models.Transaction, error) {
	txn := models.Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Merchant:  p.Merchant,
		Amount:    p.Amount,
		Date:      p.Date,
		Source:    p.Source,
		Category:  p.Category,
		CreatedAt: time.Now().UTC(),
	}
	if err := x.store.SaveTransaction(txn); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	slog.Info("StoreExecutor.CreateTransaction: transaction logged", "transactionID", txn.ID, "userID", userID, "merchant", txn.Merchant)
	return &txn, nil
}

// SaveMemory materializes a memory payload.
func (x *StoreExecutor) SaveMemory(ctx context.Context, userID string, p models.MemoryPayload) (*models.Memory, error) {
	mem := models.Memory{
		ID:        uuid.NewString(),
		UserID:    userID,
		Content:   p.Content,
		URL:       p.URL,
		ImageRef:  p.ImageRef,
		CreatedAt: time.Now().UTC(),
	}
	if err := x.store.SaveMemory(mem); err != nil {
		return nil, fmt.Errorf("failed to save memory: %w", err)
	}
	slog.Info("StoreExecutor.SaveMemory: memory saved", "memoryID", mem.ID, "userID", userID)
	return &mem, nil
}

// SearchMemories returns matching memories, newest first.
func (x *StoreExecutor) SearchMemories(ctx context.Context, userID, query string, limit int) ([]models.Memory, error) {
	memories, err := x.store.SearchMemories(userID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	return memories, nil
}

// resolveStart combines an ISO date and optional HH:MM time into a start
// timestamp in the executor's location.
func (x *StoreExecutor) resolveStart(date, startTime string) (time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", date, x.loc)
	if err != nil {
		return time.Time{}, err
	}
	if startTime == "" {
		return day, nil
	}
	t, err := time.ParseInLocation("15:04", startTime, x.loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, x.loc), nil
}
