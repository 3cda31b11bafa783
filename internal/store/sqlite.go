// Package store provides storage backends for the Jarvis dialogue engine.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sifxtreme/jarvis-sub000/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

// GetThreadState retrieves state for a thread.
func (s *SQLiteStore) GetThreadState(userID, threadID string) (*models.ThreadState, error) {
	query := `SELECT user_id, thread_id, pending_action, payload, last_entity_id, last_action, created_at, updated_at
			  FROM thread_states WHERE user_id = ? AND thread_id = ?`

	state, err := scanThreadState(s.db.QueryRow(query, userID, threadID))
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetThreadState not found", "userID", userID, "threadID", threadID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetThreadState failed", "error", err, "userID", userID, "threadID", threadID)
		return nil, err
	}
	return state, nil
}

// SaveThreadState stores or replaces thread state.
func (s *SQLiteStore) SaveThreadState(state models.ThreadState) error {
	payloadJSON, lastActionJSON, err := marshalThreadState(state)
	if err != nil {
		slog.Error("SQLiteStore SaveThreadState marshal failed", "error", err, "threadID", state.ThreadID)
		return err
	}

	query := `
		INSERT OR REPLACE INTO thread_states (user_id, thread_id, pending_action, payload, last_entity_id, last_action, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.Exec(query, state.UserID, state.ThreadID, nilIfEmpty(string(state.PendingAction)),
		nilIfEmpty(payloadJSON), nilIfEmpty(state.LastEntityID), nilIfEmpty(lastActionJSON),
		state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveThreadState failed", "error", err, "userID", state.UserID, "threadID", state.ThreadID)
		return err
	}
	slog.Debug("SQLiteStore SaveThreadState succeeded", "userID", state.UserID, "threadID", state.ThreadID, "pendingAction", state.PendingAction)
	return nil
}

// DeleteThreadState removes all state for a thread.
func (s *SQLiteStore) DeleteThreadState(userID, threadID string) error {
	_, err := s.db.Exec(`DELETE FROM thread_states WHERE user_id = ? AND thread_id = ?`, userID, threadID)
	if err != nil {
		slog.Error("SQLiteStore DeleteThreadState failed", "error", err, "userID", userID, "threadID", threadID)
		return err
	}
	slog.Debug("SQLiteStore DeleteThreadState succeeded", "userID", userID, "threadID", threadID)
	return nil
}

// SaveEvent stores or replaces a calendar event.
func (s *SQLiteStore) SaveEvent(e models.CalendarEvent) error {
	query := `
		INSERT OR REPLACE INTO calendar_events (id, user_id, title, start_at, end_at, recurrence, location, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query, e.ID, e.UserID, e.Title, e.StartAt, e.EndAt,
		nilIfEmpty(e.Recurrence), nilIfEmpty(e.Location), nilIfEmpty(e.Description), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveEvent failed", "error", err, "id", e.ID)
		return fmt.Errorf("failed to save event %s: %w", e.ID, err)
	}
	slog.Debug("SQLiteStore SaveEvent succeeded", "id", e.ID, "title", e.Title)
	return nil
}

// GetEvent retrieves a calendar event by id. Returns nil when not found.
func (s *SQLiteStore) GetEvent(userID, id string) (*models.CalendarEvent, error) {
	query := `SELECT id, user_id, title, start_at, end_at, recurrence, location, description, created_at, updated_at
			  FROM calendar_events WHERE user_id = ? AND id = ?`

	e, err := scanEventRow(s.db.QueryRow(query, userID, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetEvent failed", "error", err, "id", id)
		return nil, err
	}
	return &e, nil
}

// DeleteEvent removes a calendar event.
func (s *SQLiteStore) DeleteEvent(userID, id string) error {
	_, err := s.db.Exec(`DELETE FROM calendar_events WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteEvent failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete event %s: %w", id, err)
	}
	slog.Debug("SQLiteStore DeleteEvent succeeded", "id", id)
	return nil
}

// ListEventsBetween returns events starting in [from, to) ordered by start time.
func (s *SQLiteStore) ListEventsBetween(userID string, from, to time.Time) ([]models.CalendarEvent, error) {
	query := `SELECT id, user_id, title, start_at, end_at, recurrence, location, description, created_at, updated_at
			  FROM calendar_events WHERE user_id = ? AND start_at >= ? AND start_at < ? ORDER BY start_at ASC`

	rows, err := s.db.Query(query, userID, from, to)
	if err != nil {
		slog.Error("SQLiteStore ListEventsBetween query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.CalendarEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event rows: %w", err)
	}
	slog.Debug("SQLiteStore ListEventsBetween succeeded", "userID", userID, "count", len(events))
	return events, nil
}

// SaveTransaction stores a ledger transaction.
func (s *SQLiteStore) SaveTransaction(t models.Transaction) error {
	query := `INSERT OR REPLACE INTO transactions (id, user_id, merchant, amount, date, source, category, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query, t.ID, t.UserID, t.Merchant, t.Amount, t.Date, t.Source, nilIfEmpty(t.Category), t.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveTransaction failed", "error", err, "id", t.ID)
		return fmt.Errorf("failed to save transaction %s: %w", t.ID, err)
	}
	slog.Debug("SQLiteStore SaveTransaction succeeded", "id", t.ID, "merchant", t.Merchant)
	return nil
}

// ListTransactions returns the most recent transactions for a user.
func (s *SQLiteStore) ListTransactions(userID string, limit int) ([]models.Transaction, error) {
	query := `SELECT id, user_id, merchant, amount, date, source, category, created_at
			  FROM transactions WHERE user_id = ? ORDER BY date DESC LIMIT ?`

	rows, err := s.db.Query(query, userID, limit)
	if err != nil {
		slog.Error("SQLiteStore ListTransactions query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		var t models.Transaction
		var category sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &t.Merchant, &t.Amount, &t.Date, &t.Source, &category, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		t.Category = category.String
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transaction rows: %w", err)
	}
	return txns, nil
}

// SaveMemory stores a memory entity.
func (s *SQLiteStore) SaveMemory(m models.Memory) error {
	query := `INSERT OR REPLACE INTO memories (id, user_id, content, url, image_ref, created_at)
			  VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query, m.ID, m.UserID, m.Content, nilIfEmpty(m.URL), nilIfEmpty(m.ImageRef), m.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveMemory failed", "error", err, "id", m.ID)
		return fmt.Errorf("failed to save memory %s: %w", m.ID, err)
	}
	slog.Debug("SQLiteStore SaveMemory succeeded", "id", m.ID)
	return nil
}

// SearchMemories returns memories whose content matches the query substring,
// newest first.
func (s *SQLiteStore) SearchMemories(userID, query string, limit int) ([]models.Memory, error) {
	sqlQuery := `SELECT id, user_id, content, url, image_ref, created_at
				 FROM memories WHERE user_id = ? AND content LIKE ? ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.Query(sqlQuery, userID, "%"+query+"%", limit)
	if err != nil {
		slog.Error("SQLiteStore SearchMemories query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	var memories []models.Memory
	for rows.Next() {
		var m models.Memory
		var url, imageRef sql.NullString
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &url, &imageRef, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory row: %w", err)
		}
		m.URL = url.String
		m.ImageRef = imageRef.String
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memory rows: %w", err)
	}
	slog.Debug("SQLiteStore SearchMemories succeeded", "userID", userID, "count", len(memories))
	return memories, nil
}
