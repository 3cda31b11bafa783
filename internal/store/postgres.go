// Package store provides storage backends for the Jarvis dialogue engine.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/sifxtreme/jarvis-sub000/internal/models"
)

// Database connection pool configuration constants.
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}

// GetThreadState retrieves state for a thread.
func (s *PostgresStore) GetThreadState(userID, threadID string) (*models.ThreadState, error) {
	query := `SELECT user_id, thread_id, pending_action, payload, last_entity_id, last_action, created_at, updated_at
			  FROM thread_states WHERE user_id = $1 AND thread_id = $2`

	state, err := scanThreadState(s.db.QueryRow(query, userID, threadID))
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetThreadState not found", "userID", userID, "threadID", threadID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetThreadState failed", "error", err, "userID", userID, "threadID", threadID)
		return nil, err
	}
	return state, nil
}

// SaveThreadState stores or replaces thread state.
func (s *PostgresStore) SaveThreadState(state models.ThreadState) error {
	payloadJSON, lastActionJSON, err := marshalThreadState(state)
	if err != nil {
		slog.Error("PostgresStore SaveThreadState marshal failed", "error", err, "threadID", state.ThreadID)
		return err
	}

	query := `
		INSERT INTO thread_states (user_id, thread_id, pending_action, payload, last_entity_id, last_action, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, thread_id) DO UPDATE SET
			pending_action = EXCLUDED.pending_action,
			payload = EXCLUDED.payload,
			last_entity_id = EXCLUDED.last_entity_id,
			last_action = EXCLUDED.last_action,
			updated_at = EXCLUDED.updated_at`

	_, err = s.db.Exec(query, state.UserID, state.ThreadID, nilIfEmpty(string(state.PendingAction)),
		nilIfEmpty(payloadJSON), nilIfEmpty(state.LastEntityID), nilIfEmpty(lastActionJSON),
		state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveThreadState failed", "error", err, "userID", state.UserID, "threadID", state.ThreadID)
		return err
	}
	slog.Debug("PostgresStore SaveThreadState succeeded", "userID", state.UserID, "threadID", state.ThreadID, "pendingAction", state.PendingAction)
	return nil
}

// DeleteThreadState removes all state for a thread.
func (s *PostgresStore) DeleteThreadState(userID, threadID string) error {
	_, err := s.db.Exec(`DELETE FROM thread_states WHERE user_id = $1 AND thread_id = $2`, userID, threadID)
	if err != nil {
		slog.Error("PostgresStore DeleteThreadState failed", "error", err, "userID", userID, "threadID", threadID)
		return err
	}
	slog.Debug("PostgresStore DeleteThreadState succeeded", "userID", userID, "threadID", threadID)
	return nil
}

// SaveEvent stores or replaces a calendar event.
func (s *PostgresStore) SaveEvent(e models.CalendarEvent) error {
	query := `
		INSERT INTO calendar_events (id, user_id, title, start_at, end_at, recurrence, location, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			start_at = EXCLUDED.start_at,
			end_at = EXCLUDED.end_at,
			recurrence = EXCLUDED.recurrence,
			location = EXCLUDED.location,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.Exec(query, e.ID, e.UserID, e.Title, e.StartAt, e.EndAt,
		nilIfEmpty(e.Recurrence), nilIfEmpty(e.Location), nilIfEmpty(e.Description), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveEvent failed", "error", err, "id", e.ID)
		return fmt.Errorf("failed to save event %s: %w", e.ID, err)
	}
	slog.Debug("PostgresStore SaveEvent succeeded", "id", e.ID, "title", e.Title)
	return nil
}

// GetEvent retrieves a calendar event by id. Returns nil when not found.
func (s *PostgresStore) GetEvent(userID, id string) (*models.CalendarEvent, error) {
	query := `SELECT id, user_id, title, start_at, end_at, recurrence, location, description, created_at, updated_at
			  FROM calendar_events WHERE user_id = $1 AND id = $2`

	e, err := scanEventRow(s.db.QueryRow(query, userID, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetEvent failed", "error", err, "id", id)
		return nil, err
	}
	return &e, nil
}

// DeleteEvent removes a calendar event.
func (s *PostgresStore) DeleteEvent(userID, id string) error {
	_, err := s.db.Exec(`DELETE FROM calendar_events WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		slog.Error("PostgresStore DeleteEvent failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete event %s: %w", id, err)
	}
	slog.Debug("PostgresStore DeleteEvent succeeded", "id", id)
	return nil
}

// ListEventsBetween returns events starting in [from, to) ordered by start time.
func (s *PostgresStore) ListEventsBetween(userID string, from, to time.Time) ([]models.CalendarEvent, error) {
	query := `SELECT id, user_id, title, start_at, end_at, recurrence, location, description, created_at, updated_at
			  FROM calendar_events WHERE user_id = $1 AND start_at >= $2 AND start_at < $3 ORDER BY start_at ASC`

	rows, err := s.db.Query(query, userID, from, to)
	if err != nil {
		slog.Error("PostgresStore ListEventsBetween query failed", "error", err, "userID", userID)
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
	slog.Debug("PostgresStore ListEventsBetween succeeded", "userID", userID, "count", len(events))
	return events, nil
}

// SaveTransaction stores a ledger transaction.
func (s *PostgresStore) SaveTransaction(t models.Transaction) error {
	query := `INSERT INTO transactions (id, user_id, merchant, amount, date, source, category, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			  ON CONFLICT (id) DO NOTHING`

	_, err := s.db.Exec(query, t.ID, t.UserID, t.Merchant, t.Amount, t.Date, t.Source, nilIfEmpty(t.Category), t.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveTransaction failed", "error", err, "id", t.ID)
		return fmt.Errorf("failed to save transaction %s: %w", t.ID, err)
	}
	slog.Debug("PostgresStore SaveTransaction succeeded", "id", t.ID, "merchant", t.Merchant)
	return nil
}

// ListTransactions returns the most recent transactions for a user.
func (s *PostgresStore) ListTransactions(userID string, limit int) ([]models.Transaction, error) {
	query := `SELECT id, user_id, merchant, amount, date, source, category, created_at
			  FROM transactions WHERE user_id = $1 ORDER BY date DESC LIMIT $2`

	rows, err := s.db.Query(query, userID, limit)
	if err != nil {
		slog.Error("PostgresStore ListTransactions query failed", "error", err, "userID", userID)
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
func (s *PostgresStore) SaveMemory(m models.Memory) error {
	query := `INSERT INTO memories (id, user_id, content, url, image_ref, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  ON CONFLICT (id) DO NOTHING`

	_, err := s.db.Exec(query, m.ID, m.UserID, m.Content, nilIfEmpty(m.URL), nilIfEmpty(m.ImageRef), m.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveMemory failed", "error", err, "id", m.ID)
		return fmt.Errorf("failed to save memory %s: %w", m.ID, err)
	}
	slog.Debug("PostgresStore SaveMemory succeeded", "id", m.ID)
	return nil
}

// SearchMemories returns memories whose content matches the query substring,
// newest first.
func (s *PostgresStore) SearchMemories(userID, query string, limit int) ([]models.Memory, error) {
	sqlQuery := `SELECT id, user_id, content, url, image_ref, created_at
				 FROM memories WHERE user_id = $1 AND content ILIKE $2 ORDER BY created_at DESC LIMIT $3`

	rows, err := s.db.Query(sqlQuery, userID, "%"+query+"%", limit)
	if err != nil {
		slog.Error("PostgresStore SearchMemories query failed", "error", err, "userID", userID)
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
	slog.Debug("PostgresStore SearchMemories succeeded", "userID", userID, "count", len(memories))
	return memories, nil
}
