// Package store provides storage backends for the Jarvis dialogue engine.
//
// It defines the ThreadStore and EntityStore interfaces plus in-memory,
// SQLite, and PostgreSQL implementations selected by DSN.
package store

import (
	"strings"
	"time"

	"github.com/sifxtreme/jarvis-sub000/internal/models"
)

// ThreadStore persists per-thread dialogue state.
type ThreadStore interface {
	// GetThreadState retrieves state for a thread. Returns nil (no error)
	// when the thread has no state yet.
	GetThreadState(userID, threadID string) (*models.ThreadState, error)

	// SaveThreadState stores or replaces thread state (last-write-wins,
	// atomic per call).
	SaveThreadState(state models.ThreadState) error

	// DeleteThreadState removes all state for a thread.
	DeleteThreadState(userID, threadID string) error
}

// EntityStore persists the domain entities the action executor operates on.
type EntityStore interface {
	SaveEvent(e models.CalendarEvent) error
	GetEvent(userID, id string) (*models.CalendarEvent, error)
	DeleteEvent(userID, id string) error
	// ListEventsBetween returns events starting in [from, to), ordered by
	// start time ascending. This is the candidate resolver's entity window.
	ListEventsBetween(userID string, from, to time.Time) ([]models.CalendarEvent, error)

	SaveTransaction(t models.Transaction) error
	ListTransactions(userID string, limit int) ([]models.Transaction, error)

	SaveMemory(m models.Memory) error
	SearchMemories(userID, query string, limit int) ([]models.Memory, error)
}

// Store combines all storage concerns behind a single backend.
type Store interface {
	ThreadStore
	EntityStore
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType determines the database type from a DSN string.
// Returns "postgres" for PostgreSQL connection strings, "sqlite" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
