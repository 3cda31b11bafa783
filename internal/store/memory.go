// Package store provides storage backends for the Jarvis dialogue engine.
//
// This file implements an in-memory store used for tests and local development.
package store

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sifxtreme/jarvis-sub000/internal/models"
)

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// InMemoryStore keeps all state in process memory guarded by a mutex.
type InMemoryStore struct {
	mu           sync.RWMutex
	threadStates map[string]models.ThreadState
	events       map[string]models.CalendarEvent
	transactions map[string]models.Transaction
	memories     map[string]models.Memory
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	slog.Debug("Creating new in-memory store")
	return &InMemoryStore{
		threadStates: make(map[string]models.ThreadState),
		events:       make(map[string]models.CalendarEvent),
		transactions: make(map[string]models.Transaction),
		memories:     make(map[string]models.Memory),
	}
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

func threadKey(userID, threadID string) string {
	return userID + "|" + threadID
}

// GetThreadState retrieves state for a thread. Returns nil when absent.
func (s *InMemoryStore) GetThreadState(userID, threadID string) (*models.ThreadState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.threadStates[threadKey(userID, threadID)]
	if !ok {
		return nil, nil
	}
	// Copy so callers cannot mutate stored state through the payload map.
	cp := state
	if state.Payload != nil {
		cp.Payload = make(map[string]any, len(state.Payload))
		for k, v := range state.Payload {
			cp.Payload[k] = v
		}
	}
	if state.LastAction != nil {
		la := *state.LastAction
		cp.LastAction = &la
	}
	return &cp, nil
}

// SaveThreadState stores or replaces thread state.
func (s *InMemoryStore) SaveThreadState(state models.ThreadState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threadStates[threadKey(state.UserID, state.ThreadID)] = state
	return nil
}

// DeleteThreadState removes all state for a thread.
func (s *InMemoryStore) DeleteThreadState(userID, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threadStates, threadKey(userID, threadID))
	return nil
}

// SaveEvent stores or replaces a calendar event.
func (s *InMemoryStore) SaveEvent(e models.CalendarEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = e
	return nil
}

// GetEvent retrieves a calendar event by id. Returns nil when not found.
func (s *InMemoryStore) GetEvent(userID, id string) (*models.CalendarEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok || e.UserID != userID {
		return nil, nil
	}
	return &e, nil
}

// DeleteEvent removes a calendar event.
func (s *InMemoryStore) DeleteEvent(userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.events[id]; ok && e.UserID == userID {
		delete(s.events, id)
	}
	return nil
}

// ListEventsBetween returns events starting in [from, to) ordered by start time.
func (s *InMemoryStore) ListEventsBetween(userID string, from, to time.Time) ([]models.CalendarEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var events []models.CalendarEvent
	for _, e := range s.events {
		if e.UserID != userID {
			continue
		}
		if e.StartAt.Before(from) || !e.StartAt.Before(to) {
			continue
		}
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].StartAt.Before(events[j].StartAt) })
	return events, nil
}

// SaveTransaction stores a ledger transaction.
func (s *InMemoryStore) SaveTransaction(t models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[t.ID] = t
	return nil
}

// ListTransactions returns the most recent transactions for a user.
func (s *InMemoryStore) ListTransactions(userID string, limit int) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var txns []models.Transaction
	for _, t := range s.transactions {
		if t.UserID == userID {
			txns = append(txns, t)
		}
	}
	sort.Slice(txns, func(i, j int) bool { return txns[i].Date > txns[j].Date })
	if limit > 0 && len(txns) > limit {
		txns = txns[:limit]
	}
	return txns, nil
}

// SaveMemory stores a memory entity.
func (s *InMemoryStore) SaveMemory(m models.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[m.ID] = m
	return nil
}

// SearchMemories returns memories whose content matches the query substring,
// newest first.
func (s *InMemoryStore) SearchMemories(userID, query string, limit int) ([]models.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lowered := strings.ToLower(query)
	var memories []models.Memory
	for _, m := range s.memories {
		if m.UserID != userID {
			continue
		}
		if lowered != "" && !strings.Contains(strings.ToLower(m.Content), lowered) {
			continue
		}
		memories = append(memories, m)
	}
	sort.Slice(memories, func(i, j int) bool { return memories[i].CreatedAt.After(memories[j].CreatedAt) })
	if limit > 0 && len(memories) > limit {
		memories = memories[:limit]
	}
	return memories, nil
}
