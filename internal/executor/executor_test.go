package executor

import (
	"context"
	"testing"
	"time"

	"github.com/sifxtreme/jarvis-sub000/internal/models"
	"github.com/sifxtreme/jarvis-sub000/internal/store"
)

func TestCreateEvent_ResolvesDateAndTime(t *testing.T) {
	x := NewStoreExecutor(store.NewInMemoryStore(), time.UTC)
	event, err := x.CreateEvent(context.Background(), "u1", models.EventPayload{
		Title:     "Lunch with Sam",
		Date:      "2026-09-04",
		StartTime: "12:00",
	})
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}
	want := time.Date(2026, 9, 4, 12, 0, 0, 0, time.UTC)
	if !event.StartAt.Equal(want) {
		t.Errorf("StartAt = %v, want %v", event.StartAt, want)
	}
	if !event.EndAt.Equal(want.Add(time.Hour)) {
		t.Errorf("EndAt = %v, want one hour after start", event.EndAt)
	}
	if event.ID == "" {
		t.Error("expected generated event id")
	}
}

func TestCreateEvent_InvalidDate(t *testing.T) {
	x := NewStoreExecutor(store.NewInMemoryStore(), nil)
	_, err := x.CreateEvent(context.Background(), "u1", models.EventPayload{Title: "x", Date: "next friday"})
	if err == nil {
		t.Fatal("expected error for unparseable date")
	}
}

func TestUpdateEvent_PreservesDuration(t *testing.T) {
	s := store.NewInMemoryStore()
	x := NewStoreExecutor(s, time.UTC)
	event, err := x.CreateEvent(context.Background(), "u1", models.EventPayload{
		Title: "Standup", Date: "2026-09-04", StartTime: "09:00", EndTime: "09:30",
	})
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}

	updated, err := x.UpdateEvent(context.Background(), "u1", event.ID, UpdateChanges{StartTime: "10:00"}, "")
	if err != nil {
		t.Fatalf("UpdateEvent failed: %v", err)
	}
	wantStart := time.Date(2026, 9, 4, 10, 0, 0, 0, time.UTC)
	if !updated.StartAt.Equal(wantStart) {
		t.Errorf("StartAt = %v, want %v", updated.StartAt, wantStart)
	}
	if updated.EndAt.Sub(updated.StartAt) != 30*time.Minute {
		t.Errorf("duration = %v, want 30m preserved", updated.EndAt.Sub(updated.StartAt))
	}
}

func TestUpdateEvent_NotFound(t *testing.T) {
	x := NewStoreExecutor(store.NewInMemoryStore(), nil)
	_, err := x.UpdateEvent(context.Background(), "u1", "missing", UpdateChanges{Title: "y"}, "")
	if err == nil {
		t.Fatal("expected error for missing event")
	}
}

func TestDeleteEvent_RemovesStoredEvent(t *testing.T) {
	s := store.NewInMemoryStore()
	x := NewStoreExecutor(s, time.UTC)
	event, err := x.CreateEvent(context.Background(), "u1", models.EventPayload{Title: "Dentist", Date: "2026-09-04"})
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}
	if err := x.DeleteEvent(context.Background(), "u1", event.ID, models.ScopeInstance); err != nil {
		t.Fatalf("DeleteEvent failed: %v", err)
	}
	got, _ := s.GetEvent("u1", event.ID)
	if got != nil {
		t.Error("event still present after delete")
	}
}

func TestCreateTransactionAndSaveMemory(t *testing.T) {
	s := store.NewInMemoryStore()
	x := NewStoreExecutor(s, nil)

	txn, err := x.CreateTransaction(context.Background(), "u1", models.TransactionPayload{
		Merchant: "Blue Bottle", Amount: "6.50", Date: "2026-08-30", Source: "amex",
	})
	if err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	if txn.ID == "" || txn.Merchant != "Blue Bottle" {
		t.Errorf("unexpected transaction: %+v", txn)
	}

	mem, err := x.SaveMemory(context.Background(), "u1", models.MemoryPayload{Content: "Garage code is 4321"})
	if err != nil {
		t.Fatalf("SaveMemory failed: %v", err)
	}
	found, err := x.SearchMemories(context.Background(), "u1", "garage", 5)
	if err != nil {
		t.Fatalf("SearchMemories failed: %v", err)
	}
	if len(found) != 1 || found[0].ID != mem.ID {
		t.Errorf("expected saved memory in search results, got %+v", found)
	}
}
