package flow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sifxtreme/jarvis-sub000/internal/executor"
	"github.com/sifxtreme/jarvis-sub000/internal/genai"
	"github.com/sifxtreme/jarvis-sub000/internal/models"
	"github.com/sifxtreme/jarvis-sub000/internal/store"
)

// scriptedExtractor returns canned extraction results so dispatcher tests can
// drive full conversations without an LLM.
type scriptedExtractor struct {
	events genai.EventResult
	txns   genai.TransactionResult
	memory genai.MemoryResult
	update genai.UpdateResult
	del    genai.DeleteResult
	list   genai.ListQueryResult
}

func (s *scriptedExtractor) ExtractEvents(ctx context.Context, req genai.ExtractRequest) genai.EventResult {
	return s.events
}

func (s *scriptedExtractor) ExtractEventCorrection(ctx context.Context, prior models.EventPayload, answer string, now time.Time) genai.EventResult {
	return s.events
}

func (s *scriptedExtractor) ExtractTransactions(ctx context.Context, req genai.ExtractRequest) genai.TransactionResult {
	return s.txns
}

func (s *scriptedExtractor) ExtractTransactionCorrection(ctx context.Context, prior models.TransactionPayload, answer string, now time.Time) genai.TransactionResult {
	return s.txns
}

func (s *scriptedExtractor) ExtractMemory(ctx context.Context, req genai.ExtractRequest) genai.MemoryResult {
	return s.memory
}

func (s *scriptedExtractor) ExtractMemoryCorrection(ctx context.Context, prior models.MemoryPayload, answer string, now time.Time) genai.MemoryResult {
	return s.memory
}

func (s *scriptedExtractor) ExtractUpdateRequest(ctx context.Context, text string, now time.Time) genai.UpdateResult {
	return s.update
}

func (s *scriptedExtractor) ExtractDeleteRequest(ctx context.Context, text string, now time.Time) genai.DeleteResult {
	return s.del
}

func (s *scriptedExtractor) ExtractListQuery(ctx context.Context, text string, now time.Time) genai.ListQueryResult {
	return s.list
}

// scriptedClassifier returns a canned intent. Tests mutate it between turns.
type scriptedClassifier struct {
	intent     models.Intent
	confidence models.Confidence
	panics     bool
	lastTurns  []string
}

func (s *scriptedClassifier) Classify(ctx context.Context, text string, hasImage bool, recentTurns []string) (models.Intent, models.Confidence, error) {
	if s.panics {
		panic("classifier exploded")
	}
	s.lastTurns = recentTurns
	return s.intent, s.confidence, nil
}

func newDispatcherFixture(t *testing.T, ext *scriptedExtractor, cls *scriptedClassifier) (*Dispatcher, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	exec := executor.NewStoreExecutor(st, time.UTC)
	states := NewStateManager(st)
	guard := NewIdempotencyGuard(0)

	Register(NewEventFlow(ext, exec))
	Register(NewTransactionFlow(ext, exec, nil))
	Register(NewMemoryFlow(ext, exec))

	resolver := NewResolver(exec, ResolverOpts{})
	engine := NewEngine(states, nil, guard, resolver)
	actions := NewEventActions(ext, resolver, exec, states, guard)
	return NewDispatcher(states, engine, actions, cls, exec, time.UTC), st
}

func msg(text string) models.Message {
	return models.Message{UserID: "u1", ThreadID: "t1", Text: text}
}

func threadState(t *testing.T, st *store.InMemoryStore) *models.ThreadState {
	t.Helper()
	state, err := st.GetThreadState("u1", "t1")
	if err != nil {
		t.Fatalf("GetThreadState failed: %v", err)
	}
	if state == nil {
		return &models.ThreadState{}
	}
	return state
}

func TestProcess_RejectsInvalidMessage(t *testing.T) {
	d, _ := newDispatcherFixture(t, &scriptedExtractor{}, &scriptedClassifier{})

	resp := d.Process(context.Background(), models.Message{UserID: "u1"})
	if resp.ErrorCode != models.ErrorCodeInternal {
		t.Errorf("error code = %q, want %q", resp.ErrorCode, models.ErrorCodeInternal)
	}
}

func TestProcess_MediumConfidenceEventConfirmThenYes(t *testing.T) {
	ext := &scriptedExtractor{events: genai.EventResult{Events: []models.EventPayload{{
		Title: "Lunch with Sam", Date: "2026-09-04", StartTime: "12:00",
		Confidence: models.ConfidenceMedium,
	}}}}
	cls := &scriptedClassifier{intent: models.IntentCreateEvent, confidence: models.ConfidenceHigh}
	d, st := newDispatcherFixture(t, ext, cls)

	resp := d.Process(context.Background(), msg("lunch with Sam Friday at noon"))
	if !strings.Contains(resp.Text, "Should I create") {
		t.Fatalf("expected confirmation prompt, got %q", resp.Text)
	}
	if got := threadState(t, st).PendingAction; got != models.PendingConfirmEvent {
		t.Fatalf("pending = %q, want %q", got, models.PendingConfirmEvent)
	}

	resp = d.Process(context.Background(), msg("yes"))
	if !resp.EventCreated {
		t.Errorf("expected event_created in response, got %+v", resp)
	}
	state := threadState(t, st)
	if state.HasPending() {
		t.Error("pending state must be cleared after execution")
	}
	if state.LastEntityID == "" {
		t.Error("last entity must be recorded for later pronoun references")
	}
	events, err := st.ListEventsBetween("u1", time.Date(2026, 9, 4, 0, 0, 0, 0, time.UTC), time.Date(2026, 9, 5, 0, 0, 0, 0, time.UTC))
	if err != nil || len(events) != 1 {
		t.Fatalf("expected 1 stored event, got %d (err %v)", len(events), err)
	}
	if events[0].Title != "Lunch with Sam" {
		t.Errorf("stored title = %q", events[0].Title)
	}
}

func TestProcess_ConfirmationDeclined(t *testing.T) {
	ext := &scriptedExtractor{events: genai.EventResult{Events: []models.EventPayload{{
		Title: "Lunch with Sam", Date: "2026-09-04", Confidence: models.ConfidenceMedium,
	}}}}
	cls := &scriptedClassifier{intent: models.IntentCreateEvent, confidence: models.ConfidenceHigh}
	d, st := newDispatcherFixture(t, ext, cls)

	d.Process(context.Background(), msg("lunch with Sam Friday"))
	resp := d.Process(context.Background(), msg("no"))

	if resp.Text != "Okay, cancelled." {
		t.Errorf("unexpected response: %q", resp.Text)
	}
	if threadState(t, st).HasPending() {
		t.Error("declining must clear the pending state")
	}
	events, _ := st.ListEventsBetween("u1", time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 9, 8, 0, 0, 0, 0, time.UTC))
	if len(events) != 0 {
		t.Errorf("no event should have been created, found %d", len(events))
	}
}

func TestProcess_DeleteWithNumberedSelection(t *testing.T) {
	now := time.Now().UTC()
	ext := &scriptedExtractor{del: genai.DeleteResult{Target: genai.TargetQuery{Title: "dentist"}}}
	cls := &scriptedClassifier{intent: models.IntentDeleteEvent, confidence: models.ConfidenceHigh}
	d, st := newDispatcherFixture(t, ext, cls)

	first := models.CalendarEvent{ID: "ev-1", UserID: "u1", Title: "Dentist checkup",
		StartAt: now.Add(24 * time.Hour), EndAt: now.Add(25 * time.Hour)}
	second := models.CalendarEvent{ID: "ev-2", UserID: "u1", Title: "Dentist cleaning",
		StartAt: now.Add(48 * time.Hour), EndAt: now.Add(49 * time.Hour)}
	for _, e := range []models.CalendarEvent{first, second} {
		if err := st.SaveEvent(e); err != nil {
			t.Fatalf("SaveEvent failed: %v", err)
		}
	}

	resp := d.Process(context.Background(), msg("delete my dentist appointment"))
	if !strings.Contains(resp.Text, "1. Dentist checkup") || !strings.Contains(resp.Text, "2. Dentist cleaning") {
		t.Fatalf("expected a numbered candidate list, got %q", resp.Text)
	}
	if got := threadState(t, st).PendingAction; got != models.PendingSelectEventForDelete {
		t.Fatalf("pending = %q, want %q", got, models.PendingSelectEventForDelete)
	}

	// An explicit pick is the confirmation; deletion runs immediately.
	resp = d.Process(context.Background(), msg("2"))
	if !strings.Contains(resp.Text, "Dentist cleaning") {
		t.Errorf("expected deletion of the second candidate, got %q", resp.Text)
	}
	if got, _ := st.GetEvent("u1", "ev-2"); got != nil {
		t.Error("ev-2 should be gone")
	}
	if got, _ := st.GetEvent("u1", "ev-1"); got == nil {
		t.Error("ev-1 must survive")
	}
	state := threadState(t, st)
	if state.HasPending() {
		t.Error("pending state must be cleared after deletion")
	}
	if state.LastEntityID != "ev-2" {
		t.Errorf("LastEntityID = %q, want ev-2", state.LastEntityID)
	}
}

func TestProcess_UnknownIntentClarifiesThenResumes(t *testing.T) {
	ext := &scriptedExtractor{txns: genai.TransactionResult{Transactions: []models.TransactionPayload{{
		Merchant: "Blue Bottle", Amount: "6.50", Date: "2026-08-30", Source: "amex",
		Confidence: models.ConfidenceHigh,
	}}}}
	cls := &scriptedClassifier{intent: models.IntentUnknown, confidence: models.ConfidenceHigh}
	d, st := newDispatcherFixture(t, ext, cls)

	resp := d.Process(context.Background(), msg("blue bottle"))
	if got := threadState(t, st).PendingAction; got != models.PendingClarifyIntent {
		t.Fatalf("pending = %q, want %q", got, models.PendingClarifyIntent)
	}
	if !strings.Contains(resp.Text, "What would you like to do?") {
		t.Fatalf("expected intent question, got %q", resp.Text)
	}

	// The answer re-runs classification with the combined text.
	cls.intent = models.IntentCreateTransaction
	resp = d.Process(context.Background(), msg("log it as a purchase"))
	if threadState(t, st).HasPending() {
		t.Error("pending state must resolve once the intent is known")
	}
	txns, err := st.ListTransactions("u1", 10)
	if err != nil || len(txns) != 1 {
		t.Fatalf("expected 1 transaction, got %d (err %v)", len(txns), err)
	}
	if txns[0].Merchant != "Blue Bottle" {
		t.Errorf("merchant = %q", txns[0].Merchant)
	}
	if resp.ErrorCode != "" {
		t.Errorf("unexpected error response: %+v", resp)
	}
}

func TestProcess_RecentTurnsFeedClassification(t *testing.T) {
	cls := &scriptedClassifier{intent: models.IntentUnknown, confidence: models.ConfidenceHigh}
	d, st := newDispatcherFixture(t, &scriptedExtractor{}, cls)

	if len(cls.lastTurns) != 0 {
		t.Fatal("fixture sanity: no turns yet")
	}
	d.Process(context.Background(), msg("blue bottle"))

	cls.intent = models.IntentSearchMemory
	d.Process(context.Background(), msg("never mind, what's the wifi password"))

	if len(cls.lastTurns) != 2 {
		t.Fatalf("classifier must see the prior exchange, got %v", cls.lastTurns)
	}
	if cls.lastTurns[0] != "User: blue bottle" {
		t.Errorf("first turn = %q", cls.lastTurns[0])
	}
	if !strings.HasPrefix(cls.lastTurns[1], "Assistant: ") {
		t.Errorf("second turn = %q", cls.lastTurns[1])
	}

	state := threadState(t, st)
	if len(state.RecentTurns) != 4 {
		t.Errorf("turn log should hold both exchanges, got %v", state.RecentTurns)
	}
}

func TestRecordTurn_KeepsBoundedLog(t *testing.T) {
	states := NewStateManager(store.NewInMemoryStore())
	state, err := states.Load("u1", "t1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := states.RecordTurn(state, "hello", "hi"); err != nil {
			t.Fatalf("RecordTurn failed: %v", err)
		}
	}

	if len(state.RecentTurns) != maxRecentTurns {
		t.Errorf("turn log length = %d, want %d", len(state.RecentTurns), maxRecentTurns)
	}
	saved, err := states.Load("u1", "t1")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if len(saved.RecentTurns) != maxRecentTurns {
		t.Errorf("persisted turn log length = %d, want %d", len(saved.RecentTurns), maxRecentTurns)
	}
}

func TestProcess_LowClassificationConfidenceTreatedAsUnknown(t *testing.T) {
	cls := &scriptedClassifier{intent: models.IntentCreateEvent, confidence: models.ConfidenceLow}
	d, st := newDispatcherFixture(t, &scriptedExtractor{}, cls)

	d.Process(context.Background(), msg("hmm friday maybe"))
	if got := threadState(t, st).PendingAction; got != models.PendingClarifyIntent {
		t.Errorf("pending = %q, want %q", got, models.PendingClarifyIntent)
	}
}

func TestProcess_ListEvents(t *testing.T) {
	ext := &scriptedExtractor{list: genai.ListQueryResult{
		From: "2026-09-01", To: "2026-09-08", Label: "this week",
	}}
	cls := &scriptedClassifier{intent: models.IntentListEvents, confidence: models.ConfidenceHigh}
	d, st := newDispatcherFixture(t, ext, cls)

	if err := st.SaveEvent(models.CalendarEvent{
		ID: "ev-1", UserID: "u1", Title: "Standup",
		StartAt: time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC),
		EndAt:   time.Date(2026, 9, 2, 9, 30, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("SaveEvent failed: %v", err)
	}

	resp := d.Process(context.Background(), msg("what's on my calendar this week"))
	if !strings.Contains(resp.Text, "this week") || !strings.Contains(resp.Text, "Standup") {
		t.Errorf("unexpected listing: %q", resp.Text)
	}
	if threadState(t, st).HasPending() {
		t.Error("listing must not leave a pending state")
	}
}

func TestProcess_SearchMemory(t *testing.T) {
	cls := &scriptedClassifier{intent: models.IntentSearchMemory, confidence: models.ConfidenceHigh}
	d, st := newDispatcherFixture(t, &scriptedExtractor{}, cls)

	if err := st.SaveMemory(models.Memory{
		ID: "m1", UserID: "u1", Content: "wifi password is hunter2", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("SaveMemory failed: %v", err)
	}

	resp := d.Process(context.Background(), msg("do you remember the wifi password"))
	if !strings.Contains(resp.Text, "hunter2") {
		t.Errorf("expected the saved memory, got %q", resp.Text)
	}

	resp = d.Process(context.Background(), msg("what do you know about dinosaurs"))
	if resp.Text != "I don't have anything saved about that." {
		t.Errorf("unexpected empty-result response: %q", resp.Text)
	}
}

func TestProcess_PanicResetsThread(t *testing.T) {
	cls := &scriptedClassifier{panics: true}
	d, st := newDispatcherFixture(t, &scriptedExtractor{}, cls)

	// Leave a pending state behind so the reset is observable.
	states := NewStateManager(st)
	state, _ := states.Load("u1", "t1")
	if err := states.SetPending(state, models.PendingClarifyIntent, map[string]any{models.PayloadKeyText: "x"}); err != nil {
		t.Fatalf("SetPending failed: %v", err)
	}
	// Force classification to run despite the pending state.
	if err := states.ClearPending(state); err != nil {
		t.Fatalf("ClearPending failed: %v", err)
	}

	resp := d.Process(context.Background(), msg("boom"))
	if resp.ErrorCode != models.ErrorCodeInternal {
		t.Errorf("error code = %q, want %q", resp.ErrorCode, models.ErrorCodeInternal)
	}
	if resp.Text != "Something went wrong. Let's start over." {
		t.Errorf("unexpected response: %q", resp.Text)
	}
	if got, _ := st.GetThreadState("u1", "t1"); got != nil {
		t.Error("thread state must be wiped after a panic")
	}
}

func TestSearchQuery_StripsRecallPhrasing(t *testing.T) {
	cases := map[string]string{
		"do you remember the wifi password": "wifi password",
		"what's the gate code?":             "gate code",
		"search for sourdough recipe":       "sourdough recipe",
		"gift ideas":                        "gift ideas",
	}
	for in, want := range cases {
		if got := searchQuery(in); got != want {
			t.Errorf("searchQuery(%q) = %q, want %q", in, got, want)
		}
	}
}
