package flow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sifxtreme/jarvis-sub000/internal/executor"
	"github.com/sifxtreme/jarvis-sub000/internal/models"
	"github.com/sifxtreme/jarvis-sub000/internal/store"
)

// stubFlow is a configurable Flow for engine lifecycle tests. It reuses the
// event pending actions so state transitions stay within the valid set.
type stubFlow struct {
	outcome     ExtractOutcome
	missing     []string
	multiAction models.PendingAction
	execErr     error
	execCalls   int
	lastPayload models.Payload
}

func (f *stubFlow) Kind() models.Kind { return models.KindEvent }

func (f *stubFlow) Intent() models.Intent { return models.IntentCreateEvent }

func (f *stubFlow) Label() (string, string) { return "event", "events" }

func (f *stubFlow) PayloadKey() string { return models.PayloadKeyEvent }

func (f *stubFlow) Extract(ctx context.Context, conv ConversationContext) ExtractOutcome {
	return f.outcome
}

func (f *stubFlow) ExtractCorrection(ctx context.Context, conv ConversationContext, prior models.Payload) ExtractOutcome {
	return f.outcome
}

func (f *stubFlow) Normalize(conv ConversationContext, p models.Payload) models.Payload { return p }

func (f *stubFlow) MissingFields(p models.Payload) []string { return f.missing }

func (f *stubFlow) ErrorMissingFields() []string { return []string{"title"} }

func (f *stubFlow) ErrorFallback() string { return "What event should I create?" }

func (f *stubFlow) MissingFallback(fields []string, p models.Payload) string {
	return fmt.Sprintf("What is the %s?", fields[0])
}

func (f *stubFlow) CorrectionFallback(fields []string, p models.Payload) string {
	return "Still missing details."
}

func (f *stubFlow) ExtraPrompt(fields []string) string { return "" }

func (f *stubFlow) ExtractedSummary(p models.Payload) map[string]string { return nil }

func (f *stubFlow) ConfirmPrompt(p models.Payload, stage Stage) string {
	return "Create this event?"
}

func (f *stubFlow) Execute(ctx context.Context, conv ConversationContext, p models.Payload) (models.Response, string, error) {
	f.execCalls++
	f.lastPayload = p
	if f.execErr != nil {
		return models.Response{}, "", f.execErr
	}
	return models.TextResponse("Created."), "e-123", nil
}

func (f *stubFlow) MultiAction() models.PendingAction { return f.multiAction }

func (f *stubFlow) MultiPayloadKey() string { return models.PayloadKeyItems }

func (f *stubFlow) MultiFormatter(items []models.Payload) string {
	return fmt.Sprintf("I found %d events. Which ones?", len(items))
}

func (f *stubFlow) AllowMultiOnCorrection() bool { return false }

func (f *stubFlow) Preflight(ctx context.Context, conv ConversationContext) *PreflightResult {
	return nil
}

func (f *stubFlow) ClarifyAction() models.PendingAction { return models.PendingClarifyEventFields }

func (f *stubFlow) ConfirmAction() models.PendingAction { return models.PendingConfirmEvent }

var _ Flow = (*stubFlow)(nil)

func newEngineFixture(t *testing.T, f *stubFlow) (*Engine, *StateManager, *models.ThreadState, ConversationContext) {
	t.Helper()
	Register(f)
	states := NewStateManager(store.NewInMemoryStore())
	engine := NewEngine(states, nil, NewIdempotencyGuard(0), nil)
	state, err := states.Load("u1", "t1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	conv := ConversationContext{
		UserID: "u1", ThreadID: "t1", Text: "lunch with Sam Friday at noon",
		Now: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC), Location: time.UTC,
	}
	return engine, states, state, conv
}

func highConfidenceEvent() models.EventPayload {
	return models.EventPayload{
		Title: "Lunch with Sam", Date: "2026-09-04", StartTime: "12:00",
		Confidence: models.ConfidenceHigh,
	}
}

func TestHandleCreate_HighConfidenceExecutesDirectly(t *testing.T) {
	f := &stubFlow{outcome: ExtractOutcome{Items: []models.Payload{highConfidenceEvent()}}}
	engine, _, state, conv := newEngineFixture(t, f)

	resp := engine.HandleCreate(context.Background(), conv, state, models.KindEvent)

	if f.execCalls != 1 {
		t.Fatalf("expected 1 execution, got %d", f.execCalls)
	}
	if resp.Text != "Created." {
		t.Errorf("unexpected response: %q", resp.Text)
	}
	if state.HasPending() {
		t.Error("state must be resolved after execution")
	}
	if state.LastEntityID != "e-123" {
		t.Errorf("LastEntityID = %q, want e-123", state.LastEntityID)
	}
	if state.LastAction == nil || state.LastAction.ActionType != "create_event" {
		t.Errorf("LastAction not recorded: %+v", state.LastAction)
	}
}

func TestHandleCreate_MediumConfidenceAsksForConfirmation(t *testing.T) {
	p := highConfidenceEvent()
	p.Confidence = models.ConfidenceMedium
	f := &stubFlow{outcome: ExtractOutcome{Items: []models.Payload{p}}}
	engine, _, state, conv := newEngineFixture(t, f)

	resp := engine.HandleCreate(context.Background(), conv, state, models.KindEvent)

	if f.execCalls != 0 {
		t.Fatal("medium confidence must not execute without confirmation")
	}
	if state.PendingAction != models.PendingConfirmEvent {
		t.Errorf("pending = %q, want %q", state.PendingAction, models.PendingConfirmEvent)
	}
	if resp.Text != "Create this event?" {
		t.Errorf("unexpected prompt: %q", resp.Text)
	}
	if _, ok := state.Payload[models.PayloadKeyEvent]; !ok {
		t.Error("pending payload must carry the extracted event")
	}
}

func TestHandleCreate_LowConfidenceAlsoConfirms(t *testing.T) {
	p := highConfidenceEvent()
	p.Confidence = models.ConfidenceLow
	f := &stubFlow{outcome: ExtractOutcome{Items: []models.Payload{p}}}
	engine, _, state, conv := newEngineFixture(t, f)

	engine.HandleCreate(context.Background(), conv, state, models.KindEvent)

	if f.execCalls != 0 {
		t.Fatal("low confidence must not execute without confirmation")
	}
	if state.PendingAction != models.PendingConfirmEvent {
		t.Errorf("pending = %q, want %q", state.PendingAction, models.PendingConfirmEvent)
	}
}

func TestHandleCreate_MissingFieldsAskForClarification(t *testing.T) {
	p := models.EventPayload{Title: "Lunch", Confidence: models.ConfidenceHigh}
	f := &stubFlow{
		outcome: ExtractOutcome{Items: []models.Payload{p}},
		missing: []string{"date"},
	}
	engine, _, state, conv := newEngineFixture(t, f)

	resp := engine.HandleCreate(context.Background(), conv, state, models.KindEvent)

	if f.execCalls != 0 {
		t.Fatal("incomplete payload must not execute")
	}
	if state.PendingAction != models.PendingClarifyEventFields {
		t.Errorf("pending = %q, want %q", state.PendingAction, models.PendingClarifyEventFields)
	}
	if resp.Text != "What is the date?" {
		t.Errorf("unexpected question: %q", resp.Text)
	}
	if payloadString(state.Payload, models.PayloadKeyText) != conv.Text {
		t.Error("original text must be kept for the correction turn")
	}
}

func TestHandleCreate_ExtractionErrorFallsBackToClarification(t *testing.T) {
	f := &stubFlow{outcome: ExtractOutcome{Err: true}}
	engine, _, state, conv := newEngineFixture(t, f)

	resp := engine.HandleCreate(context.Background(), conv, state, models.KindEvent)

	if state.PendingAction != models.PendingClarifyEventFields {
		t.Errorf("pending = %q, want clarification", state.PendingAction)
	}
	if resp.Text != "What event should I create?" {
		t.Errorf("unexpected fallback: %q", resp.Text)
	}
}

func TestHandleCreate_ExtractionMessageReturnedVerbatim(t *testing.T) {
	f := &stubFlow{outcome: ExtractOutcome{
		Err:     true,
		Message: "When is the dentist appointment you want scheduled?",
	}}
	engine, _, state, conv := newEngineFixture(t, f)

	resp := engine.HandleCreate(context.Background(), conv, state, models.KindEvent)

	if resp.Text != "When is the dentist appointment you want scheduled?" {
		t.Errorf("the extractor's question must be returned as-is, got %q", resp.Text)
	}
	if state.PendingAction != models.PendingClarifyEventFields {
		t.Errorf("pending = %q, want clarification", state.PendingAction)
	}
	if payloadString(state.Payload, models.PayloadKeyText) != conv.Text {
		t.Error("original text must be kept for the correction turn")
	}
}

func TestHandleCreate_MultipleItemsOfferSelection(t *testing.T) {
	a := highConfidenceEvent()
	b := highConfidenceEvent()
	b.Title = "Dinner with Sam"
	f := &stubFlow{
		outcome:     ExtractOutcome{Items: []models.Payload{a, b}},
		multiAction: models.PendingSelectEventExtraction,
	}
	engine, _, state, conv := newEngineFixture(t, f)

	resp := engine.HandleCreate(context.Background(), conv, state, models.KindEvent)

	if f.execCalls != 0 {
		t.Fatal("multiple candidates must not execute")
	}
	if state.PendingAction != models.PendingSelectEventExtraction {
		t.Errorf("pending = %q, want %q", state.PendingAction, models.PendingSelectEventExtraction)
	}
	if resp.Text != "I found 2 events. Which ones?" {
		t.Errorf("unexpected offer: %q", resp.Text)
	}
}

func TestExecutePayload_DuplicateSuppressed(t *testing.T) {
	f := &stubFlow{}
	engine, _, state, conv := newEngineFixture(t, f)
	p := highConfidenceEvent()

	first := engine.ExecutePayload(context.Background(), conv, state, f, p)
	if first.Text != "Created." || f.execCalls != 1 {
		t.Fatalf("first execution failed: %+v calls=%d", first, f.execCalls)
	}

	conv.Now = conv.Now.Add(30 * time.Second)
	second := engine.ExecutePayload(context.Background(), conv, state, f, p)
	if f.execCalls != 1 {
		t.Errorf("duplicate inside the window must not re-execute; calls = %d", f.execCalls)
	}
	if second.Text != "All set. That event is already saved." {
		t.Errorf("unexpected duplicate response: %q", second.Text)
	}
	if second.ErrorCode != "" {
		t.Errorf("duplicate must be success shaped, got error code %q", second.ErrorCode)
	}

	// Outside the window the same payload is a real new action.
	conv.Now = conv.Now.Add(DefaultIdempotencyWindow)
	third := engine.ExecutePayload(context.Background(), conv, state, f, p)
	if f.execCalls != 2 || third.Text != "Created." {
		t.Errorf("expected re-execution after the window; calls = %d, resp = %+v", f.execCalls, third)
	}
}

// recordingInvalidator captures candidate window invalidations.
type recordingInvalidator struct {
	users []string
}

func (r *recordingInvalidator) Invalidate(userID string) { r.users = append(r.users, userID) }

func TestExecutePayload_InvalidatesCandidateWindow(t *testing.T) {
	f := &stubFlow{}
	Register(f)
	states := NewStateManager(store.NewInMemoryStore())
	inv := &recordingInvalidator{}
	engine := NewEngine(states, nil, NewIdempotencyGuard(0), inv)
	state, err := states.Load("u1", "t1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	conv := ConversationContext{
		UserID: "u1", ThreadID: "t1", Text: "lunch with Sam Friday at noon",
		Now: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC), Location: time.UTC,
	}

	resp := engine.ExecutePayload(context.Background(), conv, state, f, highConfidenceEvent())

	if resp.Text != "Created." {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(inv.users) != 1 || inv.users[0] != "u1" {
		t.Errorf("creating an event must invalidate the user's window, got %v", inv.users)
	}
}

func TestExecutePayload_AuthExpiredLeavesStateUntouched(t *testing.T) {
	f := &stubFlow{execErr: executor.ErrAuthExpired}
	engine, states, state, conv := newEngineFixture(t, f)
	if err := states.SetPending(state, models.PendingConfirmEvent, map[string]any{
		models.PayloadKeyEvent: encodePayload(highConfidenceEvent()),
	}); err != nil {
		t.Fatalf("SetPending failed: %v", err)
	}

	resp := engine.ExecutePayload(context.Background(), conv, state, f, highConfidenceEvent())

	if resp.Action != models.ActionReconnectCalendar {
		t.Errorf("action = %q, want %q", resp.Action, models.ActionReconnectCalendar)
	}
	if resp.ErrorCode != models.ErrorCodeAuthExpired {
		t.Errorf("error code = %q, want %q", resp.ErrorCode, models.ErrorCodeAuthExpired)
	}
	if state.PendingAction != models.PendingConfirmEvent {
		t.Error("auth expiry must leave the pending action in place for retry")
	}
	if state.Payload == nil {
		t.Error("auth expiry must leave the payload in place for retry")
	}
}

func TestExecutePayload_ExecutorErrorClearsState(t *testing.T) {
	f := &stubFlow{execErr: errors.New("calendar unavailable")}
	engine, _, state, conv := newEngineFixture(t, f)

	resp := engine.ExecutePayload(context.Background(), conv, state, f, highConfidenceEvent())

	if resp.ErrorCode != models.ErrorCodeExecutor {
		t.Errorf("error code = %q, want %q", resp.ErrorCode, models.ErrorCodeExecutor)
	}
	if state.HasPending() {
		t.Error("executor failure must resolve the pending state")
	}
}

func TestHandleSelected_SinglePickReentersLifecycle(t *testing.T) {
	p := highConfidenceEvent()
	p.Confidence = models.ConfidenceMedium
	f := &stubFlow{}
	engine, _, state, conv := newEngineFixture(t, f)

	engine.HandleSelected(context.Background(), conv, state, models.KindEvent, []models.Payload{p})

	if f.execCalls != 0 {
		t.Fatal("a single medium-confidence pick must still confirm")
	}
	if state.PendingAction != models.PendingConfirmEvent {
		t.Errorf("pending = %q, want %q", state.PendingAction, models.PendingConfirmEvent)
	}
}

func TestHandleSelected_MultiplePicksExecuteEach(t *testing.T) {
	a := highConfidenceEvent()
	b := highConfidenceEvent()
	b.Title = "Dinner with Sam"
	f := &stubFlow{}
	engine, _, state, conv := newEngineFixture(t, f)

	engine.HandleSelected(context.Background(), conv, state, models.KindEvent, []models.Payload{a, b})

	if f.execCalls != 2 {
		t.Errorf("expected both picks executed, got %d calls", f.execCalls)
	}
	if state.HasPending() {
		t.Error("state must be resolved after executing the selection")
	}
}
