package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sifxtreme/jarvis-sub000/internal/executor"
	"github.com/sifxtreme/jarvis-sub000/internal/genai"
	"github.com/sifxtreme/jarvis-sub000/internal/models"
)

// questionGenerator is the engine's view of the clarification question
// collaborator. Implementations must never fail; they fall back to the
// provided text.
type questionGenerator interface {
	ClarifyQuestion(ctx context.Context, req genai.ClarifyRequest) string
}

// windowInvalidator drops a user's cached candidate window after a mutation
// so follow-up references resolve against fresh data.
type windowInvalidator interface {
	Invalidate(userID string)
}

// Engine orchestrates a flow's create/correction lifecycle: preflight,
// extraction, multi-item disambiguation, missing-field clarification,
// confidence-gated confirmation, and execution.
type Engine struct {
	states      *StateManager
	questions   questionGenerator
	guard       *IdempotencyGuard
	invalidator windowInvalidator
}

// NewEngine creates the flow engine. questions may be nil; fallback text is
// then used for every clarification. invalidator may be nil when no candidate
// cache is in play.
func NewEngine(states *StateManager, questions questionGenerator, guard *IdempotencyGuard, invalidator windowInvalidator) *Engine {
	return &Engine{states: states, questions: questions, guard: guard, invalidator: invalidator}
}

// HandleCreate runs the create lifecycle for a fresh intent.
func (e *Engine) HandleCreate(ctx context.Context, conv ConversationContext, state *models.ThreadState, kind models.Kind) models.Response {
	f, ok := Get(kind)
	if !ok {
		slog.Error("Engine.HandleCreate: no flow registered", "kind", kind, "correlationID", conv.CorrelationID)
		return internalError()
	}
	slog.Debug("Engine.HandleCreate invoked", "kind", kind, "correlationID", conv.CorrelationID)

	if pre := f.Preflight(ctx, conv); pre != nil {
		if pre.Response != nil {
			return *pre.Response
		}
		if pre.Execute {
			return e.ExecutePayload(ctx, conv, state, f, pre.Payload)
		}
	}

	outcome := f.Extract(ctx, conv)
	return e.advance(ctx, conv, state, f, outcome, StageInitial)
}

// HandleCorrection runs the lifecycle after the user answered a
// clarification, starting from the stored prior payload.
func (e *Engine) HandleCorrection(ctx context.Context, conv ConversationContext, state *models.ThreadState, kind models.Kind, prior models.Payload) models.Response {
	f, ok := Get(kind)
	if !ok {
		slog.Error("Engine.HandleCorrection: no flow registered", "kind", kind, "correlationID", conv.CorrelationID)
		return internalError()
	}
	slog.Debug("Engine.HandleCorrection invoked", "kind", kind, "correlationID", conv.CorrelationID)

	outcome := f.ExtractCorrection(ctx, conv, prior)
	return e.advance(ctx, conv, state, f, outcome, StageCorrected)
}

// advance drives steps 4-8 of the lifecycle from an extraction outcome.
func (e *Engine) advance(ctx context.Context, conv ConversationContext, state *models.ThreadState, f Flow, outcome ExtractOutcome, stage Stage) models.Response {
	if outcome.Err || len(outcome.Items) == 0 {
		// A message from the extraction collaborator is already a contextual
		// question; return it as-is instead of generating another.
		if outcome.Message != "" {
			return e.askClarification(conv, state, f, nil, outcome.Message)
		}
		fallback := f.ErrorFallback()
		if stage == StageCorrected {
			fallback = f.CorrectionFallback(f.ErrorMissingFields(), nil)
		}
		return e.clarify(ctx, conv, state, f, f.ErrorMissingFields(), nil, fallback)
	}

	multiOK := f.MultiAction() != "" && (stage == StageInitial || f.AllowMultiOnCorrection())
	if len(outcome.Items) > 1 && multiOK {
		return e.offerMulti(ctx, conv, state, f, outcome.Items)
	}

	p := f.Normalize(conv, outcome.Items[0])
	if missing := f.MissingFields(p); len(missing) > 0 {
		fallback := f.MissingFallback(missing, p)
		if stage == StageCorrected {
			fallback = f.CorrectionFallback(missing, p)
		}
		return e.clarify(ctx, conv, state, f, missing, p, fallback)
	}

	if !p.ExtractionConfidence().AtLeast(models.ConfidenceHigh) {
		return e.confirm(conv, state, f, p, stage)
	}
	return e.ExecutePayload(ctx, conv, state, f, p)
}

// clarify stores the partial payload under the flow's clarify action and
// returns a clarification question.
func (e *Engine) clarify(ctx context.Context, conv ConversationContext, state *models.ThreadState, f Flow, fields []string, p models.Payload, fallback string) models.Response {
	question := fallback
	if e.questions != nil {
		question = e.questions.ClarifyQuestion(ctx, genai.ClarifyRequest{
			Intent:        f.Intent(),
			MissingFields: fields,
			Extracted:     f.ExtractedSummary(p),
			ExtraGuidance: f.ExtraPrompt(fields),
			Fallback:      fallback,
		})
	}
	return e.askClarification(conv, state, f, p, question)
}

// askClarification stores the partial payload under the flow's clarify action
// and returns the question verbatim.
func (e *Engine) askClarification(conv ConversationContext, state *models.ThreadState, f Flow, p models.Payload, question string) models.Response {
	payload := map[string]any{models.PayloadKeyText: conv.Text}
	if p != nil {
		payload[f.PayloadKey()] = encodePayload(p)
	}
	if conv.ImageRef != "" {
		payload[models.PayloadKeyImageRef] = conv.ImageRef
	}
	if err := e.states.SetPending(state, f.ClarifyAction(), payload); err != nil {
		return internalError()
	}
	slog.Debug("Engine.askClarification: awaiting answer", "kind", f.Kind(), "correlationID", conv.CorrelationID)
	return models.TextResponse(question)
}

// confirm stores the normalized payload under the flow's confirm action and
// asks for a yes/no.
func (e *Engine) confirm(conv ConversationContext, state *models.ThreadState, f Flow, p models.Payload, stage Stage) models.Response {
	payload := map[string]any{f.PayloadKey(): encodePayload(p)}
	if conv.ImageRef != "" {
		payload[models.PayloadKeyImageRef] = conv.ImageRef
	}
	if err := e.states.SetPending(state, f.ConfirmAction(), payload); err != nil {
		return internalError()
	}
	slog.Debug("Engine.confirm: awaiting confirmation", "kind", f.Kind(), "confidence", p.ExtractionConfidence(), "correlationID", conv.CorrelationID)
	return models.TextResponse(f.ConfirmPrompt(p, stage))
}

// offerMulti persists the extracted candidate list and asks the user to pick.
func (e *Engine) offerMulti(ctx context.Context, conv ConversationContext, state *models.ThreadState, f Flow, items []models.Payload) models.Response {
	payload := map[string]any{f.MultiPayloadKey(): encodeSlice(items)}
	if conv.ImageRef != "" {
		payload[models.PayloadKeyImageRef] = conv.ImageRef
	}
	if err := e.states.SetPending(state, f.MultiAction(), payload); err != nil {
		return internalError()
	}
	slog.Debug("Engine.offerMulti: awaiting selection", "kind", f.Kind(), "count", len(items), "correlationID", conv.CorrelationID)
	return models.TextResponse(f.MultiFormatter(items))
}

// ExecutePayload performs the flow's side effect behind the idempotency
// guard, records the ledger entry, and resolves the dialogue.
func (e *Engine) ExecutePayload(ctx context.Context, conv ConversationContext, state *models.ThreadState, f Flow, p models.Payload) models.Response {
	singular, _ := f.Label()
	actionType := "create_" + string(f.Kind())
	sig := Signature(actionType, conv.UserID, p)

	if e.guard.IsDuplicate(state.LastAction, actionType, sig, conv.Now) {
		if err := e.states.ClearPending(state); err != nil {
			return internalError()
		}
		return models.TextResponse(fmt.Sprintf("All set. That %s is already saved.", singular))
	}

	resp, entityID, err := f.Execute(ctx, conv, p)
	if err != nil {
		if errors.Is(err, executor.ErrAuthExpired) {
			// Thread state stays untouched so the action can be retried
			// after reconnecting.
			slog.Warn("Engine.ExecutePayload: authorization expired", "kind", f.Kind(), "correlationID", conv.CorrelationID)
			return authExpiredResponse()
		}
		slog.Error("Engine.ExecutePayload: execution failed", "error", err, "kind", f.Kind(), "correlationID", conv.CorrelationID)
		if clearErr := e.states.ClearPending(state); clearErr != nil {
			slog.Error("Engine.ExecutePayload: clear after failure failed", "error", clearErr, "correlationID", conv.CorrelationID)
		}
		return models.Error(fmt.Sprintf("%s error: %v", capitalize(singular), err), models.ErrorCodeExecutor)
	}

	if recErr := e.states.RecordAction(state, actionType, sig, conv.Now); recErr != nil {
		slog.Error("Engine.ExecutePayload: record action failed", "error", recErr, "correlationID", conv.CorrelationID)
	}
	// Drop the cached candidate window so a follow-up "update it" or
	// "delete it" sees the event that was just created.
	if e.invalidator != nil && f.Kind() == models.KindEvent {
		e.invalidator.Invalidate(conv.UserID)
	}
	if entityID != "" {
		state.LastEntityID = entityID
	}
	if err := e.states.ClearPending(state); err != nil {
		return internalError()
	}
	slog.Info("Engine.ExecutePayload: action executed", "status", "success", "actionType", actionType,
		"entityID", entityID, "correlationID", conv.CorrelationID)
	return resp
}

// HandleSelected resumes a multi-select pending state with the payloads the
// user picked. A single pick re-enters the normal lifecycle (clarification
// and confirmation still apply); multiple picks execute each in turn, since
// the pick itself was the confirmation.
func (e *Engine) HandleSelected(ctx context.Context, conv ConversationContext, state *models.ThreadState, kind models.Kind, selected []models.Payload) models.Response {
	f, ok := Get(kind)
	if !ok {
		slog.Error("Engine.HandleSelected: no flow registered", "kind", kind, "correlationID", conv.CorrelationID)
		return internalError()
	}
	if len(selected) == 1 {
		return e.advance(ctx, conv, state, f, ExtractOutcome{Items: selected}, StageInitial)
	}

	var lines []string
	for _, p := range selected {
		resp := e.ExecutePayload(ctx, conv, state, f, f.Normalize(conv, p))
		if resp.ErrorCode != "" {
			return resp
		}
		lines = append(lines, resp.Text)
	}
	return models.TextResponse(strings.Join(lines, "\n"))
}

func authExpiredResponse() models.Response {
	return models.Response{
		Text:      "Your calendar connection has expired. Please reconnect and try again.",
		Action:    models.ActionReconnectCalendar,
		ErrorCode: models.ErrorCodeAuthExpired,
	}
}

func internalError() models.Response {
	return models.Error("Something went wrong. Let's start over.", models.ErrorCodeInternal)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
