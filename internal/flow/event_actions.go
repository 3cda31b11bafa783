package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sifxtreme/jarvis-sub000/internal/executor"
	"github.com/sifxtreme/jarvis-sub000/internal/genai"
	"github.com/sifxtreme/jarvis-sub000/internal/models"
)

// eventActionExtractor is the mutation handlers' view of the extraction
// collaborator.
type eventActionExtractor interface {
	ExtractUpdateRequest(ctx context.Context, text string, now time.Time) genai.UpdateResult
	ExtractDeleteRequest(ctx context.Context, text string, now time.Time) genai.DeleteResult
	ExtractListQuery(ctx context.Context, text string, now time.Time) genai.ListQueryResult
}

// EventActions handles the event-specific mutation sub-flows: update, delete,
// and list, with their finer-grained pending states.
type EventActions struct {
	extractor eventActionExtractor
	resolver  *Resolver
	exec      executor.Executor
	states    *StateManager
	guard     *IdempotencyGuard
}

// NewEventActions creates the event mutation handlers.
func NewEventActions(extractor eventActionExtractor, resolver *Resolver, exec executor.Executor, states *StateManager, guard *IdempotencyGuard) *EventActions {
	return &EventActions{extractor: extractor, resolver: resolver, exec: exec, states: states, guard: guard}
}

// HandleUpdate processes a fresh update_event intent.
func (a *EventActions) HandleUpdate(ctx context.Context, conv ConversationContext, state *models.ThreadState) models.Response {
	res := a.extractor.ExtractUpdateRequest(ctx, conv.Text, conv.Now)
	if res.Err {
		return a.askForTarget(conv, state, models.PendingClarifyUpdateTarget, nil, res.Message)
	}
	changes := changesFromMap(res.Changes)

	// "update it" resolves against the last referenced entity.
	if (res.UsesPronoun || res.Target.IsEmpty()) && state.LastEntityID != "" {
		event, err := a.resolver.FindByID(ctx, conv.UserID, state.LastEntityID, conv.Now)
		if err != nil {
			return a.executorError(conv, "update", err)
		}
		if event != nil {
			return a.proceedUpdate(conv, state, *event, changes, res.Scope)
		}
	}
	if res.Target.IsEmpty() {
		return a.askForTarget(conv, state, models.PendingClarifyUpdateTarget, res.Changes,
			"Which event would you like to change?")
	}

	candidates, err := a.resolver.Resolve(ctx, conv.UserID, TargetQuery(res.Target), conv.Now, conv.TZ())
	if err != nil {
		return a.executorError(conv, "update", err)
	}
	if len(candidates) == 0 {
		return a.askForTarget(conv, state, models.PendingClarifyUpdateTarget, res.Changes,
			"I couldn't find that event. Can you give me more detail, like its name or date?")
	}
	if top, ok := a.resolver.AutoPick(candidates); ok {
		return a.proceedUpdate(conv, state, top.Event, changes, res.Scope)
	}

	payload := map[string]any{
		models.PayloadKeyCandidates: encodeSlice(candidateRefs(candidates)),
		models.PayloadKeyChanges:    res.Changes,
	}
	if res.Scope != "" {
		payload[models.PayloadKeyScope] = string(res.Scope)
	}
	if err := a.states.SetPending(state, models.PendingSelectEventForUpdate, payload); err != nil {
		return internalError()
	}
	return models.TextResponse(formatCandidateList(candidates, "Which one should I change?"))
}

// HandleDelete processes a fresh delete_event intent.
func (a *EventActions) HandleDelete(ctx context.Context, conv ConversationContext, state *models.ThreadState) models.Response {
	res := a.extractor.ExtractDeleteRequest(ctx, conv.Text, conv.Now)
	if res.Err {
		return a.askForTarget(conv, state, models.PendingClarifyDeleteTarget, nil, res.Message)
	}

	if (res.UsesPronoun || res.Target.IsEmpty()) && state.LastEntityID != "" {
		event, err := a.resolver.FindByID(ctx, conv.UserID, state.LastEntityID, conv.Now)
		if err != nil {
			return a.executorError(conv, "delete", err)
		}
		if event != nil {
			return a.proceedDelete(ctx, conv, state, *event, res.Scope, true)
		}
	}
	if res.Target.IsEmpty() {
		return a.askForTarget(conv, state, models.PendingClarifyDeleteTarget, nil,
			"Which event should I delete?")
	}

	candidates, err := a.resolver.Resolve(ctx, conv.UserID, TargetQuery(res.Target), conv.Now, conv.TZ())
	if err != nil {
		return a.executorError(conv, "delete", err)
	}
	if len(candidates) == 0 {
		return a.askForTarget(conv, state, models.PendingClarifyDeleteTarget, nil,
			"I couldn't find that event. Can you give me more detail, like its name or date?")
	}
	if top, ok := a.resolver.AutoPick(candidates); ok {
		return a.proceedDelete(ctx, conv, state, top.Event, res.Scope, true)
	}

	payload := map[string]any{
		models.PayloadKeyCandidates: encodeSlice(candidateRefs(candidates)),
	}
	if res.Scope != "" {
		payload[models.PayloadKeyScope] = string(res.Scope)
	}
	if err := a.states.SetPending(state, models.PendingSelectEventForDelete, payload); err != nil {
		return internalError()
	}
	return models.TextResponse(formatCandidateList(candidates, "Which one should I delete?"))
}

// HandleList processes a list_events intent.
func (a *EventActions) HandleList(ctx context.Context, conv ConversationContext, state *models.ThreadState) models.Response {
	res := a.extractor.ExtractListQuery(ctx, conv.Text, conv.Now)
	if res.Err {
		payload := map[string]any{models.PayloadKeyQuery: conv.Text}
		if err := a.states.SetPending(state, models.PendingClarifyListQuery, payload); err != nil {
			return internalError()
		}
		return models.TextResponse(res.Message)
	}
	return a.listRange(ctx, conv, res)
}

// HandleClarifyListQuery resumes after the user rephrased their calendar
// question.
func (a *EventActions) HandleClarifyListQuery(ctx context.Context, conv ConversationContext, state *models.ThreadState) models.Response {
	res := a.extractor.ExtractListQuery(ctx, conv.Text, conv.Now)
	if res.Err {
		// Keep waiting; the pending state and payload stay as they are.
		return models.TextResponse(res.Message)
	}
	if err := a.states.ClearPending(state); err != nil {
		return internalError()
	}
	return a.listRange(ctx, conv, res)
}

func (a *EventActions) listRange(ctx context.Context, conv ConversationContext, res genai.ListQueryResult) models.Response {
	from, errFrom := time.ParseInLocation("2006-01-02", res.From, conv.TZ())
	to, errTo := time.ParseInLocation("2006-01-02", res.To, conv.TZ())
	if errFrom != nil || errTo != nil || !to.After(from) {
		from = conv.Now
		to = conv.Now.Add(7 * 24 * time.Hour)
	}
	label := res.Label
	if label == "" {
		label = "the next 7 days"
	}

	events, err := a.exec.ListEvents(ctx, conv.UserID, from, to)
	if err != nil {
		if errors.Is(err, executor.ErrAuthExpired) {
			return authExpiredResponse()
		}
		return a.executorError(conv, "list", err)
	}
	if len(events) == 0 {
		return models.TextResponse(fmt.Sprintf("Nothing on your calendar for %s.", label))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Here's %s:\n", label)
	for _, e := range events {
		start := e.StartAt.In(conv.TZ())
		fmt.Fprintf(&sb, "- %s: %s", start.Format("Mon Jan 2 15:04"), e.Title)
		if e.Location != "" {
			fmt.Fprintf(&sb, " (%s)", e.Location)
		}
		sb.WriteString("\n")
	}
	return models.TextResponse(strings.TrimRight(sb.String(), "\n"))
}

// HandleSelectForUpdate resumes after the user picked from the numbered list.
func (a *EventActions) HandleSelectForUpdate(ctx context.Context, conv ConversationContext, state *models.ThreadState) models.Response {
	refs, _ := decodePayload[[]models.CandidateRef](state.Payload, models.PayloadKeyCandidates)
	if len(refs) == 0 {
		return a.resetWithApology(conv, state)
	}
	indices, _, ok := ParseSelection(conv.Text, refTitles(refs))
	if !ok {
		return models.TextResponse("Please reply with a number from the list.")
	}
	changesMap, _ := decodePayload[map[string]string](state.Payload, models.PayloadKeyChanges)
	scope := models.RecurringScope(payloadString(state.Payload, models.PayloadKeyScope))

	event, err := a.resolver.FindByID(ctx, conv.UserID, refs[indices[0]].ID, conv.Now)
	if err != nil {
		return a.executorError(conv, "update", err)
	}
	if event == nil {
		return a.resetWithApology(conv, state)
	}
	return a.proceedUpdate(conv, state, *event, changesFromMap(changesMap), scope)
}

// HandleSelectForDelete resumes after the user picked which event(s) to
// delete. An explicit pick is treated as confirmation; deletion runs
// immediately.
func (a *EventActions) HandleSelectForDelete(ctx context.Context, conv ConversationContext, state *models.ThreadState) models.Response {
	refs, _ := decodePayload[[]models.CandidateRef](state.Payload, models.PayloadKeyCandidates)
	if len(refs) == 0 {
		return a.resetWithApology(conv, state)
	}
	indices, _, ok := ParseSelection(conv.Text, refTitles(refs))
	if !ok {
		return models.TextResponse("Please reply with a number from the list.")
	}
	scope := models.RecurringScope(payloadString(state.Payload, models.PayloadKeyScope))

	if len(indices) == 1 {
		event, err := a.resolver.FindByID(ctx, conv.UserID, refs[indices[0]].ID, conv.Now)
		if err != nil {
			return a.executorError(conv, "delete", err)
		}
		if event == nil {
			return a.resetWithApology(conv, state)
		}
		return a.proceedDelete(ctx, conv, state, *event, scope, false)
	}

	// Multiple picks delete each in turn.
	var deleted []string
	for _, idx := range indices {
		if err := a.exec.DeleteEvent(ctx, conv.UserID, refs[idx].ID, scope); err != nil {
			if errors.Is(err, executor.ErrAuthExpired) {
				return authExpiredResponse()
			}
			return a.executorError(conv, "delete", err)
		}
		deleted = append(deleted, refs[idx].Title)
	}
	a.resolver.Invalidate(conv.UserID)
	state.LastEntityID = refs[indices[len(indices)-1]].ID
	if err := a.states.ClearPending(state); err != nil {
		return internalError()
	}
	return models.TextResponse(fmt.Sprintf("Deleted %d events: %s.", len(deleted), strings.Join(deleted, ", ")))
}

// HandleConfirmUpdate resumes a confirm_update pending state.
func (a *EventActions) HandleConfirmUpdate(ctx context.Context, conv ConversationContext, state *models.ThreadState) models.Response {
	switch {
	case IsAffirmative(conv.Text):
		eventID := payloadString(state.Payload, models.PayloadKeyEventID)
		changesMap, _ := decodePayload[map[string]string](state.Payload, models.PayloadKeyChanges)
		scope := models.RecurringScope(payloadString(state.Payload, models.PayloadKeyScope))
		return a.executeUpdate(ctx, conv, state, eventID, changesFromMap(changesMap), scope)
	case IsNegative(conv.Text):
		if err := a.states.ClearPending(state); err != nil {
			return internalError()
		}
		return models.TextResponse("Okay, I won't change it.")
	default:
		snapshot, _ := decodePayload[models.CalendarEvent](state.Payload, models.PayloadKeySnapshot)
		changesMap, _ := decodePayload[map[string]string](state.Payload, models.PayloadKeyChanges)
		return models.TextResponse(confirmUpdatePrompt(snapshot, changesMap))
	}
}

// HandleConfirmDelete resumes a confirm_delete pending state.
func (a *EventActions) HandleConfirmDelete(ctx context.Context, conv ConversationContext, state *models.ThreadState) models.Response {
	switch {
	case IsAffirmative(conv.Text):
		eventID := payloadString(state.Payload, models.PayloadKeyEventID)
		scope := models.RecurringScope(payloadString(state.Payload, models.PayloadKeyScope))
		snapshot, _ := decodePayload[models.CalendarEvent](state.Payload, models.PayloadKeySnapshot)
		return a.executeDelete(ctx, conv, state, eventID, scope, snapshot.Title)
	case IsNegative(conv.Text):
		if err := a.states.ClearPending(state); err != nil {
			return internalError()
		}
		return models.TextResponse("Okay, I'll leave it alone.")
	default:
		snapshot, _ := decodePayload[models.CalendarEvent](state.Payload, models.PayloadKeySnapshot)
		return models.TextResponse(fmt.Sprintf("Should I delete %q? (yes/no)", snapshot.Title))
	}
}

// HandleClarifyUpdateTarget resumes after the user described the target in
// more detail.
func (a *EventActions) HandleClarifyUpdateTarget(ctx context.Context, conv ConversationContext, state *models.ThreadState) models.Response {
	priorChanges, _ := decodePayload[map[string]string](state.Payload, models.PayloadKeyChanges)
	resp := a.HandleUpdate(ctx, conv, state)
	// Changes given earlier survive if the re-extraction found none.
	if state.PendingAction == models.PendingSelectEventForUpdate || state.PendingAction == models.PendingConfirmUpdate {
		if existing, _ := decodePayload[map[string]string](state.Payload, models.PayloadKeyChanges); len(existing) == 0 && len(priorChanges) > 0 {
			state.Payload[models.PayloadKeyChanges] = priorChanges
			if err := a.states.SetPending(state, state.PendingAction, state.Payload); err != nil {
				return internalError()
			}
		}
	}
	return resp
}

// HandleClarifyUpdateChanges resumes after the user said what to change.
func (a *EventActions) HandleClarifyUpdateChanges(ctx context.Context, conv ConversationContext, state *models.ThreadState) models.Response {
	eventID := payloadString(state.Payload, models.PayloadKeyEventID)
	res := a.extractor.ExtractUpdateRequest(ctx, conv.Text, conv.Now)
	if res.Err || len(res.Changes) == 0 {
		return models.TextResponse("What should I change it to?")
	}
	event, err := a.resolver.FindByID(ctx, conv.UserID, eventID, conv.Now)
	if err != nil {
		return a.executorError(conv, "update", err)
	}
	if event == nil {
		return a.resetWithApology(conv, state)
	}
	return a.proceedUpdate(conv, state, *event, changesFromMap(res.Changes), res.Scope)
}

// HandleClarifyDeleteTarget resumes after the user described the delete
// target in more detail.
func (a *EventActions) HandleClarifyDeleteTarget(ctx context.Context, conv ConversationContext, state *models.ThreadState) models.Response {
	return a.HandleDelete(ctx, conv, state)
}

// HandleRecurringScope resumes the shared clarify_recurring_scope sub-state.
// The payload's action discriminator says whether an update or a delete is
// waiting on the answer.
func (a *EventActions) HandleRecurringScope(ctx context.Context, conv ConversationContext, state *models.ThreadState) models.Response {
	scope, ok := parseScopeReply(conv.Text)
	if !ok {
		return models.TextResponse("Just this occurrence, or the whole series?")
	}
	action := payloadString(state.Payload, models.PayloadKeyAction)
	eventID := payloadString(state.Payload, models.PayloadKeyEventID)
	snapshot, _ := decodePayload[models.CalendarEvent](state.Payload, models.PayloadKeySnapshot)

	switch action {
	case "update":
		changesMap, _ := decodePayload[map[string]string](state.Payload, models.PayloadKeyChanges)
		return a.confirmUpdate(conv, state, snapshot, changesMap, scope)
	case "delete":
		return a.executeDelete(ctx, conv, state, eventID, scope, snapshot.Title)
	default:
		slog.Error("EventActions.HandleRecurringScope: unknown action discriminator", "action", action, "correlationID", conv.CorrelationID)
		return a.resetWithApology(conv, state)
	}
}

// proceedUpdate routes a resolved update target to the next sub-state:
// missing changes, recurring scope, or confirmation.
func (a *EventActions) proceedUpdate(conv ConversationContext, state *models.ThreadState, event models.CalendarEvent, changes executor.UpdateChanges, scope models.RecurringScope) models.Response {
	if changes.IsEmpty() {
		payload := map[string]any{
			models.PayloadKeyEventID:  event.ID,
			models.PayloadKeySnapshot: encodePayload(event),
		}
		if err := a.states.SetPending(state, models.PendingClarifyUpdateChanges, payload); err != nil {
			return internalError()
		}
		return models.TextResponse(fmt.Sprintf("What should I change about %q?", event.Title))
	}
	if event.IsRecurring() && scope == "" {
		payload := map[string]any{
			models.PayloadKeyEventID:  event.ID,
			models.PayloadKeyChanges:  changesToMap(changes),
			models.PayloadKeySnapshot: encodePayload(event),
			models.PayloadKeyAction:   "update",
		}
		if err := a.states.SetPending(state, models.PendingClarifyRecurringScope, payload); err != nil {
			return internalError()
		}
		return models.TextResponse(fmt.Sprintf("%q repeats. Change just this occurrence, or the whole series?", event.Title))
	}
	return a.confirmUpdate(conv, state, event, changesToMap(changes), scope)
}

func (a *EventActions) confirmUpdate(conv ConversationContext, state *models.ThreadState, event models.CalendarEvent, changes map[string]string, scope models.RecurringScope) models.Response {
	payload := map[string]any{
		models.PayloadKeyEventID:  event.ID,
		models.PayloadKeyChanges:  changes,
		models.PayloadKeySnapshot: encodePayload(event),
	}
	if scope != "" {
		payload[models.PayloadKeyScope] = string(scope)
	}
	if err := a.states.SetPending(state, models.PendingConfirmUpdate, payload); err != nil {
		return internalError()
	}
	return models.TextResponse(confirmUpdatePrompt(event, changes))
}

// proceedDelete routes a resolved delete target: recurring scope first, then
// either a confirmation (auto-picked target) or immediate execution (the
// user picked explicitly).
func (a *EventActions) proceedDelete(ctx context.Context, conv ConversationContext, state *models.ThreadState, event models.CalendarEvent, scope models.RecurringScope, needsConfirm bool) models.Response {
	if event.IsRecurring() && scope == "" {
		payload := map[string]any{
			models.PayloadKeyEventID:  event.ID,
			models.PayloadKeySnapshot: encodePayload(event),
			models.PayloadKeyAction:   "delete",
		}
		if err := a.states.SetPending(state, models.PendingClarifyRecurringScope, payload); err != nil {
			return internalError()
		}
		return models.TextResponse(fmt.Sprintf("%q repeats. Delete just this occurrence, or the whole series?", event.Title))
	}
	if needsConfirm {
		payload := map[string]any{
			models.PayloadKeyEventID:  event.ID,
			models.PayloadKeySnapshot: encodePayload(event),
		}
		if scope != "" {
			payload[models.PayloadKeyScope] = string(scope)
		}
		if err := a.states.SetPending(state, models.PendingConfirmDelete, payload); err != nil {
			return internalError()
		}
		start := event.StartAt.In(conv.TZ())
		return models.TextResponse(fmt.Sprintf("Should I delete %q on %s? (yes/no)", event.Title, start.Format("Monday, Jan 2")))
	}
	return a.executeDelete(ctx, conv, state, event.ID, scope, event.Title)
}

// executeUpdate applies the update behind the idempotency guard.
func (a *EventActions) executeUpdate(ctx context.Context, conv ConversationContext, state *models.ThreadState, eventID string, changes executor.UpdateChanges, scope models.RecurringScope) models.Response {
	sig := Signature("update_event", conv.UserID, map[string]any{
		"event_id": eventID,
		"changes":  changesToMap(changes),
		"scope":    string(scope),
	})
	if a.guard.IsDuplicate(state.LastAction, "update_event", sig, conv.Now) {
		if err := a.states.ClearPending(state); err != nil {
			return internalError()
		}
		return models.TextResponse("All set. That change is already applied.")
	}

	updated, err := a.exec.UpdateEvent(ctx, conv.UserID, eventID, changes, scope)
	if err != nil {
		if errors.Is(err, executor.ErrAuthExpired) {
			return authExpiredResponse()
		}
		if clearErr := a.states.ClearPending(state); clearErr != nil {
			slog.Error("EventActions.executeUpdate: clear after failure failed", "error", clearErr, "correlationID", conv.CorrelationID)
		}
		return a.executorError(conv, "update", err)
	}

	a.resolver.Invalidate(conv.UserID)
	if recErr := a.states.RecordAction(state, "update_event", sig, conv.Now); recErr != nil {
		slog.Error("EventActions.executeUpdate: record action failed", "error", recErr, "correlationID", conv.CorrelationID)
	}
	state.LastEntityID = updated.ID
	if err := a.states.ClearPending(state); err != nil {
		return internalError()
	}
	slog.Info("EventActions.executeUpdate: event updated", "status", "success", "eventID", updated.ID, "correlationID", conv.CorrelationID)
	start := updated.StartAt.In(conv.TZ())
	return models.TextResponse(fmt.Sprintf("Updated %q. Now %s.", updated.Title, start.Format("Monday, Jan 2 at 15:04")))
}

// executeDelete removes the event behind the idempotency guard.
func (a *EventActions) executeDelete(ctx context.Context, conv ConversationContext, state *models.ThreadState, eventID string, scope models.RecurringScope, title string) models.Response {
	sig := Signature("delete_event", conv.UserID, map[string]any{
		"event_id": eventID,
		"scope":    string(scope),
	})
	if a.guard.IsDuplicate(state.LastAction, "delete_event", sig, conv.Now) {
		if err := a.states.ClearPending(state); err != nil {
			return internalError()
		}
		return models.TextResponse("All set. That event is already gone.")
	}

	if err := a.exec.DeleteEvent(ctx, conv.UserID, eventID, scope); err != nil {
		if errors.Is(err, executor.ErrAuthExpired) {
			return authExpiredResponse()
		}
		if clearErr := a.states.ClearPending(state); clearErr != nil {
			slog.Error("EventActions.executeDelete: clear after failure failed", "error", clearErr, "correlationID", conv.CorrelationID)
		}
		return a.executorError(conv, "delete", err)
	}

	a.resolver.Invalidate(conv.UserID)
	if recErr := a.states.RecordAction(state, "delete_event", sig, conv.Now); recErr != nil {
		slog.Error("EventActions.executeDelete: record action failed", "error", recErr, "correlationID", conv.CorrelationID)
	}
	state.LastEntityID = eventID
	if err := a.states.ClearPending(state); err != nil {
		return internalError()
	}
	slog.Info("EventActions.executeDelete: event deleted", "status", "success", "eventID", eventID, "correlationID", conv.CorrelationID)
	if title != "" {
		return models.TextResponse(fmt.Sprintf("Deleted %q.", title))
	}
	return models.TextResponse("Deleted.")
}

func (a *EventActions) askForTarget(conv ConversationContext, state *models.ThreadState, action models.PendingAction, changes map[string]string, question string) models.Response {
	payload := map[string]any{models.PayloadKeyText: conv.Text}
	if len(changes) > 0 {
		payload[models.PayloadKeyChanges] = changes
	}
	if err := a.states.SetPending(state, action, payload); err != nil {
		return internalError()
	}
	return models.TextResponse(question)
}

func (a *EventActions) resetWithApology(conv ConversationContext, state *models.ThreadState) models.Response {
	slog.Warn("EventActions: pending payload unusable, resetting", "pendingAction", state.PendingAction, "correlationID", conv.CorrelationID)
	if err := a.states.ClearPending(state); err != nil {
		return internalError()
	}
	return models.TextResponse("Sorry, I lost track of that. Could you start over?")
}

func (a *EventActions) executorError(conv ConversationContext, verb string, err error) models.Response {
	slog.Error("EventActions: executor call failed", "verb", verb, "error", err, "correlationID", conv.CorrelationID)
	return models.Error(fmt.Sprintf("Calendar error: %v", err), models.ErrorCodeExecutor)
}

// parseScopeReply interprets the answer to the recurring-scope question.
func parseScopeReply(reply string) (models.RecurringScope, bool) {
	lowered := strings.ToLower(strings.TrimSpace(reply))
	switch {
	case strings.Contains(lowered, "series") || strings.Contains(lowered, "all of them") ||
		lowered == "all" || strings.Contains(lowered, "every"):
		return models.ScopeSeries, true
	case strings.Contains(lowered, "instance") || strings.Contains(lowered, "just this") ||
		strings.Contains(lowered, "this one") || strings.Contains(lowered, "occurrence") ||
		lowered == "one" || lowered == "this":
		return models.ScopeInstance, true
	}
	return "", false
}

func confirmUpdatePrompt(event models.CalendarEvent, changes map[string]string) string {
	fields := make([]string, 0, len(changes))
	for field := range changes {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s to %s", strings.ReplaceAll(field, "_", " "), changes[field]))
	}
	return fmt.Sprintf("Change %q: %s? (yes/no)", event.Title, strings.Join(parts, ", "))
}

func changesFromMap(m map[string]string) executor.UpdateChanges {
	return executor.UpdateChanges{
		Title:     m["title"],
		Date:      m["date"],
		StartTime: m["start_time"],
		EndTime:   m["end_time"],
		Location:  m["location"],
	}
}

func changesToMap(c executor.UpdateChanges) map[string]string {
	m := make(map[string]string)
	if c.Title != "" {
		m["title"] = c.Title
	}
	if c.Date != "" {
		m["date"] = c.Date
	}
	if c.StartTime != "" {
		m["start_time"] = c.StartTime
	}
	if c.EndTime != "" {
		m["end_time"] = c.EndTime
	}
	if c.Location != "" {
		m["location"] = c.Location
	}
	return m
}

func candidateRefs(candidates []models.Candidate) []models.CandidateRef {
	refs := make([]models.CandidateRef, 0, len(candidates))
	for _, c := range candidates {
		refs = append(refs, c.Ref())
	}
	return refs
}

func refTitles(refs []models.CandidateRef) []string {
	titles := make([]string, 0, len(refs))
	for _, r := range refs {
		titles = append(titles, r.Title)
	}
	return titles
}

func formatCandidateList(candidates []models.Candidate, question string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "I found %d matching events:\n", len(candidates))
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, c.Event.Title, c.Event.StartAt.Format("Mon Jan 2 15:04"))
	}
	sb.WriteString(question)
	return sb.String()
}
