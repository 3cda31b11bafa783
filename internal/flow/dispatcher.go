package flow

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sifxtreme/jarvis-sub000/internal/executor"
	"github.com/sifxtreme/jarvis-sub000/internal/models"
)

// intentClassifier is the dispatcher's view of the classification
// collaborator.
type intentClassifier interface {
	Classify(ctx context.Context, text string, hasImage bool, recentTurns []string) (models.Intent, models.Confidence, error)
}

// lockStripes is the size of the per-thread mutex pool. Messages in the same
// thread serialize on one stripe; different threads usually proceed in
// parallel.
const lockStripes = 64

// Dispatcher is the top-level state machine: it inspects thread state to
// decide whether an inbound message continues a pending action or starts a
// new intent-classified flow.
type Dispatcher struct {
	states     *StateManager
	engine     *Engine
	actions    *EventActions
	classifier intentClassifier
	exec       executor.Executor
	loc        *time.Location
	locks      [lockStripes]sync.Mutex
}

// NewDispatcher creates the dispatcher. loc is the timezone used to resolve
// dates; nil means UTC.
func NewDispatcher(states *StateManager, engine *Engine, actions *EventActions, classifier intentClassifier, exec executor.Executor, loc *time.Location) *Dispatcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Dispatcher{
		states:     states,
		engine:     engine,
		actions:    actions,
		classifier: classifier,
		exec:       exec,
		loc:        loc,
	}
}

// Process handles one inbound message to completion. Messages in the same
// thread are serialized; a panic anywhere below resets the thread and
// surfaces a start-over response.
func (d *Dispatcher) Process(ctx context.Context, msg models.Message) (resp models.Response) {
	if err := msg.Validate(); err != nil {
		return models.Error(fmt.Sprintf("Invalid message: %v", err), models.ErrorCodeInternal)
	}
	correlationID := uuid.NewString()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher.Process: panic recovered, resetting thread",
				"panic", r, "userID", msg.UserID, "threadID", msg.ThreadID, "correlationID", correlationID)
			if err := d.states.Reset(msg.UserID, msg.ThreadID); err != nil {
				slog.Error("Dispatcher.Process: reset after panic failed", "error", err, "correlationID", correlationID)
			}
			resp = models.Error("Something went wrong. Let's start over.", models.ErrorCodeInternal)
		}
	}()

	lock := d.lockFor(msg.UserID, msg.ThreadID)
	lock.Lock()
	defer lock.Unlock()

	state, err := d.states.Load(msg.UserID, msg.ThreadID)
	if err != nil {
		return models.Error("Something went wrong. Please try again.", models.ErrorCodeInternal)
	}

	conv := ConversationContext{
		UserID:        msg.UserID,
		ThreadID:      msg.ThreadID,
		Text:          msg.Text,
		ImageRef:      msg.ImageRef,
		CorrelationID: correlationID,
		Now:           time.Now().In(d.loc),
		Location:      d.loc,
		RecentTurns:   state.RecentTurns,
	}
	slog.Debug("Dispatcher.Process: message received", "userID", msg.UserID, "threadID", msg.ThreadID,
		"hasImage", conv.HasImage(), "pendingAction", state.PendingAction, "correlationID", correlationID)

	if state.HasPending() {
		resp = d.handlePending(ctx, conv, state)
	} else {
		resp = d.handleIntent(ctx, conv, state)
	}

	userText := msg.Text
	if userText == "" && msg.ImageRef != "" {
		userText = "[image]"
	}
	if err := d.states.RecordTurn(state, userText, resp.Text); err != nil {
		slog.Warn("Dispatcher.Process: turn log update failed", "error", err, "correlationID", correlationID)
	}
	return resp
}

// handlePending routes the message to the handler for the thread's pending
// action. The switch covers the whole PendingAction enumeration.
func (d *Dispatcher) handlePending(ctx context.Context, conv ConversationContext, state *models.ThreadState) models.Response {
	switch state.PendingAction {
	case models.PendingClarifyIntent:
		return d.resumeIntentClarification(ctx, conv, state, "")
	case models.PendingClarifyImageIntent:
		return d.resumeIntentClarification(ctx, conv, state, payloadString(state.Payload, models.PayloadKeyImageRef))

	case models.PendingClarifyEventFields:
		prior, _ := decodePayload[models.EventPayload](state.Payload, models.PayloadKeyEvent)
		conv.ImageRef = payloadString(state.Payload, models.PayloadKeyImageRef)
		return d.engine.HandleCorrection(ctx, conv, state, models.KindEvent, prior)
	case models.PendingConfirmEvent:
		return d.resumeConfirmation(ctx, conv, state, models.KindEvent, func() (models.Payload, bool) {
			p, ok := decodePayload[models.EventPayload](state.Payload, models.PayloadKeyEvent)
			return p, ok
		})
	case models.PendingSelectEventExtraction:
		items, _ := decodePayload[[]models.EventPayload](state.Payload, models.PayloadKeyItems)
		titles := make([]string, 0, len(items))
		payloads := make([]models.Payload, 0, len(items))
		for _, item := range items {
			titles = append(titles, item.Title)
			payloads = append(payloads, item)
		}
		return d.resumeSelection(ctx, conv, state, models.KindEvent, payloads, titles)

	case models.PendingClarifyTransactionFields:
		prior, _ := decodePayload[models.TransactionPayload](state.Payload, models.PayloadKeyTransaction)
		conv.ImageRef = payloadString(state.Payload, models.PayloadKeyImageRef)
		return d.engine.HandleCorrection(ctx, conv, state, models.KindTransaction, prior)
	case models.PendingConfirmTransaction:
		return d.resumeConfirmation(ctx, conv, state, models.KindTransaction, func() (models.Payload, bool) {
			p, ok := decodePayload[models.TransactionPayload](state.Payload, models.PayloadKeyTransaction)
			return p, ok
		})
	case models.PendingSelectTxnExtraction:
		items, _ := decodePayload[[]models.TransactionPayload](state.Payload, models.PayloadKeyItems)
		titles := make([]string, 0, len(items))
		payloads := make([]models.Payload, 0, len(items))
		for _, item := range items {
			titles = append(titles, item.Merchant)
			payloads = append(payloads, item)
		}
		return d.resumeSelection(ctx, conv, state, models.KindTransaction, payloads, titles)

	case models.PendingClarifyMemoryFields:
		prior, _ := decodePayload[models.MemoryPayload](state.Payload, models.PayloadKeyMemory)
		conv.ImageRef = payloadString(state.Payload, models.PayloadKeyImageRef)
		return d.engine.HandleCorrection(ctx, conv, state, models.KindMemory, prior)
	case models.PendingConfirmMemory:
		return d.resumeConfirmation(ctx, conv, state, models.KindMemory, func() (models.Payload, bool) {
			p, ok := decodePayload[models.MemoryPayload](state.Payload, models.PayloadKeyMemory)
			return p, ok
		})

	case models.PendingSelectEventForUpdate:
		return d.actions.HandleSelectForUpdate(ctx, conv, state)
	case models.PendingSelectEventForDelete:
		return d.actions.HandleSelectForDelete(ctx, conv, state)
	case models.PendingConfirmUpdate:
		return d.actions.HandleConfirmUpdate(ctx, conv, state)
	case models.PendingConfirmDelete:
		return d.actions.HandleConfirmDelete(ctx, conv, state)
	case models.PendingClarifyUpdateTarget:
		return d.actions.HandleClarifyUpdateTarget(ctx, conv, state)
	case models.PendingClarifyUpdateChanges:
		return d.actions.HandleClarifyUpdateChanges(ctx, conv, state)
	case models.PendingClarifyDeleteTarget:
		return d.actions.HandleClarifyDeleteTarget(ctx, conv, state)
	case models.PendingClarifyRecurringScope:
		return d.actions.HandleRecurringScope(ctx, conv, state)
	case models.PendingClarifyListQuery:
		return d.actions.HandleClarifyListQuery(ctx, conv, state)

	default:
		slog.Error("Dispatcher.handlePending: unknown pending action, clearing",
			"pendingAction", state.PendingAction, "correlationID", conv.CorrelationID)
		if err := d.states.ClearPending(state); err != nil {
			return internalError()
		}
		return d.handleIntent(ctx, conv, state)
	}
}

// resumeIntentClarification folds the user's answer into the original
// message and re-runs intent classification.
func (d *Dispatcher) resumeIntentClarification(ctx context.Context, conv ConversationContext, state *models.ThreadState, imageRef string) models.Response {
	original := payloadString(state.Payload, models.PayloadKeyText)
	if err := d.states.ClearPending(state); err != nil {
		return internalError()
	}
	if original != "" && original != conv.Text {
		conv.Text = original + "\n" + conv.Text
	}
	if imageRef != "" && conv.ImageRef == "" {
		conv.ImageRef = imageRef
	}
	return d.handleIntent(ctx, conv, state)
}

// resumeConfirmation handles a reply to a yes/no confirmation: yes executes,
// no cancels, anything else is treated as a correction.
func (d *Dispatcher) resumeConfirmation(ctx context.Context, conv ConversationContext, state *models.ThreadState, kind models.Kind, decode func() (models.Payload, bool)) models.Response {
	prior, ok := decode()
	if !ok {
		slog.Warn("Dispatcher.resumeConfirmation: pending payload unusable, resetting",
			"kind", kind, "correlationID", conv.CorrelationID)
		if err := d.states.ClearPending(state); err != nil {
			return internalError()
		}
		return models.TextResponse("Sorry, I lost track of that. Could you start over?")
	}

	switch {
	case IsAffirmative(conv.Text):
		f, found := Get(kind)
		if !found {
			return internalError()
		}
		return d.engine.ExecutePayload(ctx, conv, state, f, prior)
	case IsNegative(conv.Text):
		if err := d.states.ClearPending(state); err != nil {
			return internalError()
		}
		return models.TextResponse("Okay, cancelled.")
	default:
		return d.engine.HandleCorrection(ctx, conv, state, kind, prior)
	}
}

// resumeSelection handles a reply to an "I found N items" prompt.
func (d *Dispatcher) resumeSelection(ctx context.Context, conv ConversationContext, state *models.ThreadState, kind models.Kind, items []models.Payload, titles []string) models.Response {
	if len(items) == 0 {
		slog.Warn("Dispatcher.resumeSelection: pending payload unusable, resetting",
			"kind", kind, "correlationID", conv.CorrelationID)
		if err := d.states.ClearPending(state); err != nil {
			return internalError()
		}
		return models.TextResponse("Sorry, I lost track of that. Could you start over?")
	}
	if IsNegative(conv.Text) {
		if err := d.states.ClearPending(state); err != nil {
			return internalError()
		}
		return models.TextResponse("Okay, cancelled.")
	}
	indices, _, ok := ParseSelection(conv.Text, titles)
	if !ok {
		return models.TextResponse("Please reply with numbers from the list, or \"all\".")
	}
	selected := make([]models.Payload, 0, len(indices))
	for _, idx := range indices {
		selected = append(selected, items[idx])
	}
	conv.ImageRef = payloadString(state.Payload, models.PayloadKeyImageRef)
	return d.engine.HandleSelected(ctx, conv, state, kind, selected)
}

// handleIntent classifies a fresh message and routes it.
func (d *Dispatcher) handleIntent(ctx context.Context, conv ConversationContext, state *models.ThreadState) models.Response {
	intent, confidence, err := d.classifier.Classify(ctx, conv.Text, conv.HasImage(), conv.RecentTurns)
	if err != nil {
		slog.Error("Dispatcher.handleIntent: classification failed", "error", err, "correlationID", conv.CorrelationID)
		return models.TextResponse("Sorry, I'm having trouble right now. Please try again.")
	}
	// A low-confidence classification is treated like an unknown intent so
	// the user confirms what they meant before any extraction runs.
	if confidence == models.ConfidenceLow {
		intent = models.IntentUnknown
	}
	slog.Debug("Dispatcher.handleIntent: routing intent", "intent", intent, "confidence", confidence, "correlationID", conv.CorrelationID)

	switch intent {
	case models.IntentCreateEvent:
		return d.engine.HandleCreate(ctx, conv, state, models.KindEvent)
	case models.IntentCreateTransaction:
		return d.engine.HandleCreate(ctx, conv, state, models.KindTransaction)
	case models.IntentCreateMemory:
		return d.engine.HandleCreate(ctx, conv, state, models.KindMemory)
	case models.IntentUpdateEvent:
		return d.actions.HandleUpdate(ctx, conv, state)
	case models.IntentDeleteEvent:
		return d.actions.HandleDelete(ctx, conv, state)
	case models.IntentListEvents:
		return d.actions.HandleList(ctx, conv, state)
	case models.IntentSearchMemory:
		return d.handleSearchMemory(ctx, conv)
	default:
		return d.clarifyIntent(conv, state)
	}
}

// clarifyIntent asks what the user wants when classification came back
// unknown or too uncertain to act on.
func (d *Dispatcher) clarifyIntent(conv ConversationContext, state *models.ThreadState) models.Response {
	if conv.HasImage() {
		payload := map[string]any{
			models.PayloadKeyText:     conv.Text,
			models.PayloadKeyImageRef: conv.ImageRef,
		}
		if err := d.states.SetPending(state, models.PendingClarifyImageIntent, payload); err != nil {
			return internalError()
		}
		return models.TextResponse("What should I do with this image? I can add events, log purchases, or just save it.")
	}
	payload := map[string]any{models.PayloadKeyText: conv.Text}
	if err := d.states.SetPending(state, models.PendingClarifyIntent, payload); err != nil {
		return internalError()
	}
	return models.TextResponse("I can schedule events, log purchases, or save notes. What would you like to do?")
}

// handleSearchMemory answers a recall question from saved memories.
func (d *Dispatcher) handleSearchMemory(ctx context.Context, conv ConversationContext) models.Response {
	memories, err := d.exec.SearchMemories(ctx, conv.UserID, searchQuery(conv.Text), 5)
	if err != nil {
		slog.Error("Dispatcher.handleSearchMemory: search failed", "error", err, "correlationID", conv.CorrelationID)
		return models.Error(fmt.Sprintf("Memory error: %v", err), models.ErrorCodeExecutor)
	}
	if len(memories) == 0 {
		return models.TextResponse("I don't have anything saved about that.")
	}
	var sb strings.Builder
	sb.WriteString("Here's what I have:\n")
	for _, m := range memories {
		fmt.Fprintf(&sb, "- %s", m.Content)
		if m.URL != "" && m.URL != m.Content {
			fmt.Fprintf(&sb, " (%s)", m.URL)
		}
		sb.WriteString("\n")
	}
	return models.TextResponse(strings.TrimRight(sb.String(), "\n"))
}

// searchQuery strips common recall phrasing so the substring search matches
// the subject, not the question words.
func searchQuery(text string) string {
	lowered := strings.ToLower(strings.TrimSpace(text))
	for _, prefix := range []string{
		"do you remember", "what do you know about", "what did i say about",
		"what is", "what's", "whats", "find", "search for", "search", "recall", "remember",
	} {
		if strings.HasPrefix(lowered, prefix) {
			lowered = strings.TrimSpace(strings.TrimPrefix(lowered, prefix))
			break
		}
	}
	lowered = strings.TrimPrefix(lowered, "the ")
	return strings.Trim(lowered, "?!. ")
}

func (d *Dispatcher) lockFor(userID, threadID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(userID))
	h.Write([]byte{'|'})
	h.Write([]byte(threadID))
	return &d.locks[h.Sum32()%lockStripes]
}
