package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sifxtreme/jarvis-sub000/internal/executor"
	"github.com/sifxtreme/jarvis-sub000/internal/genai"
	"github.com/sifxtreme/jarvis-sub000/internal/models"
)

// eventExtractor is the event flow's view of the extraction collaborator.
type eventExtractor interface {
	ExtractEvents(ctx context.Context, req genai.ExtractRequest) genai.EventResult
	ExtractEventCorrection(ctx context.Context, prior models.EventPayload, answer string, now time.Time) genai.EventResult
}

// Compile-time check that EventFlow implements Flow.
var _ Flow = (*EventFlow)(nil)

// EventFlow creates calendar events.
type EventFlow struct {
	extractor eventExtractor
	exec      executor.Executor
}

// NewEventFlow creates the event flow variant.
func NewEventFlow(extractor eventExtractor, exec executor.Executor) *EventFlow {
	return &EventFlow{extractor: extractor, exec: exec}
}

func (f *EventFlow) Kind() models.Kind { return models.KindEvent }

func (f *EventFlow) Intent() models.Intent { return models.IntentCreateEvent }

func (f *EventFlow) Label() (string, string) { return "event", "events" }

func (f *EventFlow) PayloadKey() string { return models.PayloadKeyEvent }

func (f *EventFlow) ClarifyAction() models.PendingAction { return models.PendingClarifyEventFields }

func (f *EventFlow) ConfirmAction() models.PendingAction { return models.PendingConfirmEvent }

func (f *EventFlow) MultiAction() models.PendingAction { return models.PendingSelectEventExtraction }

func (f *EventFlow) MultiPayloadKey() string { return models.PayloadKeyItems }

func (f *EventFlow) AllowMultiOnCorrection() bool { return false }

func (f *EventFlow) Preflight(ctx context.Context, conv ConversationContext) *PreflightResult {
	return nil
}

func (f *EventFlow) Extract(ctx context.Context, conv ConversationContext) ExtractOutcome {
	res := f.extractor.ExtractEvents(ctx, genai.ExtractRequest{
		Text:        conv.Text,
		ImageRef:    conv.ImageRef,
		RecentTurns: conv.RecentTurns,
		Now:         conv.Now,
	})
	return eventOutcome(res)
}

func (f *EventFlow) ExtractCorrection(ctx context.Context, conv ConversationContext, prior models.Payload) ExtractOutcome {
	priorEvent, ok := prior.(models.EventPayload)
	if !ok {
		slog.Error("EventFlow.ExtractCorrection: prior payload has wrong type", "type", fmt.Sprintf("%T", prior))
		return ExtractOutcome{Err: true, Message: f.ErrorFallback()}
	}
	res := f.extractor.ExtractEventCorrection(ctx, priorEvent, conv.Text, conv.Now)
	return eventOutcome(res)
}

func eventOutcome(res genai.EventResult) ExtractOutcome {
	if res.Err {
		return ExtractOutcome{Err: true, Message: res.Message}
	}
	items := make([]models.Payload, 0, len(res.Events))
	for _, e := range res.Events {
		items = append(items, e)
	}
	return ExtractOutcome{Items: items}
}

// Normalize resolves natural-language dates the extractor left unresolved
// and canonicalizes the recurrence value.
func (f *EventFlow) Normalize(conv ConversationContext, p models.Payload) models.Payload {
	event, ok := p.(models.EventPayload)
	if !ok {
		return p
	}
	if event.Date != "" {
		event.Date = resolveNaturalDate(event.Date, conv.Now, conv.TZ())
	}
	event.Recurrence = strings.ToLower(strings.TrimSpace(event.Recurrence))
	if event.Recurrence == "none" {
		event.Recurrence = ""
	}
	event.Title = strings.TrimSpace(event.Title)
	return event
}

func (f *EventFlow) MissingFields(p models.Payload) []string {
	event, ok := p.(models.EventPayload)
	if !ok {
		return f.ErrorMissingFields()
	}
	var missing []string
	if strings.TrimSpace(event.Title) == "" {
		missing = append(missing, "title")
	}
	if event.Date == "" {
		missing = append(missing, "date")
	}
	return missing
}

func (f *EventFlow) ErrorMissingFields() []string {
	return []string{"title", "date"}
}

func (f *EventFlow) ErrorFallback() string {
	return "What would you like to schedule, and when?"
}

func (f *EventFlow) MissingFallback(fields []string, p models.Payload) string {
	return fmt.Sprintf("I need a bit more to schedule that. What's the %s?", strings.Join(fields, " and "))
}

func (f *EventFlow) CorrectionFallback(fields []string, p models.Payload) string {
	return fmt.Sprintf("Almost there. I still need the %s.", strings.Join(fields, " and "))
}

func (f *EventFlow) ExtraPrompt(fields []string) string { return "" }

func (f *EventFlow) ExtractedSummary(p models.Payload) map[string]string {
	event, ok := p.(models.EventPayload)
	if !ok {
		return nil
	}
	summary := make(map[string]string)
	if event.Title != "" {
		summary["title"] = event.Title
	}
	if event.Date != "" {
		summary["date"] = event.Date
	}
	if event.StartTime != "" {
		summary["start_time"] = event.StartTime
	}
	if event.Location != "" {
		summary["location"] = event.Location
	}
	return summary
}

func (f *EventFlow) ConfirmPrompt(p models.Payload, stage Stage) string {
	event, ok := p.(models.EventPayload)
	if !ok {
		return "Should I go ahead?"
	}
	lead := "Should I create"
	if stage == StageCorrected {
		lead = "Updated. Should I create"
	}
	return fmt.Sprintf("%s %s? (yes/no)", lead, describeEventPayload(event))
}

// Execute creates the event and reports the created id for last-entity
// tracking.
func (f *EventFlow) Execute(ctx context.Context, conv ConversationContext, p models.Payload) (models.Response, string, error) {
	event, ok := p.(models.EventPayload)
	if !ok {
		return models.Response{}, "", fmt.Errorf("event flow got payload of type %T", p)
	}
	created, err := f.exec.CreateEvent(ctx, conv.UserID, event)
	if err != nil {
		return models.Response{}, "", err
	}
	resp := models.Response{
		Text:         fmt.Sprintf("Created %s.", describeEventPayload(event)),
		EventCreated: true,
	}
	return resp, created.ID, nil
}

func (f *EventFlow) MultiFormatter(items []models.Payload) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "I found %d events:\n", len(items))
	for i, item := range items {
		event, ok := item.(models.EventPayload)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "%d. %s\n", i+1, describeEventPayload(event))
	}
	sb.WriteString("Which should I add? Reply with numbers or \"all\".")
	return sb.String()
}

// describeEventPayload renders a short human-readable summary of an event
// payload for prompts and confirmations.
func describeEventPayload(event models.EventPayload) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%q", event.Title)
	if event.Date != "" {
		if day, err := time.Parse("2006-01-02", event.Date); err == nil {
			fmt.Fprintf(&sb, " on %s", day.Format("Monday, Jan 2"))
		} else {
			fmt.Fprintf(&sb, " on %s", event.Date)
		}
	}
	if event.StartTime != "" {
		fmt.Fprintf(&sb, " at %s", event.StartTime)
	}
	if event.IsRecurring() {
		fmt.Fprintf(&sb, " (%s)", event.Recurrence)
	}
	if event.Location != "" {
		fmt.Fprintf(&sb, " at %s", event.Location)
	}
	return sb.String()
}
