package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/tidwall/gjson"

	"github.com/sifxtreme/jarvis-sub000/internal/models"
)

// extractionFailedMessage is the generic user-facing text used when the model
// call or its output cannot be used.
const extractionFailedMessage = "I couldn't read that. Could you rephrase?"

// ExtractRequest carries the inputs common to all extraction calls.
type ExtractRequest struct {
	Text        string
	ImageRef    string
	RecentTurns []string
	Now         time.Time
}

// EventResult is the extraction outcome for calendar events. A transport or
// parse failure is reported through Err/Message, never as a Go error, so flow
// handlers can always render something to the user.
type EventResult struct {
	Err     bool
	Message string
	Events  []models.EventPayload
}

// TransactionResult is the extraction outcome for ledger transactions.
type TransactionResult struct {
	Err          bool
	Message      string
	Transactions []models.TransactionPayload
}

// MemoryResult is the extraction outcome for memories.
type MemoryResult struct {
	Err     bool
	Message string
	Memory  *models.MemoryPayload
}

// TargetQuery is a partial reference to an existing event used by the
// candidate resolver.
type TargetQuery struct {
	Title     string `json:"title,omitempty"`
	Date      string `json:"date,omitempty"`
	StartTime string `json:"start_time,omitempty"`
}

// IsEmpty reports whether no identifying detail was extracted.
func (q TargetQuery) IsEmpty() bool {
	return q.Title == "" && q.Date == "" && q.StartTime == ""
}

// UpdateResult is the extraction outcome for an update request.
type UpdateResult struct {
	Err         bool
	Message     string
	Target      TargetQuery
	Changes     map[string]string
	UsesPronoun bool
	Scope       models.RecurringScope
}

// DeleteResult is the extraction outcome for a delete request.
type DeleteResult struct {
	Err         bool
	Message     string
	Target      TargetQuery
	UsesPronoun bool
	Scope       models.RecurringScope
}

// ListQueryResult is the extraction outcome for a list-events request.
type ListQueryResult struct {
	Err     bool
	Message string
	From    string // ISO date, inclusive
	To      string // ISO date, exclusive
	Label   string // human wording for the range, e.g. "this week"
}

const eventExtractionPrompt = `You extract calendar events from a user's message (and image, if attached).
Today is %s. Resolve relative dates ("Friday", "tomorrow") to ISO dates.
Respond with JSON only:
{"events": [{"title": "...", "date": "YYYY-MM-DD", "start_time": "HH:MM", "end_time": "HH:MM", "recurrence": "none|daily|weekly|monthly|yearly", "location": "...", "description": "...", "confidence": "low|medium|high"}]}
Omit fields you cannot determine. A screenshot of a schedule may yield several events.
If the message contains no event at all, respond {"error": true, "message": "<short question asking what to schedule>"}.`

// ExtractEvents extracts one or more event payloads from the message.
func (c *Client) ExtractEvents(ctx context.Context, req ExtractRequest) EventResult {
	out, err := c.extract(ctx, fmt.Sprintf(eventExtractionPrompt, req.Now.Format("Monday 2006-01-02")), req)
	if err != nil {
		slog.Error("genai.ExtractEvents: extraction failed", "error", err)
		return EventResult{Err: true, Message: extractionFailedMessage}
	}
	parsed := gjson.Parse(out)
	if parsed.Get("error").Bool() {
		return EventResult{Err: true, Message: errMessage(parsed)}
	}
	var events []models.EventPayload
	for _, item := range parsed.Get("events").Array() {
		events = append(events, parseEventPayload(item))
	}
	if len(events) == 0 {
		return EventResult{Err: true, Message: extractionFailedMessage}
	}
	slog.Debug("genai.ExtractEvents: extracted events", "count", len(events))
	return EventResult{Events: events}
}

const eventCorrectionPrompt = `You are refining a partially extracted calendar event.
Today is %s.
Current extraction: %s
The user replied with a correction or answer. Merge it into the extraction and respond with JSON only:
{"events": [{"title": "...", "date": "YYYY-MM-DD", "start_time": "HH:MM", "end_time": "HH:MM", "recurrence": "none|daily|weekly|monthly|yearly", "location": "...", "description": "...", "confidence": "low|medium|high"}]}
Keep fields the user did not change.`

// ExtractEventCorrection merges a clarification answer into a prior payload.
func (c *Client) ExtractEventCorrection(ctx context.Context, prior models.EventPayload, answer string, now time.Time) EventResult {
	priorJSON, _ := json.Marshal(prior)
	req := ExtractRequest{Text: answer, Now: now}
	out, err := c.extract(ctx, fmt.Sprintf(eventCorrectionPrompt, now.Format("Monday 2006-01-02"), priorJSON), req)
	if err != nil {
		slog.Error("genai.ExtractEventCorrection: extraction failed", "error", err)
		return EventResult{Err: true, Message: extractionFailedMessage}
	}
	parsed := gjson.Parse(out)
	if parsed.Get("error").Bool() {
		return EventResult{Err: true, Message: errMessage(parsed)}
	}
	var events []models.EventPayload
	for _, item := range parsed.Get("events").Array() {
		events = append(events, parseEventPayload(item))
	}
	if len(events) == 0 {
		return EventResult{Err: true, Message: extractionFailedMessage}
	}
	return EventResult{Events: events}
}

const transactionExtractionPrompt = `You extract financial transactions from a user's message (and image, if attached).
Today is %s. Resolve relative dates to ISO dates.
Respond with JSON only:
{"transactions": [{"merchant": "...", "amount": "12.34", "date": "YYYY-MM-DD", "source": "...", "category": "...", "confidence": "low|medium|high"}]}
Amount is a plain decimal string without a currency symbol. Source is the paying account if mentioned.
A receipt photo or statement screenshot may yield several transactions.
If the message contains no transaction, respond {"error": true, "message": "<short question asking what was purchased>"}.`

// ExtractTransactions extracts one or more transaction payloads.
func (c *Client) ExtractTransactions(ctx context.Context, req ExtractRequest) TransactionResult {
	out, err := c.extract(ctx, fmt.Sprintf(transactionExtractionPrompt, req.Now.Format("Monday 2006-01-02")), req)
	if err != nil {
		slog.Error("genai.ExtractTransactions: extraction failed", "error", err)
		return TransactionResult{Err: true, Message: extractionFailedMessage}
	}
	parsed := gjson.Parse(out)
	if parsed.Get("error").Bool() {
		return TransactionResult{Err: true, Message: errMessage(parsed)}
	}
	var txns []models.TransactionPayload
	for _, item := range parsed.Get("transactions").Array() {
		txns = append(txns, parseTransactionPayload(item))
	}
	if len(txns) == 0 {
		return TransactionResult{Err: true, Message: extractionFailedMessage}
	}
	slog.Debug("genai.ExtractTransactions: extracted transactions", "count", len(txns))
	return TransactionResult{Transactions: txns}
}

const transactionCorrectionPrompt = `You are refining a partially extracted transaction.
Today is %s.
Current extraction: %s
The user replied with a correction or answer. Merge it and respond with JSON only:
{"transactions": [{"merchant": "...", "amount": "12.34", "date": "YYYY-MM-DD", "source": "...", "category": "...", "confidence": "low|medium|high"}]}
Keep fields the user did not change.`

// ExtractTransactionCorrection merges a clarification answer into a prior payload.
func (c *Client) ExtractTransactionCorrection(ctx context.Context, prior models.TransactionPayload, answer string, now time.Time) TransactionResult {
	priorJSON, _ := json.Marshal(prior)
	req := ExtractRequest{Text: answer, Now: now}
	out, err := c.extract(ctx, fmt.Sprintf(transactionCorrectionPrompt, now.Format("Monday 2006-01-02"), priorJSON), req)
	if err != nil {
		slog.Error("genai.ExtractTransactionCorrection: extraction failed", "error", err)
		return TransactionResult{Err: true, Message: extractionFailedMessage}
	}
	parsed := gjson.Parse(out)
	if parsed.Get("error").Bool() {
		return TransactionResult{Err: true, Message: errMessage(parsed)}
	}
	var txns []models.TransactionPayload
	for _, item := range parsed.Get("transactions").Array() {
		txns = append(txns, parseTransactionPayload(item))
	}
	if len(txns) == 0 {
		return TransactionResult{Err: true, Message: extractionFailedMessage}
	}
	return TransactionResult{Transactions: txns}
}

const memoryExtractionPrompt = `You extract a note the user wants saved for later.
Respond with JSON only:
{"memory": {"content": "...", "url": "...", "confidence": "low|medium|high"}}
Content is the fact or note itself, cleaned up. Include url only if the message contains one.
If the message contains nothing worth saving, respond {"error": true, "message": "<short question asking what to remember>"}.`

// ExtractMemory extracts a memory payload from the message.
func (c *Client) ExtractMemory(ctx context.Context, req ExtractRequest) MemoryResult {
	out, err := c.extract(ctx, memoryExtractionPrompt, req)
	if err != nil {
		slog.Error("genai.ExtractMemory: extraction failed", "error", err)
		return MemoryResult{Err: true, Message: extractionFailedMessage}
	}
	parsed := gjson.Parse(out)
	if parsed.Get("error").Bool() {
		return MemoryResult{Err: true, Message: errMessage(parsed)}
	}
	mem := parseMemoryPayload(parsed.Get("memory"))
	if mem.Content == "" && mem.URL == "" {
		return MemoryResult{Err: true, Message: extractionFailedMessage}
	}
	return MemoryResult{Memory: &mem}
}

const memoryCorrectionPrompt = `You are refining a note the user wants saved.
Current extraction: %s
The user replied with a correction or answer. Merge it and respond with JSON only:
{"memory": {"content": "...", "url": "...", "confidence": "low|medium|high"}}`

// ExtractMemoryCorrection merges a clarification answer into a prior payload.
func (c *Client) ExtractMemoryCorrection(ctx context.Context, prior models.MemoryPayload, answer string, now time.Time) MemoryResult {
	priorJSON, _ := json.Marshal(prior)
	req := ExtractRequest{Text: answer, Now: now}
	out, err := c.extract(ctx, fmt.Sprintf(memoryCorrectionPrompt, priorJSON), req)
	if err != nil {
		slog.Error("genai.ExtractMemoryCorrection: extraction failed", "error", err)
		return MemoryResult{Err: true, Message: extractionFailedMessage}
	}
	parsed := gjson.Parse(out)
	if parsed.Get("error").Bool() {
		return MemoryResult{Err: true, Message: errMessage(parsed)}
	}
	mem := parseMemoryPayload(parsed.Get("memory"))
	if mem.Content == "" && mem.URL == "" {
		return MemoryResult{Err: true, Message: extractionFailedMessage}
	}
	return MemoryResult{Memory: &mem}
}

const updateExtractionPrompt = `The user wants to change an existing calendar event.
Today is %s. Resolve relative dates to ISO dates.
Respond with JSON only:
{"target": {"title": "...", "date": "YYYY-MM-DD", "start_time": "HH:MM"},
 "changes": {"title": "...", "date": "YYYY-MM-DD", "start_time": "HH:MM", "end_time": "HH:MM", "location": "..."},
 "uses_pronoun": false,
 "scope": ""}
target identifies which event they mean; omit fields they did not give.
changes holds only the fields they want changed.
uses_pronoun is true when they refer to "it"/"that" instead of naming the event.
scope is "instance" or "series" only if they said so for a recurring event, otherwise "".`

// ExtractUpdateRequest extracts the target reference and requested changes
// from an update message.
func (c *Client) ExtractUpdateRequest(ctx context.Context, text string, now time.Time) UpdateResult {
	req := ExtractRequest{Text: text, Now: now}
	out, err := c.extract(ctx, fmt.Sprintf(updateExtractionPrompt, now.Format("Monday 2006-01-02")), req)
	if err != nil {
		slog.Error("genai.ExtractUpdateRequest: extraction failed", "error", err)
		return UpdateResult{Err: true, Message: extractionFailedMessage}
	}
	parsed := gjson.Parse(out)
	if parsed.Get("error").Bool() {
		return UpdateResult{Err: true, Message: errMessage(parsed)}
	}
	res := UpdateResult{
		Target:      parseTargetQuery(parsed.Get("target")),
		Changes:     parseStringMap(parsed.Get("changes")),
		UsesPronoun: parsed.Get("uses_pronoun").Bool(),
		Scope:       parseScope(parsed.Get("scope").String()),
	}
	return res
}

const deleteExtractionPrompt = `The user wants to cancel or remove a calendar event.
Today is %s. Resolve relative dates to ISO dates.
Respond with JSON only:
{"target": {"title": "...", "date": "YYYY-MM-DD", "start_time": "HH:MM"},
 "uses_pronoun": false,
 "scope": ""}
target identifies which event they mean; omit fields they did not give.
uses_pronoun is true when they refer to "it"/"that" instead of naming the event.
scope is "instance" or "series" only if they said so for a recurring event, otherwise "".`

// ExtractDeleteRequest extracts the target reference from a delete message.
func (c *Client) ExtractDeleteRequest(ctx context.Context, text string, now time.Time) DeleteResult {
	req := ExtractRequest{Text: text, Now: now}
	out, err := c.extract(ctx, fmt.Sprintf(deleteExtractionPrompt, now.Format("Monday 2006-01-02")), req)
	if err != nil {
		slog.Error("genai.ExtractDeleteRequest: extraction failed", "error", err)
		return DeleteResult{Err: true, Message: extractionFailedMessage}
	}
	parsed := gjson.Parse(out)
	if parsed.Get("error").Bool() {
		return DeleteResult{Err: true, Message: errMessage(parsed)}
	}
	return DeleteResult{
		Target:      parseTargetQuery(parsed.Get("target")),
		UsesPronoun: parsed.Get("uses_pronoun").Bool(),
		Scope:       parseScope(parsed.Get("scope").String()),
	}
}

const listQueryPrompt = `The user is asking what is on their calendar.
Today is %s.
Respond with JSON only:
{"from": "YYYY-MM-DD", "to": "YYYY-MM-DD", "label": "..."}
from is inclusive, to is exclusive. label is a short human wording of the range such as "today" or "this week".
If the question names no range, use the next 7 days.
If the message is not a calendar question, respond {"error": true, "message": "<short question asking what range they want>"}.`

// ExtractListQuery extracts the date range from a list-events question.
func (c *Client) ExtractListQuery(ctx context.Context, text string, now time.Time) ListQueryResult {
	req := ExtractRequest{Text: text, Now: now}
	out, err := c.extract(ctx, fmt.Sprintf(listQueryPrompt, now.Format("Monday 2006-01-02")), req)
	if err != nil {
		slog.Error("genai.ExtractListQuery: extraction failed", "error", err)
		return ListQueryResult{Err: true, Message: extractionFailedMessage}
	}
	parsed := gjson.Parse(out)
	if parsed.Get("error").Bool() {
		return ListQueryResult{Err: true, Message: errMessage(parsed)}
	}
	return ListQueryResult{
		From:  parsed.Get("from").String(),
		To:    parsed.Get("to").String(),
		Label: parsed.Get("label").String(),
	}
}

// extract runs a single system+user completion and strips code fences from
// the output.
func (c *Client) extract(ctx context.Context, systemPrompt string, req ExtractRequest) (string, error) {
	var sb strings.Builder
	if len(req.RecentTurns) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, turn := range req.RecentTurns {
			sb.WriteString(turn)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(req.Text)

	out, err := c.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		userMessageWithImage(sb.String(), req.ImageRef),
	})
	if err != nil {
		return "", err
	}
	return stripCodeFences(out), nil
}

func errMessage(parsed gjson.Result) string {
	if msg := parsed.Get("message").String(); msg != "" {
		return msg
	}
	return extractionFailedMessage
}

func parseEventPayload(g gjson.Result) models.EventPayload {
	return models.EventPayload{
		Title:       g.Get("title").String(),
		Date:        g.Get("date").String(),
		StartTime:   g.Get("start_time").String(),
		EndTime:     g.Get("end_time").String(),
		Recurrence:  g.Get("recurrence").String(),
		Location:    g.Get("location").String(),
		Description: g.Get("description").String(),
		Confidence:  models.ParseConfidence(g.Get("confidence").String()),
	}
}

func parseTransactionPayload(g gjson.Result) models.TransactionPayload {
	return models.TransactionPayload{
		Merchant:   g.Get("merchant").String(),
		Amount:     g.Get("amount").String(),
		Date:       g.Get("date").String(),
		Source:     g.Get("source").String(),
		Category:   g.Get("category").String(),
		Confidence: models.ParseConfidence(g.Get("confidence").String()),
	}
}

func parseMemoryPayload(g gjson.Result) models.MemoryPayload {
	return models.MemoryPayload{
		Content:    g.Get("content").String(),
		URL:        g.Get("url").String(),
		Confidence: models.ParseConfidence(g.Get("confidence").String()),
	}
}

func parseTargetQuery(g gjson.Result) TargetQuery {
	return TargetQuery{
		Title:     g.Get("title").String(),
		Date:      g.Get("date").String(),
		StartTime: g.Get("start_time").String(),
	}
}

func parseStringMap(g gjson.Result) map[string]string {
	if !g.IsObject() {
		return nil
	}
	m := make(map[string]string)
	g.ForEach(func(key, value gjson.Result) bool {
		if value.String() != "" {
			m[key.String()] = value.String()
		}
		return true
	})
	if len(m) == 0 {
		return nil
	}
	return m
}

func parseScope(raw string) models.RecurringScope {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(models.ScopeInstance):
		return models.ScopeInstance
	case string(models.ScopeSeries):
		return models.ScopeSeries
	default:
		return ""
	}
}
