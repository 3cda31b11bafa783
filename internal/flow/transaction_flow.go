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

// DefaultValidSources are the paying accounts accepted when none are
// configured.
var DefaultValidSources = []string{"amex", "visa", "chase", "checking", "cash", "venmo"}

// txnExtractor is the transaction flow's view of the extraction collaborator.
type txnExtractor interface {
	ExtractTransactions(ctx context.Context, req genai.ExtractRequest) genai.TransactionResult
	ExtractTransactionCorrection(ctx context.Context, prior models.TransactionPayload, answer string, now time.Time) genai.TransactionResult
}

// Compile-time check that TransactionFlow implements Flow.
var _ Flow = (*TransactionFlow)(nil)

// TransactionFlow logs ledger transactions.
type TransactionFlow struct {
	extractor    txnExtractor
	exec         executor.Executor
	validSources map[string]bool
	sourceList   string
}

// NewTransactionFlow creates the transaction flow variant. An empty source
// list falls back to DefaultValidSources.
func NewTransactionFlow(extractor txnExtractor, exec executor.Executor, validSources []string) *TransactionFlow {
	if len(validSources) == 0 {
		validSources = DefaultValidSources
	}
	set := make(map[string]bool, len(validSources))
	for _, s := range validSources {
		set[strings.ToLower(strings.TrimSpace(s))] = true
	}
	return &TransactionFlow{
		extractor:    extractor,
		exec:         exec,
		validSources: set,
		sourceList:   strings.Join(validSources, ", "),
	}
}

func (f *TransactionFlow) Kind() models.Kind { return models.KindTransaction }

func (f *TransactionFlow) Intent() models.Intent { return models.IntentCreateTransaction }

func (f *TransactionFlow) Label() (string, string) { return "transaction", "transactions" }

func (f *TransactionFlow) PayloadKey() string { return models.PayloadKeyTransaction }

func (f *TransactionFlow) ClarifyAction() models.PendingAction {
	return models.PendingClarifyTransactionFields
}

func (f *TransactionFlow) ConfirmAction() models.PendingAction {
	return models.PendingConfirmTransaction
}

func (f *TransactionFlow) MultiAction() models.PendingAction { return models.PendingSelectTxnExtraction }

func (f *TransactionFlow) MultiPayloadKey() string { return models.PayloadKeyItems }

// AllowMultiOnCorrection is true: a corrected receipt photo can still reveal
// several line items.
func (f *TransactionFlow) AllowMultiOnCorrection() bool { return true }

func (f *TransactionFlow) Preflight(ctx context.Context, conv ConversationContext) *PreflightResult {
	return nil
}

func (f *TransactionFlow) Extract(ctx context.Context, conv ConversationContext) ExtractOutcome {
	res := f.extractor.ExtractTransactions(ctx, genai.ExtractRequest{
		Text:        conv.Text,
		ImageRef:    conv.ImageRef,
		RecentTurns: conv.RecentTurns,
		Now:         conv.Now,
	})
	return txnOutcome(res)
}

func (f *TransactionFlow) ExtractCorrection(ctx context.Context, conv ConversationContext, prior models.Payload) ExtractOutcome {
	priorTxn, ok := prior.(models.TransactionPayload)
	if !ok {
		slog.Error("TransactionFlow.ExtractCorrection: prior payload has wrong type", "type", fmt.Sprintf("%T", prior))
		return ExtractOutcome{Err: true, Message: f.ErrorFallback()}
	}
	res := f.extractor.ExtractTransactionCorrection(ctx, priorTxn, conv.Text, conv.Now)
	return txnOutcome(res)
}

func txnOutcome(res genai.TransactionResult) ExtractOutcome {
	if res.Err {
		return ExtractOutcome{Err: true, Message: res.Message}
	}
	items := make([]models.Payload, 0, len(res.Transactions))
	for _, t := range res.Transactions {
		items = append(items, t)
	}
	return ExtractOutcome{Items: items}
}

// Normalize resolves natural dates and lowercases the source for validation.
func (f *TransactionFlow) Normalize(conv ConversationContext, p models.Payload) models.Payload {
	txn, ok := p.(models.TransactionPayload)
	if !ok {
		return p
	}
	if txn.Date != "" {
		txn.Date = resolveNaturalDate(txn.Date, conv.Now, conv.TZ())
	}
	txn.Source = strings.ToLower(strings.TrimSpace(txn.Source))
	txn.Merchant = strings.TrimSpace(txn.Merchant)
	txn.Amount = strings.TrimPrefix(strings.TrimSpace(txn.Amount), "$")
	return txn
}

func (f *TransactionFlow) MissingFields(p models.Payload) []string {
	txn, ok := p.(models.TransactionPayload)
	if !ok {
		return f.ErrorMissingFields()
	}
	var missing []string
	if txn.Merchant == "" {
		missing = append(missing, "merchant")
	}
	if txn.Amount == "" {
		missing = append(missing, "amount")
	}
	if txn.Date == "" {
		missing = append(missing, "date")
	}
	if txn.Source == "" || !f.validSources[txn.Source] {
		missing = append(missing, "source")
	}
	return missing
}

func (f *TransactionFlow) ErrorMissingFields() []string {
	return []string{"merchant", "amount", "date", "source"}
}

func (f *TransactionFlow) ErrorFallback() string {
	return "What was the purchase? I need the merchant, amount, date, and which account paid."
}

func (f *TransactionFlow) MissingFallback(fields []string, p models.Payload) string {
	return fmt.Sprintf("To log that I still need the %s.", strings.Join(fields, " and "))
}

func (f *TransactionFlow) CorrectionFallback(fields []string, p models.Payload) string {
	return fmt.Sprintf("Got it, but I still need the %s.", strings.Join(fields, " and "))
}

func (f *TransactionFlow) ExtraPrompt(fields []string) string {
	for _, field := range fields {
		if field == "source" {
			return fmt.Sprintf("Valid sources are: %s.", f.sourceList)
		}
	}
	return ""
}

func (f *TransactionFlow) ExtractedSummary(p models.Payload) map[string]string {
	txn, ok := p.(models.TransactionPayload)
	if !ok {
		return nil
	}
	summary := make(map[string]string)
	if txn.Merchant != "" {
		summary["merchant"] = txn.Merchant
	}
	if txn.Amount != "" {
		summary["amount"] = txn.Amount
	}
	if txn.Date != "" {
		summary["date"] = txn.Date
	}
	if txn.Source != "" {
		summary["source"] = txn.Source
	}
	return summary
}

func (f *TransactionFlow) ConfirmPrompt(p models.Payload, stage Stage) string {
	txn, ok := p.(models.TransactionPayload)
	if !ok {
		return "Should I log it?"
	}
	lead := "Log"
	if stage == StageCorrected {
		lead = "Updated. Log"
	}
	return fmt.Sprintf("%s %s? (yes/no)", lead, describeTransactionPayload(txn))
}

// Execute logs the transaction.
func (f *TransactionFlow) Execute(ctx context.Context, conv ConversationContext, p models.Payload) (models.Response, string, error) {
	txn, ok := p.(models.TransactionPayload)
	if !ok {
		return models.Response{}, "", fmt.Errorf("transaction flow got payload of type %T", p)
	}
	created, err := f.exec.CreateTransaction(ctx, conv.UserID, txn)
	if err != nil {
		return models.Response{}, "", err
	}
	return models.TextResponse(fmt.Sprintf("Logged %s.", describeTransactionPayload(txn))), created.ID, nil
}

func (f *TransactionFlow) MultiFormatter(items []models.Payload) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "I found %d transactions:\n", len(items))
	for i, item := range items {
		txn, ok := item.(models.TransactionPayload)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "%d. %s\n", i+1, describeTransactionPayload(txn))
	}
	sb.WriteString("Which should I log? Reply with numbers or \"all\".")
	return sb.String()
}

func describeTransactionPayload(txn models.TransactionPayload) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "$%s at %s", txn.Amount, txn.Merchant)
	if txn.Date != "" {
		sb.WriteString(" on " + txn.Date)
	}
	if txn.Source != "" {
		sb.WriteString(" (" + txn.Source + ")")
	}
	return sb.String()
}
