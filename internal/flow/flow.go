package flow

import (
	"context"

	"github.com/sifxtreme/jarvis-sub000/internal/models"
)

// Stage distinguishes the wording of a confirmation prompt.
type Stage string

const (
	// StageInitial is the first confirmation pass after extraction.
	StageInitial Stage = "initial"
	// StageCorrected is the pass after the user supplied a correction.
	StageCorrected Stage = "corrected"
)

// ExtractOutcome is what a flow's Extract step produces: one or more typed
// payloads, or a user-facing error message. It never carries a Go error;
// extraction failure must stay conversational.
type ExtractOutcome struct {
	Err     bool
	Message string
	Items   []models.Payload
}

// PreflightResult lets a flow short-circuit the create lifecycle before
// extraction runs.
type PreflightResult struct {
	// Execute requests immediate execution of Payload, skipping extraction,
	// clarification, and confirmation.
	Execute bool
	Payload models.Payload
	// Response, when set, is returned to the user verbatim.
	Response *models.Response
}

// Flow is the contract each domain action variant implements. The engine
// drives these methods; a flow never touches thread state directly.
type Flow interface {
	Kind() models.Kind
	Intent() models.Intent
	// Label returns the singular and plural nouns used in user-facing text.
	Label() (singular, plural string)
	// PayloadKey is the key under which this flow's entity is stored in
	// pending payloads.
	PayloadKey() string

	// Extract calls the extraction collaborator with the turn's text/image.
	Extract(ctx context.Context, conv ConversationContext) ExtractOutcome
	// ExtractCorrection merges the user's clarification answer into a prior
	// payload.
	ExtractCorrection(ctx context.Context, conv ConversationContext, prior models.Payload) ExtractOutcome
	// Normalize applies flow-specific cleanup to an extracted payload.
	Normalize(conv ConversationContext, p models.Payload) models.Payload
	// MissingFields returns the required fields absent from the payload.
	MissingFields(p models.Payload) []string

	// ErrorMissingFields and ErrorFallback drive the clarification prompt
	// when extraction itself reported an error.
	ErrorMissingFields() []string
	ErrorFallback() string
	// MissingFallback and CorrectionFallback are the flow's default
	// clarification wording when question generation fails.
	MissingFallback(fields []string, p models.Payload) string
	CorrectionFallback(fields []string, p models.Payload) string
	// ExtraPrompt injects flow-specific guidance into the generic question
	// generator. Empty when the flow has none.
	ExtraPrompt(fields []string) string
	// ExtractedSummary renders the known fields for question phrasing.
	ExtractedSummary(p models.Payload) map[string]string

	// ConfirmPrompt renders the yes/no summary for a payload.
	ConfirmPrompt(p models.Payload, stage Stage) string
	// Execute performs the side effect and returns the final response plus
	// the created entity id (empty when not applicable).
	Execute(ctx context.Context, conv ConversationContext, p models.Payload) (models.Response, string, error)

	// Multi-candidate support. MultiAction is empty for flows without it.
	MultiAction() models.PendingAction
	MultiPayloadKey() string
	MultiFormatter(items []models.Payload) string
	AllowMultiOnCorrection() bool

	// Preflight is an escape hatch for trivial cases; nil means proceed.
	Preflight(ctx context.Context, conv ConversationContext) *PreflightResult

	// ClarifyAction and ConfirmAction are the pending states this flow
	// transitions into.
	ClarifyAction() models.PendingAction
	ConfirmAction() models.PendingAction
}

var registry = make(map[models.Kind]Flow)

// Register associates a Kind with a Flow implementation. Called once at
// startup; not safe for concurrent use afterwards.
func Register(f Flow) {
	registry[f.Kind()] = f
}

// Get retrieves the Flow for a given Kind.
func Get(kind models.Kind) (Flow, bool) {
	f, ok := registry[kind]
	return f, ok
}
