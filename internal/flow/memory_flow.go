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

// memoryExtractor is the memory flow's view of the extraction collaborator.
type memoryExtractor interface {
	ExtractMemory(ctx context.Context, req genai.ExtractRequest) genai.MemoryResult
	ExtractMemoryCorrection(ctx context.Context, prior models.MemoryPayload, answer string, now time.Time) genai.MemoryResult
}

// Compile-time check that MemoryFlow implements Flow.
var _ Flow = (*MemoryFlow)(nil)

// MemoryFlow saves free-form notes and links.
type MemoryFlow struct {
	extractor memoryExtractor
	exec      executor.Executor
}

// NewMemoryFlow creates the memory flow variant.
func NewMemoryFlow(extractor memoryExtractor, exec executor.Executor) *MemoryFlow {
	return &MemoryFlow{extractor: extractor, exec: exec}
}

func (f *MemoryFlow) Kind() models.Kind { return models.KindMemory }

func (f *MemoryFlow) Intent() models.Intent { return models.IntentCreateMemory }

func (f *MemoryFlow) Label() (string, string) { return "memory", "memories" }

func (f *MemoryFlow) PayloadKey() string { return models.PayloadKeyMemory }

func (f *MemoryFlow) ClarifyAction() models.PendingAction { return models.PendingClarifyMemoryFields }

func (f *MemoryFlow) ConfirmAction() models.PendingAction { return models.PendingConfirmMemory }

// The memory flow has no multi-candidate support.
func (f *MemoryFlow) MultiAction() models.PendingAction { return "" }

func (f *MemoryFlow) MultiPayloadKey() string { return "" }

func (f *MemoryFlow) MultiFormatter(items []models.Payload) string { return "" }

func (f *MemoryFlow) AllowMultiOnCorrection() bool { return false }

// Preflight auto-saves a text-less image without calling extraction.
func (f *MemoryFlow) Preflight(ctx context.Context, conv ConversationContext) *PreflightResult {
	if conv.HasImage() && strings.TrimSpace(conv.Text) == "" {
		slog.Debug("MemoryFlow.Preflight: auto-saving text-less image", "userID", conv.UserID)
		return &PreflightResult{
			Execute: true,
			Payload: models.MemoryPayload{
				Content:    "Saved image",
				ImageRef:   conv.ImageRef,
				Confidence: models.ConfidenceHigh,
			},
		}
	}
	return nil
}

func (f *MemoryFlow) Extract(ctx context.Context, conv ConversationContext) ExtractOutcome {
	res := f.extractor.ExtractMemory(ctx, genai.ExtractRequest{
		Text:        conv.Text,
		ImageRef:    conv.ImageRef,
		RecentTurns: conv.RecentTurns,
		Now:         conv.Now,
	})
	return memoryOutcome(res, conv.ImageRef)
}

func (f *MemoryFlow) ExtractCorrection(ctx context.Context, conv ConversationContext, prior models.Payload) ExtractOutcome {
	priorMem, ok := prior.(models.MemoryPayload)
	if !ok {
		slog.Error("MemoryFlow.ExtractCorrection: prior payload has wrong type", "type", fmt.Sprintf("%T", prior))
		return ExtractOutcome{Err: true, Message: f.ErrorFallback()}
	}
	res := f.extractor.ExtractMemoryCorrection(ctx, priorMem, conv.Text, conv.Now)
	return memoryOutcome(res, priorMem.ImageRef)
}

func memoryOutcome(res genai.MemoryResult, imageRef string) ExtractOutcome {
	if res.Err || res.Memory == nil {
		return ExtractOutcome{Err: true, Message: res.Message}
	}
	mem := *res.Memory
	if mem.ImageRef == "" {
		mem.ImageRef = imageRef
	}
	return ExtractOutcome{Items: []models.Payload{mem}}
}

// Normalize pulls a URL out of the content when the extractor missed it.
func (f *MemoryFlow) Normalize(conv ConversationContext, p models.Payload) models.Payload {
	mem, ok := p.(models.MemoryPayload)
	if !ok {
		return p
	}
	mem.Content = strings.TrimSpace(mem.Content)
	if mem.URL == "" {
		if url, remainder := extractURL(mem.Content); url != "" {
			mem.URL = url
			if remainder != "" {
				mem.Content = remainder
			} else {
				mem.Content = url
			}
		}
	}
	return mem
}

func (f *MemoryFlow) MissingFields(p models.Payload) []string {
	mem, ok := p.(models.MemoryPayload)
	if !ok {
		return f.ErrorMissingFields()
	}
	if strings.TrimSpace(mem.Content) == "" && mem.URL == "" {
		return []string{"content"}
	}
	return nil
}

func (f *MemoryFlow) ErrorMissingFields() []string { return []string{"content"} }

func (f *MemoryFlow) ErrorFallback() string {
	return "What would you like me to remember?"
}

func (f *MemoryFlow) MissingFallback(fields []string, p models.Payload) string {
	return "What would you like me to remember?"
}

func (f *MemoryFlow) CorrectionFallback(fields []string, p models.Payload) string {
	return "I still don't have anything to save. What should I remember?"
}

func (f *MemoryFlow) ExtraPrompt(fields []string) string { return "" }

func (f *MemoryFlow) ExtractedSummary(p models.Payload) map[string]string {
	mem, ok := p.(models.MemoryPayload)
	if !ok {
		return nil
	}
	summary := make(map[string]string)
	if mem.Content != "" {
		summary["content"] = mem.Content
	}
	if mem.URL != "" {
		summary["url"] = mem.URL
	}
	return summary
}

func (f *MemoryFlow) ConfirmPrompt(p models.Payload, stage Stage) string {
	mem, ok := p.(models.MemoryPayload)
	if !ok {
		return "Should I save it?"
	}
	lead := "Save"
	if stage == StageCorrected {
		lead = "Updated. Save"
	}
	return fmt.Sprintf("%s %q? (yes/no)", lead, mem.Content)
}

// Execute saves the memory.
func (f *MemoryFlow) Execute(ctx context.Context, conv ConversationContext, p models.Payload) (models.Response, string, error) {
	mem, ok := p.(models.MemoryPayload)
	if !ok {
		return models.Response{}, "", fmt.Errorf("memory flow got payload of type %T", p)
	}
	saved, err := f.exec.SaveMemory(ctx, conv.UserID, mem)
	if err != nil {
		return models.Response{}, "", err
	}
	return models.TextResponse(fmt.Sprintf("Saved: %s", saved.Content)), saved.ID, nil
}
