package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"

	"github.com/sifxtreme/jarvis-sub000/internal/models"
)

const questionSystemPrompt = `You write one short, friendly question asking the user for missing details.
Ask for all missing fields in a single question. No preamble, no JSON, just the question.`

// ClarifyRequest describes what the clarification question should ask for.
type ClarifyRequest struct {
	Intent        models.Intent
	MissingFields []string
	Extracted     map[string]string // fields already known, for phrasing context
	ExtraGuidance string            // flow-specific guidance, e.g. valid sources
	Fallback      string            // used verbatim when generation fails
}

// ClarifyQuestion asks the model to phrase a clarification question. It never
// fails: on any error the fallback text is returned verbatim.
func (c *Client) ClarifyQuestion(ctx context.Context, req ClarifyRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Intent: %s\n", req.Intent)
	fmt.Fprintf(&sb, "Missing fields: %s\n", strings.Join(req.MissingFields, ", "))
	if len(req.Extracted) > 0 {
		sb.WriteString("Already known:\n")
		for k, v := range req.Extracted {
			fmt.Fprintf(&sb, "  %s: %s\n", k, v)
		}
	}
	if req.ExtraGuidance != "" {
		fmt.Fprintf(&sb, "Guidance to include: %s\n", req.ExtraGuidance)
	}

	out, err := c.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(questionSystemPrompt),
		openai.UserMessage(sb.String()),
	})
	if err != nil || strings.TrimSpace(out) == "" {
		slog.Warn("genai.ClarifyQuestion: generation failed, using fallback", "error", err, "intent", req.Intent)
		return req.Fallback
	}
	return strings.TrimSpace(out)
}
