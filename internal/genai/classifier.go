package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/tidwall/gjson"

	"github.com/sifxtreme/jarvis-sub000/internal/models"
)

const classifierSystemPrompt = `You classify a user's message to a personal assistant.
Pick exactly one intent:
- create_event: schedule something on the calendar
- update_event: change an existing calendar event
- delete_event: cancel or remove a calendar event
- list_events: ask what is on the calendar
- create_transaction: log a purchase or expense
- create_memory: save a note, link, or fact for later
- search_memory: recall a previously saved note or fact
- unknown: none of the above

Respond with JSON only: {"intent": "...", "confidence": "low|medium|high"}`

// Classify determines the intent of an inbound message. Unknown or absent
// confidence defaults to medium.
func (c *Client) Classify(ctx context.Context, text string, hasImage bool, recentTurns []string) (models.Intent, models.Confidence, error) {
	var sb strings.Builder
	if len(recentTurns) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, turn := range recentTurns {
			sb.WriteString(turn)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	if hasImage {
		sb.WriteString("The message includes an attached image.\n")
	}
	fmt.Fprintf(&sb, "Message: %s", text)

	out, err := c.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(classifierSystemPrompt),
		openai.UserMessage(sb.String()),
	})
	if err != nil {
		return models.IntentUnknown, models.ConfidenceMedium, fmt.Errorf("classify failed: %w", err)
	}

	parsed := gjson.Parse(stripCodeFences(out))
	intent := models.Intent(parsed.Get("intent").String())
	if !models.IsValidIntent(intent) {
		slog.Warn("genai.Classify: model returned unsupported intent", "intent", intent)
		intent = models.IntentUnknown
	}
	confidence := models.ParseConfidence(parsed.Get("confidence").String())
	slog.Debug("genai.Classify: classified message", "intent", intent, "confidence", confidence, "hasImage", hasImage)
	return intent, confidence, nil
}
