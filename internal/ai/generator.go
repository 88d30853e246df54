package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/mwelliot/tcmail/internal/models"
)

// ErrGenerationUnavailable means the AI call failed or timed out and no draft
// was produced. This is not the same as a draft with low confidence: there is
// nothing to queue or send, only something to escalate.
var ErrGenerationUnavailable = errors.New("response generation unavailable")

// Drafter produces a proposed reply for a conversation. Implemented by
// Generator in production and by deterministic stubs in tests.
type Drafter interface {
	Draft(ctx context.Context, thread *models.Thread, history []*models.Message) (*models.Draft, error)
}

// Generator drafts replies by sending role-tagged thread history to the
// Anthropic API.
type Generator struct {
	client        *anthropic.Client
	model         string
	timeout       time.Duration
	assistantName string
}

// NewGenerator creates a Generator.
func NewGenerator(apiKey, model string, timeout time.Duration, assistantName string) *Generator {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Generator{
		client:        &client,
		model:         model,
		timeout:       timeout,
		assistantName: assistantName,
	}
}

const systemPromptTemplate = `You are %s, a friendly and professional real-estate transaction coordinator. You help clients move their transactions forward: scheduling, document status, deadlines, and next steps.

Reply to the latest message in the conversation. Respond with a single JSON object and nothing else:
{"reply": "<your reply text>", "confidence": <number between 0 and 1>}

The confidence value is your own estimate of how likely your reply is correct and complete. Use a low value whenever you are unsure, the request is unusual, or it needs information you do not have.`

// Draft asks the model for a reply to the thread's latest message.
// Returns ErrGenerationUnavailable on any API failure or timeout.
// A response without a usable confidence value yields a draft with
// Confidence nil; the decision policy treats that as unscored, never as zero.
func (g *Generator) Draft(ctx context.Context, thread *models.Thread, history []*models.Message) (*models.Draft, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: empty thread history", ErrGenerationUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: fmt.Sprintf(systemPromptTemplate, g.assistantName)},
		},
		Messages: buildMessages(history),
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}

	reply, confidence := ParseDraftPayload(text.String())
	if confidence == nil {
		log.Printf("ai: model returned no usable confidence for thread %s", thread.ID)
	}

	return &models.Draft{
		ThreadID:     thread.ID,
		ProposedBody: reply,
		Confidence:   confidence,
		GeneratedAt:  time.Now(),
	}, nil
}

// buildMessages converts thread history into alternating user/assistant
// turns: inbound messages are the participant, outbound ones are the
// coordinator. Consecutive turns with the same role are merged because the
// API requires strict alternation starting with a user turn.
func buildMessages(history []*models.Message) []anthropic.MessageParam {
	type turn struct {
		assistant bool
		parts     []string
	}

	var turns []*turn
	for _, msg := range history {
		assistant := msg.Direction == models.DirectionOutbound
		if len(turns) > 0 && turns[len(turns)-1].assistant == assistant {
			last := turns[len(turns)-1]
			last.parts = append(last.parts, msg.Body)
			continue
		}
		turns = append(turns, &turn{assistant: assistant, parts: []string{msg.Body}})
	}

	if len(turns) > 0 && turns[0].assistant {
		turns = append([]*turn{{parts: []string{"(conversation opened)"}}}, turns...)
	}

	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		content := strings.Join(t.parts, "\n\n")
		if t.assistant {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(content)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(content)))
		}
	}

	return messages
}

type draftPayload struct {
	Reply      string   `json:"reply"`
	Confidence *float64 `json:"confidence"`
}

// ParseDraftPayload extracts the reply text and confidence score from the
// model's output. The model is asked for strict JSON but may wrap it in
// markdown fences or ignore the format entirely; in the latter case the raw
// text becomes the reply and the confidence stays nil (unscored).
func ParseDraftPayload(text string) (string, *float64) {
	trimmed := strings.TrimSpace(text)

	candidate := trimmed
	if strings.HasPrefix(candidate, "```") {
		candidate = strings.TrimPrefix(candidate, "```json")
		candidate = strings.TrimPrefix(candidate, "```")
		candidate = strings.TrimSuffix(strings.TrimSpace(candidate), "```")
		candidate = strings.TrimSpace(candidate)
	}

	var payload draftPayload
	if err := json.Unmarshal([]byte(candidate), &payload); err != nil || payload.Reply == "" {
		return trimmed, nil
	}

	if payload.Confidence != nil && (*payload.Confidence < 0 || *payload.Confidence > 1) {
		payload.Confidence = nil
	}

	return payload.Reply, payload.Confidence
}
