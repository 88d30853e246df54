package ai

import (
	"testing"

	"github.com/mwelliot/tcmail/internal/models"
)

func TestParseDraftPayload(t *testing.T) {
	tests := []struct {
		name           string
		text           string
		wantReply      string
		wantConfidence *float64
	}{
		{
			name:           "strict json",
			text:           `{"reply": "We close Friday at 2pm.", "confidence": 0.92}`,
			wantReply:      "We close Friday at 2pm.",
			wantConfidence: ptr(0.92),
		},
		{
			name:           "json wrapped in fences",
			text:           "```json\n{\"reply\": \"Done.\", \"confidence\": 0.5}\n```",
			wantReply:      "Done.",
			wantConfidence: ptr(0.5),
		},
		{
			name:           "bare fences",
			text:           "```\n{\"reply\": \"Done.\", \"confidence\": 0.5}\n```",
			wantReply:      "Done.",
			wantConfidence: ptr(0.5),
		},
		{
			name:           "confidence zero is a real score",
			text:           `{"reply": "I am not sure.", "confidence": 0}`,
			wantReply:      "I am not sure.",
			wantConfidence: ptr(0.0),
		},
		{
			name:           "missing confidence stays unscored",
			text:           `{"reply": "Sure thing."}`,
			wantReply:      "Sure thing.",
			wantConfidence: nil,
		},
		{
			name:           "out of range confidence is dropped",
			text:           `{"reply": "Sure thing.", "confidence": 1.5}`,
			wantReply:      "Sure thing.",
			wantConfidence: nil,
		},
		{
			name:           "non-json output becomes the reply, unscored",
			text:           "Happy to help! We close Friday.",
			wantReply:      "Happy to help! We close Friday.",
			wantConfidence: nil,
		},
		{
			name:           "json without reply falls back to raw text",
			text:           `{"confidence": 0.9}`,
			wantReply:      `{"confidence": 0.9}`,
			wantConfidence: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, confidence := ParseDraftPayload(tt.text)
			if reply != tt.wantReply {
				t.Errorf("reply = %q, want %q", reply, tt.wantReply)
			}
			switch {
			case tt.wantConfidence == nil && confidence != nil:
				t.Errorf("confidence = %v, want nil", *confidence)
			case tt.wantConfidence != nil && confidence == nil:
				t.Errorf("confidence = nil, want %v", *tt.wantConfidence)
			case tt.wantConfidence != nil && *confidence != *tt.wantConfidence:
				t.Errorf("confidence = %v, want %v", *confidence, *tt.wantConfidence)
			}
		})
	}
}

func TestBuildMessages(t *testing.T) {
	inbound := func(body string) *models.Message {
		return &models.Message{Direction: models.DirectionInbound, Body: body}
	}
	outbound := func(body string) *models.Message {
		return &models.Message{Direction: models.DirectionOutbound, Body: body}
	}

	t.Run("alternating history maps to alternating roles", func(t *testing.T) {
		history := []*models.Message{
			inbound("Hello"),
			outbound("Hi, how can I help?"),
			inbound("When do we close?"),
		}

		messages := buildMessages(history)
		if len(messages) != 3 {
			t.Fatalf("expected 3 turns, got %d", len(messages))
		}
	})

	t.Run("consecutive same-direction messages are merged", func(t *testing.T) {
		history := []*models.Message{
			inbound("First"),
			inbound("Second"),
			outbound("Reply"),
		}

		messages := buildMessages(history)
		if len(messages) != 2 {
			t.Fatalf("expected 2 turns after merging, got %d", len(messages))
		}
	})

	t.Run("history starting with the assistant gets a leading user turn", func(t *testing.T) {
		history := []*models.Message{
			outbound("Welcome!"),
			inbound("Thanks"),
		}

		messages := buildMessages(history)
		if len(messages) != 3 {
			t.Fatalf("expected a synthetic opening turn, got %d turns", len(messages))
		}
	})
}

func ptr(f float64) *float64 {
	return &f
}
