package policy

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mwelliot/tcmail/internal/models"
)

func activeThread() *models.Thread {
	return &models.Thread{ID: "thread-1", Status: models.ThreadStatusActive}
}

func draftWith(confidence *float64) *models.Draft {
	return &models.Draft{
		ThreadID:     "thread-1",
		ProposedBody: "We close Friday at 2pm.",
		Confidence:   confidence,
		GeneratedAt:  time.Now(),
	}
}

func ptr(f float64) *float64 { return &f }

func TestDecideBands(t *testing.T) {
	pol := New(0.85, 0.4)

	tests := []struct {
		name       string
		confidence float64
		want       models.DecisionAction
	}{
		{"well above high", 0.95, models.ActionAutoSend},
		{"exactly high", 0.85, models.ActionAutoSend},
		{"just below high", 0.84, models.ActionQueue},
		{"middle of band", 0.6, models.ActionQueue},
		{"exactly low", 0.4, models.ActionQueue},
		{"just below low", 0.39, models.ActionEscalate},
		{"zero", 0, models.ActionEscalate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := pol.Decide(activeThread(), draftWith(ptr(tt.confidence)), nil)
			if decision.Action != tt.want {
				t.Errorf("confidence %v: action = %s, want %s", tt.confidence, decision.Action, tt.want)
			}
			if decision.Reason == "" {
				t.Error("expected a reason on every decision")
			}
		})
	}
}

func TestDecideEscalations(t *testing.T) {
	pol := New(0.85, 0.4)

	t.Run("generation error escalates", func(t *testing.T) {
		decision := pol.Decide(activeThread(), nil, errors.New("api timeout"))
		if decision.Action != models.ActionEscalate {
			t.Errorf("expected escalate, got %s", decision.Action)
		}
		if !strings.Contains(decision.Reason, "api timeout") {
			t.Errorf("expected reason to carry the cause, got %q", decision.Reason)
		}
	})

	t.Run("nil draft escalates", func(t *testing.T) {
		decision := pol.Decide(activeThread(), nil, nil)
		if decision.Action != models.ActionEscalate {
			t.Errorf("expected escalate, got %s", decision.Action)
		}
	})

	t.Run("unscored draft escalates, never treated as zero", func(t *testing.T) {
		decision := pol.Decide(activeThread(), draftWith(nil), nil)
		if decision.Action != models.ActionEscalate {
			t.Errorf("expected escalate, got %s", decision.Action)
		}
		if !strings.Contains(decision.Reason, "confidence") {
			t.Errorf("expected reason to mention confidence, got %q", decision.Reason)
		}
	})

	t.Run("empty body escalates regardless of confidence", func(t *testing.T) {
		draft := draftWith(ptr(0.99))
		draft.ProposedBody = "   "
		decision := pol.Decide(activeThread(), draft, nil)
		if decision.Action != models.ActionEscalate {
			t.Errorf("expected escalate, got %s", decision.Action)
		}
	})

	t.Run("oversized body escalates", func(t *testing.T) {
		draft := draftWith(ptr(0.99))
		draft.ProposedBody = strings.Repeat("a", maxDraftBytes+1)
		decision := pol.Decide(activeThread(), draft, nil)
		if decision.Action != models.ActionEscalate {
			t.Errorf("expected escalate, got %s", decision.Action)
		}
	})
}

func TestDecideNonActiveThreadNeverAutoSends(t *testing.T) {
	pol := New(0.85, 0.4)

	for _, status := range []models.ThreadStatus{models.ThreadStatusClosed, models.ThreadStatusAwaitingReview} {
		t.Run(string(status), func(t *testing.T) {
			thread := activeThread()
			thread.Status = status

			decision := pol.Decide(thread, draftWith(ptr(0.99)), nil)
			if decision.Action != models.ActionQueue {
				t.Errorf("expected high-confidence draft on %s thread to queue, got %s", status, decision.Action)
			}
		})
	}
}
