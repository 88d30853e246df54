package policy

import (
	"fmt"
	"strings"

	"github.com/mwelliot/tcmail/internal/models"
)

// maxDraftBytes is the sanity cap on a drafted reply body. Anything bigger
// than this did not come out of a normal coordinator exchange.
const maxDraftBytes = 32 * 1024

// Policy turns a draft and its confidence into a decision. Thresholds come
// from configuration; each band is inclusive on its lower bound:
//
//	confidence >= High          -> auto_send
//	Low <= confidence < High    -> queue for review
//	confidence < Low            -> escalate
//
// An unavailable generation, an unscored draft, or a draft that fails the
// sanity check always escalates: nothing is sent and nothing silently queued.
type Policy struct {
	High float64
	Low  float64
}

// New creates a Policy with the given thresholds.
func New(high, low float64) *Policy {
	return &Policy{High: high, Low: low}
}

// Decide evaluates one draft for one thread. genErr is the error from the
// response generator, nil if a draft was produced. The returned decision is
// not yet persisted.
func (p *Policy) Decide(thread *models.Thread, draft *models.Draft, genErr error) *models.Decision {
	decision := &models.Decision{ThreadID: thread.ID}

	if genErr != nil {
		decision.Action = models.ActionEscalate
		decision.Reason = fmt.Sprintf("no draft produced: %v", genErr)
		return decision
	}

	if draft == nil {
		decision.Action = models.ActionEscalate
		decision.Reason = "no draft produced"
		return decision
	}

	if strings.TrimSpace(draft.ProposedBody) == "" {
		decision.Action = models.ActionEscalate
		decision.Reason = "draft body is empty"
		return decision
	}

	if len(draft.ProposedBody) > maxDraftBytes {
		decision.Action = models.ActionEscalate
		decision.Reason = fmt.Sprintf("draft body exceeds sanity limit (%d bytes)", len(draft.ProposedBody))
		return decision
	}

	if draft.Confidence == nil {
		decision.Action = models.ActionEscalate
		decision.Reason = "model supplied no usable confidence score"
		return decision
	}

	confidence := *draft.Confidence
	switch {
	case confidence >= p.High:
		if thread.Status != models.ThreadStatusActive {
			// Closed or already-under-review threads never auto-send; the
			// draft is held for a human instead.
			decision.Action = models.ActionQueue
			decision.Reason = fmt.Sprintf("confidence %.2f >= %.2f but thread is %s", confidence, p.High, thread.Status)
			return decision
		}
		decision.Action = models.ActionAutoSend
		decision.Reason = fmt.Sprintf("confidence %.2f >= %.2f", confidence, p.High)
	case confidence >= p.Low:
		decision.Action = models.ActionQueue
		decision.Reason = fmt.Sprintf("confidence %.2f in [%.2f, %.2f)", confidence, p.Low, p.High)
	default:
		decision.Action = models.ActionEscalate
		decision.Reason = fmt.Sprintf("confidence %.2f < %.2f", confidence, p.Low)
	}

	return decision
}
