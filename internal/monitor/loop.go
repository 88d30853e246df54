package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mwelliot/tcmail/internal/ai"
	"github.com/mwelliot/tcmail/internal/mail"
	"github.com/mwelliot/tcmail/internal/models"
	"github.com/mwelliot/tcmail/internal/policy"
)

// maxBackoff caps the fetch retry delay after repeated transport failures.
const maxBackoff = 15 * time.Minute

// messageTimeout bounds the handling of a single inbound message, including
// the AI call and the SMTP submission.
const messageTimeout = 2 * time.Minute

// MailFetcher pulls new inbound messages from the mailbox.
type MailFetcher interface {
	FetchNew(ctx context.Context) ([]*mail.Inbound, error)
}

// MailSender submits outbound replies.
type MailSender interface {
	Send(ctx context.Context, out *mail.Outbound) error
	From() string
}

// Config carries the loop's tuning knobs.
type Config struct {
	PollInterval       time.Duration
	HistoryLimit       int
	InactivityDuration time.Duration
}

// Loop is the email monitor: on every tick it fetches new inbound messages,
// resolves each one to a thread, drafts a reply, and acts on the decision.
// Cycles run inline so they never overlap; a slow cycle simply delays the
// next tick's work.
type Loop struct {
	fetcher MailFetcher
	sender  MailSender
	drafter ai.Drafter
	store   Store
	policy  *policy.Policy
	cfg     Config

	// skipUntil implements exponential backoff after fetch failures without
	// blocking the ticker.
	skipUntil time.Time
	backoff   time.Duration
}

// NewLoop creates a Loop. The policy and all collaborators are required.
func NewLoop(fetcher MailFetcher, sender MailSender, drafter ai.Drafter, store Store, pol *policy.Policy, cfg Config) *Loop {
	return &Loop{
		fetcher: fetcher,
		sender:  sender,
		drafter: drafter,
		store:   store,
		policy:  pol,
		cfg:     cfg,
	}
}

// Run polls until ctx is cancelled. The first cycle runs immediately.
// A message being processed when ctx is cancelled finishes on a detached
// context, so cancellation never leaves an appended message without a
// decision.
func (l *Loop) Run(ctx context.Context) {
	log.Printf("monitor: polling every %s", l.cfg.PollInterval)

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	l.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Printf("monitor: shutting down")
			return
		case <-ticker.C:
			l.runCycle(ctx)
		}
	}
}

// runCycle performs one fetch-process-maintain pass.
func (l *Loop) runCycle(ctx context.Context) {
	if time.Now().Before(l.skipUntil) {
		return
	}

	inbounds, err := l.fetcher.FetchNew(ctx)
	if err != nil {
		var transportErr *mail.TransportError
		if errors.As(err, &transportErr) {
			l.deferNextFetch()
			log.Printf("monitor: fetch failed, retrying in %s: %v", l.backoff, err)
		} else {
			log.Printf("monitor: fetch failed: %v", err)
		}
		return
	}
	l.resetBackoff()

	for _, in := range inbounds {
		if err := l.processMessage(ctx, in); err != nil {
			// One bad message never blocks the rest of the batch.
			log.Printf("monitor: failed to process UID %d: %v", in.UID, err)
		}
	}

	if l.cfg.InactivityDuration > 0 {
		closed, err := l.store.CloseInactiveThreads(ctx, l.cfg.InactivityDuration)
		if err != nil {
			log.Printf("monitor: failed to close inactive threads: %v", err)
		} else if closed > 0 {
			log.Printf("monitor: closed %d inactive threads", closed)
		}
	}
}

func (l *Loop) deferNextFetch() {
	if l.backoff == 0 {
		l.backoff = l.cfg.PollInterval
	} else {
		l.backoff *= 2
	}
	if l.backoff > maxBackoff {
		l.backoff = maxBackoff
	}
	l.skipUntil = time.Now().Add(l.backoff)
}

func (l *Loop) resetBackoff() {
	l.backoff = 0
	l.skipUntil = time.Time{}
}

// processMessage runs the full pipeline for one inbound message: thread
// resolution, history, draft, decision, action. It runs on a context
// detached from Run's so an in-flight message survives shutdown, bounded
// by messageTimeout instead.
func (l *Loop) processMessage(ctx context.Context, in *mail.Inbound) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), messageTimeout)
	defer cancel()

	thread, err := l.resolveThread(ctx, in)
	if err != nil {
		return err
	}

	inbound := &models.Message{
		ThreadID:  thread.ID,
		MessageID: in.MessageID,
		Sender:    mail.NormalizeAddress(in.From),
		Recipient: l.sender.From(),
		Subject:   in.Subject,
		Body:      in.Body,
		SentAt:    in.SentAt,
		Direction: models.DirectionInbound,
	}
	if err := l.store.AppendMessage(ctx, inbound); err != nil {
		return err
	}

	history, err := l.store.GetThreadHistory(ctx, thread.ID, l.cfg.HistoryLimit)
	if err != nil {
		return err
	}

	draft, genErr := l.drafter.Draft(ctx, thread, history)
	decision := l.policy.Decide(thread, draft, genErr)

	switch decision.Action {
	case models.ActionAutoSend:
		return l.autoSend(ctx, thread, in, draft, decision)
	case models.ActionQueue:
		if _, err := l.store.QueueDraftForReview(ctx, draft, decision.Reason); err != nil {
			return err
		}
		log.Printf("monitor: queued draft for thread %s (%s)", thread.ID, decision.Reason)
		return nil
	case models.ActionEscalate:
		if err := l.store.RecordDecision(ctx, decision); err != nil {
			return err
		}
		log.Printf("monitor: escalated thread %s (%s)", thread.ID, decision.Reason)
		return nil
	default:
		return fmt.Errorf("unknown decision action %q", decision.Action)
	}
}

// resolveThread maps the inbound message to its thread, creating or reopening
// as needed. Referenced Message-IDs are checked against stored messages
// first, so a reply whose In-Reply-To points at one of our own outbound
// messages rejoins its thread even though the thread key never contained that
// ID. A message whose headers match nothing gets a fresh thread keyed by its
// own identity, never an arbitrary existing one.
func (l *Loop) resolveThread(ctx context.Context, in *mail.Inbound) (*models.Thread, error) {
	thread, err := l.resolveByReference(ctx, in)
	if err != nil {
		return nil, err
	}

	if thread == nil {
		key := mail.ThreadKey(in)
		if key == "" {
			key = "msg:" + uuid.NewString()
		}

		thread, err = l.store.ResolveOrCreateThread(ctx, key, mail.NormalizeAddress(in.From), in.Subject, models.ThreadSourceEmail)
		if err != nil {
			return nil, err
		}
	}

	if thread.Status == models.ThreadStatusClosed {
		if err := l.store.ReopenThread(ctx, thread.ID); err != nil {
			return nil, err
		}
		thread.Status = models.ThreadStatusActive
		log.Printf("monitor: reopened thread %s", thread.ID)
	}

	return thread, nil
}

// resolveByReference looks the message's reference chain up against stored
// Message-IDs, newest reference last. Returns (nil, nil) when nothing matches.
func (l *Loop) resolveByReference(ctx context.Context, in *mail.Inbound) (*models.Thread, error) {
	refs := make([]string, 0, len(in.References)+1)
	refs = append(refs, in.References...)
	if in.InReplyTo != "" {
		refs = append(refs, in.InReplyTo)
	}

	for _, ref := range refs {
		thread, err := l.store.FindThreadByMessageID(ctx, ref)
		if err != nil {
			return nil, err
		}
		if thread != nil {
			return thread, nil
		}
	}

	return nil, nil
}

// autoSend submits the reply over SMTP and records the outbound message with
// its decision. A failed submission downgrades to a queued draft so the reply
// is reviewed by a human rather than lost.
func (l *Loop) autoSend(ctx context.Context, thread *models.Thread, in *mail.Inbound, draft *models.Draft, decision *models.Decision) error {
	out := &mail.Outbound{
		To:         mail.NormalizeAddress(in.From),
		Subject:    mail.ReplySubject(in.Subject),
		Body:       draft.ProposedBody,
		MessageID:  mail.NewOutboundMessageID(l.sender.From()),
		InReplyTo:  in.MessageID,
		References: mail.ReplyReferences(in),
	}

	if err := l.sender.Send(ctx, out); err != nil {
		log.Printf("monitor: send failed for thread %s, queueing draft: %v", thread.ID, err)
		reason := fmt.Sprintf("%s; send failed: %v", decision.Reason, err)
		if _, queueErr := l.store.QueueDraftForReview(ctx, draft, reason); queueErr != nil {
			return fmt.Errorf("send failed (%v) and queueing fallback failed: %w", err, queueErr)
		}
		return nil
	}

	outbound := &models.Message{
		ThreadID:  thread.ID,
		MessageID: out.MessageID,
		Sender:    l.sender.From(),
		Recipient: out.To,
		Subject:   out.Subject,
		Body:      out.Body,
		SentAt:    time.Now(),
		Direction: models.DirectionOutbound,
	}
	if _, err := l.store.RecordAutoSend(ctx, outbound, decision.Reason); err != nil {
		return err
	}

	log.Printf("monitor: auto-sent reply on thread %s (%s)", thread.ID, decision.Reason)
	return nil
}
