package models

import "time"

// ThreadStatus describes the lifecycle state of a conversation thread.
type ThreadStatus string

const (
	// ThreadStatusActive means the coordinator may auto-send replies on this thread.
	ThreadStatusActive ThreadStatus = "active"
	// ThreadStatusAwaitingReview means a drafted reply is queued for a human.
	ThreadStatusAwaitingReview ThreadStatus = "awaiting_review"
	// ThreadStatusClosed means the thread was closed (e.g. by inactivity).
	// New inbound mail reopens it.
	ThreadStatusClosed ThreadStatus = "closed"
)

// ThreadSource describes which channel a thread originated from.
type ThreadSource string

const (
	ThreadSourceEmail ThreadSource = "email"
	ThreadSourceChat  ThreadSource = "chat"
)

// MessageDirection marks whether a message came in or went out.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// Thread is one ongoing conversation with a single participant.
// The ThreadKey is the stable matching key (root Message-ID, or normalized
// subject plus participant address for email; session ID for chat).
type Thread struct {
	ID                 string       `json:"id"`
	ThreadKey          string       `json:"thread_key"`
	ParticipantAddress string       `json:"participant_address"`
	Subject            string       `json:"subject"`
	Source             ThreadSource `json:"source"`
	Status             ThreadStatus `json:"status"`
	CreatedAt          time.Time    `json:"created_at"`
	LastActivityAt     time.Time    `json:"last_activity_at"`
	Messages           []*Message   `json:"messages,omitempty"`
}

// Message is a single immutable entry in a thread.
// Seq is a database-assigned arrival-order tie-break for equal SentAt values.
// MessageID is the RFC 5322 Message-ID without angle brackets; it is empty
// for chat messages.
type Message struct {
	ID        string           `json:"id"`
	ThreadID  string           `json:"thread_id"`
	Seq       int64            `json:"seq"`
	MessageID string           `json:"message_id,omitempty"`
	Sender    string           `json:"sender"`
	Recipient string           `json:"recipient"`
	Subject   string           `json:"subject"`
	Body      string           `json:"body"`
	SentAt    time.Time        `json:"sent_at"`
	Direction MessageDirection `json:"direction"`
}

// DraftStatus describes what happened to a queued draft.
type DraftStatus string

const (
	DraftStatusPending   DraftStatus = "pending"
	DraftStatusSent      DraftStatus = "sent"
	DraftStatusDiscarded DraftStatus = "discarded"
)

// Draft is an AI-proposed reply. Confidence is the model's self-reported
// estimate in [0,1]; nil means the model did not supply a usable score,
// which is distinct from a low score.
type Draft struct {
	ID           string      `json:"id"`
	ThreadID     string      `json:"thread_id"`
	ProposedBody string      `json:"proposed_body"`
	Confidence   *float64    `json:"confidence"`
	GeneratedAt  time.Time   `json:"generated_at"`
	Status       DraftStatus `json:"status"`
}

// DecisionAction is the outcome of applying the decision policy to a draft.
type DecisionAction string

const (
	ActionAutoSend DecisionAction = "auto_send"
	ActionQueue    DecisionAction = "queue"
	ActionEscalate DecisionAction = "escalate"
	// ActionApprove and ActionDiscard record a human resolving a queued
	// draft, mirroring the automatic actions in the same audit trail.
	ActionApprove DecisionAction = "approve"
	ActionDiscard DecisionAction = "discard"
)

// Decision is the audit record for one policy evaluation. MessageID points at
// the outbound message for auto_send decisions and is nil otherwise.
type Decision struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"thread_id"`
	MessageID *string        `json:"message_id"`
	Action    DecisionAction `json:"action"`
	Reason    string         `json:"reason"`
	DecidedAt time.Time      `json:"decided_at"`
}
