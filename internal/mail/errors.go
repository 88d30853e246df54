package mail

import "fmt"

// TransportError wraps a transient IMAP/SMTP failure (connection drop, auth
// error, refused submission). Callers retry with backoff or escalate; the
// outbound payload stays with the caller so nothing is lost on a failed send.
type TransportError struct {
	Op  string // "fetch" or "send"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mail %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ValidationError marks an inbound message that could not be parsed into a
// usable form. These are logged and skipped; they never abort a poll cycle.
type ValidationError struct {
	UID    uint32
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid message uid %d: %s", e.UID, e.Reason)
}
