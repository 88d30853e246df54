package mail

import (
	"bytes"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
)

// Inbound is a parsed inbound email, reduced to what threading and drafting
// need.
type Inbound struct {
	UID        uint32
	MessageID  string
	InReplyTo  string
	References []string
	From       string
	To         string
	Subject    string
	Body       string
	SentAt     time.Time
}

// ParseInbound parses a raw RFC 5322 message into an Inbound.
// Returns a *ValidationError for messages that cannot be used (no sender,
// no readable body); callers log and skip those.
func ParseInbound(uid uint32, raw []byte) (*Inbound, error) {
	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, &ValidationError{UID: uid, Reason: "unparseable MIME: " + err.Error()}
	}

	in := &Inbound{
		UID:        uid,
		MessageID:  trimMessageID(envelope.GetHeader("Message-Id")),
		InReplyTo:  trimMessageID(envelope.GetHeader("In-Reply-To")),
		References: parseReferences(envelope.GetHeader("References")),
		From:       strings.TrimSpace(envelope.GetHeader("From")),
		To:         strings.TrimSpace(envelope.GetHeader("To")),
		Subject:    envelope.GetHeader("Subject"),
	}

	if in.From == "" {
		return nil, &ValidationError{UID: uid, Reason: "missing From header"}
	}

	if date := envelope.GetHeader("Date"); date != "" {
		if parsed, err := parseDate(date); err == nil {
			in.SentAt = parsed
		}
	}
	if in.SentAt.IsZero() {
		in.SentAt = time.Now()
	}

	in.Body = strings.TrimSpace(envelope.Text)
	if in.Body == "" {
		// Some senders only provide HTML. Better a raw HTML body in the AI
		// context than nothing at all.
		in.Body = strings.TrimSpace(envelope.HTML)
	}
	if in.Body == "" {
		return nil, &ValidationError{UID: uid, Reason: "empty body"}
	}

	return in, nil
}

func parseDate(value string) (time.Time, error) {
	layouts := []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"2 Jan 2006 15:04:05 -0700",
	}

	var lastErr error
	for _, layout := range layouts {
		parsed, err := time.Parse(layout, strings.TrimSpace(value))
		if err == nil {
			return parsed, nil
		}
		lastErr = err
	}

	return time.Time{}, lastErr
}

// trimMessageID strips the surrounding angle brackets from a Message-ID.
func trimMessageID(value string) string {
	s := strings.TrimSpace(value)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	return strings.TrimSpace(s)
}

// parseReferences splits a References header into individual message IDs,
// oldest first.
func parseReferences(value string) []string {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return nil
	}

	refs := make([]string, 0, len(fields))
	for _, field := range fields {
		if id := trimMessageID(field); id != "" {
			refs = append(refs, id)
		}
	}
	return refs
}
