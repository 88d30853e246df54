package mail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

// Outbound is a reply ready for SMTP submission. MessageID, when set, becomes
// the message's RFC 5322 Message-ID (without angle brackets); callers that
// persist outbound messages set it up front so the stored copy matches the
// wire copy and later In-Reply-To references can be resolved.
type Outbound struct {
	To         string
	Subject    string
	Body       string
	MessageID  string
	InReplyTo  string
	References []string
}

// NewOutboundMessageID mints a Message-ID scoped to the sender's domain.
func NewOutboundMessageID(from string) string {
	domain := from
	if at := strings.LastIndex(domain, "@"); at >= 0 {
		domain = domain[at+1:]
	}
	return fmt.Sprintf("%s@%s", uuid.NewString(), domain)
}

// Sender submits outbound mail over SMTP.
type Sender struct {
	host     string
	username string
	password string
	from     string
	useTLS   bool
}

// NewSender creates a Sender.
// useTLS: true for production (STARTTLS), false for plaintext test servers.
func NewSender(host, username, password, from string, useTLS bool) *Sender {
	return &Sender{
		host:     host,
		username: username,
		password: password,
		from:     from,
		useTLS:   useTLS,
	}
}

// From returns the configured sender address.
func (s *Sender) From() string {
	return s.from
}

// Send submits the message. On failure it returns a *TransportError and the
// Outbound is untouched, so the caller can retry or queue it for a human.
func (s *Sender) Send(ctx context.Context, out *Outbound) error {
	if out.To == "" {
		return &TransportError{Op: "send", Err: fmt.Errorf("missing recipient")}
	}

	if err := ctx.Err(); err != nil {
		return &TransportError{Op: "send", Err: err}
	}

	var c *smtp.Client
	var err error
	if s.useTLS {
		c, err = smtp.DialStartTLS(s.host, nil)
	} else {
		// Plaintext connection for test servers.
		c, err = smtp.Dial(s.host)
	}
	if err != nil {
		return &TransportError{Op: "send", Err: fmt.Errorf("failed to dial SMTP server: %w", err)}
	}
	defer func() { _ = c.Close() }()

	if s.username != "" {
		auth := sasl.NewPlainClient("", s.username, s.password)
		if err := c.Auth(auth); err != nil {
			return &TransportError{Op: "send", Err: fmt.Errorf("failed to authenticate: %w", err)}
		}
	}

	message := s.buildMessage(out)
	if err := c.SendMail(s.from, []string{out.To}, strings.NewReader(message)); err != nil {
		return &TransportError{Op: "send", Err: fmt.Errorf("failed to submit message: %w", err)}
	}

	return nil
}

// buildMessage renders the RFC 5322 wire form with CRLF line endings.
func (s *Sender) buildMessage(out *Outbound) string {
	var b strings.Builder

	messageID := out.MessageID
	if messageID == "" {
		messageID = NewOutboundMessageID(s.from)
	}

	writeHeader := func(name, value string) {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}

	writeHeader("From", s.from)
	writeHeader("To", out.To)
	writeHeader("Subject", out.Subject)
	writeHeader("Date", time.Now().Format(time.RFC1123Z))
	writeHeader("Message-Id", "<"+messageID+">")
	if out.InReplyTo != "" {
		writeHeader("In-Reply-To", "<"+out.InReplyTo+">")
	}
	if len(out.References) > 0 {
		refs := make([]string, 0, len(out.References))
		for _, ref := range out.References {
			refs = append(refs, "<"+ref+">")
		}
		writeHeader("References", strings.Join(refs, " "))
	}
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", "text/plain; charset=utf-8")
	b.WriteString("\r\n")
	// Normalize to bare newlines first so bodies that already carry CRLF do
	// not end up with doubled carriage returns.
	body := strings.ReplaceAll(out.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")

	return b.String()
}

// ReplySubject prefixes "Re: " unless the subject already carries a reply
// marker.
func ReplySubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if trimmed == "" {
		return "Re: your message"
	}
	if subjectPrefixPattern.MatchString(trimmed) {
		return trimmed
	}
	return "Re: " + trimmed
}

// ReplyReferences builds the References chain for a reply to the given
// inbound message.
func ReplyReferences(in *Inbound) []string {
	refs := append([]string{}, in.References...)
	if in.MessageID != "" {
		refs = append(refs, in.MessageID)
	}
	return refs
}
