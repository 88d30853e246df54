package mail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mwelliot/tcmail/internal/db"
)

// Fetcher polls one IMAP mailbox for messages newer than the persisted
// cursor. Each FetchNew call advances the cursor past everything it returned,
// so a poll against an unchanged mailbox yields nothing and a restarted
// worker resumes where the previous one stopped.
type Fetcher struct {
	pool     *pgxpool.Pool
	host     string
	username string
	password string
	mailbox  string
	useTLS   bool
}

// NewFetcher creates a Fetcher for the given mailbox.
// useTLS: true for production, false for plaintext test servers.
func NewFetcher(pool *pgxpool.Pool, host, username, password, mailbox string, useTLS bool) *Fetcher {
	return &Fetcher{
		pool:     pool,
		host:     host,
		username: username,
		password: password,
		mailbox:  mailbox,
		useTLS:   useTLS,
	}
}

// FetchNew returns inbound messages with UIDs above the stored cursor and
// advances the cursor. Transport failures come back as *TransportError so the
// caller can back off and retry; unparseable messages are logged, skipped,
// and still advance the cursor (a malformed message will not parse better on
// the next poll).
func (f *Fetcher) FetchNew(ctx context.Context) ([]*Inbound, error) {
	cursor, err := db.GetMailboxCursor(ctx, f.pool, f.mailbox)
	if err != nil {
		return nil, err
	}

	c, err := f.connect()
	if err != nil {
		return nil, &TransportError{Op: "fetch", Err: err}
	}
	defer func() { _ = c.Logout() }()

	mbox, err := c.Select(f.mailbox, true)
	if err != nil {
		return nil, &TransportError{Op: "fetch", Err: fmt.Errorf("failed to select mailbox %s: %w", f.mailbox, err)}
	}

	lastSeen := cursor.LastSeenUID
	if cursor.UIDValidity != 0 && cursor.UIDValidity != int64(mbox.UidValidity) {
		// The server renumbered its UIDs; the stored cursor no longer refers
		// to anything. Start over from the beginning of the mailbox.
		log.Printf("mail: UIDVALIDITY changed for %s (%d -> %d), resetting cursor", f.mailbox, cursor.UIDValidity, mbox.UidValidity)
		lastSeen = 0
	}

	uids, err := f.searchNewUIDs(c, uint32(lastSeen))
	if err != nil {
		return nil, &TransportError{Op: "fetch", Err: err}
	}

	if len(uids) == 0 {
		if cursor.UIDValidity != int64(mbox.UidValidity) {
			if err := db.SetMailboxCursor(ctx, f.pool, f.mailbox, int64(mbox.UidValidity), lastSeen); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	rawMessages, err := f.fetchRawMessages(c, uids)
	if err != nil {
		return nil, &TransportError{Op: "fetch", Err: err}
	}

	inbounds := make([]*Inbound, 0, len(rawMessages))
	maxUID := lastSeen
	for _, raw := range rawMessages {
		if int64(raw.uid) > maxUID {
			maxUID = int64(raw.uid)
		}

		in, err := ParseInbound(raw.uid, raw.body)
		if err != nil {
			var validationErr *ValidationError
			if errors.As(err, &validationErr) {
				log.Printf("mail: skipping %v", validationErr)
				continue
			}
			return nil, err
		}

		inbounds = append(inbounds, in)
	}

	if err := db.SetMailboxCursor(ctx, f.pool, f.mailbox, int64(mbox.UidValidity), maxUID); err != nil {
		return nil, err
	}

	return inbounds, nil
}

// connect dials the IMAP server with a timeout and authenticates.
func (f *Fetcher) connect() (*client.Client, error) {
	dialer := &net.Dialer{Timeout: 5 * time.Second}

	var c *client.Client
	var err error
	if f.useTLS {
		c, err = client.DialWithDialerTLS(dialer, f.host, nil)
	} else {
		c, err = client.DialWithDialer(dialer, f.host)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial IMAP server: %w", err)
	}

	if err := c.Login(f.username, f.password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	return c, nil
}

// searchNewUIDs returns all UIDs strictly above lastSeen.
func (f *Fetcher) searchNewUIDs(c *client.Client, lastSeen uint32) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	seqSet := new(imap.SeqSet)
	// 0 as the range end means "*" in go-imap.
	seqSet.AddRange(lastSeen+1, 0)
	criteria.Uid = seqSet

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search for new messages: %w", err)
	}

	// The server may return UIDs at or below lastSeen for the degenerate
	// range (e.g. an empty mailbox answering "N:*" with its highest UID).
	filtered := uids[:0]
	for _, uid := range uids {
		if uid > lastSeen {
			filtered = append(filtered, uid)
		}
	}

	return filtered, nil
}

type rawMessage struct {
	uid  uint32
	body []byte
}

// fetchRawMessages fetches the full bodies for the given UIDs without
// setting the \Seen flag; the persisted cursor is what makes polling
// idempotent, not server-side flags.
func (f *Fetcher) fetchRawMessages(c *client.Client, uids []uint32) ([]*rawMessage, error) {
	seqSet := new(imap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var result []*rawMessage
	for msg := range messages {
		bodyReader := msg.GetBody(section)
		if bodyReader == nil {
			log.Printf("mail: server returned no body for UID %d", msg.Uid)
			continue
		}

		body, err := io.ReadAll(bodyReader)
		if err != nil {
			return nil, fmt.Errorf("failed to read message body for UID %d: %w", msg.Uid, err)
		}

		result = append(result, &rawMessage{uid: msg.Uid, body: body})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return result, nil
}
