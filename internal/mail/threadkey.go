package mail

import (
	"regexp"
	"strings"
)

// Thread matching is a pure function of message headers so it can be tested
// against crafted inputs without a live mailbox.
//
// Preference order:
//  1. The root Message-ID of the reply chain (first References entry, then
//     In-Reply-To). Mail clients propagate these, so replies land on the
//     thread their chain started.
//  2. Normalized subject plus normalized sender address. Covers clients that
//     strip threading headers.
//  3. The message's own Message-ID. A message with no chain and no usable
//     subject starts its own thread; guessing here risks merging unrelated
//     conversations.
//
// An empty return means the caller should mint a fresh key: ambiguity always
// creates a new thread rather than cross-talk.

var subjectPrefixPattern = regexp.MustCompile(`(?i)^(re|fwd?|aw|sv)\s*(\[\d+\])?\s*:\s*`)

// ThreadKey derives the stable conversation key for an inbound email.
func ThreadKey(in *Inbound) string {
	if len(in.References) > 0 {
		if root := strings.TrimSpace(in.References[0]); root != "" {
			return "mid:" + root
		}
	}

	if reply := strings.TrimSpace(in.InReplyTo); reply != "" {
		return "mid:" + reply
	}

	subject := NormalizeSubject(in.Subject)
	sender := NormalizeAddress(in.From)
	if subject != "" && sender != "" {
		return "subj:" + sender + "|" + subject
	}

	if mid := strings.TrimSpace(in.MessageID); mid != "" {
		return "mid:" + mid
	}

	return ""
}

// NormalizeSubject strips reply/forward prefixes, collapses whitespace, and
// lowercases, so "RE: Re: Closing Friday" and "closing friday" match.
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)

	for {
		stripped := subjectPrefixPattern.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}

	s = strings.Join(strings.Fields(s), " ")
	return strings.ToLower(s)
}

// NormalizeAddress extracts the bare address from forms like
// "Jordan Avery <jordan@example.com>" and lowercases it.
func NormalizeAddress(address string) string {
	s := strings.TrimSpace(address)

	if start := strings.LastIndex(s, "<"); start >= 0 {
		if end := strings.Index(s[start:], ">"); end > 0 {
			s = s[start+1 : start+end]
		}
	}

	return strings.ToLower(strings.TrimSpace(s))
}
