// Package email implements the IMAP poll Source and the SMTP result
// Sink.
package email

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/google/uuid"

	"github.com/ccjk/daemon/internal/task"
)

// ErrAuth wraps an IMAP authentication failure so callers can distinguish
// it from a transient network/server error and disable email polling
// instead of retrying forever.
var ErrAuth = errors.New("imap: authentication failed")

// SubjectTag is the literal prefix that gates
// which inbound messages the daemon acts on.
const SubjectTag = "[CCJK] "

// Source polls an IMAP mailbox for UNSEEN, allowlisted, tagged messages and
// turns them into Tasks. It owns its IMAP connection exclusively and
// reconnects on any error rather than trying to recover a half-broken
// session; reconnecting each tick is acceptable given the typical 30s
// polling cadence.
type Source struct {
	host, addr, user, pass string
	allowedSenders         map[string]struct{}
	conn                   *client.Client
}

// NewSource builds a Source. allowedSenders is matched case-insensitively
// against the message From address, independent of the security policy's
// own allowlist check, which runs before the security policy is ever
// consulted, so a disallowed sender is dropped here without spawning a
// REJECTED task at all.
func NewSource(imapHost string, imapPort int, user, pass string, allowedSenders []string) *Source {
	set := make(map[string]struct{}, len(allowedSenders))
	for _, s := range allowedSenders {
		set[strings.ToLower(s)] = struct{}{}
	}
	return &Source{
		host:           imapHost,
		addr:           fmt.Sprintf("%s:%d", imapHost, imapPort),
		user:           user,
		pass:           pass,
		allowedSenders: set,
	}
}

// Close releases the cached IMAP connection, if any.
func (s *Source) Close() {
	if s.conn != nil {
		s.conn.Logout()
		s.conn = nil
	}
}

func (s *Source) connection() (*client.Client, error) {
	if s.conn != nil {
		if err := s.conn.Noop(); err == nil {
			return s.conn, nil
		}
		s.conn.Logout()
		s.conn = nil
	}

	c, err := client.DialTLS(s.addr, &tls.Config{ServerName: s.host})
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", s.addr, err)
	}
	if err := c.Authenticate(sasl.NewPlainClient("", s.user, s.pass)); err != nil {
		c.Logout()
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	s.conn = c
	return c, nil
}

// Poll runs one IMAP cycle: select INBOX, search UNSEEN, ingest each
// message that passes sender-allowlist and subject-tag checks, and flag it
// Seen only after the caller has successfully enqueued it, so a crash
// between fetch and enqueue re-delivers the message on the next poll
// instead of losing it.
//
// ingest is called once per qualifying message; returning a non-nil error
// from ingest means "do not flag Seen yet" (the message will be re-read on
// the next poll).
func (s *Source) Poll(ingest func(*task.Task) error) error {
	c, err := s.connection()
	if err != nil {
		return err
	}

	if _, err := c.Select("INBOX", false); err != nil {
		s.Close()
		return fmt.Errorf("select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.Search(criteria)
	if err != nil {
		return fmt.Errorf("search UNSEEN: %w", err)
	}
	if len(uids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	fetchErr := make(chan error, 1)
	go func() { fetchErr <- c.Fetch(seqset, items, messages) }()

	for msg := range messages {
		uid := msg.Uid
		raw := msg.GetBody(section)
		if raw == nil {
			s.markSeen(c, uid)
			continue
		}

		from := envelopeFrom(msg)
		subject := ""
		if msg.Envelope != nil {
			subject = msg.Envelope.Subject
		}

		if !s.senderAllowed(from) {
			slog.Info("dropping email: sender not allowlisted", "kind", "POLICY_REJECT", "reason", "UNKNOWN_SENDER", "from", from)
			s.markSeen(c, uid)
			continue
		}
		if !strings.HasPrefix(subject, SubjectTag) {
			slog.Debug("dropping email: subject missing tag", "subject", subject)
			s.markSeen(c, uid)
			continue
		}

		command, cwd, timeoutSec, err := parseBody(raw)
		if err != nil || command == "" {
			slog.Warn("dropping malformed email", "from", from, "error", err)
			s.markSeen(c, uid)
			continue
		}

		t := &task.Task{
			ID:         uuid.NewString(),
			Source:     task.SourceEmail,
			Command:    command,
			Cwd:        cwd,
			TimeoutSec: timeoutSec,
			Originator: from,
			ReceivedAt: time.Now(),
		}

		if err := ingest(t); err != nil {
			slog.Error("failed to enqueue email task, leaving unseen for retry", "error", err)
			continue
		}
		s.markSeen(c, uid)
	}

	if err := <-fetchErr; err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	return nil
}

func (s *Source) markSeen(c *client.Client, uid uint32) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		slog.Error("failed to flag message seen", "uid", uid, "error", err)
	}
}

func (s *Source) senderAllowed(from string) bool {
	_, ok := s.allowedSenders[strings.ToLower(from)]
	return ok
}

func envelopeFrom(msg *imap.Message) string {
	if msg.Envelope == nil || len(msg.Envelope.From) == 0 {
		return ""
	}
	addr := msg.Envelope.From[0]
	return fmt.Sprintf("%s@%s", addr.MailboxName, addr.HostName)
}

var directiveLine = regexp.MustCompile(`(?i)^(cwd|timeout):\s*(.+)$`)

// parseBody extracts the command (first non-blank line) and the optional
// cwd/timeout directives from the body, preferring text/plain and falling
// back to a stripped text/html part.
func parseBody(r io.Reader) (command, cwd string, timeoutSec int, err error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", "", 0, err
	}

	text, err := extractText(data)
	if err != nil || strings.TrimSpace(text) == "" {
		return "", "", 0, fmt.Errorf("no readable body: %w", err)
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if command == "" {
			command = trimmed
			continue
		}
		if m := directiveLine.FindStringSubmatch(trimmed); m != nil {
			switch strings.ToLower(m[1]) {
			case "cwd":
				cwd = strings.TrimSpace(m[2])
			case "timeout":
				if v, convErr := strconv.Atoi(strings.TrimSpace(m[2])); convErr == nil {
					timeoutSec = v
				}
			}
		}
	}
	return command, cwd, timeoutSec, nil
}

var htmlTag = regexp.MustCompile(`(?s)<[^>]*>`)

// extractText reads an RFC 5322 message and returns its plain-text body,
// preferring a text/plain part and falling back to text/html stripped of
// markup. data is passed as a byte slice rather than a Reader so the
// bare-body fallback below sees the whole message, not whatever
// mail.CreateReader left unconsumed after failing partway through.
func extractText(data []byte) (string, error) {
	mr, err := mail.CreateReader(bytes.NewReader(data))
	if err != nil {
		// The payload has no parseable RFC 5322 header block — treat the
		// whole payload as plain text, which covers bare bodies some MTAs
		// produce. Well-formed single-part messages parse fine above.
		return string(data), nil
	}
	defer mr.Close()

	var plain, html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			body, _ := io.ReadAll(part.Body)
			switch ct {
			case "text/plain":
				if plain == "" {
					plain = string(body)
				}
			case "text/html":
				if html == "" {
					html = string(body)
				}
			}
		}
	}

	if strings.TrimSpace(plain) != "" {
		return plain, nil
	}
	if strings.TrimSpace(html) != "" {
		return htmlTag.ReplaceAllString(html, ""), nil
	}
	return "", fmt.Errorf("no text/plain or text/html part found")
}
