package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"github.com/pepperpark/autofiler/internal/config"
	"github.com/pepperpark/autofiler/internal/imaputil"
	"github.com/pepperpark/autofiler/internal/logging"
	"github.com/pepperpark/autofiler/internal/message"
)

// IMAP is a Client backed by an IMAP session.
//
// Deleting a message only sets \Deleted; Expunge removes it. The set of
// mailbox names is listed once and then only appended to.
type IMAP struct {
	c        *imapclient.Client
	search   *imap.SearchCriteria
	selected string
	names    []string
	known    map[string]bool
}

// DialIMAP connects to the configured server and logs in.
func DialIMAP(ctx context.Context, s *config.Server, password string, opts Options) (*IMAP, error) {
	c, err := imaputil.DialAndLogin(ctx, imaputil.Params{
		Addr:              s.Addr(),
		Username:          s.Username,
		Password:          password,
		Security:          s.SecurityMode(),
		CAFile:            s.CAFile,
		SkipHostnameCheck: !s.VerifyHostname(),
		PlainAuth:         strings.EqualFold(s.Auth, "plain"),
		Timeout:           30 * time.Second,
		Debug:             opts.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", s.Addr(), err)
	}
	m, err := NewIMAP(c, s.Search)
	if err != nil {
		_ = c.Logout()
		return nil, err
	}
	return m, nil
}

// NewIMAP wraps an authenticated connection. search lists the keywords
// restricting which messages iterators return; empty means all.
func NewIMAP(c *imapclient.Client, search []string) (*IMAP, error) {
	criteria, err := imaputil.SearchCriteria(search)
	if err != nil {
		return nil, err
	}
	return &IMAP{c: c, search: criteria}, nil
}

func (m *IMAP) selectMailbox(name string) error {
	if m.selected == name {
		return nil
	}
	if _, err := m.c.Select(name, false); err != nil {
		return fmt.Errorf("select %s: %w", name, err)
	}
	m.selected = name
	return nil
}

func (m *IMAP) ListMailboxes(ctx context.Context) ([]string, error) {
	if m.known == nil {
		names, err := imaputil.ListMailboxes(ctx, m.c)
		if err != nil {
			return nil, fmt.Errorf("list mailboxes: %w", err)
		}
		m.known = make(map[string]bool, len(names))
		for _, n := range names {
			m.remember(n)
		}
	}
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out, nil
}

func (m *IMAP) remember(name string) {
	if !m.known[name] {
		m.known[name] = true
		m.names = append(m.names, name)
	}
}

func (m *IMAP) CreateMailbox(ctx context.Context, name string) error {
	if _, err := m.ListMailboxes(ctx); err != nil {
		return err
	}
	logging.FromContext(ctx).Info("creating mailbox", "mailbox", name)
	if err := imaputil.EnsureMailbox(m.c, name); err != nil {
		return err
	}
	m.remember(name)
	return nil
}

func (m *IMAP) Iterator(_ context.Context, mailbox string) (Iterator, error) {
	it := &imapIterator{m: m, mailbox: mailbox}
	it.fetch = it.fetchHeader
	return it, nil
}

func (m *IMAP) uidSet(id MessageID) (*imap.SeqSet, error) {
	uid, err := strconv.ParseUint(string(id), 10, 32)
	if err != nil || uid == 0 {
		return nil, fmt.Errorf("invalid message uid %q", id)
	}
	seq := new(imap.SeqSet)
	seq.AddNum(uint32(uid))
	return seq, nil
}

func (m *IMAP) CopyMessage(ctx context.Context, src, dest string, id MessageID, _ *message.Message) error {
	if _, err := m.ListMailboxes(ctx); err != nil {
		return err
	}
	if !m.known[dest] {
		if err := m.CreateMailbox(ctx, dest); err != nil {
			return err
		}
	}
	seq, err := m.uidSet(id)
	if err != nil {
		return err
	}
	if err := m.selectMailbox(src); err != nil {
		return err
	}
	if err := m.c.UidCopy(seq, dest); err != nil {
		return fmt.Errorf("copy %s to %s: %w", id, dest, err)
	}
	return nil
}

func (m *IMAP) MoveMessage(ctx context.Context, src, dest string, id MessageID, msg *message.Message) error {
	return Move(ctx, m, src, dest, id, msg)
}

func (m *IMAP) store(src string, id MessageID, op imap.FlagsOp, flag string) error {
	seq, err := m.uidSet(id)
	if err != nil {
		return err
	}
	if err := m.selectMailbox(src); err != nil {
		return err
	}
	item := imap.FormatFlagsOp(op, true)
	if err := m.c.UidStore(seq, item, []interface{}{flag}, nil); err != nil {
		return fmt.Errorf("store %s %s: %w", flag, id, err)
	}
	return nil
}

func flagsOp(set bool) imap.FlagsOp {
	if set {
		return imap.AddFlags
	}
	return imap.RemoveFlags
}

func (m *IMAP) DeleteMessage(_ context.Context, src string, id MessageID, _ *message.Message) error {
	return m.store(src, id, imap.AddFlags, imap.DeletedFlag)
}

func (m *IMAP) SetFlagged(_ context.Context, src string, id MessageID, _ *message.Message, flagged bool) error {
	return m.store(src, id, flagsOp(flagged), imap.FlaggedFlag)
}

func (m *IMAP) SetRead(_ context.Context, src string, id MessageID, _ *message.Message, read bool) error {
	return m.store(src, id, flagsOp(read), imap.SeenFlag)
}

// Expunge removes the messages flagged \Deleted from the selected mailbox.
func (m *IMAP) Expunge(context.Context) error {
	if m.selected == "" {
		return nil
	}
	if err := m.c.Expunge(nil); err != nil {
		return fmt.Errorf("expunge %s: %w", m.selected, err)
	}
	return nil
}

// Close closes the selected mailbox and logs out. Failing to close the
// mailbox does not prevent the logout.
func (m *IMAP) Close() error {
	if m.selected != "" {
		_ = m.c.Close()
		m.selected = ""
	}
	if err := m.c.Logout(); err != nil && !errors.Is(err, imapclient.ErrAlreadyLoggedOut) {
		return err
	}
	return nil
}

// imapIterator searches on first use and keeps the UID list for later
// walks. Headers are fetched one message at a time without setting \Seen.
// A message whose header cannot be parsed is logged and skipped.
type imapIterator struct {
	m       *IMAP
	mailbox string
	uids    []uint32
	loaded  bool
	fetch   func(uid uint32) ([]byte, error)
}

func (it *imapIterator) load() error {
	if it.loaded {
		return nil
	}
	if err := it.m.selectMailbox(it.mailbox); err != nil {
		return err
	}
	uids, err := imaputil.SearchUIDs(it.m.c, it.m.search)
	if err != nil {
		return fmt.Errorf("%s: %w", it.mailbox, err)
	}
	it.uids = uids
	it.loaded = true
	return nil
}

func (it *imapIterator) Len(context.Context) (int, error) {
	if err := it.load(); err != nil {
		return 0, err
	}
	return len(it.uids), nil
}

func (it *imapIterator) Walk(ctx context.Context, fn func(MessageID, *message.Message) error) error {
	if err := it.load(); err != nil {
		return err
	}
	for _, uid := range it.uids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := it.m.selectMailbox(it.mailbox); err != nil {
			return err
		}
		raw, err := it.fetch(uid)
		if err != nil {
			return err
		}
		if raw == nil {
			logging.FromContext(ctx).Debug("message vanished", "mailbox", it.mailbox, "id", uid)
			continue
		}
		msg, err := message.Parse(raw)
		if err != nil {
			logging.FromContext(ctx).Warn("skipping unreadable message", "mailbox", it.mailbox, "id", uid, "error", err)
			continue
		}
		if err := fn(MessageID(strconv.FormatUint(uint64(uid), 10)), msg); err != nil {
			return err
		}
	}
	return nil
}

func (it *imapIterator) fetchHeader(uid uint32) ([]byte, error) {
	seq := new(imap.SeqSet)
	seq.AddNum(uid)
	section := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{
			Specifier: imap.HeaderSpecifier,
		},
		Peek: true,
	}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}
	ch := make(chan *imap.Message, 4)
	done := make(chan error, 1)
	go func() {
		done <- it.m.c.UidFetch(seq, items, ch)
	}()
	var raw []byte
	var readErr error
	for msg := range ch {
		// skip untagged updates that only carry flags
		if msg == nil || msg.Uid != uid || len(msg.Body) == 0 {
			continue
		}
		if lit := msg.GetBody(section); lit != nil && readErr == nil {
			raw, readErr = io.ReadAll(lit)
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch message %d: %w", uid, err)
	}
	if readErr != nil {
		return nil, fmt.Errorf("read message %d: %w", uid, readErr)
	}
	return raw, nil
}

var _ Client = (*IMAP)(nil)
