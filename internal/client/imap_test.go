package client

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepperpark/autofiler/internal/config"
	"github.com/pepperpark/autofiler/internal/imaputil"
	"github.com/pepperpark/autofiler/internal/message"
)

func startIMAP(t *testing.T) (host string, port int) {
	t.Helper()
	s := server.New(memory.New())
	s.AllowInsecureAuth = true
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(l)
	t.Cleanup(func() { s.Close() })
	h, p, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	port, err = strconv.Atoi(p)
	require.NoError(t, err)
	return h, port
}

func dialTest(t *testing.T, search ...string) (*IMAP, *imapclient.Client) {
	t.Helper()
	host, port := startIMAP(t)
	srv := &config.Server{
		Hostname: host,
		Port:     port,
		Username: "username",
		Security: "none",
		Search:   search,
	}
	m, err := DialIMAP(context.Background(), srv, "password", Options{})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	// second session used to inspect and seed the server
	raw, err := imaputil.DialAndLogin(context.Background(), imaputil.Params{
		Addr:     srv.Addr(),
		Username: "username",
		Password: "password",
		Security: imaputil.SecurityNone,
	})
	require.NoError(t, err)
	t.Cleanup(func() { raw.Logout() })
	return m, raw
}

func appendMessage(t *testing.T, c *imapclient.Client, mailbox, subject string, flags ...string) {
	t.Helper()
	body := "From: sender@example.com\r\nTo: recipient1@example.com\r\nSubject: " + subject + "\r\n\r\nbody\r\n"
	require.NoError(t, c.Append(mailbox, flags, time.Now(), bytes.NewBufferString(body)))
}

func count(t *testing.T, c *imapclient.Client, mailbox string, criteria *imap.SearchCriteria) int {
	t.Helper()
	_, err := c.Select(mailbox, true)
	require.NoError(t, err)
	uids, err := c.UidSearch(criteria)
	require.NoError(t, err)
	return len(uids)
}

func TestIMAPListMailboxes(t *testing.T) {
	m, _ := dialTest(t)
	ctx := context.Background()
	names, err := m.ListMailboxes(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "INBOX")

	require.NoError(t, m.CreateMailbox(ctx, "Archive"))
	names, err = m.ListMailboxes(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "Archive")
}

func TestIMAPIteratorLazyAndCached(t *testing.T) {
	m, raw := dialTest(t)
	ctx := context.Background()

	it, err := m.Iterator(ctx, "INBOX")
	require.NoError(t, err)
	appendMessage(t, raw, "INBOX", "appended after the iterator was made")

	n, err := it.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	appendMessage(t, raw, "INBOX", "appended after the first search")
	n, err = it.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var subjects []string
	for i := 0; i < 2; i++ {
		subjects = subjects[:0]
		require.NoError(t, it.Walk(ctx, func(_ MessageID, msg *message.Message) error {
			subjects = append(subjects, msg.Subject())
			return nil
		}))
		assert.Equal(t, []string{"A little message, just for you", "appended after the iterator was made"}, subjects)
	}
}

func TestIMAPIteratorSkipsUnparsable(t *testing.T) {
	m, raw := dialTest(t)
	ctx := context.Background()
	appendMessage(t, raw, "INBOX", "still readable")

	it, err := m.Iterator(ctx, "INBOX")
	require.NoError(t, err)
	ii := it.(*imapIterator)
	fetch := ii.fetch
	var calls int
	ii.fetch = func(uid uint32) ([]byte, error) {
		calls++
		if calls == 1 {
			return []byte("From: a@example.com\r\nthis line has no colon\r\nSubject: bad\r\n\r\n"), nil
		}
		return fetch(uid)
	}

	var subjects []string
	require.NoError(t, it.Walk(ctx, func(_ MessageID, msg *message.Message) error {
		subjects = append(subjects, msg.Subject())
		return nil
	}))
	assert.Equal(t, []string{"still readable"}, subjects)
}

func TestIMAPMoveAndExpunge(t *testing.T) {
	m, raw := dialTest(t)
	ctx := context.Background()
	appendMessage(t, raw, "INBOX", "move me")

	it, err := m.Iterator(ctx, "INBOX")
	require.NoError(t, err)
	var target MessageID
	var targetMsg *message.Message
	require.NoError(t, it.Walk(ctx, func(id MessageID, msg *message.Message) error {
		if msg.Subject() == "move me" {
			target, targetMsg = id, msg
		}
		return nil
	}))
	require.NotEmpty(t, target)

	require.NoError(t, m.MoveMessage(ctx, "INBOX", "Archive", target, targetMsg))
	deleted := imap.NewSearchCriteria()
	deleted.WithFlags = []string{imap.DeletedFlag}
	assert.Equal(t, 1, count(t, raw, "INBOX", deleted))

	require.NoError(t, m.Expunge(ctx))
	assert.Equal(t, 0, count(t, raw, "INBOX", deleted))
	assert.Equal(t, 1, count(t, raw, "INBOX", imap.NewSearchCriteria()))
	assert.Equal(t, 1, count(t, raw, "Archive", imap.NewSearchCriteria()))
}

func TestIMAPFlagsAndPeek(t *testing.T) {
	m, raw := dialTest(t, "unseen")
	ctx := context.Background()
	_, err := raw.Select("INBOX", false)
	require.NoError(t, err)
	all := new(imap.SeqSet)
	all.AddRange(1, 0)
	require.NoError(t, raw.Store(all, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.SeenFlag}, nil))
	appendMessage(t, raw, "INBOX", "unread")

	it, err := m.Iterator(ctx, "INBOX")
	require.NoError(t, err)
	var ids []MessageID
	require.NoError(t, it.Walk(ctx, func(id MessageID, _ *message.Message) error {
		ids = append(ids, id)
		return nil
	}))
	require.Len(t, ids, 1)

	unseen := imap.NewSearchCriteria()
	unseen.WithoutFlags = []string{imap.SeenFlag}
	assert.Equal(t, 1, count(t, raw, "INBOX", unseen))

	require.NoError(t, m.SetFlagged(ctx, "INBOX", ids[0], nil, true))
	require.NoError(t, m.SetRead(ctx, "INBOX", ids[0], nil, true))
	flagged := imap.NewSearchCriteria()
	flagged.WithFlags = []string{imap.FlaggedFlag, imap.SeenFlag}
	assert.Equal(t, 1, count(t, raw, "INBOX", flagged))
	assert.Equal(t, 0, count(t, raw, "INBOX", unseen))

	require.NoError(t, m.SetRead(ctx, "INBOX", ids[0], nil, false))
	assert.Equal(t, 1, count(t, raw, "INBOX", unseen))
}

func TestIMAPDeleteBadID(t *testing.T) {
	m, _ := dialTest(t)
	assert.Error(t, m.DeleteMessage(context.Background(), "INBOX", "not-a-uid", nil))
}

func TestIMAPClose(t *testing.T) {
	m, _ := dialTest(t)
	_, err := m.Iterator(context.Background(), "INBOX")
	require.NoError(t, err)
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}

func TestIMAPBadSearch(t *testing.T) {
	host, port := startIMAP(t)
	_, err := DialIMAP(context.Background(), &config.Server{
		Hostname: host,
		Port:     port,
		Username: "username",
		Security: "none",
		Search:   []string{"sometimes"},
	}, "password", Options{})
	assert.Error(t, err)
}
