// Package client provides a uniform interface over the mailbox stores the
// autofiler can operate on: a remote IMAP server and a local Maildir tree.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pepperpark/autofiler/internal/config"
	"github.com/pepperpark/autofiler/internal/message"
)

var (
	// ErrNoBackend is returned by Open when the configuration names neither
	// a server nor a maildir.
	ErrNoBackend = errors.New("could not find connection information in config")
	// ErrMailboxNotFound is returned when an operation refers to a mailbox
	// the store does not have.
	ErrMailboxNotFound = errors.New("mailbox not found")
)

// MessageID identifies a message within one mailbox. It is a UID for IMAP
// and the maildir key for Maildir.
type MessageID string

// Client is a session with one mailbox store.
type Client interface {
	ListMailboxes(ctx context.Context) ([]string, error)
	Iterator(ctx context.Context, mailbox string) (Iterator, error)
	CreateMailbox(ctx context.Context, name string) error
	CopyMessage(ctx context.Context, src, dest string, id MessageID, msg *message.Message) error
	MoveMessage(ctx context.Context, src, dest string, id MessageID, msg *message.Message) error
	DeleteMessage(ctx context.Context, src string, id MessageID, msg *message.Message) error
	SetFlagged(ctx context.Context, src string, id MessageID, msg *message.Message, flagged bool) error
	SetRead(ctx context.Context, src string, id MessageID, msg *message.Message, read bool) error
	// Expunge makes pending deletions permanent.
	Expunge(ctx context.Context) error
	Close() error
}

// Iterator walks the messages of one mailbox. An iterator can be walked
// more than once.
type Iterator interface {
	Len(ctx context.Context) (int, error)
	// Walk calls fn for every message. A non-nil error from fn stops the
	// walk and is returned.
	Walk(ctx context.Context, fn func(id MessageID, msg *message.Message) error) error
}

// Move copies the message to dest and then deletes it from src. The two
// steps are not atomic.
func Move(ctx context.Context, c Client, src, dest string, id MessageID, msg *message.Message) error {
	if err := c.CopyMessage(ctx, src, dest, id, msg); err != nil {
		return err
	}
	if err := c.DeleteMessage(ctx, src, id, msg); err != nil {
		return fmt.Errorf("delete after copy to %s: %w", dest, err)
	}
	return nil
}

// Options tune how Open connects.
type Options struct {
	// Debug receives the IMAP wire trace when set.
	Debug io.Writer
}

// Open connects to the store named by cfg. IMAP is used when a server is
// configured, otherwise the maildir root.
func Open(ctx context.Context, cfg *config.Config, password string, opts Options) (Client, error) {
	switch {
	case cfg.Server != nil:
		c, err := DialIMAP(ctx, cfg.Server, password, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	case cfg.Maildir != "":
		c, err := OpenMaildir(cfg.Maildir)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, ErrNoBackend
	}
}
