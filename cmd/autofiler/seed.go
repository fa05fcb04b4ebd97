package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/emersion/go-mbox"
	"github.com/emersion/go-message/mail"
	"github.com/spf13/cobra"

	"github.com/pepperpark/autofiler/internal/client"
	"github.com/pepperpark/autofiler/internal/logging"
)

const (
	seedSource      = "source-maildir"
	seedDestination = "destination-maildir"
)

func newSeedCmd() *cobra.Command {
	var mboxPath string
	cmd := &cobra.Command{
		Use:   "seed <maildir-root>",
		Short: "Create source and destination test maildirs",
		Long: "Create the " + seedSource + " and " + seedDestination + " mailboxes under the given root.\n" +
			"The source mailbox receives one sample message, or every message of --mbox.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logging.WithContext(cmd.Context(), logging.New(cmd.ErrOrStderr(), slog.LevelInfo, logging.FormatText))
			n, err := seed(ctx, args[0], mboxPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "delivered %d message(s) to %s\n", n, seedSource)
			return nil
		},
	}
	cmd.Flags().StringVar(&mboxPath, "mbox", "", "Import the messages of this MBOX file into the source mailbox")
	return cmd
}

// seed creates the test mailboxes under root and returns the number of
// messages delivered to the source mailbox.
func seed(ctx context.Context, root, mboxPath string) (int, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return 0, err
	}
	md, err := client.OpenMaildir(root)
	if err != nil {
		return 0, err
	}
	for _, name := range []string{seedSource, seedDestination} {
		if err := md.CreateMailbox(ctx, name); err != nil {
			return 0, err
		}
	}
	if mboxPath == "" {
		raw, err := sampleMessage(time.Now())
		if err != nil {
			return 0, err
		}
		if _, err := md.Deliver(ctx, seedSource, raw); err != nil {
			return 0, err
		}
		return 1, nil
	}

	f, err := os.Open(mboxPath)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer f.Close()
	r := mbox.NewReader(f)
	n := 0
	for {
		mr, err := r.NextMessage()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("read mbox: %w", err)
		}
		raw, err := io.ReadAll(mr)
		if err != nil {
			return n, fmt.Errorf("read message %d: %w", n+1, err)
		}
		if _, err := md.Deliver(ctx, seedSource, raw); err != nil {
			return n, err
		}
		n++
	}
}

func sampleMessage(now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetSubject("test subject")
	h.SetAddressList("From", []*mail.Address{{Name: "Sample Sender", Address: "sender@example.com"}})
	h.SetAddressList("To", []*mail.Address{{Address: "pyatl-list@meetup.com"}})
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, "This is a test message.\r\n"); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
