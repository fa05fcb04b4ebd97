package actions

import (
	"context"
	"fmt"

	"github.com/pepperpark/autofiler/internal/client"
	"github.com/pepperpark/autofiler/internal/config"
	"github.com/pepperpark/autofiler/internal/message"
)

// Delete removes the message without moving it anywhere.
type Delete struct{}

func newDelete(config.Description, *config.Config) (Action, error) { return Delete{}, nil }

func (Delete) Name() string { return NameDelete }

func (Delete) Report(_ context.Context, _ client.Client, _ string, _ client.MessageID, msg *message.Message) (string, error) {
	return fmt.Sprintf("delete %q", msg.Subject()), nil
}

func (a Delete) Invoke(ctx context.Context, c client.Client, mailbox string, id client.MessageID, msg *message.Message) error {
	logger(ctx, a).Info("deleting message", "id", id, "subject", msg.Subject())
	return c.DeleteMessage(ctx, mailbox, id, msg)
}

// SetFlag sets or clears a boolean message state.
type SetFlag struct {
	name  string
	value bool
	set   func(c client.Client, ctx context.Context, mailbox string, id client.MessageID, msg *message.Message, v bool) error
}

func flagSetter(name string, value bool) Factory {
	return func(config.Description, *config.Config) (Action, error) {
		return &SetFlag{name: name, value: value, set: client.Client.SetFlagged}, nil
	}
}

func readSetter(name string, value bool) Factory {
	return func(config.Description, *config.Config) (Action, error) {
		return &SetFlag{name: name, value: value, set: client.Client.SetRead}, nil
	}
}

func (a *SetFlag) Name() string { return a.name }

func (a *SetFlag) Report(_ context.Context, _ client.Client, _ string, _ client.MessageID, msg *message.Message) (string, error) {
	return fmt.Sprintf("%s %q", a.name, msg.Subject()), nil
}

func (a *SetFlag) Invoke(ctx context.Context, c client.Client, mailbox string, id client.MessageID, msg *message.Message) error {
	logger(ctx, a).Info("updating message", "id", id, "subject", msg.Subject())
	return a.set(c, ctx, mailbox, id, msg, a.value)
}
