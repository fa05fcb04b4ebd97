// Package actions implements the side effects a matching rule can trigger.
//
// An action is described by a mapping with a name and variant specific
// fields, for example:
//
//	action:
//	  name: sort-mailing-list
//	  dest-mailbox-base: lists.
//
// Actions are built when a rule matches, so a broken action description
// only affects the messages that reach it.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/pepperpark/autofiler/internal/client"
	"github.com/pepperpark/autofiler/internal/config"
	"github.com/pepperpark/autofiler/internal/logging"
	"github.com/pepperpark/autofiler/internal/message"
)

var (
	// ErrInvalidAction wraps every action construction error.
	ErrInvalidAction = errors.New("invalid action")
	// ErrUnknownAction is returned by New for names not in the registry.
	ErrUnknownAction = fmt.Errorf("%w: unrecognized action", ErrInvalidAction)
)

// Action is one side effect applied to a message.
type Action interface {
	Name() string
	// Report describes what Invoke would do without touching the store.
	Report(ctx context.Context, c client.Client, mailbox string, id client.MessageID, msg *message.Message) (string, error)
	Invoke(ctx context.Context, c client.Client, mailbox string, id client.MessageID, msg *message.Message) error
}

// Factory builds an action from its description and the configuration.
type Factory func(desc config.Description, cfg *config.Config) (Action, error)

// Action names.
const (
	NameMove            = "move"
	NameSort            = "sort"
	NameSortMailingList = "sort-mailing-list"
	NameSortByYear      = "sort-by-year"
	NameTrash           = "trash"
	NameDelete          = "delete"
	NameFlag            = "flag"
	NameUnflag          = "unflag"
	NameMarkRead        = "mark_read"
	NameMarkUnread      = "mark_unread"
)

var registry = map[string]Factory{
	NameMove:            newMove,
	NameSort:            newSort,
	NameSortMailingList: newSortMailingList,
	NameSortByYear:      newSortByYear,
	NameTrash:           newTrash,
	NameDelete:          newDelete,
	NameFlag:            flagSetter(NameFlag, true),
	NameUnflag:          flagSetter(NameUnflag, false),
	NameMarkRead:        readSetter(NameMarkRead, true),
	NameMarkUnread:      readSetter(NameMarkUnread, false),
}

// Names returns the registered action names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New builds the action described by desc.
func New(desc config.Description, cfg *config.Config) (Action, error) {
	name, _, err := desc.String("name")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (known actions: %s)", ErrUnknownAction, name, strings.Join(Names(), ", "))
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	a, err := f(desc, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return a, nil
}

func logger(ctx context.Context, a Action) *slog.Logger {
	return logging.FromContext(ctx).With("action", a.Name())
}

func required(desc config.Description, key string) (string, error) {
	s, ok, err := desc.String(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %q is required", ErrInvalidAction, key)
	}
	return s, nil
}

func optional(desc config.Description, key, def string) (string, error) {
	s, ok, err := desc.String(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	if !ok || s == "" {
		return def, nil
	}
	return s, nil
}
