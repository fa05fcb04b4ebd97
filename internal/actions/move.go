package actions

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/pepperpark/autofiler/internal/client"
	"github.com/pepperpark/autofiler/internal/config"
	"github.com/pepperpark/autofiler/internal/message"
)

// UnparsableDate is the mailbox suffix sort-by-year uses for messages whose
// date cannot be read.
const UnparsableDate = "unparsable-date"

// Move moves the message to a destination computed from the message.
type Move struct {
	name string
	dest func(msg *message.Message) (string, error)
}

func (a *Move) Name() string { return a.name }

// Destination resolves the destination mailbox for msg.
func (a *Move) Destination(msg *message.Message) (string, error) {
	dest, err := a.dest(msg)
	if err != nil {
		return "", fmt.Errorf("%s: destination: %w", a.name, err)
	}
	return dest, nil
}

func (a *Move) Report(_ context.Context, _ client.Client, _ string, _ client.MessageID, msg *message.Message) (string, error) {
	dest, err := a.Destination(msg)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %q to %s", a.name, msg.Subject(), dest), nil
}

func (a *Move) Invoke(ctx context.Context, c client.Client, mailbox string, id client.MessageID, msg *message.Message) error {
	dest, err := a.Destination(msg)
	if err != nil {
		return err
	}
	logger(ctx, a).Info("moving message", "id", id, "subject", msg.Subject(), "dest", dest)
	return c.MoveMessage(ctx, mailbox, dest, id, msg)
}

func newMove(desc config.Description, _ *config.Config) (Action, error) {
	raw, err := required(desc, "dest-mailbox")
	if err != nil {
		return nil, err
	}
	t, err := parseTemplate(raw)
	if err != nil {
		return nil, err
	}
	return &Move{name: NameMove, dest: t.Execute}, nil
}

func newTrash(desc config.Description, cfg *config.Config) (Action, error) {
	dest, err := optional(desc, "dest-mailbox", cfg.TrashMailbox)
	if err != nil {
		return nil, err
	}
	if dest == "" {
		return nil, fmt.Errorf("%w: no \"trash-mailbox\" set in config", ErrInvalidAction)
	}
	return &Move{name: NameTrash, dest: func(*message.Message) (string, error) { return dest, nil }}, nil
}

// sortSpec holds the defaults that tell sort and sort-mailing-list apart.
type sortSpec struct {
	name   string
	header string
	regex  string
}

func newSort(desc config.Description, cfg *config.Config) (Action, error) {
	return sortAction(sortSpec{name: NameSort, header: "to", regex: `([\w+-]+)@`}, desc)
}

func newSortMailingList(desc config.Description, cfg *config.Config) (Action, error) {
	return sortAction(sortSpec{name: NameSortMailingList, header: "list-id", regex: `<?([^.<>]+)\.`}, desc)
}

func sortAction(kind sortSpec, desc config.Description) (Action, error) {
	base, err := required(desc, "dest-mailbox-base")
	if err != nil {
		return nil, err
	}
	header, err := optional(desc, "header", kind.header)
	if err != nil {
		return nil, err
	}
	pattern, err := optional(desc, "dest-mailbox-regex", kind.regex)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: dest-mailbox-regex: %v", ErrInvalidAction, err)
	}
	group, err := captureGroup(re, desc)
	if err != nil {
		return nil, err
	}
	dest := func(msg *message.Message) (string, error) {
		value := msg.Get(header)
		m := re.FindStringSubmatch(value)
		if m == nil {
			return "", fmt.Errorf("%q does not match header %s %q", re.String(), header, value)
		}
		return base + m[group], nil
	}
	return &Move{name: kind.name, dest: dest}, nil
}

// captureGroup returns the submatch index to use. Groups in the
// description are counted from zero.
func captureGroup(re *regexp.Regexp, desc config.Description) (int, error) {
	n := re.NumSubexp()
	if n == 0 {
		return 0, fmt.Errorf("%w: %q has no capture group", ErrInvalidAction, re.String())
	}
	g, ok, err := desc.Int("dest-mailbox-regex-group")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	if !ok {
		if n > 1 {
			return 0, fmt.Errorf("%w: %q has %d groups, dest-mailbox-regex-group is required", ErrInvalidAction, re.String(), n)
		}
		return 1, nil
	}
	if g < 0 || g >= n {
		return 0, fmt.Errorf("%w: dest-mailbox-regex-group %d out of range for %q", ErrInvalidAction, g, re.String())
	}
	return g + 1, nil
}

func newSortByYear(desc config.Description, _ *config.Config) (Action, error) {
	base, err := required(desc, "dest-mailbox-base")
	if err != nil {
		return nil, err
	}
	header, err := optional(desc, "header", "date")
	if err != nil {
		return nil, err
	}
	dest := func(msg *message.Message) (string, error) {
		t, err := message.ParseDate(msg.Get(header))
		if err != nil {
			return base + UnparsableDate, nil
		}
		return base + strconv.Itoa(t.Year()), nil
	}
	return &Move{name: NameSortByYear, dest: dest}, nil
}
