// Package clienttest provides an in-memory client.Client that records the
// calls made against it.
package clienttest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/pepperpark/autofiler/internal/client"
	"github.com/pepperpark/autofiler/internal/message"
)

// Call is one recorded mutating operation.
type Call struct {
	Op    string
	Src   string
	Dest  string
	ID    client.MessageID
	Value bool
}

// Entry is a stored message.
type Entry struct {
	ID      client.MessageID
	Msg     *message.Message
	Flagged bool
	Read    bool
	Deleted bool
}

// Fake is an in-memory mailbox store. The zero value is empty and ready to
// use.
type Fake struct {
	mu        sync.Mutex
	mailboxes map[string][]*Entry
	next      int

	// Calls lists every mutating call in order.
	Calls []Call
	// Fail makes the named operation return the error.
	Fail     map[string]error
	Expunges int
	Closed   bool
}

// Add stores msg in mailbox and returns its ID.
func (f *Fake) Add(mailbox string, msg *message.Message) client.MessageID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.add(mailbox, &Entry{Msg: msg})
}

func (f *Fake) add(mailbox string, e *Entry) client.MessageID {
	if f.mailboxes == nil {
		f.mailboxes = map[string][]*Entry{}
	}
	f.next++
	e.ID = client.MessageID(strconv.Itoa(f.next))
	f.mailboxes[mailbox] = append(f.mailboxes[mailbox], e)
	return e.ID
}

// Entries returns the messages currently stored in mailbox, including the
// ones marked deleted but not yet expunged.
func (f *Fake) Entries(mailbox string) []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Entry
	for _, e := range f.mailboxes[mailbox] {
		out = append(out, *e)
	}
	return out
}

// Ops returns the names of the recorded calls.
func (f *Fake) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		out[i] = c.Op
	}
	return out
}

func (f *Fake) record(c Call) error {
	f.Calls = append(f.Calls, c)
	return f.Fail[c.Op]
}

func (f *Fake) find(mailbox string, id client.MessageID) (*Entry, error) {
	for _, e := range f.mailboxes[mailbox] {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%s/%s: %w", mailbox, id, client.ErrMailboxNotFound)
}

func (f *Fake) ListMailboxes(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Fail["list"]; err != nil {
		return nil, err
	}
	names := make([]string, 0, len(f.mailboxes))
	for name := range f.mailboxes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *Fake) Iterator(_ context.Context, mailbox string) (client.Iterator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Fail["iterator"]; err != nil {
		return nil, err
	}
	var it iterator
	for _, e := range f.mailboxes[mailbox] {
		if !e.Deleted {
			it = append(it, *e)
		}
	}
	return it, nil
}

func (f *Fake) CreateMailbox(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: "create", Dest: name}); err != nil {
		return err
	}
	if f.mailboxes == nil {
		f.mailboxes = map[string][]*Entry{}
	}
	if _, ok := f.mailboxes[name]; !ok {
		f.mailboxes[name] = nil
	}
	return nil
}

func (f *Fake) CopyMessage(_ context.Context, src, dest string, id client.MessageID, _ *message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: "copy", Src: src, Dest: dest, ID: id}); err != nil {
		return err
	}
	e, err := f.find(src, id)
	if err != nil {
		return err
	}
	cp := *e
	f.add(dest, &cp)
	return nil
}

func (f *Fake) MoveMessage(ctx context.Context, src, dest string, id client.MessageID, msg *message.Message) error {
	return client.Move(ctx, f, src, dest, id, msg)
}

func (f *Fake) DeleteMessage(_ context.Context, src string, id client.MessageID, _ *message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: "delete", Src: src, ID: id}); err != nil {
		return err
	}
	e, err := f.find(src, id)
	if err != nil {
		return err
	}
	e.Deleted = true
	return nil
}

func (f *Fake) SetFlagged(_ context.Context, src string, id client.MessageID, _ *message.Message, flagged bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: "flag", Src: src, ID: id, Value: flagged}); err != nil {
		return err
	}
	e, err := f.find(src, id)
	if err != nil {
		return err
	}
	e.Flagged = flagged
	return nil
}

func (f *Fake) SetRead(_ context.Context, src string, id client.MessageID, _ *message.Message, read bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: "read", Src: src, ID: id, Value: read}); err != nil {
		return err
	}
	e, err := f.find(src, id)
	if err != nil {
		return err
	}
	e.Read = read
	return nil
}

func (f *Fake) Expunge(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Expunges++
	if err := f.record(Call{Op: "expunge"}); err != nil {
		return err
	}
	for name, entries := range f.mailboxes {
		kept := entries[:0]
		for _, e := range entries {
			if !e.Deleted {
				kept = append(kept, e)
			}
		}
		f.mailboxes[name] = kept
	}
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

type iterator []Entry

func (it iterator) Len(context.Context) (int, error) { return len(it), nil }

func (it iterator) Walk(ctx context.Context, fn func(client.MessageID, *message.Message) error) error {
	for _, e := range it {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e.ID, e.Msg); err != nil {
			return err
		}
	}
	return nil
}

var _ client.Client = (*Fake)(nil)
