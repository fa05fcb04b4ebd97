package autofiler

import (
	"fmt"
	"io"
	"sync/atomic"
)

// Update describes one visited message.
type Update struct {
	Advance int
	Subject string
	From    string
	To      string
	// Action is the name of the action applied, "error" when it failed, or
	// empty when no rule matched.
	Action        string
	ActionMessage string
}

// ActionError is the Update.Action of a message whose action failed.
const ActionError = "error"

// Progress receives events from the pipeline. It never influences the
// outcome of a run except through Interrupted.
type Progress interface {
	StartOverall(mailboxes int)
	StartMailbox(name string, messages int)
	UpdateMessage(u Update)
	FinishMailbox()
	// Interrupted reports whether the run should stop at the next
	// checkpoint.
	Interrupted() bool
}

// Flag is a cooperative cancellation flag. It is safe to set from a signal
// handler goroutine. A nil *Flag is never set.
type Flag struct {
	set atomic.Bool
}

// Set raises the flag.
func (f *Flag) Set() { f.set.Store(true) }

// Interrupted reports whether the flag is raised.
func (f *Flag) Interrupted() bool { return f != nil && f.set.Load() }

// NullProgress drops every event.
type NullProgress struct {
	*Flag
}

func (NullProgress) StartOverall(int)         {}
func (NullProgress) StartMailbox(string, int) {}
func (NullProgress) UpdateMessage(Update)     {}
func (NullProgress) FinishMailbox()           {}

// TextProgress prints one line per mailbox.
type TextProgress struct {
	*Flag
	W io.Writer
}

func (TextProgress) StartOverall(int) {}

func (p TextProgress) StartMailbox(name string, messages int) {
	fmt.Fprintf(p.W, "Processing mailbox: %s (%d messages)\n", name, messages)
}

func (TextProgress) UpdateMessage(Update) {}
func (TextProgress) FinishMailbox()       {}
