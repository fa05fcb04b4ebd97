package autofiler

import "context"

// EventType enumerates emitted progress events.
type EventType string

const (
	EventOverallStart EventType = "overall_start"
	EventMailboxStart EventType = "mailbox_start"
	EventMessage      EventType = "message"
	EventMailboxDone  EventType = "mailbox_done"
)

// Event carries progress about the run.
type Event struct {
	Type    EventType
	Mailbox string
	Total   int
	Update  Update
}

// Events is a Progress that forwards every call onto a channel, for a UI
// running in another goroutine. The channel is closed by Close.
type Events struct {
	*Flag
	ctx context.Context
	ch  chan Event
}

// NewEvents returns an Events sink. Sends block while the buffer is full
// unless ctx is done.
func NewEvents(ctx context.Context, flag *Flag) *Events {
	if flag == nil {
		flag = &Flag{}
	}
	return &Events{Flag: flag, ctx: ctx, ch: make(chan Event, 128)}
}

// C returns a read-only channel of progress events.
func (e *Events) C() <-chan Event { return e.ch }

// Close closes the event channel. The sink must not be used afterwards.
func (e *Events) Close() { close(e.ch) }

func (e *Events) emit(ev Event) {
	select {
	case e.ch <- ev:
	case <-e.ctx.Done():
	}
}

func (e *Events) StartOverall(mailboxes int) {
	e.emit(Event{Type: EventOverallStart, Total: mailboxes})
}

func (e *Events) StartMailbox(name string, messages int) {
	e.emit(Event{Type: EventMailboxStart, Mailbox: name, Total: messages})
}

func (e *Events) UpdateMessage(u Update) {
	e.emit(Event{Type: EventMessage, Update: u})
}

func (e *Events) FinishMailbox() {
	e.emit(Event{Type: EventMailboxDone})
}
