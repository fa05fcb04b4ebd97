package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	lipgloss "github.com/charmbracelet/lipgloss"

	"github.com/pepperpark/autofiler/internal/autofiler"
	"github.com/pepperpark/autofiler/internal/client"
	"github.com/pepperpark/autofiler/internal/config"
	"github.com/pepperpark/autofiler/internal/logging"
	"github.com/pepperpark/autofiler/internal/stats"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Width(12)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).Width(72)
)

type tickMsg time.Time
type eventMsg autofiler.Event
type doneMsg struct{}

type model struct {
	ctx     context.Context
	cancel  context.CancelFunc
	flag    *autofiler.Flag
	worker  *autofiler.Processor
	events  *autofiler.Events
	spinner spinner.Model
	overall progress.Model
	bar     progress.Model

	mailboxesTotal int
	mailboxesDone  int
	mailbox        string
	messagesTotal  int
	messagesDone   int
	seen           int
	processed      int
	errors         int
	actions        map[string]int
	current        autofiler.Update

	started  bool
	finished bool
	begun    time.Time
	rate     rateMeter

	// Written by the run goroutine before done is closed.
	totals *stats.Totals
	err    error
	done   chan struct{}
}

func newModel(ctx context.Context, cancel context.CancelFunc, flag *autofiler.Flag, worker *autofiler.Processor, events *autofiler.Events) *model {
	s := spinner.New()
	s.Spinner = spinner.Line
	now := time.Now()
	return &model{
		ctx:     ctx,
		cancel:  cancel,
		flag:    flag,
		worker:  worker,
		events:  events,
		spinner: s,
		overall: progress.New(progress.WithDefaultGradient()),
		bar:     progress.New(progress.WithDefaultGradient()),
		actions: map[string]int{},
		begun:   now,
		rate:    rateMeter{lastAt: now},
		done:    make(chan struct{}),
	}
}

func (m *model) Init() tea.Cmd {
	m.started = true
	return tea.Batch(m.spinner.Tick, tick(), m.startRun(), m.waitForEvent())
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *model) startRun() tea.Cmd {
	return func() tea.Msg {
		m.totals, m.err = m.worker.Run(m.ctx)
		close(m.done)
		m.events.Close()
		return nil
	}
}

func (m *model) waitForEvent() tea.Cmd {
	ch, done := m.events.C(), m.done
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			<-done
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			// A second request stops waiting for the current message.
			if m.flag.Interrupted() {
				m.cancel()
			}
			m.flag.Set()
		}
		return m, nil
	case eventMsg:
		m.apply(autofiler.Event(msg))
		return m, m.waitForEvent()
	case doneMsg:
		m.finished = true
		return m, tea.Quit
	case tickMsg:
		m.rate.update(time.Time(msg), m.messagesDone)
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *model) apply(ev autofiler.Event) {
	switch ev.Type {
	case autofiler.EventOverallStart:
		m.mailboxesTotal = ev.Total
	case autofiler.EventMailboxStart:
		m.mailbox = ev.Mailbox
		m.messagesTotal, m.messagesDone = ev.Total, 0
		m.rate = rateMeter{lastAt: time.Now()}
	case autofiler.EventMessage:
		u := ev.Update
		m.messagesDone += u.Advance
		m.seen += u.Advance
		switch u.Action {
		case "":
		case autofiler.ActionError:
			m.errors += u.Advance
		default:
			m.processed += u.Advance
			m.actions[u.Action] += u.Advance
		}
		m.current = u
	case autofiler.EventMailboxDone:
		m.mailboxesDone++
		m.current = autofiler.Update{}
	}
}

func ratio(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Min(1, float64(done)/float64(total))
}

func (m *model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("autofiler") + "\n\n")
	if m.flag.Interrupted() {
		b.WriteString(warnStyle.Render("Interrupt received. Processing will stop after the current message.") + "\n\n")
	} else {
		b.WriteString(hintStyle.Render("Press q to stop after the current message") + "\n\n")
	}
	fmt.Fprintf(&b, "%s Mailboxes %d/%d\n", m.spinner.View(), m.mailboxesDone, m.mailboxesTotal)
	b.WriteString(m.overall.ViewAs(ratio(m.mailboxesDone, m.mailboxesTotal)) + "\n\n")
	fmt.Fprintf(&b, "  %s %d/%d   %s\n", m.mailbox, m.messagesDone, m.messagesTotal, m.eta())
	b.WriteString(m.bar.ViewAs(ratio(m.messagesDone, m.messagesTotal)) + "\n\n")
	b.WriteString(boxStyle.Render(m.statsView()) + "\n")
	b.WriteString(boxStyle.Render(m.currentView()) + "\n")
	return b.String()
}

func (m *model) statsView() string {
	lines := []string{
		labelStyle.Render("Seen") + fmt.Sprint(m.seen),
		labelStyle.Render("Processed") + fmt.Sprint(m.processed),
	}
	names := make([]string, 0, len(m.actions))
	for n := range m.actions {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		lines = append(lines, labelStyle.Render("  "+n)+fmt.Sprint(m.actions[n]))
	}
	errs := fmt.Sprint(m.errors)
	if m.errors > 0 {
		errs = warnStyle.Render(errs)
	}
	lines = append(lines, labelStyle.Render("Errors")+errs)
	return strings.Join(lines, "\n")
}

func (m *model) currentView() string {
	u := m.current
	if u.Subject == "" && u.From == "" {
		return hintStyle.Render("Waiting...")
	}
	lines := []string{truncate(u.Subject, 60)}
	if u.From != "" {
		lines = append(lines, "From: "+truncate(u.From, 50))
	}
	if u.To != "" {
		lines = append(lines, "To:   "+truncate(u.To, 50))
	}
	if u.ActionMessage != "" {
		msg := truncate(u.ActionMessage, 66)
		if u.Action == autofiler.ActionError {
			msg = warnStyle.Render(msg)
		}
		lines = append(lines, msg)
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func (m *model) eta() string {
	rate := m.rate.ema
	if rate <= 0.01 {
		if elapsed := time.Since(m.rate.since()); elapsed > 0 {
			rate = float64(m.messagesDone) / elapsed.Seconds()
		}
	}
	return formatETA(m.messagesTotal-m.messagesDone, m.messagesTotal, rate)
}

// summary renders the final statistics printed once the UI has exited.
func (m *model) summary(elapsed time.Duration) string {
	var b strings.Builder
	if m.flag.Interrupted() {
		b.WriteString(warnStyle.Render("Processing interrupted") + "\n\n")
	} else {
		b.WriteString(titleStyle.Render("Processing complete") + "\n\n")
	}
	runtime := fmt.Sprintf("%.1fs", elapsed.Seconds())
	if elapsed >= time.Minute {
		runtime = fmt.Sprintf("%.1fm", elapsed.Minutes())
	}
	b.WriteString(labelStyle.Render("Runtime") + runtime + "\n")
	b.WriteString(labelStyle.Render("Mailboxes") + fmt.Sprintf("%d/%d", m.mailboxesDone, m.mailboxesTotal) + "\n")
	b.WriteString(m.statsView() + "\n")
	if m.flag.Interrupted() {
		b.WriteString("\n" + hintStyle.Render("Run again to continue processing the remaining mailboxes") + "\n")
	}
	return b.String()
}

// rateMeter keeps an exponential moving average of messages per second.
type rateMeter struct {
	ema      float64
	lastDone int
	lastAt   time.Time
	first    time.Time
}

func (r *rateMeter) since() time.Time {
	if r.first.IsZero() {
		return r.lastAt
	}
	return r.first
}

func (r *rateMeter) update(now time.Time, done int) {
	if r.first.IsZero() {
		r.first = r.lastAt
	}
	dt := now.Sub(r.lastAt).Seconds()
	if dt <= 0 {
		return
	}
	inst := float64(done-r.lastDone) / dt
	// Half-life of about 3s.
	alpha := 1 - math.Exp(-math.Ln2*dt/3.0)
	if r.ema == 0 {
		r.ema = inst
	} else {
		r.ema = alpha*inst + (1-alpha)*r.ema
	}
	r.lastDone = done
	r.lastAt = now
}

func formatETA(remaining, total int, rate float64) string {
	if total == 0 {
		return "ETA --"
	}
	if remaining <= 0 {
		return "ETA 0s"
	}
	if rate <= 0.01 {
		return "ETA --"
	}
	secs := float64(remaining) / rate
	if secs < 1 {
		return "ETA <1s"
	}
	d := time.Duration(secs) * time.Second
	switch {
	case d > 99*time.Hour:
		return "ETA >99h"
	case d >= time.Hour:
		h := int(d / time.Hour)
		return fmt.Sprintf("ETA %dh%dm", h, int((d-time.Duration(h)*time.Hour)/time.Minute))
	case d >= time.Minute:
		return fmt.Sprintf("ETA %dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("ETA %ds", int(d.Seconds()))
}

// printer writes log records above the running UI.
type printer struct {
	p *tea.Program
}

func (w printer) Write(b []byte) (int, error) {
	w.p.Println(strings.TrimRight(string(b), "\n"))
	return len(b), nil
}

// runTUI runs the pipeline behind the Bubble Tea UI and prints a summary
// when it is done.
func runTUI(ctx context.Context, c client.Client, cfg *config.Config, flag *autofiler.Flag, popts autofiler.Options, o *options, out io.Writer) (*stats.Totals, error) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := autofiler.NewEvents(cctx, flag)
	m := newModel(cctx, cancel, flag, autofiler.NewProcessor(c, cfg, events, popts), events)
	p := tea.NewProgram(m)
	m.ctx = logging.WithContext(cctx, logging.New(printer{p}, o.uiLevel(), o.logFormat))

	if _, err := p.Run(); err != nil {
		logging.FromContext(ctx).Warn("progress UI failed", "err", err)
		if !m.started {
			return autofiler.NewProcessor(c, cfg, autofiler.TextProgress{Flag: flag, W: out}, popts).Run(ctx)
		}
		cancel()
		<-m.done
		return m.totals, m.err
	}
	<-m.done
	fmt.Fprint(out, m.summary(time.Since(m.begun)))
	return m.totals, m.err
}
