// Package stats keeps the counters of a processing run and writes them out
// as a JSON stats file or a Prometheus textfile collector file.
package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Mailbox holds the counters of one mailbox.
type Mailbox struct {
	Seen      int `json:"seen"`
	Processed int `json:"processed"`
	Unmatched int `json:"unmatched"`
	Errors    int `json:"errors"`
}

// Totals holds the counters of a whole run.
type Totals struct {
	mu          sync.Mutex
	Seen        int                 `json:"seen"`
	Processed   int                 `json:"processed"`
	Unmatched   int                 `json:"unmatched"`
	Errors      int                 `json:"errors"`
	Actions     map[string]int      `json:"actions"`
	Mailboxes   map[string]*Mailbox `json:"mailboxes"`
	Interrupted bool                `json:"interrupted"`
}

// New returns zeroed totals.
func New() *Totals {
	return &Totals{Actions: make(map[string]int), Mailboxes: make(map[string]*Mailbox)}
}

func (t *Totals) mailbox(name string) *Mailbox {
	if t.Mailboxes == nil {
		t.Mailboxes = make(map[string]*Mailbox)
	}
	mb := t.Mailboxes[name]
	if mb == nil {
		mb = &Mailbox{}
		t.Mailboxes[name] = mb
	}
	return mb
}

// AddSeen counts a message read from mailbox.
func (t *Totals) AddSeen(mailbox string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Seen++
	t.mailbox(mailbox).Seen++
}

// AddProcessed counts a message that action was applied to.
func (t *Totals) AddProcessed(mailbox, action string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Processed++
	t.mailbox(mailbox).Processed++
	if t.Actions == nil {
		t.Actions = make(map[string]int)
	}
	t.Actions[action]++
}

func (t *Totals) AddUnmatched(mailbox string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Unmatched++
	t.mailbox(mailbox).Unmatched++
}

func (t *Totals) AddError(mailbox string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Errors++
	t.mailbox(mailbox).Errors++
}

func (t *Totals) SetInterrupted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Interrupted = true
}

// Snapshot returns a copy safe to read while the run goes on.
func (t *Totals) Snapshot() *Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := &Totals{
		Seen:        t.Seen,
		Processed:   t.Processed,
		Unmatched:   t.Unmatched,
		Errors:      t.Errors,
		Interrupted: t.Interrupted,
		Actions:     make(map[string]int, len(t.Actions)),
		Mailboxes:   make(map[string]*Mailbox, len(t.Mailboxes)),
	}
	for k, v := range t.Actions {
		out.Actions[k] = v
	}
	for k, v := range t.Mailboxes {
		mb := *v
		out.Mailboxes[k] = &mb
	}
	return out
}

// MailboxNames returns the mailboxes seen so far, sorted.
func (t *Totals) MailboxNames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.Mailboxes))
	for k := range t.Mailboxes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Load reads a stats file. A missing file yields zeroed totals.
func Load(path string) (*Totals, error) {
	t := New()
	if path == "" {
		return t, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return t, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(b, t); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return t, nil
}

// Save writes the totals as JSON. An empty path is a no-op.
func (t *Totals) Save(path string) error {
	if path == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// Registry returns a Prometheus registry holding the totals as gauges.
func (t *Totals) Registry() *prometheus.Registry {
	s := t.Snapshot()
	reg := prometheus.NewRegistry()

	messages := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "autofiler",
		Name:      "messages",
		Help:      "Messages handled in the last run, by mailbox and outcome.",
	}, []string{"mailbox", "outcome"})
	for name, mb := range s.Mailboxes {
		messages.WithLabelValues(name, "seen").Set(float64(mb.Seen))
		messages.WithLabelValues(name, "processed").Set(float64(mb.Processed))
		messages.WithLabelValues(name, "unmatched").Set(float64(mb.Unmatched))
		messages.WithLabelValues(name, "error").Set(float64(mb.Errors))
	}

	actions := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "autofiler",
		Name:      "actions",
		Help:      "Actions applied in the last run.",
	}, []string{"action"})
	for name, n := range s.Actions {
		actions.WithLabelValues(name).Set(float64(n))
	}

	interrupted := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "autofiler",
		Name:      "interrupted",
		Help:      "1 if the last run was interrupted.",
	})
	if s.Interrupted {
		interrupted.Set(1)
	}

	reg.MustRegister(messages, actions, interrupted)
	return reg
}

// WriteMetrics writes the totals to a textfile collector file. An empty path
// is a no-op.
func (t *Totals) WriteMetrics(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, t.Registry()); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
