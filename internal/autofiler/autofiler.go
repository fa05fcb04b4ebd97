// Package autofiler runs the configured rules against every message of the
// configured mailboxes.
package autofiler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danwakefield/fnmatch"

	"github.com/pepperpark/autofiler/internal/actions"
	"github.com/pepperpark/autofiler/internal/client"
	"github.com/pepperpark/autofiler/internal/config"
	"github.com/pepperpark/autofiler/internal/logging"
	"github.com/pepperpark/autofiler/internal/message"
	"github.com/pepperpark/autofiler/internal/rules"
	"github.com/pepperpark/autofiler/internal/stats"
)

var errInterrupted = errors.New("interrupted")

type Options struct {
	// DryRun reports the actions that would run without invoking them.
	DryRun bool
	// Debug makes the first action error abort the run.
	Debug bool
}

// Processor applies rules to mailboxes through one client.
type Processor struct {
	client   client.Client
	cfg      *config.Config
	progress Progress
	opts     Options
}

func NewProcessor(c client.Client, cfg *config.Config, progress Progress, opts Options) *Processor {
	if progress == nil {
		progress = NullProgress{}
	}
	return &Processor{client: c, cfg: cfg, progress: progress, opts: opts}
}

type mailboxRules struct {
	name  string
	rules []*rules.Rule
}

// Run processes every configured mailbox in order. The returned totals are
// valid even when err is not nil.
func (p *Processor) Run(ctx context.Context) (*stats.Totals, error) {
	totals := stats.New()
	log := logging.FromContext(ctx)
	defer func() {
		s := totals.Snapshot()
		log.Info("run complete", "seen", s.Seen, "processed", s.Processed, "unmatched", s.Unmatched, "errors", s.Errors, "interrupted", s.Interrupted)
	}()

	boxes, err := p.plan(ctx)
	if err != nil {
		return totals, err
	}
	p.progress.StartOverall(len(boxes))
	for _, mb := range boxes {
		if p.interrupted(ctx) {
			totals.SetInterrupted()
			break
		}
		err := p.processMailbox(ctx, mb, totals)
		if errors.Is(err, errInterrupted) {
			totals.SetInterrupted()
			break
		}
		if err != nil {
			return totals, fmt.Errorf("%s: %w", mb.name, err)
		}
	}
	return totals, nil
}

// plan builds the rules of every mailbox and expands mailbox name patterns.
func (p *Processor) plan(ctx context.Context) ([]mailboxRules, error) {
	var (
		out   []mailboxRules
		known []string
	)
	for _, mb := range p.cfg.Mailboxes {
		rs, err := rules.NewList(mb.Rules, p.cfg)
		if err != nil {
			return nil, fmt.Errorf("mailbox %s: %w", mb.Name, err)
		}
		if !isPattern(mb.Name) {
			out = append(out, mailboxRules{name: mb.Name, rules: rs})
			continue
		}
		if known == nil {
			if known, err = p.client.ListMailboxes(ctx); err != nil {
				return nil, fmt.Errorf("list mailboxes: %w", err)
			}
		}
		matched := 0
		for _, name := range known {
			if fnmatch.Match(mb.Name, name, 0) {
				out = append(out, mailboxRules{name: name, rules: rs})
				matched++
			}
		}
		if matched == 0 {
			logging.FromContext(ctx).Warn("mailbox pattern matches nothing", "pattern", mb.Name)
		}
	}
	return out, nil
}

func isPattern(name string) bool {
	return strings.ContainsAny(name, "*?[")
}

func (p *Processor) interrupted(ctx context.Context) bool {
	return ctx.Err() != nil || p.progress.Interrupted()
}

func (p *Processor) processMailbox(ctx context.Context, mb mailboxRules, totals *stats.Totals) error {
	ctx = logging.With(ctx, "mailbox", mb.name)
	log := logging.FromContext(ctx)

	it, err := p.client.Iterator(ctx, mb.name)
	if err != nil {
		return err
	}
	n, err := it.Len(ctx)
	if err != nil {
		return err
	}
	log.Debug("processing mailbox", "messages", n)
	p.progress.StartMailbox(mb.name, n)

	walkErr := it.Walk(ctx, func(id client.MessageID, msg *message.Message) error {
		if p.interrupted(ctx) {
			return errInterrupted
		}
		return p.processMessage(ctx, mb, id, msg, totals)
	})
	if walkErr != nil && ctx.Err() != nil {
		walkErr = errInterrupted
	}
	if walkErr != nil && !errors.Is(walkErr, errInterrupted) {
		return walkErr
	}

	// Messages handled before an interruption are committed too.
	if !p.opts.DryRun {
		if err := p.client.Expunge(ctx); err != nil {
			return fmt.Errorf("expunge: %w", err)
		}
	}
	p.progress.FinishMailbox()
	return walkErr
}

func (p *Processor) processMessage(ctx context.Context, mb mailboxRules, id client.MessageID, msg *message.Message, totals *stats.Totals) error {
	ctx = logging.With(ctx, "id", string(id))
	log := logging.FromContext(ctx)
	totals.AddSeen(mb.name)
	log.Debug("message", "subject", msg.Subject())

	update := Update{Advance: 1, Subject: msg.Subject(), From: msg.From(), To: msg.To()}
	for i, r := range mb.rules {
		if !r.Check(logging.With(ctx, "rule", i+1), msg) {
			continue
		}
		name, report, err := p.apply(ctx, mb.name, id, msg, r)
		if err != nil {
			totals.AddError(mb.name)
			log.Error("action failed", "action", name, "subject", msg.Subject(), "err", err)
			update.Action, update.ActionMessage = ActionError, err.Error()
			p.progress.UpdateMessage(update)
			if p.opts.Debug {
				return fmt.Errorf("%s %q: %w", name, msg.Subject(), err)
			}
			return nil
		}
		totals.AddProcessed(mb.name, name)
		update.Action, update.ActionMessage = name, report
		p.progress.UpdateMessage(update)
		return nil
	}
	log.Debug("no rules match")
	totals.AddUnmatched(mb.name)
	p.progress.UpdateMessage(update)
	return nil
}

// apply builds the action of a matched rule, reports it and, unless this
// is a dry run, invokes it.
func (p *Processor) apply(ctx context.Context, mailbox string, id client.MessageID, msg *message.Message, r *rules.Rule) (name, report string, err error) {
	name, _, _ = r.Action().String("name")
	a, err := actions.New(r.Action(), p.cfg)
	if err != nil {
		return name, "", err
	}
	ctx = logging.With(ctx, "action", a.Name())
	report, err = a.Report(ctx, p.client, mailbox, id, msg)
	if err != nil {
		return a.Name(), "", err
	}
	log := logging.FromContext(ctx)
	if p.opts.DryRun {
		log.Info("dry-run: " + report)
		return a.Name(), report, nil
	}
	log.Info(report)
	if err := a.Invoke(ctx, p.client, mailbox, id, msg); err != nil {
		return a.Name(), report, err
	}
	return a.Name(), report, nil
}
