package rules

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/pepperpark/autofiler/internal/config"
	"github.com/pepperpark/autofiler/internal/logging"
	"github.com/pepperpark/autofiler/internal/message"
)

// Node is one predicate of a rule tree. The set of nodes is closed; nodes
// are only built by New.
type Node interface {
	Check(ctx context.Context, msg *message.Message) bool
	Kind() string
}

func logger(ctx context.Context, n Node) *slog.Logger {
	return logging.FromContext(ctx).With("rule", n.Kind())
}

// Or is true when any of its rules is true. It is false without rules.
type Or struct {
	Rules []Node
}

func (*Or) Kind() string { return KindOr }

func (r *Or) Check(ctx context.Context, msg *message.Message) bool {
	if len(r.Rules) == 0 {
		logger(ctx, r).Debug("no sub-rules")
		return false
	}
	for _, sub := range r.Rules {
		if sub.Check(ctx, msg) {
			return true
		}
	}
	return false
}

// And is true when all of its rules are true. It is false without rules.
type And struct {
	Rules []Node
}

func (*And) Kind() string { return KindAnd }

func (r *And) Check(ctx context.Context, msg *message.Message) bool {
	if len(r.Rules) == 0 {
		logger(ctx, r).Debug("no sub-rules")
		return false
	}
	for _, sub := range r.Rules {
		if !sub.Check(ctx, msg) {
			return false
		}
	}
	return true
}

// Headers is true when every matcher succeeds. It is false without
// matchers.
type Headers struct {
	Matchers []Node
}

func (*Headers) Kind() string { return KindHeaders }

func (r *Headers) Check(ctx context.Context, msg *message.Message) bool {
	if len(r.Matchers) == 0 {
		logger(ctx, r).Debug("no header matchers")
		return false
	}
	for _, m := range r.Matchers {
		if !m.Check(ctx, msg) {
			return false
		}
	}
	return true
}

// HeaderExists is true when the message carries the header, whatever its
// value.
type HeaderExists struct {
	Name string
}

func (*HeaderExists) Kind() string { return KindHeaderExists }

func (r *HeaderExists) Check(ctx context.Context, msg *message.Message) bool {
	ok := msg.Has(r.Name)
	logger(ctx, r).Debug("header exists", "header", r.Name, "found", ok)
	return ok
}

// TimeLimit is true when the message date is more than Days days old.
type TimeLimit struct {
	Days int

	now func() time.Time
}

func (*TimeLimit) Kind() string { return KindTimeLimit }

func (r *TimeLimit) Check(ctx context.Context, msg *message.Message) bool {
	log := logger(ctx, r)
	date, err := msg.Date()
	if err != nil {
		log.Warn("cannot parse message date", "date", msg.Get("date"), "subject", msg.Subject(), "error", err)
		return false
	}
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	cutoff := now().AddDate(0, 0, -r.Days)
	log.Debug("time limit", "date", date, "cutoff", cutoff)
	return date.Before(cutoff)
}

// HeaderSubString is true when the header value contains Substring.
type HeaderSubString struct {
	Name      string
	Substring string
}

func (*HeaderSubString) Kind() string { return "header-substring" }

func (r *HeaderSubString) Check(ctx context.Context, msg *message.Message) bool {
	v := strings.ToLower(msg.Get(r.Name))
	logger(ctx, r).Debug("substring", "header", r.Name, "want", r.Substring, "value", v)
	return strings.Contains(v, r.Substring)
}

// HeaderRegex is true when Regex matches somewhere in the header value.
type HeaderRegex struct {
	Name  string
	Regex *regexp.Regexp
}

func (*HeaderRegex) Kind() string { return "header-regex" }

func (r *HeaderRegex) Check(ctx context.Context, msg *message.Message) bool {
	v := msg.Get(r.Name)
	logger(ctx, r).Debug("regex", "header", r.Name, "pattern", r.Regex.String(), "value", v)
	return r.Regex.MatchString(v)
}

// HeaderExactValue is true when the header value equals Value.
type HeaderExactValue struct {
	Name  string
	Value string
}

func (*HeaderExactValue) Kind() string { return "header-value" }

func (r *HeaderExactValue) Check(ctx context.Context, msg *message.Message) bool {
	v := msg.Get(r.Name)
	logger(ctx, r).Debug("value", "header", r.Name, "want", r.Value, "value", v)
	return strings.EqualFold(v, r.Value)
}

// matcher builds the header matcher for the named header from d, which
// holds one of substring, regex or value.
func matcher(name string, d config.Description) (Node, error) {
	if s, ok, err := d.String("substring"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	} else if ok {
		return &HeaderSubString{Name: name, Substring: strings.ToLower(s)}, nil
	}
	if s, ok, err := d.String("regex"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	} else if ok {
		re, err := regexp.Compile("(?i)" + s)
		if err != nil {
			return nil, fmt.Errorf("%w: header %s: %v", ErrInvalidRule, name, err)
		}
		return &HeaderRegex{Name: name, Regex: re}, nil
	}
	if s, ok, err := d.String("value"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	} else if ok {
		return &HeaderExactValue{Name: name, Value: s}, nil
	}
	return nil, fmt.Errorf("%w: unknown header matcher %v", ErrInvalidRule, d)
}
