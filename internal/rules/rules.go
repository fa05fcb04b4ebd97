// Package rules builds predicate trees from rule descriptions and evaluates
// them against messages.
//
// A rule description is a mapping with exactly one predicate key (or, and,
// headers, recipient, header-exists, is-mailing-list, time-limit) and an
// optional action mapping:
//
//	- or:
//	    rules:
//	      - headers: [{name: to, substring: me@example.com}]
//	      - is-mailing-list: {}
//	  action:
//	    name: trash
//
// Actions attached to sub-rules are ignored.
package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pepperpark/autofiler/internal/config"
)

var (
	// ErrInvalidRule wraps every rule construction error.
	ErrInvalidRule = errors.New("invalid rule")
	// ErrUnknownRule is returned when a description names no known predicate.
	ErrUnknownRule = fmt.Errorf("%w: unknown rule type", ErrInvalidRule)
	// ErrAmbiguousRule is returned when a description names several predicates.
	ErrAmbiguousRule = fmt.Errorf("%w: more than one rule type", ErrInvalidRule)
)

// Description keys.
const (
	KindOr            = "or"
	KindAnd           = "and"
	KindHeaders       = "headers"
	KindRecipient     = "recipient"
	KindHeaderExists  = "header-exists"
	KindIsMailingList = "is-mailing-list"
	KindTimeLimit     = "time-limit"

	actionKey = "action"
)

type builder func(b *build, value any) (Node, error)

var kinds map[string]builder

func init() {
	kinds = map[string]builder{
		KindOr:            (*build).or,
		KindAnd:           (*build).and,
		KindHeaders:       (*build).headers,
		KindRecipient:     (*build).recipient,
		KindHeaderExists:  (*build).headerExists,
		KindIsMailingList: (*build).isMailingList,
		KindTimeLimit:     (*build).timeLimit,
	}
}

// Rule is a top-level rule: a predicate tree plus the action to run when
// it matches.
type Rule struct {
	Node
	action config.Description
}

// New builds the rule described by desc. cfg is the whole configuration.
func New(desc config.Description, cfg *config.Config) (*Rule, error) {
	b := &build{cfg: cfg}
	n, err := b.node(desc)
	if err != nil {
		return nil, err
	}
	action, _, err := desc.Map(actionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if action == nil {
		action = config.Description{}
	}
	return &Rule{Node: n, action: action}, nil
}

// NewList builds every rule of a mailbox, failing on the first bad one.
func NewList(descs []config.Description, cfg *config.Config) ([]*Rule, error) {
	out := make([]*Rule, 0, len(descs))
	for i, d := range descs {
		r, err := New(d, cfg)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Action returns the action description of the rule. It is empty when the
// rule has none.
func (r *Rule) Action() config.Description { return r.action }

type build struct {
	cfg *config.Config
}

func (b *build) node(desc config.Description) (Node, error) {
	var kind string
	for _, k := range desc.Keys() {
		if k == actionKey {
			continue
		}
		if _, ok := kinds[k]; !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownRule, k)
		}
		if kind != "" {
			return nil, fmt.Errorf("%w: %q and %q", ErrAmbiguousRule, kind, k)
		}
		kind = k
	}
	if kind == "" {
		return nil, fmt.Errorf("%w in %v", ErrUnknownRule, desc)
	}
	return kinds[kind](b, desc[kind])
}

func (b *build) children(kind string, value any) ([]Node, error) {
	if value == nil {
		return nil, nil
	}
	d, err := config.AsDescription(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRule, kind, err)
	}
	list, _, err := d.List("rules")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRule, kind, err)
	}
	nodes := make([]Node, 0, len(list))
	for _, item := range list {
		sub, err := config.AsDescription(item)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRule, kind, err)
		}
		n, err := b.node(sub)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (b *build) or(value any) (Node, error) {
	nodes, err := b.children(KindOr, value)
	if err != nil {
		return nil, err
	}
	return &Or{Rules: nodes}, nil
}

func (b *build) and(value any) (Node, error) {
	nodes, err := b.children(KindAnd, value)
	if err != nil {
		return nil, err
	}
	return &And{Rules: nodes}, nil
}

func (b *build) headers(value any) (Node, error) {
	h := &Headers{}
	if value == nil {
		return h, nil
	}
	list, _, err := config.Description{KindHeaders: value}.List(KindHeaders)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	for _, item := range list {
		d, err := config.AsDescription(item)
		if err != nil {
			return nil, fmt.Errorf("%w: headers: %v", ErrInvalidRule, err)
		}
		name, ok, err := d.String("name")
		if err != nil || !ok || name == "" {
			return nil, fmt.Errorf("%w: header matcher %v needs a name", ErrInvalidRule, d)
		}
		m, err := matcher(name, d)
		if err != nil {
			return nil, err
		}
		h.Matchers = append(h.Matchers, m)
	}
	return h, nil
}

// recipient expands to an Or over the same matcher on the to and cc headers.
func (b *build) recipient(value any) (Node, error) {
	d, err := config.AsDescription(value)
	if err != nil {
		return nil, fmt.Errorf("%w: recipient: %v", ErrInvalidRule, err)
	}
	or := &Or{}
	for _, name := range []string{"to", "cc"} {
		m, err := matcher(name, d)
		if err != nil {
			return nil, err
		}
		or.Rules = append(or.Rules, &Headers{Matchers: []Node{m}})
	}
	return or, nil
}

func (b *build) headerExists(value any) (Node, error) {
	var name string
	switch v := value.(type) {
	case string:
		name = v
	default:
		d, err := config.AsDescription(value)
		if err != nil {
			return nil, fmt.Errorf("%w: header-exists: %v", ErrInvalidRule, err)
		}
		if name, _, err = d.String("name"); err != nil {
			return nil, fmt.Errorf("%w: header-exists: %v", ErrInvalidRule, err)
		}
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: header-exists needs a header name", ErrInvalidRule)
	}
	return &HeaderExists{Name: name}, nil
}

func (b *build) isMailingList(any) (Node, error) {
	return &HeaderExists{Name: "list-id"}, nil
}

func (b *build) timeLimit(value any) (Node, error) {
	d, err := config.AsDescription(value)
	if err != nil {
		return nil, fmt.Errorf("%w: time-limit: %v", ErrInvalidRule, err)
	}
	age, ok, err := d.Int("age")
	if err != nil {
		return nil, fmt.Errorf("%w: time-limit: %v", ErrInvalidRule, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: time-limit needs an age in days", ErrInvalidRule)
	}
	if age < 0 {
		return nil, fmt.Errorf("%w: time-limit age %d is negative", ErrInvalidRule, age)
	}
	return &TimeLimit{Days: age}, nil
}
