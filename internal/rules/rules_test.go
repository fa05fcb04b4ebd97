package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepperpark/autofiler/internal/config"
	"github.com/pepperpark/autofiler/internal/logging"
	"github.com/pepperpark/autofiler/internal/message"
)

func testMessage() *message.Message {
	return message.New(
		message.Field{Name: "From", Value: "Sender Name <sender@example.com>"},
		message.Field{Name: "Subject", Value: "Re: reply to previous message"},
		message.Field{Name: "Date", Value: "Sat, 23 Jan 2016 16:19:10 -0500"},
		message.Field{Name: "To", Value: "recipient1@example.com"},
		message.Field{Name: "CC", Value: "recipient2@example.com"},
	)
}

func i18nMessage() *message.Message {
	return message.New(
		message.Field{Name: "From", Value: "Иванов Иван <sender@example.com>"},
		message.Field{Name: "Subject", Value: "Re: ответ на предыдущее сообщение"},
		message.Field{Name: "To", Value: "recipient1@example.com"},
	)
}

func testContext() context.Context {
	return logging.WithContext(context.Background(), logging.Discard())
}

// stub returns a fixed result and records how often it was evaluated.
type stub struct {
	t      *testing.T
	result bool
	never  bool
	calls  int
}

func (*stub) Kind() string { return "stub" }

func (s *stub) Check(context.Context, *message.Message) bool {
	if s.never {
		s.t.Fatal("stub should not be evaluated")
	}
	s.calls++
	return s.result
}

func mustNew(t *testing.T, desc config.Description) *Rule {
	t.Helper()
	r, err := New(config.Normalize(desc), &config.Config{})
	require.NoError(t, err)
	return r
}

func TestNewUnknown(t *testing.T) {
	_, err := New(config.Description{}, nil)
	assert.ErrorIs(t, err, ErrUnknownRule)
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = New(config.Description{"bogus": map[string]any{}}, nil)
	assert.ErrorIs(t, err, ErrUnknownRule)

	_, err = New(config.Description{"or": map[string]any{}, "and": map[string]any{}}, nil)
	assert.ErrorIs(t, err, ErrAmbiguousRule)
}

func TestCreateRecursive(t *testing.T) {
	r := mustNew(t, config.Description{
		"or": map[string]any{
			"rules": []any{
				map[string]any{"headers": []any{map[string]any{"name": "to", "substring": "recipient1@example.com"}}},
				map[string]any{"headers": []any{map[string]any{"name": "cc", "substring": "recipient1@example.com"}}},
			},
		},
	})
	or, ok := r.Node.(*Or)
	require.True(t, ok)
	require.Len(t, or.Rules, 2)
	assert.IsType(t, &Headers{}, or.Rules[0])
	assert.IsType(t, &Headers{}, or.Rules[1])
	assert.True(t, r.Check(testContext(), testMessage()))
}

func TestOr(t *testing.T) {
	ctx, msg := testContext(), testMessage()

	t.Run("pass first", func(t *testing.T) {
		second := &stub{t: t, never: true}
		r := &Or{Rules: []Node{&stub{t: t, result: true}, second}}
		assert.True(t, r.Check(ctx, msg))
	})
	t.Run("pass second", func(t *testing.T) {
		r := &Or{Rules: []Node{&stub{t: t}, &stub{t: t, result: true}}}
		assert.True(t, r.Check(ctx, msg))
	})
	t.Run("no match", func(t *testing.T) {
		a, b := &stub{t: t}, &stub{t: t}
		r := &Or{Rules: []Node{a, b}}
		assert.False(t, r.Check(ctx, msg))
		assert.Equal(t, 1, a.calls)
		assert.Equal(t, 1, b.calls)
	})
	t.Run("no sub-rules", func(t *testing.T) {
		assert.False(t, mustNew(t, config.Description{"or": map[string]any{"rules": []any{}}}).Check(ctx, msg))
		assert.False(t, mustNew(t, config.Description{"or": map[string]any{}}).Check(ctx, msg))
	})
}

func TestAnd(t *testing.T) {
	ctx, msg := testContext(), testMessage()

	t.Run("all pass", func(t *testing.T) {
		r := &And{Rules: []Node{&stub{t: t, result: true}, &stub{t: t, result: true}}}
		assert.True(t, r.Check(ctx, msg))
	})
	t.Run("short circuit", func(t *testing.T) {
		r := &And{Rules: []Node{&stub{t: t}, &stub{t: t, never: true}}}
		assert.False(t, r.Check(ctx, msg))
	})
	t.Run("fail second", func(t *testing.T) {
		r := &And{Rules: []Node{&stub{t: t, result: true}, &stub{t: t}}}
		assert.False(t, r.Check(ctx, msg))
	})
	t.Run("no sub-rules", func(t *testing.T) {
		assert.False(t, mustNew(t, config.Description{"and": map[string]any{"rules": []any{}}}).Check(ctx, msg))
	})
}

func TestHeaderMatchers(t *testing.T) {
	ctx := testContext()
	tests := []struct {
		name    string
		matcher map[string]any
		msg     *message.Message
		want    bool
	}{
		{"substring match", map[string]any{"name": "to", "substring": "RECIPIENT1@example.com"}, testMessage(), true},
		{"substring no match", map[string]any{"name": "to", "substring": "recipient2@example.com"}, testMessage(), false},
		{"substring no such header", map[string]any{"name": "this-header-not-present", "substring": "x"}, testMessage(), false},
		{"substring i18n", map[string]any{"name": "subject", "substring": "ОТВЕТ"}, i18nMessage(), true},
		{"substring i18n no match", map[string]any{"name": "subject", "substring": "привет"}, i18nMessage(), false},
		{"regex match", map[string]any{"name": "to", "regex": `Recipient\d@`}, testMessage(), true},
		{"regex search not full match", map[string]any{"name": "subject", "regex": "reply"}, testMessage(), true},
		{"regex no match", map[string]any{"name": "to", "regex": `^nobody`}, testMessage(), false},
		{"regex no such header", map[string]any{"name": "this-header-not-present", "regex": ".+"}, testMessage(), false},
		{"regex i18n", map[string]any{"name": "from", "regex": "иванов"}, i18nMessage(), true},
		{"value match", map[string]any{"name": "to", "value": "Recipient1@Example.com"}, testMessage(), true},
		{"value no match", map[string]any{"name": "to", "value": "recipient1"}, testMessage(), false},
		{"value no such header", map[string]any{"name": "this-header-not-present", "value": "x"}, testMessage(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mustNew(t, config.Description{"headers": []any{tt.matcher}})
			assert.Equal(t, tt.want, r.Check(ctx, tt.msg))
		})
	}
}

func TestHeaders(t *testing.T) {
	ctx, msg := testContext(), testMessage()

	r := mustNew(t, config.Description{"headers": []any{
		map[string]any{"name": "to", "substring": "recipient1"},
		map[string]any{"name": "cc", "substring": "recipient2"},
	}})
	assert.True(t, r.Check(ctx, msg))

	r = mustNew(t, config.Description{"headers": []any{
		map[string]any{"name": "to", "substring": "recipient1"},
		map[string]any{"name": "cc", "substring": "recipient3"},
	}})
	assert.False(t, r.Check(ctx, msg))

	assert.False(t, mustNew(t, config.Description{"headers": []any{}}).Check(ctx, msg))

	h := &Headers{Matchers: []Node{&stub{t: t}, &stub{t: t, never: true}}}
	assert.False(t, h.Check(ctx, msg))
}

func TestHeaderMatcherErrors(t *testing.T) {
	for name, desc := range map[string]config.Description{
		"no matcher": {"headers": []any{map[string]any{"name": "to"}}},
		"no name":    {"headers": []any{map[string]any{"substring": "x"}}},
		"bad regex":  {"headers": []any{map[string]any{"name": "to", "regex": "("}}},
		"not a list": {"headers": map[string]any{"name": "to"}},
		"bad rules":  {"or": map[string]any{"rules": "nope"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New(desc, nil)
			assert.ErrorIs(t, err, ErrInvalidRule)
		})
	}
}

func TestRecipient(t *testing.T) {
	ctx := testContext()
	desc := config.Description{"recipient": map[string]any{"substring": "recipient2@example.com"}}
	r := mustNew(t, desc)
	assert.True(t, r.Check(ctx, testMessage()))
	assert.False(t, r.Check(ctx, i18nMessage()))

	or, ok := r.Node.(*Or)
	require.True(t, ok)
	require.Len(t, or.Rules, 2)
	assert.Equal(t, "to", or.Rules[0].(*Headers).Matchers[0].(*HeaderSubString).Name)
	assert.Equal(t, "cc", or.Rules[1].(*Headers).Matchers[0].(*HeaderSubString).Name)

	assert.Equal(t, config.Description{"recipient": map[string]any{"substring": "recipient2@example.com"}}, desc)

	regex := mustNew(t, config.Description{"recipient": map[string]any{"regex": `recipient\d@example`}})
	assert.True(t, regex.Check(ctx, i18nMessage()))
}

func TestHeaderExists(t *testing.T) {
	ctx := testContext()
	list := message.New(message.Field{Name: "List-Id", Value: ""})

	assert.True(t, mustNew(t, config.Description{"header-exists": "LIST-ID"}).Check(ctx, list))
	assert.True(t, mustNew(t, config.Description{"header-exists": map[string]any{"name": "list-id"}}).Check(ctx, list))
	assert.False(t, mustNew(t, config.Description{"header-exists": "list-id"}).Check(ctx, testMessage()))

	assert.True(t, mustNew(t, config.Description{"is-mailing-list": map[string]any{}}).Check(ctx, list))
	assert.False(t, mustNew(t, config.Description{"is-mailing-list": nil}).Check(ctx, testMessage()))

	_, err := New(config.Description{"header-exists": ""}, nil)
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestTimeLimit(t *testing.T) {
	ctx := testContext()
	now := func() time.Time { return time.Date(2016, 2, 1, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name string
		days int
		date string
		want bool
	}{
		{"older", 7, "Sat, 23 Jan 2016 16:19:10 -0500", true},
		{"newer", 30, "Sat, 23 Jan 2016 16:19:10 -0500", false},
		{"no zone is utc", 7, "Sun, 24 Jan 2016 23:59:59", true},
		{"no zone is utc newer", 7, "Mon, 25 Jan 2016 00:00:01", false},
		{"unparsable", 0, "not a date", false},
		{"empty", 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mustNew(t, config.Description{"time-limit": map[string]any{"age": tt.days}})
			tl := r.Node.(*TimeLimit)
			tl.now = now
			assert.Equal(t, tt.want, r.Check(ctx, message.New(message.Field{Name: "Date", Value: tt.date})))
		})
	}

	_, err := New(config.Description{"time-limit": map[string]any{"age": -1}}, nil)
	assert.ErrorIs(t, err, ErrInvalidRule)
	_, err = New(config.Description{"time-limit": map[string]any{}}, nil)
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestAction(t *testing.T) {
	r := mustNew(t, config.Description{
		"headers": []any{map[string]any{"name": "to", "substring": "x"}},
		"action":  map[string]any{"name": "move", "dest-mailbox": "Archive"},
	})
	assert.Equal(t, config.Description{"name": "move", "dest-mailbox": "Archive"}, r.Action())

	r = mustNew(t, config.Description{"is-mailing-list": true})
	assert.Empty(t, r.Action())
}

func TestNewList(t *testing.T) {
	cfg := &config.Config{}
	list, err := NewList([]config.Description{
		{"is-mailing-list": true},
		{"header-exists": "x-spam"},
	}, cfg)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = NewList([]config.Description{{"is-mailing-list": true}, {"nope": 1}}, cfg)
	assert.ErrorIs(t, err, ErrUnknownRule)
	assert.Contains(t, err.Error(), "rule 2")
}
