package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const raw = "From: Sender Name <sender@example.com>\r\n" +
	"Subject: Re: reply to previous message\r\n" +
	"Date: Sat, 23 Jan 2016 16:19:10 -0500\r\n" +
	"To: recipient1@example.com\r\n" +
	"CC: recipient2@example.com\r\n" +
	"Received: from a.example.com\r\n" +
	"Received: from b.example.com\r\n" +
	"X-Long: first part\r\n" +
	" second part\r\n" +
	"\r\n" +
	"This is the body.\r\n"

func TestParse(t *testing.T) {
	m, err := Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "Re: reply to previous message", m.Subject())
	assert.Equal(t, "recipient1@example.com", m.To())
	assert.Equal(t, "recipient2@example.com", m.Get("cc"))
	assert.Equal(t, "recipient2@example.com", m.Get("Cc"))
	assert.Equal(t, []string{"from a.example.com", "from b.example.com"}, m.Values("RECEIVED"))
	assert.Equal(t, "first part second part", m.Get("x-long"))
	assert.Equal(t, []byte(raw), m.Raw())
	assert.Equal(t, 8, m.Len())
}

func TestParseHeaderOnly(t *testing.T) {
	m, err := Parse([]byte("Subject: headers only\r\nTo: a@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "headers only", m.Subject())
	assert.Equal(t, "a@example.com", m.To())
}

func TestParseEncodedWords(t *testing.T) {
	m, err := Parse([]byte("Subject: =?utf-8?b?UmU6INC+0YLQstC10YI=?=\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "Re: ответ", m.Subject())
}

func TestMissingHeader(t *testing.T) {
	m := New(Field{Name: "To", Value: "a@example.com"})
	assert.Equal(t, "", m.Get("this-header-not-present"))
	assert.Nil(t, m.Values("this-header-not-present"))
	assert.False(t, m.Has("list-id"))
	assert.True(t, m.Has("TO"))
}

func TestHasEmpty(t *testing.T) {
	m := New(Field{Name: "List-Id", Value: ""})
	assert.True(t, m.Has("list-id"))
}

func TestDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"Sat, 23 Jan 2016 16:19:10 -0500", time.Date(2016, 1, 23, 21, 19, 10, 0, time.UTC)},
		{"23 Jan 2016 16:19:10 +0000", time.Date(2016, 1, 23, 16, 19, 10, 0, time.UTC)},
		{"Sat, 23 Jan 2016 16:19:10", time.Date(2016, 1, 23, 16, 19, 10, 0, time.UTC)},
		{"2016-01-23 16:19:10", time.Date(2016, 1, 23, 16, 19, 10, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestDateErrors(t *testing.T) {
	_, err := New().Date()
	assert.ErrorIs(t, err, ErrNoDate)

	_, err = New(Field{Name: "Date", Value: "  "}).Date()
	assert.ErrorIs(t, err, ErrNoDate)

	_, err = New(Field{Name: "Date", Value: "not a date"}).Date()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoDate)
}
