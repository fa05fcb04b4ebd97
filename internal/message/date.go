package message

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// ErrNoDate is returned by Date when the message has no usable date header.
var ErrNoDate = errors.New("no date header")

// Layouts tried after net/mail.ParseDate fails. Dates without a zone are
// read as UTC.
var dateLayouts = []string{
	// X-Mailer: EarthLink Zoo Mail 1.0
	"Mon, _2 Jan 2006 15:04:05 -0700 (GMT-07:00)",
	"Mon, _2 Jan 2006 15:04:05",
	"Mon, _2 Jan 2006 15:04",
	"_2 Jan 2006 15:04:05",
	"_2 Jan 2006 15:04",
	"Mon, _2 Jan 06 15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// Date parses the date header of the message.
func (m *Message) Date() (time.Time, error) {
	return ParseDate(m.Get("date"))
}

// ParseDate parses a mail date-time value.
func ParseDate(text string) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, ErrNoDate
	}
	if t, err := mail.ParseDate(text); err == nil {
		return t, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, text, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %q", text)
}
