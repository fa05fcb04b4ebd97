// Package message holds the parsed representation of a mail message that
// rules and actions are evaluated against.
package message

import (
	"bufio"
	"bytes"
	"fmt"
	"mime"
	"strings"

	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/textproto"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// Field is one header line of a message.
type Field struct {
	Name  string
	Value string
}

// Message is an immutable snapshot of a message: its header fields in the
// order they appeared (duplicates preserved) and the raw bytes it was parsed
// from.
type Message struct {
	fields []Field
	raw    []byte
}

// New builds a message from header fields. It is mostly useful in tests.
func New(fields ...Field) *Message {
	m := &Message{fields: make([]Field, len(fields))}
	copy(m.fields, fields)
	return m
}

// Parse reads the header block of raw. Anything after the header block is
// kept as part of Raw but not interpreted.
func Parse(raw []byte) (*Message, error) {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(terminated(raw))))
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	m := &Message{raw: raw}
	fields := h.Fields()
	for fields.Next() {
		m.fields = append(m.fields, Field{
			Name:  fields.Key(),
			Value: decode(fields.Value()),
		})
	}
	return m, nil
}

// terminated makes sure a header-only block (as returned by
// BODY.PEEK[HEADER] on some servers) ends with the empty line the header
// reader expects.
func terminated(raw []byte) []byte {
	if bytes.Contains(raw, []byte("\n\n")) || bytes.Contains(raw, []byte("\r\n\r\n")) {
		return raw
	}
	out := make([]byte, 0, len(raw)+4)
	out = append(out, raw...)
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\r', '\n')
	}
	return append(out, '\r', '\n')
}

// decode unfolds v and decodes RFC 2047 encoded-words. Values that fail to
// decode are returned unfolded but otherwise untouched.
func decode(v string) string {
	v = strings.NewReplacer("\r\n", "", "\n", "").Replace(v)
	if !strings.Contains(v, "=?") {
		return v
	}
	dec, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return dec
}

// Get returns the first value of the named header, or "" when the message
// has no such header.
func (m *Message) Get(name string) string {
	for _, f := range m.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Values returns every value of the named header in message order.
func (m *Message) Values(name string) []string {
	var vals []string
	for _, f := range m.fields {
		if strings.EqualFold(f.Name, name) {
			vals = append(vals, f.Value)
		}
	}
	return vals
}

// Has reports whether the named header is present, even with an empty value.
func (m *Message) Has(name string) bool {
	for _, f := range m.fields {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Fields returns a copy of all header fields.
func (m *Message) Fields() []Field {
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out
}

// Len returns the number of header fields.
func (m *Message) Len() int { return len(m.fields) }

// Raw returns the bytes the message was parsed from. For messages fetched
// from an IMAP server this is only the header block.
func (m *Message) Raw() []byte { return m.raw }

func (m *Message) Subject() string { return m.Get("subject") }
func (m *Message) From() string    { return m.Get("from") }
func (m *Message) To() string      { return m.Get("to") }
