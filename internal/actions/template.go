package actions

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/pepperpark/autofiler/internal/message"
)

// destTemplate computes a destination mailbox name. Names without "{{" are
// used as they are. Otherwise the name is a text/template executed against
// the message headers, keyed by lower-cased name with "-" replaced by "_",
// plus a date value:
//
//	lists.{{.list_id}}
//	archive.{{.date.Year}}.{{.date.Format "01"}}
type destTemplate struct {
	raw  string
	tmpl *template.Template
}

func parseTemplate(raw string) (*destTemplate, error) {
	d := &destTemplate{raw: raw}
	if !strings.Contains(raw, "{{") {
		return d, nil
	}
	t, err := template.New("dest-mailbox").Option("missingkey=error").Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: dest-mailbox: %v", ErrInvalidAction, err)
	}
	d.tmpl = t
	return d, nil
}

// Execute renders the destination for msg.
func (d *destTemplate) Execute(msg *message.Message) (string, error) {
	if d.tmpl == nil {
		return d.raw, nil
	}
	var b strings.Builder
	if err := d.tmpl.Execute(&b, templateData(msg)); err != nil {
		return "", err
	}
	return b.String(), nil
}

func templateData(msg *message.Message) map[string]any {
	data := make(map[string]any, msg.Len()+1)
	for _, f := range msg.Fields() {
		key := strings.ReplaceAll(strings.ToLower(f.Name), "-", "_")
		if _, ok := data[key]; !ok {
			data[key] = f.Value
		}
	}
	data["date"] = dateValue{raw: msg.Get("date")}
	return data
}

// dateValue exposes the parsed message date to templates. Every accessor
// fails when the date cannot be parsed.
type dateValue struct {
	raw string
}

func (d dateValue) String() string { return d.raw }

func (d dateValue) parse() (time.Time, error) {
	return message.ParseDate(d.raw)
}

func (d dateValue) Year() (int, error) {
	t, err := d.parse()
	return t.Year(), err
}

func (d dateValue) Month() (int, error) {
	t, err := d.parse()
	return int(t.Month()), err
}

func (d dateValue) Day() (int, error) {
	t, err := d.parse()
	return t.Day(), err
}

func (d dateValue) Format(layout string) (string, error) {
	t, err := d.parse()
	if err != nil {
		return "", err
	}
	return t.Format(layout), nil
}
