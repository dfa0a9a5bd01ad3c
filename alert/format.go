package alert

import (
	"fmt"
	"strings"

	"sneakerdrop-notifier/pkg/notifier"
)

// Embed colours by urgency.
const (
	ColorUrgent   = 0xFF0000
	ColorUpcoming = 0xFFA500
	ColorEarly    = 0x00FF00
)

// Field is a labelled value shown alongside the message.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Message is a provider-neutral rendering of a reminder.
type Message struct {
	Title       string
	Description string
	URL         string
	Color       int
	Fields      []Field
}

// Text flattens the message for providers without rich formatting.
func (m Message) Text() string {
	var b strings.Builder
	b.WriteString(m.Description)
	for _, f := range m.Fields {
		fmt.Fprintf(&b, "\n%s: %s", f.Name, f.Value)
	}
	if m.URL != "" {
		b.WriteString("\n")
		b.WriteString(m.URL)
	}
	return b.String()
}

// Format renders a reminder.
func Format(r notifier.Reminder) Message {
	short, long := timeLeft(r)
	return Message{
		Title:       fmt.Sprintf("Sneaker Drop Reminder (%s)", short),
		Description: fmt.Sprintf("**%s** drops in **%s**!", r.SneakerName, long),
		URL:         r.URL,
		Color:       urgencyColor(r.MinutesLeft),
		Fields: []Field{
			{Name: "Brand", Value: orDash(r.Brand), Inline: true},
			{Name: "Drop Time", Value: orDash(r.DropTimeDisplay), Inline: true},
			{Name: "Minutes Left", Value: short, Inline: true},
		},
	}
}

func timeLeft(r notifier.Reminder) (short, long string) {
	if r.Stage == notifier.StageOneDay {
		return r.Stage.Label(), r.Stage.Label()
	}
	return fmt.Sprintf("%d min", r.MinutesLeft), fmt.Sprintf("%d minutes", r.MinutesLeft)
}

func urgencyColor(minutesLeft int) int {
	switch {
	case minutesLeft <= 5:
		return ColorUrgent
	case minutesLeft <= 15:
		return ColorUpcoming
	default:
		return ColorEarly
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
