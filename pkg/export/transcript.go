// Package export writes finished consultations to external documents.
package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/teslashibe/go-galina/pkg/reply"
)

// Exporter stores a transcript and returns where it went.
type Exporter interface {
	Export(ctx context.Context, t Transcript) (string, error)
}

// Transcript is one finished consultation.
type Transcript struct {
	CallID    string
	StartedAt time.Time
	EndedAt   time.Time
	Profile   *reply.Profile
	Messages  []reply.Message
}

// Title is the document title.
func (t Transcript) Title() string {
	return fmt.Sprintf("Консультация %s", t.StartedAt.Format("2006-01-02 15:04"))
}

// Empty reports whether the client never said anything.
func (t Transcript) Empty() bool {
	for _, m := range t.Messages {
		if m.Role == reply.RoleUser {
			return false
		}
	}
	return true
}

// Format renders the transcript as plain document text. System messages
// are omitted.
func (t Transcript) Format() string {
	var b strings.Builder

	b.WriteString(t.Title())
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Звонок: %s\n", t.CallID)
	if !t.EndedAt.IsZero() {
		fmt.Fprintf(&b, "Длительность: %s\n", t.EndedAt.Sub(t.StartedAt).Round(time.Second))
	}
	if t.Profile != nil {
		if t.Profile.CaseType != "" {
			fmt.Fprintf(&b, "Тип дела: %s\n", t.Profile.CaseType)
		}
		if topics := t.Profile.Topics(); len(topics) > 0 {
			fmt.Fprintf(&b, "Темы: %s\n", strings.Join(topics, ", "))
		}
	}
	b.WriteString("\n")

	for _, m := range t.Messages {
		switch m.Role {
		case reply.RoleUser:
			b.WriteString("Клиент: ")
		case reply.RoleAssistant:
			b.WriteString("Галина: ")
		default:
			continue
		}
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}
