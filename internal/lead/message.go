package lead

import (
	"strings"
	"time"

	"github.com/leadmail/leadmail/internal/text"
)

// Message is a raw email as handed over by the mailbox connector.
// Body and HTMLBody are untrusted and may be malformed.
type Message struct {
	ID       string    `json:"id"`
	UID      uint32    `json:"uid,omitempty"` // IMAP UID, zero for file imports
	Subject  string    `json:"subject"`
	From     string    `json:"from"`
	FromName string    `json:"fromName,omitempty"`
	To       []string  `json:"to,omitempty"`
	Date     time.Time `json:"date"`
	Snippet  string    `json:"snippet,omitempty"`
	Body     string    `json:"body"`
	HTMLBody string    `json:"htmlBody,omitempty"`
	Labels   []string  `json:"labels,omitempty"`
}

// Text returns the cleaned message body, preferring the plain-text part
func (m Message) Text() string {
	if strings.TrimSpace(m.Body) != "" {
		return text.Clean(m.Body, false)
	}
	return text.Clean(m.HTMLBody, true)
}

// RawText returns the body without whitespace normalization, keeping tabs
func (m Message) RawText() string {
	if strings.TrimSpace(m.Body) != "" {
		return text.CleanKeepTabs(m.Body, false)
	}
	return text.CleanKeepTabs(m.HTMLBody, true)
}

// Preview returns the snippet, or the cleaned body when no snippet was provided
func (m Message) Preview() string {
	if strings.TrimSpace(m.Snippet) != "" {
		return text.Clean(m.Snippet, false)
	}
	return m.Text()
}
