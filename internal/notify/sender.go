// Package notify delivers the review digest through SMTP, SendGrid or Resend.
package notify

import (
	"context"
	"net/mail"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/leadmail/leadmail/internal/config"
)

type Message struct {
	To      []string
	From    string
	Subject string
	Body    string
}

type Result struct {
	Success   bool
	MessageID string
	Error     error
}

type Sender interface {
	Send(ctx context.Context, msg Message) Result
	Name() string
}

// NewSender builds the sender named by cfg.Provider
func NewSender(cfg config.NotifyConfig) (Sender, error) {
	switch cfg.Provider {
	case config.ProviderSMTP:
		return NewSMTPSender(cfg.SMTP), nil
	case config.ProviderSendGrid:
		return NewSendGridSender(cfg.APIKey), nil
	case config.ProviderResend:
		return NewResendSender(cfg.APIKey), nil
	}
	return nil, eris.Errorf("notify: unknown provider %q", cfg.Provider)
}

// ValidateEmail checks for injection characters and RFC 5322 compliance
func ValidateEmail(email string) error {
	if strings.ContainsAny(email, "\r\n,;") {
		return eris.New("email contains invalid characters")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return eris.Wrap(err, "invalid email format")
	}
	return nil
}

func validateMessage(msg Message) error {
	if err := ValidateEmail(msg.From); err != nil {
		return eris.Wrap(err, "invalid sender")
	}
	if len(msg.To) == 0 {
		return eris.New("no recipient")
	}
	for _, to := range msg.To {
		if err := ValidateEmail(to); err != nil {
			return eris.Wrap(err, "invalid recipient")
		}
	}
	// Reject headers with CRLF to prevent injection
	if strings.ContainsAny(msg.Subject, "\r\n") {
		return eris.New("subject contains invalid characters")
	}
	return nil
}
