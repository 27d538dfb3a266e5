package notify

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/leadmail/leadmail/internal/config"
)

type SendGridSender struct {
	client *sendgrid.Client
}

func NewSendGridSender(apiKey string) *SendGridSender {
	return &SendGridSender{client: sendgrid.NewSendClient(apiKey)}
}

func (s *SendGridSender) Name() string { return config.ProviderSendGrid }

func (s *SendGridSender) Send(ctx context.Context, msg Message) Result {
	if err := validateMessage(msg); err != nil {
		return Result{Error: err}
	}

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail("", msg.From))
	m.Subject = msg.Subject
	p := mail.NewPersonalization()
	for _, to := range msg.To {
		p.AddTos(mail.NewEmail("", to))
	}
	m.AddPersonalizations(p)
	m.AddContent(mail.NewContent("text/plain", msg.Body))

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return Result{Error: eris.Wrap(err, "sendgrid: send")}
	}
	if resp.StatusCode >= 300 {
		return Result{Error: eris.Errorf("sendgrid: status %d", resp.StatusCode)}
	}

	res := Result{Success: true}
	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 {
		res.MessageID = ids[0]
	}
	return res
}
