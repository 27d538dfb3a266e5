package notify

import (
	"context"

	"github.com/resend/resend-go/v2"
	"github.com/rotisserie/eris"

	"github.com/leadmail/leadmail/internal/config"
)

type ResendSender struct {
	client *resend.Client
}

func NewResendSender(apiKey string) *ResendSender {
	return &ResendSender{client: resend.NewClient(apiKey)}
}

func (s *ResendSender) Name() string { return config.ProviderResend }

func (s *ResendSender) Send(ctx context.Context, msg Message) Result {
	if err := validateMessage(msg); err != nil {
		return Result{Error: err}
	}

	sent, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    msg.From,
		To:      msg.To,
		Subject: msg.Subject,
		Text:    msg.Body,
	})
	if err != nil {
		return Result{Error: eris.Wrap(err, "resend: send")}
	}
	return Result{Success: true, MessageID: sent.Id}
}
