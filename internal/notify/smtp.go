package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/leadmail/leadmail/internal/config"
)

type SMTPSender struct {
	config config.SMTPConfig
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{config: cfg}
}

func (s *SMTPSender) Name() string { return config.ProviderSMTP }

func (s *SMTPSender) Send(ctx context.Context, msg Message) Result {
	if err := validateMessage(msg); err != nil {
		return Result{Error: err}
	}
	if err := ctx.Err(); err != nil {
		return Result{Error: err}
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	body := buildMessage(msg)

	var err error
	if s.config.UseTLS {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		err = s.sendWithTLS(addr, auth, msg.From, msg.To, body)
	} else {
		if s.config.Username != "" {
			return Result{Error: eris.New("SMTP auth requires TLS")}
		}
		err = smtp.SendMail(addr, nil, msg.From, msg.To, body)
	}
	if err != nil {
		return Result{Error: sanitizeSMTPError(err)}
	}

	return Result{
		Success:   true,
		MessageID: fmt.Sprintf("smtp-%d", time.Now().UnixNano()),
	}
}

func buildMessage(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}

func sanitizeSMTPError(err error) error {
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "auth") {
		return eris.New("SMTP authentication failed")
	}
	if strings.Contains(s, "certificate") {
		return eris.New("TLS certificate error")
	}
	return eris.New("SMTP error: check your configuration")
}

func (s *SMTPSender) sendWithTLS(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{
		ServerName: s.config.Host,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return eris.Wrap(err, "TLS connection failed")
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return eris.Wrap(err, "SMTP client creation failed")
	}
	defer client.Close()

	if err := client.Auth(auth); err != nil {
		return eris.Wrap(err, "authentication failed")
	}
	if err := client.Mail(from); err != nil {
		return eris.Wrap(err, "sender rejected")
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return eris.Wrapf(err, "recipient %s rejected", rcpt)
		}
	}

	w, err := client.Data()
	if err != nil {
		return eris.Wrap(err, "data command failed")
	}
	if _, err = w.Write(msg); err != nil {
		return eris.Wrap(err, "message write failed")
	}
	if err := w.Close(); err != nil {
		return eris.Wrap(err, "message finalization failed")
	}
	return client.Quit()
}
