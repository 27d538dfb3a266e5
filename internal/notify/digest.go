package notify

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadmail/leadmail/internal/store"
	"github.com/leadmail/leadmail/internal/template"
)

// SendDigest renders the review digest for outcomes and sends it from
// from to every address of to. Nothing is sent when outcomes is empty.
func SendDigest(ctx context.Context, s Sender, engine *template.Engine, from string, to []string, outcomes []store.Outcome) (Result, error) {
	if len(outcomes) == 0 {
		return Result{Success: true}, nil
	}

	mail, err := engine.RenderDigest(outcomes)
	if err != nil {
		return Result{}, err
	}

	res := s.Send(ctx, Message{To: to, From: from, Subject: mail.Subject, Body: mail.Body})
	if !res.Success {
		return res, eris.Wrapf(res.Error, "notify: send digest via %s", s.Name())
	}
	zap.L().Info("review digest sent",
		zap.String("provider", s.Name()),
		zap.Int("items", len(outcomes)),
		zap.String("message_id", res.MessageID),
	)
	return res, nil
}
