package inbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadmail/leadmail/internal/config"
	"github.com/leadmail/leadmail/internal/lead"
)

// fetchBatchSize is how many messages one UID FETCH asks for
const fetchBatchSize = 50

// Monitor is the IMAP mailbox connector
type Monitor struct {
	config config.InboxConfig
	client *client.Client
	log    *zap.Logger
}

// NewMonitor creates a new inbox monitor
func NewMonitor(cfg config.InboxConfig) *Monitor {
	return &Monitor{
		config: cfg,
		log:    zap.L().With(zap.String("component", "inbox"), zap.String("server", cfg.Server)),
	}
}

// Connect establishes IMAP connection
func (m *Monitor) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%d", m.config.Server, m.config.Port)
	m.log.Info("connecting", zap.String("addr", addr))

	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return eris.Wrap(err, "inbox: connect")
	}

	if err := c.Login(m.config.Email, m.config.Password); err != nil {
		c.Logout()
		return eris.Wrap(err, "inbox: login")
	}

	m.client = c
	m.log.Info("logged in", zap.String("user", m.config.Email))
	return nil
}

// Disconnect closes the IMAP connection
func (m *Monitor) Disconnect() error {
	if m.client == nil {
		return nil
	}
	err := m.client.Logout()
	m.client = nil
	if err != nil {
		return eris.Wrap(err, "inbox: logout")
	}
	return nil
}

// FetchRecent fetches the messages of the configured folder received in the
// last days days, in batches
func (m *Monitor) FetchRecent(ctx context.Context, days int) ([]lead.Message, error) {
	if m.client == nil {
		return nil, eris.New("inbox: not connected to IMAP server")
	}

	mbox, err := m.client.Select(m.config.Folder, false)
	if err != nil {
		return nil, eris.Wrapf(err, "inbox: select mailbox %s", m.config.Folder)
	}
	m.log.Debug("mailbox selected", zap.String("folder", m.config.Folder), zap.Uint32("messages", mbox.Messages))
	if mbox.Messages == 0 {
		return nil, nil
	}

	since := time.Now().AddDate(0, 0, -days)
	criteria := imap.NewSearchCriteria()
	criteria.Since = since

	uids, err := m.client.UidSearch(criteria)
	if err != nil {
		return nil, eris.Wrap(err, "inbox: search")
	}
	m.log.Info("messages found", zap.Int("count", len(uids)), zap.Time("since", since))

	var msgs []lead.Message
	for i := 0; i < len(uids); i += fetchBatchSize {
		if err := ctx.Err(); err != nil {
			return msgs, err
		}
		end := min(i+fetchBatchSize, len(uids))
		batch, err := m.fetch(uids[i:end])
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, batch...)
	}
	return msgs, nil
}

func (m *Monitor) fetch(uids []uint32) ([]lead.Message, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- m.client.UidFetch(seqSet, items, messages)
	}()

	var out []lead.Message
	for msg := range messages {
		if lm, ok := convertMessage(msg, section); ok {
			out = append(out, lm)
		}
	}

	if err := <-done; err != nil {
		return out, eris.Wrap(err, "inbox: fetch")
	}
	return out, nil
}

// convertMessage turns a fetched IMAP message into a lead.Message
func convertMessage(msg *imap.Message, section *imap.BodySectionName) (lead.Message, bool) {
	if msg == nil || msg.Envelope == nil {
		return lead.Message{}, false
	}

	lm := lead.Message{
		ID:      msg.Envelope.MessageId,
		UID:     msg.Uid,
		Subject: msg.Envelope.Subject,
		Date:    msg.Envelope.Date,
	}
	if lm.ID == "" {
		lm.ID = fmt.Sprintf("uid-%d", msg.Uid)
	}
	if len(msg.Envelope.From) > 0 {
		from := msg.Envelope.From[0]
		lm.From = from.Address()
		lm.FromName = from.PersonalName
	}
	for _, to := range msg.Envelope.To {
		lm.To = append(lm.To, to.Address())
	}

	r := msg.GetBody(section)
	if r == nil {
		return lm, true
	}
	mr, err := mail.CreateReader(r)
	if err != nil {
		// keep the envelope, the body is unreadable
		return lm, true
	}
	readParts(mr, &lm)
	return lm, true
}

// Watch waits for new mail with IDLE and hands every message of the last
// day to fn. It blocks until ctx is done.
func (m *Monitor) Watch(ctx context.Context, fn func(lead.Message)) error {
	if m.client == nil {
		return eris.New("inbox: not connected to IMAP server")
	}
	if _, err := m.client.Select(m.config.Folder, false); err != nil {
		return eris.Wrap(err, "inbox: select mailbox")
	}

	updates := make(chan client.Update)
	m.client.Updates = updates

	stop := make(chan struct{})
	idleDone := make(chan error, 1)
	go func() {
		idleDone <- m.client.Idle(stop, nil)
	}()

	m.log.Info("watching for new mail", zap.String("folder", m.config.Folder))

	for {
		select {
		case <-ctx.Done():
			close(stop)
			return ctx.Err()
		case update := <-updates:
			u, ok := update.(*client.MailboxUpdate)
			if !ok {
				continue
			}
			m.log.Info("new mail detected", zap.Uint32("messages", u.Mailbox.Messages))
			close(stop)
			<-idleDone

			msgs, err := m.FetchRecent(ctx, 1)
			if err != nil {
				m.log.Warn("fetch new mail", zap.Error(err))
			}
			for _, msg := range msgs {
				fn(msg)
			}

			stop = make(chan struct{})
			go func() {
				idleDone <- m.client.Idle(stop, nil)
			}()
		case err := <-idleDone:
			if err != nil {
				return eris.Wrap(err, "inbox: idle")
			}
		}
	}
}

// EnsureFolderExists creates a folder/label if it doesn't already exist
func (m *Monitor) EnsureFolderExists(name string) error {
	if m.client == nil {
		return eris.New("inbox: not connected to IMAP server")
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- m.client.List("", "*", mailboxes)
	}()

	exists := false
	for mbox := range mailboxes {
		if strings.EqualFold(mbox.Name, name) {
			exists = true
		}
	}
	if err := <-done; err != nil {
		return eris.Wrap(err, "inbox: list folders")
	}
	if exists {
		return nil
	}

	if err := m.client.Create(name); err != nil {
		return eris.Wrapf(err, "inbox: create folder %q", name)
	}
	m.log.Info("folder created", zap.String("folder", name))
	return nil
}

// MoveToFolder moves a single message to folder by UID
func (m *Monitor) MoveToFolder(uid uint32, folder string) error {
	return m.move([]uint32{uid}, folder)
}

// ArchiveMessages moves processed messages to the archive folder
func (m *Monitor) ArchiveMessages(uids []uint32, folder string) error {
	if len(uids) == 0 {
		return nil
	}
	if m.client == nil {
		return eris.New("inbox: not connected to IMAP server")
	}
	if _, err := m.client.Select(m.config.Folder, false); err != nil {
		return eris.Wrap(err, "inbox: select mailbox")
	}
	if err := m.move(uids, folder); err != nil {
		return err
	}
	m.log.Info("archived", zap.Int("count", len(uids)), zap.String("folder", folder))
	return nil
}

func (m *Monitor) move(uids []uint32, folder string) error {
	if m.client == nil {
		return eris.New("inbox: not connected to IMAP server")
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	// MOVE (RFC 6851) when supported, otherwise COPY + DELETE
	if err := m.client.UidMove(seqSet, folder); err == nil {
		return nil
	}
	if err := m.client.UidCopy(seqSet, folder); err != nil {
		return eris.Wrapf(err, "inbox: copy to %q", folder)
	}

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}
	if err := m.client.UidStore(seqSet, item, flags, nil); err != nil {
		return eris.Wrap(err, "inbox: mark deleted")
	}
	if err := m.client.Expunge(nil); err != nil {
		return eris.Wrap(err, "inbox: expunge")
	}
	return nil
}
