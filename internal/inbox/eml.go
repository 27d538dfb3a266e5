package inbox

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/emersion/go-message/charset" // decodes iso-8859-1 and windows-1252 parts
	"github.com/emersion/go-message/mail"
	"github.com/rotisserie/eris"

	"github.com/leadmail/leadmail/internal/lead"
)

// maxPartBytes bounds how much of a single MIME part is read
const maxPartBytes = 5 << 20

// ReadEML parses an RFC 5322 message. The first text/plain and text/html
// inline parts become Body and HTMLBody.
func ReadEML(r io.Reader) (lead.Message, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return lead.Message{}, eris.Wrap(err, "inbox: read message")
	}
	defer mr.Close()

	var msg lead.Message
	h := mr.Header
	msg.Subject, _ = h.Subject()
	msg.ID, _ = h.MessageID()
	msg.Date, _ = h.Date()
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
		msg.FromName = from[0].Name
	}
	if to, err := h.AddressList("To"); err == nil {
		for _, a := range to {
			msg.To = append(msg.To, a.Address)
		}
	}

	readParts(mr, &msg)
	return msg, nil
}

// ReadEMLFile reads one .eml file; the file name stands in for a missing
// Message-ID
func ReadEMLFile(path string) (lead.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return lead.Message{}, eris.Wrapf(err, "inbox: read %s", path)
	}
	msg, err := ReadEML(bytes.NewReader(data))
	if err != nil {
		return msg, eris.Wrapf(err, "inbox: parse %s", path)
	}
	if msg.ID == "" {
		msg.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return msg, nil
}

// readParts walks the MIME tree, keeping the first plain and html bodies.
// A malformed part ends the walk with whatever was read so far.
func readParts(mr *mail.Reader, msg *lead.Message) {
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return
		}
		if err != nil {
			return
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		if ct == "" {
			ct = "text/plain"
		}
		body, err := io.ReadAll(io.LimitReader(p.Body, maxPartBytes))
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(ct, "text/plain") && msg.Body == "":
			msg.Body = string(body)
		case strings.HasPrefix(ct, "text/html") && msg.HTMLBody == "":
			msg.HTMLBody = string(body)
		}
	}
}
