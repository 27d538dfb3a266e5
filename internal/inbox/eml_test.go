package inbox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multipartEML = "From: AssurLead <noreply@assurlead.fr>\r\n" +
	"To: leads@courtier.fr\r\n" +
	"Subject: =?UTF-8?Q?Nouveau_lead_=C3=A0_traiter?=\r\n" +
	"Message-ID: <abc123@assurlead.fr>\r\n" +
	"Date: Mon, 03 Mar 2025 10:00:00 +0100\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"XYZ\"\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Nom : DUPONT\r\nPrénom : Jean\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<table><tr><td>Nom</td><td>DUPONT</td></tr></table>\r\n" +
	"--XYZ--\r\n"

func TestReadEMLMultipart(t *testing.T) {
	msg, err := ReadEML(strings.NewReader(multipartEML))
	require.NoError(t, err)

	assert.Equal(t, "abc123@assurlead.fr", msg.ID)
	assert.Equal(t, "noreply@assurlead.fr", msg.From)
	assert.Equal(t, "AssurLead", msg.FromName)
	assert.Equal(t, []string{"leads@courtier.fr"}, msg.To)
	assert.Equal(t, "Nouveau lead à traiter", msg.Subject)
	assert.Contains(t, msg.Body, "Prénom : Jean")
	assert.Contains(t, msg.HTMLBody, "<table>")
	assert.Equal(t, 2025, msg.Date.Year())
}

func TestReadEMLLatin1(t *testing.T) {
	raw := "From: x@y.fr\r\nSubject: test\r\nContent-Type: text/plain; charset=iso-8859-1\r\n\r\nPr\xe9nom : Jean\r\n"
	msg, err := ReadEML(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "Prénom : Jean")
}

func TestReadEMLFileFallsBackToName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lead-42.eml")
	raw := "From: x@y.fr\r\nSubject: test\r\n\r\nbonjour\r\n"
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	msg, err := ReadEMLFile(path)
	require.NoError(t, err)
	assert.Equal(t, "lead-42", msg.ID)
	assert.Contains(t, msg.Body, "bonjour")
}

func TestReadEMLFileMissing(t *testing.T) {
	_, err := ReadEMLFile(filepath.Join(t.TempDir(), "nope.eml"))
	assert.Error(t, err)
}
