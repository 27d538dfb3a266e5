package importer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadmail/leadmail/internal/lead"
	"github.com/leadmail/leadmail/internal/parser"
	"github.com/leadmail/leadmail/internal/pipeline"
	"github.com/leadmail/leadmail/internal/store"
)

const completeLead = "Civilité : Monsieur\nNom : DUPONT\nPrénom : Jean\nDate de naissance : 01/02/1980\n" +
	"Code postal : 75001\nRégime : Salarié\nDate d'effet : 01/03/2025\nEmail : jean@example.com\nTéléphone : 0612345678"

type mailbox struct {
	msgs      []lead.Message
	fetchErr  error
	archived  []uint32
	folder    string
	ensureErr error
}

func (m *mailbox) Connect(context.Context) error { return nil }
func (m *mailbox) Disconnect() error             { return nil }
func (m *mailbox) FetchRecent(context.Context, int) ([]lead.Message, error) {
	return m.msgs, m.fetchErr
}
func (m *mailbox) EnsureFolderExists(name string) error {
	m.folder = name
	return m.ensureErr
}
func (m *mailbox) ArchiveMessages(uids []uint32, _ string) error {
	m.archived = append(m.archived, uids...)
	return nil
}

func setup(t *testing.T, opts ...Option) (*Importer, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "leadmail.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(pipeline.New(nil), st, opts...), st
}

func messages() []lead.Message {
	return []lead.Message{
		{ID: "a", UID: 1, Subject: "Demande de devis", Body: completeLead},
		{ID: "b", UID: 2, Subject: "Réunion", Body: "La réunion est reportée."},
	}
}

func genericUsed(t *testing.T, st *store.Store) int64 {
	t.Helper()
	stats, err := st.ParserStats()
	require.NoError(t, err)
	for _, s := range stats {
		if s.Name == parser.DialectGeneric {
			return s.Used
		}
	}
	return 0
}

func TestRun(t *testing.T) {
	im, st := setup(t)
	mb := &mailbox{msgs: messages()}

	rep, err := im.Run(context.Background(), mb, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Fetched)
	assert.Equal(t, 0, rep.Skipped)
	assert.Equal(t, 2, rep.Processed)
	assert.Equal(t, 1, rep.Leads)
	assert.Equal(t, 0, rep.Review)
	assert.Equal(t, 0, rep.Failed)

	got, err := st.Get("a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Success)
	assert.Equal(t, int64(1), genericUsed(t, st))
}

func TestRunSkipsStoredMessages(t *testing.T) {
	im, st := setup(t)
	mb := &mailbox{msgs: messages()}

	_, err := im.Run(context.Background(), mb, 7)
	require.NoError(t, err)

	rep, err := im.Run(context.Background(), mb, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Skipped)
	assert.Zero(t, rep.Processed)
	assert.Equal(t, int64(1), genericUsed(t, st))
}

func TestReprocessCountsOnce(t *testing.T) {
	im, st := setup(t, WithReprocess(true))
	mb := &mailbox{msgs: messages()}

	for n := 0; n < 2; n++ {
		rep, err := im.Run(context.Background(), mb, 7)
		require.NoError(t, err)
		assert.Zero(t, rep.Skipped)
	}
	// each run adds only its own parser usage
	assert.Equal(t, int64(2), genericUsed(t, st))

	st2, err := st.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, st2.Total)
}

func TestRunFetchError(t *testing.T) {
	im, _ := setup(t)
	boom := errors.New("imap down")
	_, err := im.Run(context.Background(), &mailbox{fetchErr: boom}, 7)
	assert.ErrorIs(t, err, boom)
}

func TestProcessCancelled(t *testing.T) {
	im, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := im.Process(ctx, messages())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, rep.Fetched)
	assert.Zero(t, rep.Processed)
}

func TestArchive(t *testing.T) {
	im, _ := setup(t)
	mb := &mailbox{msgs: append(messages(), lead.Message{ID: "c", Subject: "Demande de devis", Body: completeLead})}

	rep, err := im.Run(context.Background(), mb, 7)
	require.NoError(t, err)

	n, err := Archive(mb, "Leads", rep.Outcomes)
	require.NoError(t, err)
	// "c" has no UID
	assert.Equal(t, 1, n)
	assert.Equal(t, []uint32{1}, mb.archived)
	assert.Equal(t, "Leads", mb.folder)

	n, err = Archive(mb, "Leads", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
