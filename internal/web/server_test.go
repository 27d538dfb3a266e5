package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadmail/leadmail/internal/allowlist"
	"github.com/leadmail/leadmail/internal/config"
	"github.com/leadmail/leadmail/internal/importer"
	"github.com/leadmail/leadmail/internal/inbox"
	"github.com/leadmail/leadmail/internal/lead"
	"github.com/leadmail/leadmail/internal/parser"
	"github.com/leadmail/leadmail/internal/pipeline"
	"github.com/leadmail/leadmail/internal/store"
	"github.com/leadmail/leadmail/internal/validate"
)

const completeLead = "Civilité : Monsieur\nNom : DUPONT\nPrénom : Jean\nDate de naissance : 01/02/1980\n" +
	"Code postal : 75001\nRégime : Salarié\nDate d'effet : 01/03/2025\nEmail : jean@example.com\nTéléphone : 0612345678"

type fakeMailbox struct {
	mu       sync.Mutex
	msgs     []lead.Message
	archived []uint32
	folder   string
}

func (f *fakeMailbox) Connect(context.Context) error { return nil }
func (f *fakeMailbox) Disconnect() error             { return nil }
func (f *fakeMailbox) FetchRecent(context.Context, int) ([]lead.Message, error) {
	return f.msgs, nil
}
func (f *fakeMailbox) EnsureFolderExists(string) error { return nil }
func (f *fakeMailbox) ArchiveMessages(uids []uint32, folder string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, uids...)
	f.folder = folder
	return nil
}

type client struct {
	t       *testing.T
	handler http.Handler
	cookies []*http.Cookie
	token   string
}

func newTestServer(t *testing.T, cfg *config.Config, opts ...Option) (*Server, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "leadmail.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	senders := &allowlist.Database{Senders: []allowlist.Sender{
		{Pattern: "assurlead.fr", MatchType: allowlist.MatchDomain, Bonus: 50},
	}}
	p := pipeline.New(nil, pipeline.WithKnownSenders(senders.Senders))
	srv, err := NewServer(cfg, p, st, senders, opts...)
	require.NoError(t, err)
	return srv, st
}

// newClient fetches a csrf token the way a browser would
func newClient(t *testing.T, srv *Server) *client {
	t.Helper()
	c := &client{t: t, handler: srv.Handler()}
	rec := c.do(http.MethodGet, "/api/csrf", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body["token"])
	c.token = body["token"]
	c.cookies = rec.Result().Cookies()
	return c
}

func (c *client) do(method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("X-CSRF-Token", c.token)
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func (c *client) postJSON(path string, v any) *httptest.ResponseRecorder {
	data, err := json.Marshal(v)
	require.NoError(c.t, err)
	return c.do(http.MethodPost, path, "application/json", data)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSecurityHeaders(t *testing.T) {
	srv, _ := newTestServer(t, config.Default())
	rec := newClient(t, srv).do(http.MethodGet, "/api/parsers", "", nil)

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
}

func TestPostWithoutCSRFToken(t *testing.T) {
	srv, _ := newTestServer(t, config.Default())
	c := &client{t: t, handler: srv.Handler()}

	rec := c.postJSON("/api/classify", lead.Message{ID: "x", Body: completeLead})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestClassify(t *testing.T) {
	srv, _ := newTestServer(t, config.Default())
	c := newClient(t, srv)

	rec := c.postJSON("/api/classify", lead.Message{ID: "c1", Subject: "Demande de devis", Body: completeLead})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[inbox.Classification](t, rec)
	assert.True(t, got.IsLead)
	assert.Equal(t, inbox.MethodContent, got.Method)

	rec = c.postJSON("/api/classify", lead.Message{ID: "c2", From: "robot@assurlead.fr", Body: "bonjour"})
	got = decode[inbox.Classification](t, rec)
	assert.True(t, got.IsLead)
	assert.Equal(t, inbox.MethodKnownSender, got.Method)
}

func TestClassifyRejectsBadJSON(t *testing.T) {
	srv, _ := newTestServer(t, config.Default())
	rec := newClient(t, srv).do(http.MethodPost, "/api/classify", "application/json", []byte("{"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseRawEmail(t *testing.T) {
	srv, _ := newTestServer(t, config.Default())
	raw := "From: Lead <lead@example.com>\r\nSubject: Demande\r\nMessage-ID: <p1@example.com>\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n\r\n" + strings.ReplaceAll(completeLead, "\n", "\r\n")

	rec := newClient(t, srv).do(http.MethodPost, "/api/parse", "message/rfc822", []byte(raw))
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[parser.Result](t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, parser.DialectGeneric, res.Parser)
	require.NotNil(t, res.Record)
	assert.Equal(t, "Jean", res.Record.Subscriber.FirstName.Value)
}

func TestUploadLimit(t *testing.T) {
	cfg := config.Default()
	cfg.Server.MaxUploadBytes = 16
	srv, _ := newTestServer(t, cfg)

	rec := newClient(t, srv).postJSON("/api/parse", lead.Message{ID: "big", Body: completeLead})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidate(t *testing.T) {
	srv, _ := newTestServer(t, config.Default())
	rec := lead.Record{}
	rec.Subscriber.LastName = lead.Parsed("DUPONT", lead.High, "")

	res := newClient(t, srv).postJSON("/api/validate", rec)
	require.Equal(t, http.StatusOK, res.Code)
	got := decode[validateResponse](t, res)
	assert.Equal(t, validate.StatusInvalid, got.Status)
	assert.Equal(t, validate.DecisionReject, got.Decision)
	assert.Contains(t, got.MissingRequiredFields, "firstName")
}

func TestProcessStoresOutcome(t *testing.T) {
	srv, st := newTestServer(t, config.Default())
	c := newClient(t, srv)

	rec := c.postJSON("/api/process", lead.Message{ID: "p1", Subject: "Demande de devis", Body: completeLead})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[pipeline.Outcome](t, rec)
	assert.Equal(t, validate.DecisionAutoCreate, out.Decision)

	stored, err := st.Get("p1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, validate.StatusValid, stored.Status)

	rec = c.do(http.MethodGet, "/api/outcomes/p1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p1", decode[store.Outcome](t, rec).MessageID)

	rec = c.do(http.MethodGet, "/api/outcomes?status=valid", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.Outcome](t, rec), 1)

	rec = c.do(http.MethodGet, "/api/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[statsResponse](t, rec)
	assert.Equal(t, 1, stats.Outcomes.Total)
	var generic parser.Stat
	for _, s := range stats.Parsers {
		if s.Name == parser.DialectGeneric {
			generic = s
		}
	}
	assert.Equal(t, int64(1), generic.Used)
}

func TestProcessRequiresID(t *testing.T) {
	srv, _ := newTestServer(t, config.Default())
	rec := newClient(t, srv).postJSON("/api/process", lead.Message{Body: completeLead})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReprocessRefreshesCache(t *testing.T) {
	srv, _ := newTestServer(t, config.Default())
	c := newClient(t, srv)

	c.postJSON("/api/process", lead.Message{ID: "r1", Subject: "Réunion", Body: "rien"})
	first := decode[store.Outcome](t, c.do(http.MethodGet, "/api/outcomes/r1", "", nil))
	assert.False(t, first.Classified)

	c.postJSON("/api/process", lead.Message{ID: "r1", Subject: "Demande de devis", Body: completeLead})
	second := decode[store.Outcome](t, c.do(http.MethodGet, "/api/outcomes/r1", "", nil))
	assert.True(t, second.Classified)
}

func TestOutcomeNotFound(t *testing.T) {
	srv, _ := newTestServer(t, config.Default())
	c := newClient(t, srv)

	assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/api/outcomes/missing", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/api/outcomes?limit=x", "", nil).Code)
}

func TestParsersAndSenders(t *testing.T) {
	srv, _ := newTestServer(t, config.Default())
	c := newClient(t, srv)

	infos := decode[[]parser.Info](t, c.do(http.MethodGet, "/api/parsers", "", nil))
	require.Len(t, infos, 3)
	assert.Equal(t, parser.DialectAssurProspect, infos[0].Name)

	senders := decode[[]allowlist.Sender](t, c.do(http.MethodGet, "/api/senders", "", nil))
	require.Len(t, senders, 1)
	assert.Equal(t, "assurlead.fr", senders[0].Pattern)
}

func inboxConfig() *config.Config {
	cfg := config.Default()
	cfg.Inbox.Enabled = true
	cfg.Inbox.Server = "imap.example.com"
	cfg.Inbox.Email = "me@example.com"
	cfg.Inbox.Password = "secret"
	cfg.Inbox.AutoArchive = true
	return cfg
}

func TestImportJob(t *testing.T) {
	mb := &fakeMailbox{msgs: []lead.Message{
		{ID: "i1", UID: 11, Subject: "Demande de devis", Body: completeLead},
		{ID: "i2", UID: 12, Subject: "Réunion", Body: "La réunion est reportée."},
		{ID: "i3", UID: 13, Subject: "Demande", Body: completeLead},
	}}
	srv, st := newTestServer(t, inboxConfig(), WithMailbox(func(config.InboxConfig) importer.Mailbox { return mb }))
	c := newClient(t, srv)

	// already imported messages are skipped
	require.NoError(t, st.Add(&store.Outcome{MessageID: "i3", ProcessedAt: time.Now()}))

	rec := c.do(http.MethodPost, "/api/import?days=3", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	job := decode[JobView](t, rec)
	require.NotEmpty(t, job.ID)

	require.Eventually(t, func() bool {
		v := decode[JobView](t, c.do(http.MethodGet, "/api/jobs/"+job.ID, "", nil))
		return v.Status != JobStatusRunning
	}, 5*time.Second, 20*time.Millisecond)

	v := decode[JobView](t, c.do(http.MethodGet, "/api/jobs/"+job.ID, "", nil))
	assert.Equal(t, JobStatusCompleted, v.Status)
	assert.Equal(t, 3, v.Fetched)
	assert.Equal(t, 2, v.Processed)
	assert.Equal(t, 1, v.Skipped)
	assert.Equal(t, 1, v.Leads)
	assert.Equal(t, 100, v.Progress)

	mb.mu.Lock()
	assert.Equal(t, []uint32{11}, mb.archived)
	assert.Equal(t, "Leads", mb.folder)
	mb.mu.Unlock()

	done, err := st.Processed("i1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestImportRequiresInbox(t *testing.T) {
	srv, _ := newTestServer(t, config.Default())
	rec := newClient(t, srv).do(http.MethodPost, "/api/import", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, config.Default())
	c := newClient(t, srv)

	assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/api/jobs/nope", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodPost, "/api/jobs/nope/cancel", "", nil).Code)

	job := srv.jobManager.Create(context.Background())
	rec := c.do(http.MethodPost, "/api/jobs/"+job.ID+"/cancel", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, JobStatusCancelled, decode[JobView](t, rec).Status)
	assert.ErrorIs(t, job.Context().Err(), context.Canceled)

	active := decode[map[string]any](t, c.do(http.MethodGet, "/api/jobs/active", "", nil))
	assert.Nil(t, active["job"])
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := config.Default()
	cfg.Server.RatePerMinute = 2
	srv, _ := newTestServer(t, cfg)
	c := newClient(t, srv)

	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/parsers", "", nil).Code)
	rec := c.do(http.MethodGet, "/api/parsers", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestJobManagerCleanup(t *testing.T) {
	jm := NewJobManager()
	done := jm.Create(context.Background())
	done.Complete()
	running := jm.Create(context.Background())

	jm.Cleanup(-time.Second)
	assert.Nil(t, jm.Get(done.ID))
	assert.Same(t, running, jm.Get(running.ID))
	assert.Same(t, running, jm.GetActive())
}
