package web

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"
	"github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

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

const (
	defaultRateWindow = time.Minute
	defaultListLimit  = 50
	maxListLimit      = 500
	jobRetention      = time.Hour
)

type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) filterRecent(times []time.Time, windowStart time.Time) []time.Time {
	n := 0
	for _, t := range times {
		if t.After(windowStart) {
			times[n] = t
			n++
		}
	}
	return times[:n]
}

func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	recent := rl.filterRecent(rl.requests[key], now.Add(-rl.window))

	if len(recent) >= rl.limit {
		rl.requests[key] = recent
		return false
	}
	rl.requests[key] = append(recent, now)
	return true
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		windowStart := time.Now().Add(-rl.window)
		for key, times := range rl.requests {
			recent := rl.filterRecent(times, windowStart)
			if len(recent) == 0 {
				delete(rl.requests, key)
			} else {
				rl.requests[key] = recent
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware rejects clients over the limit with 429
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Server is the JSON API over the lead pipeline
type Server struct {
	config      *config.Config
	pipeline    *pipeline.Pipeline
	store       *store.Store
	senders     *allowlist.Database
	outcomes    *cache.Cache
	httpServer  *http.Server
	csrfKey     []byte
	rateLimiter *RateLimiter
	jobManager  *JobManager
	importer    *importer.Importer
	newMailbox  func(config.InboxConfig) importer.Mailbox
	log         *zap.Logger
}

// Option configures a Server
type Option func(*Server)

// WithMailbox replaces the IMAP monitor used by import jobs
func WithMailbox(fn func(config.InboxConfig) importer.Mailbox) Option {
	return func(s *Server) { s.newMailbox = fn }
}

// NewServer wires the API. senders may be nil when no allowlist is configured.
func NewServer(cfg *config.Config, p *pipeline.Pipeline, st *store.Store, senders *allowlist.Database, opts ...Option) (*Server, error) {
	csrfKey := make([]byte, 32)
	if _, err := rand.Read(csrfKey); err != nil {
		return nil, eris.Wrap(err, "web: generate CSRF key")
	}
	if senders == nil {
		senders = &allowlist.Database{}
	}

	ttl := time.Duration(cfg.Server.CacheTTLSecs) * time.Second
	rate := cfg.Server.RatePerMinute
	if rate <= 0 {
		rate = config.Default().Server.RatePerMinute
	}

	s := &Server{
		config:      cfg,
		pipeline:    p,
		store:       st,
		senders:     senders,
		outcomes:    cache.New(ttl, 2*ttl),
		csrfKey:     csrfKey,
		rateLimiter: NewRateLimiter(rate, defaultRateWindow),
		jobManager:  NewJobManager(),
		importer:    importer.New(p, st),
		newMailbox:  func(c config.InboxConfig) importer.Mailbox { return inbox.NewMonitor(c) },
		log:         zap.L().Named("web"),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Handler returns the routed handler, middleware included
func (s *Server) Handler() http.Handler {
	return s.setupRouter()
}

// Start serves the API until Shutdown is called
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.setupRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("listening", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "web: serve")
	}
	return nil
}

// Shutdown cancels running imports and stops the listener
func (s *Server) Shutdown(ctx context.Context) error {
	if job := s.jobManager.GetActive(); job != nil {
		job.Cancel()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(s.rateLimiter.Middleware)
	r.Use(plaintextLocal)

	csrfMiddleware := csrf.Protect(
		s.csrfKey,
		csrf.Secure(false),
		csrf.Path("/"),
		csrf.HttpOnly(true),
		csrf.SameSite(csrf.SameSiteStrictMode),
		csrf.RequestHeader("X-CSRF-Token"),
		csrf.TrustedOrigins(s.trustedOrigins()),
		csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusForbidden, csrf.FailureReason(r).Error())
		})),
	)

	r.Route("/api", func(r chi.Router) {
		r.Use(csrfMiddleware)
		r.Get("/csrf", s.handleCSRF)

		r.Post("/classify", s.handleClassify)
		r.Post("/parse", s.handleParse)
		r.Post("/validate", s.handleValidate)
		r.Post("/process", s.handleProcess)

		r.Get("/parsers", s.handleParsers)
		r.Get("/senders", s.handleSenders)
		r.Get("/stats", s.handleStats)
		r.Get("/outcomes", s.handleOutcomes)
		r.Get("/outcomes/{messageID}", s.handleOutcome)

		r.Post("/import", s.handleImport)
		r.Get("/jobs/active", s.handleJobActive)
		r.Get("/jobs/{jobID}", s.handleJobStatus)
		r.Post("/jobs/{jobID}/cancel", s.handleJobCancel)
	})

	return r
}

func (s *Server) trustedOrigins() []string {
	port := s.config.Server.Port
	return []string{
		"localhost", "127.0.0.1",
		fmt.Sprintf("localhost:%d", port), fmt.Sprintf("127.0.0.1:%d", port),
	}
}

// plaintextLocal tells the csrf middleware that requests without TLS are
// plain HTTP, so Referer checks only apply to HTTPS
func plaintextLocal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			r = csrf.PlaintextHTTPRequest(r)
		}
		next.ServeHTTP(w, r)
	})
}

// securityHeaders adds security headers to all responses
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// responses carry personal data
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		w.Header().Set("Pragma", "no-cache")

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("web: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// readMessage decodes the request body: a raw email when the content type
// is message/rfc822, a JSON lead.Message otherwise
func (s *Server) readMessage(w http.ResponseWriter, r *http.Request) (lead.Message, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxUploadBytes)

	var msg lead.Message
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "message/rfc822" {
		m, err := inbox.ReadEML(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return msg, false
		}
		return m, true
	}

	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid message: "+err.Error())
		return msg, false
	}
	return msg, true
}

func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"token": csrf.Token(r)})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.readMessage(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, inbox.Classify(msg, s.senders.Senders))
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.readMessage(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.pipeline.Registry().Parse(msg))
}

type validateResponse struct {
	validate.Result
	Decision validate.Decision `json:"decision"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxUploadBytes)

	var rec lead.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid record: "+err.Error())
		return
	}
	res := validate.Validate(&rec)
	writeJSON(w, http.StatusOK, validateResponse{Result: res, Decision: res.Decision()})
}

// handleProcess runs the whole pipeline and stores the outcome
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.readMessage(w, r)
	if !ok {
		return
	}
	if msg.ID == "" {
		writeError(w, http.StatusBadRequest, "message id is required")
		return
	}

	out := s.pipeline.Process(msg)
	if err := s.save([]pipeline.Outcome{out}); err != nil {
		s.log.Error("store outcome", zap.String("message_id", msg.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store outcome")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// save stores outcomes and drops their cached copies
func (s *Server) save(outcomes []pipeline.Outcome) error {
	if err := s.importer.Save(outcomes); err != nil {
		return err
	}
	for _, o := range outcomes {
		s.outcomes.Delete(o.MessageID)
	}
	return nil
}

func (s *Server) handleParsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Registry().Parsers())
}

func (s *Server) handleSenders(w http.ResponseWriter, r *http.Request) {
	senders := s.senders.Senders
	if senders == nil {
		senders = []allowlist.Sender{}
	}
	writeJSON(w, http.StatusOK, senders)
}

type statsResponse struct {
	Outcomes store.Stats   `json:"outcomes"`
	Parsers  []parser.Stat `json:"parsers"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats()
	if err != nil {
		s.log.Error("stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	ps, err := s.store.ParserStats()
	if err != nil {
		s.log.Error("parser stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load parser stats")
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Outcomes: st, Parsers: ps})
}

// handleOutcomes lists stored outcomes, optionally filtered by ?status= or
// ?decision=, newest first
func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxListLimit)
	}

	var (
		list []store.Outcome
		err  error
	)
	q := r.URL.Query()
	switch {
	case q.Get("status") != "":
		list, err = s.store.ByStatus(validate.Status(q.Get("status")), limit)
	case q.Get("decision") != "":
		list, err = s.store.ByDecision(validate.Decision(q.Get("decision")), limit)
	default:
		list, err = s.store.Recent(limit)
	}
	if err != nil {
		s.log.Error("list outcomes", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list outcomes")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "messageID")
	if v, ok := s.outcomes.Get(id); ok {
		writeJSON(w, http.StatusOK, v)
		return
	}

	o, err := s.store.Get(id)
	if err != nil {
		s.log.Error("get outcome", zap.String("message_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load outcome")
		return
	}
	if o == nil {
		writeError(w, http.StatusNotFound, "outcome not found")
		return
	}
	s.outcomes.SetDefault(id, o)
	writeJSON(w, http.StatusOK, o)
}

// handleImport starts a background mailbox import; ?days= overrides the
// configured window
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if err := s.config.ValidateInbox(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	days := s.config.Inbox.Days
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid days")
			return
		}
		days = n
	}
	if active := s.jobManager.GetActive(); active != nil {
		writeJSON(w, http.StatusConflict, active.Snapshot())
		return
	}

	s.jobManager.Cleanup(jobRetention)
	job := s.jobManager.Create(context.Background())
	go s.runImport(job, days)

	writeJSON(w, http.StatusAccepted, job.Snapshot())
}

func (s *Server) runImport(job *Job, days int) {
	ctx := job.Context()
	log := s.log.With(zap.String("job_id", job.ID))

	mb := s.newMailbox(s.config.Inbox)
	if err := mb.Connect(ctx); err != nil {
		log.Error("import: connect", zap.Error(err))
		job.StopWithError(err)
		return
	}
	defer mb.Disconnect()

	msgs, err := mb.FetchRecent(ctx, days)
	if err != nil {
		if !job.IsCancelled() {
			log.Error("import: fetch", zap.Error(err))
			job.StopWithError(err)
		}
		return
	}
	job.SetFetched(len(msgs))

	rep, err := s.importer.Process(ctx, msgs)
	for _, o := range rep.Outcomes {
		s.outcomes.Delete(o.MessageID)
	}
	job.Update(rep)
	if err != nil {
		if !job.IsCancelled() {
			log.Error("import: process", zap.Error(err))
			job.StopWithError(err)
		}
		return
	}

	if s.config.Inbox.AutoArchive {
		if _, err := importer.Archive(mb, s.config.Inbox.ArchiveFolder, rep.Outcomes); err != nil {
			log.Warn("import: archive", zap.Error(err))
		}
	}
	job.Complete()
}

func (s *Server) handleJobActive(w http.ResponseWriter, r *http.Request) {
	job := s.jobManager.GetActive()
	if job == nil {
		writeJSON(w, http.StatusOK, map[string]any{"job": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job.Snapshot()})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job := s.jobManager.Get(chi.URLParam(r, "jobID"))
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	job := s.jobManager.Get(chi.URLParam(r, "jobID"))
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	job.Cancel()
	writeJSON(w, http.StatusOK, job.Snapshot())
}
