package store

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/leadmail/leadmail/internal/lead"
	"github.com/leadmail/leadmail/internal/parser"
	"github.com/leadmail/leadmail/internal/pipeline"
	"github.com/leadmail/leadmail/internal/validate"
)

// Outcome is one processed message as persisted
type Outcome struct {
	ID          int64             `json:"id"`
	MessageID   string            `json:"messageId"`
	Subject     string            `json:"subject"`
	Sender      string            `json:"sender"`
	Classified  bool              `json:"classified"`
	Method      string            `json:"method"`
	ClassScore  float64           `json:"classScore"`
	Parser      string            `json:"parser,omitempty"`
	Success     bool              `json:"success"`
	Status      validate.Status   `json:"status,omitempty"`
	Decision    validate.Decision `json:"decision"`
	Score       int               `json:"score"`
	Record      *lead.Record      `json:"record,omitempty"`
	Errors      []string          `json:"errors"`
	Warnings    []string          `json:"warnings"`
	ProcessedAt time.Time         `json:"processedAt"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// FromPipeline flattens a pipeline outcome into a row
func FromPipeline(o pipeline.Outcome) *Outcome {
	row := &Outcome{
		MessageID:   o.MessageID,
		Subject:     o.Subject,
		Sender:      o.From,
		Classified:  o.Classification.IsLead,
		Method:      string(o.Classification.Method),
		ClassScore:  o.Classification.Score,
		Decision:    o.Decision,
		Errors:      []string{},
		Warnings:    []string{},
		ProcessedAt: o.ProcessedAt,
	}
	if p := o.Parse; p != nil {
		row.Parser = string(p.Parser)
		row.Success = p.Success
		row.Status = p.Status
		row.Record = p.Record
		row.Errors = append(row.Errors, p.Errors...)
		row.Warnings = append(row.Warnings, p.Warnings...)
	}
	if v := o.Validation; v != nil {
		row.Status = v.Status
		row.Score = v.Score
	}
	return row
}

// Stats summarizes the stored outcomes
type Stats struct {
	Total   int `json:"total"`
	Leads   int `json:"leads"`
	Parsed  int `json:"parsed"`
	Valid   int `json:"valid"`
	Partial int `json:"partial"`
	Invalid int `json:"invalid"`
}

type Store struct {
	db *sql.DB
}

const outcomeColumns = `id, message_id, subject, sender, classified, method, class_score, parser, success,
	status, decision, score, record_json, errors, warnings, processed_at, created_at`

// scanOutcome handles nullable columns when scanning a row
func scanOutcome(scanner interface{ Scan(...any) error }) (*Outcome, error) {
	var o Outcome
	var parserName, status, recordJSON, errorsJSON, warningsJSON sql.NullString
	var processedAt, createdAt sql.NullTime
	var classified, success int

	err := scanner.Scan(&o.ID, &o.MessageID, &o.Subject, &o.Sender, &classified, &o.Method, &o.ClassScore,
		&parserName, &success, &status, &o.Decision, &o.Score, &recordJSON, &errorsJSON, &warningsJSON,
		&processedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	o.Classified = classified == 1
	o.Success = success == 1
	o.Parser = parserName.String
	o.Status = validate.Status(status.String)
	o.ProcessedAt = processedAt.Time
	o.CreatedAt = createdAt.Time
	o.Errors, o.Warnings = []string{}, []string{}

	if recordJSON.String != "" {
		o.Record = &lead.Record{}
		if err := json.Unmarshal([]byte(recordJSON.String), o.Record); err != nil {
			return nil, eris.Wrap(err, "store: decode record")
		}
	}
	if errorsJSON.String != "" {
		if err := json.Unmarshal([]byte(errorsJSON.String), &o.Errors); err != nil {
			return nil, eris.Wrap(err, "store: decode errors")
		}
	}
	if warningsJSON.String != "" {
		if err := json.Unmarshal([]byte(warningsJSON.String), &o.Warnings); err != nil {
			return nil, eris.Wrap(err, "store: decode warnings")
		}
	}
	return &o, nil
}

func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
			return nil, eris.Wrap(err, "store: create directory")
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, eris.Wrap(err, "store: open database")
	}
	// a single connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL UNIQUE,
		subject TEXT,
		sender TEXT,
		classified INTEGER NOT NULL DEFAULT 0,
		method TEXT NOT NULL,
		class_score REAL NOT NULL DEFAULT 0,
		parser TEXT,
		success INTEGER NOT NULL DEFAULT 0,
		status TEXT,
		decision TEXT NOT NULL,
		score INTEGER NOT NULL DEFAULT 0,
		record_json TEXT,
		errors TEXT,
		warnings TEXT,
		processed_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_outcomes_status ON outcomes(status);
	CREATE INDEX IF NOT EXISTS idx_outcomes_decision ON outcomes(decision);
	CREATE INDEX IF NOT EXISTS idx_outcomes_processed_at ON outcomes(processed_at);

	CREATE TABLE IF NOT EXISTS parser_stats (
		name TEXT PRIMARY KEY,
		priority INTEGER NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME
	);
	`

	if _, err := s.db.Exec(query); err != nil {
		return eris.Wrap(err, "store: migrate")
	}
	return nil
}

// Add stores o, replacing any earlier outcome for the same message
func (s *Store) Add(o *Outcome) error {
	var recordJSON []byte
	if o.Record != nil {
		var err error
		if recordJSON, err = json.Marshal(o.Record); err != nil {
			return eris.Wrap(err, "store: encode record")
		}
	}
	errorsJSON, err := json.Marshal(nonNil(o.Errors))
	if err != nil {
		return eris.Wrap(err, "store: encode errors")
	}
	warningsJSON, err := json.Marshal(nonNil(o.Warnings))
	if err != nil {
		return eris.Wrap(err, "store: encode warnings")
	}

	query := `
	INSERT INTO outcomes (message_id, subject, sender, classified, method, class_score, parser, success,
		status, decision, score, record_json, errors, warnings, processed_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(message_id) DO UPDATE SET
		subject = excluded.subject, sender = excluded.sender, classified = excluded.classified,
		method = excluded.method, class_score = excluded.class_score, parser = excluded.parser,
		success = excluded.success, status = excluded.status, decision = excluded.decision,
		score = excluded.score, record_json = excluded.record_json, errors = excluded.errors,
		warnings = excluded.warnings, processed_at = excluded.processed_at
	`

	_, err = s.db.Exec(query,
		o.MessageID, o.Subject, o.Sender, boolInt(o.Classified), o.Method, o.ClassScore,
		nullString(o.Parser), boolInt(o.Success), nullString(string(o.Status)), string(o.Decision), o.Score,
		nullString(string(recordJSON)), string(errorsJSON), string(warningsJSON),
		o.ProcessedAt, time.Now(),
	)
	if err != nil {
		return eris.Wrapf(err, "store: insert outcome %s", o.MessageID)
	}

	if err := s.db.QueryRow(`SELECT id FROM outcomes WHERE message_id = ?`, o.MessageID).Scan(&o.ID); err != nil {
		return eris.Wrap(err, "store: read outcome id")
	}
	return nil
}

// Get returns the outcome for messageID, or nil when none is stored
func (s *Store) Get(messageID string) (*Outcome, error) {
	o, err := scanOutcome(s.db.QueryRow(`SELECT `+outcomeColumns+` FROM outcomes WHERE message_id = ?`, messageID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: query outcome")
	}
	return o, nil
}

// Processed reports whether messageID was already stored
func (s *Store) Processed(messageID string) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM outcomes WHERE message_id = ?`, messageID).Scan(&n); err != nil {
		return false, eris.Wrap(err, "store: query processed")
	}
	return n > 0, nil
}

// Recent lists the latest outcomes, newest first
func (s *Store) Recent(limit int) ([]Outcome, error) {
	return s.list(`SELECT `+outcomeColumns+` FROM outcomes ORDER BY processed_at DESC, id DESC LIMIT ?`, limit)
}

// ByStatus lists the latest outcomes with the given validation status
func (s *Store) ByStatus(status validate.Status, limit int) ([]Outcome, error) {
	return s.list(`SELECT `+outcomeColumns+` FROM outcomes WHERE status = ? ORDER BY processed_at DESC, id DESC LIMIT ?`,
		string(status), limit)
}

// ByDecision lists the latest outcomes with the given decision
func (s *Store) ByDecision(d validate.Decision, limit int) ([]Outcome, error) {
	return s.list(`SELECT `+outcomeColumns+` FROM outcomes WHERE decision = ? ORDER BY processed_at DESC, id DESC LIMIT ?`,
		string(d), limit)
}

func (s *Store) list(query string, args ...any) ([]Outcome, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: query outcomes")
	}
	defer rows.Close()

	out := []Outcome{}
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan outcome")
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *Store) Stats() (Stats, error) {
	query := `SELECT COUNT(*),
		COALESCE(SUM(classified), 0),
		COALESCE(SUM(success), 0),
		COALESCE(SUM(CASE WHEN status='valid' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status='partial' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status='invalid' THEN 1 ELSE 0 END), 0)
		FROM outcomes`

	var st Stats
	err := s.db.QueryRow(query).Scan(&st.Total, &st.Leads, &st.Parsed, &st.Valid, &st.Partial, &st.Invalid)
	if err != nil {
		return Stats{}, eris.Wrap(err, "store: stats")
	}
	return st, nil
}

// SaveParserStats adds a registry snapshot to the running totals
func (s *Store) SaveParserStats(stats []parser.Stat) error {
	tx, err := s.db.Begin()
	if err != nil {
		return eris.Wrap(err, "store: begin")
	}
	defer tx.Rollback()

	query := `
	INSERT INTO parser_stats (name, priority, used, succeeded, failed, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		priority = excluded.priority,
		used = used + excluded.used,
		succeeded = succeeded + excluded.succeeded,
		failed = failed + excluded.failed,
		updated_at = excluded.updated_at
	`
	now := time.Now()
	for _, st := range stats {
		if _, err := tx.Exec(query, string(st.Name), st.Priority, st.Used, st.Succeeded, st.Failed, now); err != nil {
			return eris.Wrapf(err, "store: save parser stats %s", st.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "store: commit parser stats")
	}
	return nil
}

// ParserStats returns the accumulated per-parser totals, highest priority first
func (s *Store) ParserStats() ([]parser.Stat, error) {
	rows, err := s.db.Query(`SELECT name, priority, used, succeeded, failed FROM parser_stats ORDER BY priority DESC, name`)
	if err != nil {
		return nil, eris.Wrap(err, "store: query parser stats")
	}
	defer rows.Close()

	out := []parser.Stat{}
	for rows.Next() {
		var st parser.Stat
		var name string
		if err := rows.Scan(&name, &st.Priority, &st.Used, &st.Succeeded, &st.Failed); err != nil {
			return nil, eris.Wrap(err, "store: scan parser stats")
		}
		st.Name = parser.Dialect(name)
		if st.Used > 0 {
			st.SuccessRate = float64(st.Succeeded) / float64(st.Used)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
