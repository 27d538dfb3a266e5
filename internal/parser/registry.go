package parser

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/leadmail/leadmail/internal/lead"
	"github.com/leadmail/leadmail/internal/validate"
)

// NoParserError is the error recorded when no parser claims a message
const NoParserError = "no suitable parser for this message"

// Result is the outcome of parsing one message
type Result struct {
	MessageID string          `json:"messageId"`
	Success   bool            `json:"success"`
	Record    *lead.Record    `json:"record,omitempty"`
	Parser    Dialect         `json:"parser,omitempty"`
	Status    validate.Status `json:"status,omitempty"`
	Errors    []string        `json:"errors"`
	Warnings  []string        `json:"warnings"`
	NoParser  bool            `json:"noParser,omitempty"`

	// Validation of Record, nil when parsing failed
	Validation *validate.Result `json:"-"`
}

// Info describes a registered parser
type Info struct {
	Name     Dialect `json:"name"`
	Priority int     `json:"priority"`
}

// Stat is the usage of one parser since the registry was created
type Stat struct {
	Name        Dialect `json:"name"`
	Priority    int     `json:"priority"`
	Used        int64   `json:"used"`
	Succeeded   int64   `json:"succeeded"`
	Failed      int64   `json:"failed"`
	SuccessRate float64 `json:"successRate"`
}

type entry struct {
	parser    Parser
	used      atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// Registry holds parsers ordered by descending priority. Parsers with the
// same priority keep their registration order, so selection is deterministic.
type Registry struct {
	mu      sync.RWMutex
	entries []*entry
	now     func() time.Time
}

// Option configures a Registry
type Option func(*Registry)

// WithClock overrides the time stamped on parsed records
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry returns an empty registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Default returns a registry with every built-in dialect registered
func Default(opts ...Option) *Registry {
	r := NewRegistry(opts...)
	for _, d := range Dialects {
		p, _ := New(d)
		r.Register(p)
	}
	return r
}

// Register adds p, keeping the priority order stable
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, &entry{parser: p})
	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].parser.Priority() > r.entries[j].parser.Priority()
	})
}

// Parsers lists registered parsers in selection order
func (r *Registry) Parsers() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, len(r.entries))
	for i, e := range r.entries {
		out[i] = Info{Name: e.parser.Name(), Priority: e.parser.Priority()}
	}
	return out
}

// Select returns the first parser willing to handle msg
func (r *Registry) Select(msg lead.Message) (Parser, bool) {
	if e := r.selectEntry(msg); e != nil {
		return e.parser, true
	}
	return nil, false
}

func (r *Registry) selectEntry(msg lead.Message) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.parser.CanParse(msg) {
			return e
		}
	}
	return nil
}

// Parse selects a parser, extracts the record and grades it. It never
// panics: a fault inside a parser becomes a failed Result.
func (r *Registry) Parse(msg lead.Message) (res Result) {
	res = Result{MessageID: msg.ID, Errors: []string{}, Warnings: []string{}}

	var used *entry
	defer func() {
		if v := recover(); v != nil {
			res.Success = false
			res.Record = nil
			res.Errors = append(res.Errors, fmt.Sprintf("parser fault: %v", v))
			if used != nil {
				used.failed.Add(1)
			}
		}
	}()

	used = r.selectEntry(msg)
	if used == nil {
		res.NoParser = true
		res.Errors = append(res.Errors, NoParserError)
		return res
	}
	res.Parser = used.parser.Name()
	used.used.Add(1)

	rec, err := used.parser.Parse(msg)
	if err == nil && rec == nil {
		err = eris.New("parser returned no record")
	}
	if err != nil {
		used.failed.Add(1)
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	rec.Finalize(string(res.Parser), msg.ID, r.now())
	v := validate.Validate(rec)
	used.succeeded.Add(1)

	res.Success = true
	res.Record = rec
	res.Validation = &v
	res.Status = v.Status
	res.Warnings = append(res.Warnings, rec.Metadata.Warnings...)
	res.Warnings = append(res.Warnings, v.Warnings...)
	return res
}

// ParseBatch parses msgs one after the other; results keep the input order
func (r *Registry) ParseBatch(msgs []lead.Message) []Result {
	out := make([]Result, len(msgs))
	for i, m := range msgs {
		out[i] = r.Parse(m)
	}
	return out
}

// ParseBatchParallel is ParseBatch spread over workers goroutines. Results
// keep the input order; only cancellation of ctx returns an error.
func (r *Registry) ParseBatchParallel(ctx context.Context, msgs []lead.Message, workers int) ([]Result, error) {
	if workers < 1 {
		workers = 1
	}
	out := make([]Result, len(msgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, m := range msgs {
		if gctx.Err() != nil {
			break
		}
		i, m := i, m
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = r.Parse(m)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, eris.Wrap(err, "parse batch")
	}
	if err := ctx.Err(); err != nil {
		return out, eris.Wrap(err, "parse batch")
	}
	return out, nil
}

// Stats reports per-parser usage in selection order
func (r *Registry) Stats() []Stat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Stat, len(r.entries))
	for i, e := range r.entries {
		s := Stat{
			Name:      e.parser.Name(),
			Priority:  e.parser.Priority(),
			Used:      e.used.Load(),
			Succeeded: e.succeeded.Load(),
			Failed:    e.failed.Load(),
		}
		if s.Used > 0 {
			s.SuccessRate = float64(s.Succeeded) / float64(s.Used)
		}
		out[i] = s
	}
	return out
}

// StatsSince returns the usage recorded in cur since the snapshot prev was
// taken. Parsers absent from prev count from zero.
func StatsSince(prev, cur []Stat) []Stat {
	base := make(map[Dialect]Stat, len(prev))
	for _, s := range prev {
		base[s.Name] = s
	}
	out := make([]Stat, 0, len(cur))
	for _, s := range cur {
		b := base[s.Name]
		d := Stat{
			Name:      s.Name,
			Priority:  s.Priority,
			Used:      s.Used - b.Used,
			Succeeded: s.Succeeded - b.Succeeded,
			Failed:    s.Failed - b.Failed,
		}
		if d.Used > 0 {
			d.SuccessRate = float64(d.Succeeded) / float64(d.Used)
		}
		out = append(out, d)
	}
	return out
}
