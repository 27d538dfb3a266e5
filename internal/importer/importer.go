// Package importer moves mailbox messages through the pipeline into the
// store. It is shared by the import command and the API import jobs.
package importer

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadmail/leadmail/internal/lead"
	"github.com/leadmail/leadmail/internal/parser"
	"github.com/leadmail/leadmail/internal/pipeline"
	"github.com/leadmail/leadmail/internal/store"
)

// Mailbox is the part of the IMAP monitor an import needs
type Mailbox interface {
	Connect(ctx context.Context) error
	FetchRecent(ctx context.Context, days int) ([]lead.Message, error)
	EnsureFolderExists(name string) error
	ArchiveMessages(uids []uint32, folder string) error
	Disconnect() error
}

// Report counts what an import did
type Report struct {
	Fetched   int                `json:"fetched"`
	Skipped   int                `json:"skipped"` // already stored
	Processed int                `json:"processed"`
	Leads     int                `json:"leads"`
	Review    int                `json:"review"`
	Failed    int                `json:"failed"` // leads no parser could read
	Archived  int                `json:"archived"`
	Outcomes  []pipeline.Outcome `json:"-"`
}

// Importer stores pipeline outcomes. Parser usage is added to the stored
// totals as the difference since the previous Save.
type Importer struct {
	pipeline  *pipeline.Pipeline
	store     *store.Store
	reprocess bool
	log       *zap.Logger

	mu        sync.Mutex
	lastStats []parser.Stat
}

// Option configures an Importer
type Option func(*Importer)

// WithReprocess runs messages already present in the store again
func WithReprocess(on bool) Option {
	return func(im *Importer) { im.reprocess = on }
}

func New(p *pipeline.Pipeline, st *store.Store, opts ...Option) *Importer {
	im := &Importer{
		pipeline:  p,
		store:     st,
		log:       zap.L().Named("importer"),
		lastStats: p.Registry().Stats(),
	}
	for _, o := range opts {
		o(im)
	}
	return im
}

// Save persists outcomes, replacing earlier rows for the same messages
func (im *Importer) Save(outcomes []pipeline.Outcome) error {
	for _, o := range outcomes {
		if err := im.store.Add(store.FromPipeline(o)); err != nil {
			return err
		}
	}

	im.mu.Lock()
	defer im.mu.Unlock()
	cur := im.pipeline.Registry().Stats()
	if err := im.store.SaveParserStats(parser.StatsSince(im.lastStats, cur)); err != nil {
		return err
	}
	im.lastStats = cur
	return nil
}

// Fresh drops the messages the store already holds
func (im *Importer) Fresh(msgs []lead.Message) ([]lead.Message, error) {
	if im.reprocess {
		return msgs, nil
	}
	out := make([]lead.Message, 0, len(msgs))
	for _, m := range msgs {
		done, err := im.store.Processed(m.ID)
		if err != nil {
			return nil, err
		}
		if !done {
			out = append(out, m)
		}
	}
	return out, nil
}

// Process runs the fresh part of msgs through the pipeline and saves the
// outcomes. When ctx is cancelled the outcomes finished so far are still
// saved and the context error is returned with the partial report.
func (im *Importer) Process(ctx context.Context, msgs []lead.Message) (Report, error) {
	rep := Report{Fetched: len(msgs)}

	fresh, err := im.Fresh(msgs)
	if err != nil {
		return rep, err
	}
	rep.Skipped = len(msgs) - len(fresh)

	outcomes, runErr := im.pipeline.Run(ctx, fresh)
	if err := im.Save(outcomes); err != nil {
		return rep, eris.Wrap(err, "import: save outcomes")
	}

	rep.Outcomes = outcomes
	rep.Processed = len(outcomes)
	for _, o := range outcomes {
		if o.Classification.IsLead {
			rep.Leads++
		}
		if o.Parse != nil && !o.Parse.Success {
			rep.Failed++
		}
	}
	rep.Review = len(pipeline.NeedsReview(outcomes))

	im.log.Info("import processed",
		zap.Int("fetched", rep.Fetched),
		zap.Int("skipped", rep.Skipped),
		zap.Int("leads", rep.Leads),
		zap.Int("review", rep.Review),
	)
	return rep, runErr
}

// Run fetches the last days days of mail and processes them
func (im *Importer) Run(ctx context.Context, mb Mailbox, days int) (Report, error) {
	msgs, err := mb.FetchRecent(ctx, days)
	if err != nil {
		return Report{}, err
	}
	return im.Process(ctx, msgs)
}

// Archive moves the mailbox copies of detected leads to folder and returns
// how many were moved
func Archive(mb Mailbox, folder string, outcomes []pipeline.Outcome) (int, error) {
	var uids []uint32
	for _, o := range outcomes {
		if o.Classification.IsLead && o.UID != 0 {
			uids = append(uids, o.UID)
		}
	}
	if len(uids) == 0 {
		return 0, nil
	}
	if err := mb.EnsureFolderExists(folder); err != nil {
		return 0, err
	}
	if err := mb.ArchiveMessages(uids, folder); err != nil {
		return 0, err
	}
	return len(uids), nil
}
