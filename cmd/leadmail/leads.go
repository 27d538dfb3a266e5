package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leadmail/leadmail/internal/importer"
	"github.com/leadmail/leadmail/internal/inbox"
	"github.com/leadmail/leadmail/internal/lead"
	"github.com/leadmail/leadmail/internal/notify"
	"github.com/leadmail/leadmail/internal/parser"
	"github.com/leadmail/leadmail/internal/store"
	"github.com/leadmail/leadmail/internal/template"
	"github.com/leadmail/leadmail/internal/validate"
)

func readFiles(paths []string) ([]lead.Message, error) {
	msgs := make([]lead.Message, 0, len(paths))
	for _, p := range paths {
		m, err := inbox.ReadEMLFile(p)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify FILE...",
		Short: "Tell whether .eml files are lead notifications",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(args)
		},
	}
}

func runClassify(paths []string) error {
	senders, err := loadSenders()
	if err != nil {
		return err
	}
	msgs, err := readFiles(paths)
	if err != nil {
		return err
	}

	results := inbox.ClassifyBatch(msgs, senders.Senders)
	if jsonOutput {
		return printJSON(results)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tLEAD\tMETHOD\tSCORE\tREASON")
	for i, r := range results {
		fmt.Fprintf(w, "%s\t%t\t%s\t%.1f\t%s\n", filepath.Base(paths[i]), r.IsLead, r.Method, r.Score, strings.Join(r.Reasons, "; "))
	}
	w.Flush()

	s := inbox.Summarize(results)
	fmt.Printf("\n%d message(s): %d lead(s) (%d known sender, %d content), %d delivery notice(s), %d rejected\n",
		s.Total, s.Leads, s.KnownSender, s.Content, s.Delivery, s.Rejected)
	return nil
}

func parseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse FILE...",
		Short: "Extract the lead record from .eml files",
		Long:  "Select a parser for every file, extract the prospect record and grade it. Nothing is stored.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(args)
		},
	}
}

func runParse(paths []string) error {
	msgs, err := readFiles(paths)
	if err != nil {
		return err
	}

	results := parser.Default().ParseBatch(msgs)
	if jsonOutput {
		return printJSON(results)
	}

	for i, r := range results {
		fmt.Printf("%s\n", filepath.Base(paths[i]))
		if !r.Success {
			fmt.Printf("  failed: %s\n\n", strings.Join(r.Errors, "; "))
			continue
		}
		v := r.Validation
		fmt.Printf("  parser   %s\n", r.Parser)
		fmt.Printf("  status   %s (%d/100), %s\n", v.Status, v.Score, v.Decision())
		printRecord(r.Record)
		if len(v.MissingRequiredFields) > 0 {
			fmt.Printf("  missing  %s\n", strings.Join(v.MissingRequiredFields, ", "))
		}
		for _, warn := range r.Warnings {
			fmt.Printf("  warning  %s\n", warn)
		}
		fmt.Println()
	}
	return nil
}

func printRecord(rec *lead.Record) {
	s := rec.Subscriber
	fields := []struct {
		label string
		f     *lead.Field[string]
	}{
		{"civility", s.Civility},
		{"lastName", s.LastName},
		{"firstName", s.FirstName},
		{"birthDate", s.BirthDate},
		{"email", s.Email},
		{"phone", s.Telephone},
		{"postal", s.PostalCode},
		{"city", s.City},
		{"regime", s.Regime},
		{"profession", s.Profession},
	}
	for _, fd := range fields {
		if fd.f != nil {
			fmt.Printf("  %-9s%s\n", fd.label, fd.f.Value)
		}
	}
	if rec.Spouse != nil {
		fmt.Println("  spouse   yes")
	}
	if n := len(rec.Children); n > 0 {
		fmt.Printf("  children %d\n", n)
	}
}

func importCmd() *cobra.Command {
	var (
		days      int
		dir       string
		watch     bool
		reprocess bool
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import messages into the database",
		Long: `Run the messages of the configured IMAP mailbox, or the .eml files of a
directory, through the pipeline and store the outcomes. Messages already
stored are skipped unless --reprocess is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("days") {
				days = cfg.Inbox.Days
			}
			return runImport(days, dir, watch, reprocess)
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Number of days to look back in the mailbox")
	cmd.Flags().StringVar(&dir, "dir", "", "Import the .eml files of this directory instead of the mailbox")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep watching the mailbox for new messages")
	cmd.Flags().BoolVar(&reprocess, "reprocess", false, "Process messages already in the database again")

	return cmd
}

func runImport(days int, dir string, watch, reprocess bool) error {
	senders, err := loadSenders()
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	im := importer.New(newPipeline(senders), st, importer.WithReprocess(reprocess))
	ctx, stop := signalContext()
	defer stop()

	if dir != "" {
		paths, err := filepath.Glob(filepath.Join(dir, "*.eml"))
		if err != nil {
			return eris.Wrap(err, "list .eml files")
		}
		msgs, err := readFiles(paths)
		if err != nil {
			return err
		}
		rep, err := im.Process(ctx, msgs)
		printReport(rep)
		return err
	}

	if err := cfg.ValidateInbox(); err != nil {
		fmt.Println("Mailbox import is not configured. Run 'leadmail init' or add to config.yaml:")
		fmt.Println()
		fmt.Println("inbox:")
		fmt.Println("  enabled: true")
		fmt.Println("  provider: gmail")
		fmt.Println("  email: you@example.com")
		fmt.Println("  password: your-app-password")
		return err
	}

	monitor := inbox.NewMonitor(cfg.Inbox)
	if err := monitor.Connect(ctx); err != nil {
		return err
	}
	defer monitor.Disconnect()

	rep, err := im.Run(ctx, monitor, days)
	if err == nil && cfg.Inbox.AutoArchive {
		rep.Archived, err = importer.Archive(monitor, cfg.Inbox.ArchiveFolder, rep.Outcomes)
	}
	printReport(rep)
	if err != nil || !watch {
		return err
	}

	if cfg.Inbox.AutoArchive {
		if err := monitor.EnsureFolderExists(cfg.Inbox.ArchiveFolder); err != nil {
			return err
		}
	}

	fmt.Println("\nWatching for new mail, Ctrl+C to stop")
	err = monitor.Watch(ctx, func(msg lead.Message) {
		rep, err := im.Process(ctx, []lead.Message{msg})
		if err != nil {
			zap.L().Warn("import: process new mail", zap.String("message_id", msg.ID), zap.Error(err))
			return
		}
		if rep.Processed == 0 {
			return
		}
		o := rep.Outcomes[0]
		fmt.Printf("%s  %s  %s\n", o.ProcessedAt.Format("15:04:05"), o.Decision, o.Subject)
		if cfg.Inbox.AutoArchive && o.Classification.IsLead && o.UID != 0 {
			if err := monitor.MoveToFolder(o.UID, cfg.Inbox.ArchiveFolder); err != nil {
				zap.L().Warn("import: archive", zap.Uint32("uid", o.UID), zap.Error(err))
			}
		}
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func printReport(rep importer.Report) {
	if jsonOutput {
		_ = printJSON(rep)
		return
	}
	fmt.Printf("Fetched %d message(s), skipped %d already imported\n", rep.Fetched, rep.Skipped)
	fmt.Printf("Processed %d: %d lead(s), %d to review, %d unreadable\n", rep.Processed, rep.Leads, rep.Review, rep.Failed)
	if rep.Archived > 0 {
		fmt.Printf("Archived %d message(s) to %s\n", rep.Archived, cfg.Inbox.ArchiveFolder)
	}
}

func statsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Number of recent outcomes to show")

	return cmd
}

func runStats(limit int) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats()
	if err != nil {
		return err
	}
	parsers, err := st.ParserStats()
	if err != nil {
		return err
	}
	recent, err := st.Recent(limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(map[string]any{"outcomes": stats, "parsers": parsers, "recent": recent})
	}

	fmt.Println("Outcomes")
	fmt.Printf("  Messages: %d\n", stats.Total)
	fmt.Printf("  Leads:    %d\n", stats.Leads)
	fmt.Printf("  Parsed:   %d (valid %d, partial %d, invalid %d)\n", stats.Parsed, stats.Valid, stats.Partial, stats.Invalid)

	if len(parsers) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PARSER\tPRIORITY\tUSED\tOK\tFAILED\tRATE")
		for _, p := range parsers {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%.0f%%\n", p.Name, p.Priority, p.Used, p.Succeeded, p.Failed, p.SuccessRate*100)
		}
		w.Flush()
	}

	if len(recent) > 0 {
		fmt.Println()
		fmt.Printf("Recent (last %d)\n", limit)
		for _, o := range recent {
			fmt.Printf("  %s  %-11s %-8s %s\n", o.ProcessedAt.Format("2006-01-02 15:04"), o.Decision, o.Status, truncate(o.Subject, 60))
		}
	}
	return nil
}

func reviewCmd() *cobra.Command {
	var (
		limit int
		send  bool
	)

	cmd := &cobra.Command{
		Use:   "review",
		Short: "List the leads that need a human",
		Long: `Build the review digest: leads complete enough to be confirmed, and
messages detected as leads that could not be parsed. With --send the digest
is mailed through the configured notification provider.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReview(limit, send)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of outcomes per category")
	cmd.Flags().BoolVar(&send, "send", false, "Send the digest instead of printing it")

	return cmd
}

// reviewOutcomes mirrors pipeline.NeedsReview on stored rows
func reviewOutcomes(st *store.Store, limit int) ([]store.Outcome, error) {
	confirm, err := st.ByDecision(validate.DecisionConfirm, limit)
	if err != nil {
		return nil, err
	}
	rejected, err := st.ByDecision(validate.DecisionReject, limit)
	if err != nil {
		return nil, err
	}
	out := confirm
	for _, o := range rejected {
		if o.Classified {
			out = append(out, o)
		}
	}
	return out, nil
}

func runReview(limit int, send bool) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	outcomes, err := reviewOutcomes(st, limit)
	if err != nil {
		return err
	}
	if len(outcomes) == 0 {
		fmt.Println("Nothing to review.")
		return nil
	}

	engine, err := template.NewEngine()
	if err != nil {
		return err
	}

	if !send {
		if jsonOutput {
			return printJSON(outcomes)
		}
		mail, err := engine.RenderDigest(outcomes)
		if err != nil {
			return err
		}
		fmt.Printf("Subject: %s\n\n%s", mail.Subject, mail.Body)
		return nil
	}

	if err := cfg.ValidateNotify(); err != nil {
		return err
	}
	sender, err := notify.NewSender(cfg.Notify)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	if _, err := notify.SendDigest(ctx, sender, engine, cfg.Notify.From, cfg.Notify.To, outcomes); err != nil {
		return err
	}
	fmt.Printf("Digest with %d lead(s) sent to %s\n", len(outcomes), strings.Join(cfg.Notify.To, ", "))
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
