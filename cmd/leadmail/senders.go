package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/leadmail/leadmail/internal/allowlist"
)

func sendersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "senders",
		Short: "Manage the known sender allowlist",
		Long:  "Messages from a known sender are treated as leads whatever their content.",
	}

	cmd.AddCommand(sendersListCmd())
	cmd.AddCommand(sendersAddCmd())
	cmd.AddCommand(sendersRemoveCmd())
	return cmd
}

func sendersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known senders",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := loadSenders()
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(db.Senders)
			}
			if len(db.Senders) == 0 {
				fmt.Println("No known senders. Add one with: leadmail senders add <domain>")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PATTERN\tMATCH\tBONUS\tNAME\tNOTES")
			for _, s := range db.Senders {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", s.Pattern, s.MatchType, s.Score(), s.Name, s.Notes)
			}
			return w.Flush()
		},
	}
}

func sendersAddCmd() *cobra.Command {
	var s allowlist.Sender

	cmd := &cobra.Command{
		Use:   "add PATTERN",
		Short: "Add a known sender",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := loadSenders()
			if err != nil {
				return err
			}
			s.Pattern = args[0]
			if err := db.Add(s); err != nil {
				return err
			}
			if err := db.SaveWithBackup(resolveSendersPath()); err != nil {
				return err
			}
			fmt.Printf("Added %s (%s)\n", s.Pattern, s.MatchType)
			return nil
		},
	}

	cmd.Flags().StringVar(&s.MatchType, "match", allowlist.MatchDomain, "Match type: email, domain or contains")
	cmd.Flags().IntVar(&s.Bonus, "bonus", allowlist.DefaultBonus, "Score given to matching messages")
	cmd.Flags().StringVar(&s.Name, "name", "", "Display name of the provider")
	cmd.Flags().StringVar(&s.Notes, "notes", "", "Free-form notes")

	return cmd
}

func sendersRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove PATTERN",
		Short: "Remove a known sender",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := loadSenders()
			if err != nil {
				return err
			}
			removed := db.Remove(args[0])
			if removed == nil {
				return eris.Errorf("no known sender %q", args[0])
			}
			if err := db.SaveWithBackup(resolveSendersPath()); err != nil {
				return err
			}
			fmt.Printf("Removed %s\n", removed.Pattern)
			return nil
		},
	}
}
