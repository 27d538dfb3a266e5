package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leadmail/leadmail/internal/allowlist"
	"github.com/leadmail/leadmail/internal/config"
	"github.com/leadmail/leadmail/internal/parser"
	"github.com/leadmail/leadmail/internal/pipeline"
	"github.com/leadmail/leadmail/internal/store"
	"github.com/leadmail/leadmail/internal/web"
)

var (
	cfgFile     string
	sendersFile string
	jsonOutput  bool

	cfg *config.Config
)

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

func resolveSendersPath() string {
	if sendersFile != "" {
		return sendersFile
	}
	return cfg.Allowlist.Path
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "leadmail",
		Short: "leadmail - insurance lead extraction from email",
		Long: `leadmail reads the lead notifications French insurance brokers receive by
email (AssurProspect, AssurLead and free-form requests), extracts the prospect
record and grades how complete it is.

Messages can be read from .eml files or imported from an IMAP mailbox, and
the results are kept in a local database.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			if err := config.InitLogger(cfg.Log); err != nil {
				return err
			}
			return cfg.Validate()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = zap.L().Sync()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.leadmail/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&sendersFile, "senders", "", "known sender allowlist (default is $HOME/.leadmail/senders.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(parseCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sendersCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(reviewCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadSenders reads the allowlist; a missing file is an empty list
func loadSenders() (*allowlist.Database, error) {
	path := resolveSendersPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &allowlist.Database{}, nil
	}
	return allowlist.LoadFromFile(path)
}

func newPipeline(senders *allowlist.Database) *pipeline.Pipeline {
	return pipeline.New(parser.Default(),
		pipeline.WithKnownSenders(senders.Senders),
		pipeline.WithForce(cfg.Pipeline.Force),
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithLogger(zap.L()),
	)
}

func openStore() (*store.Store, error) {
	st, err := store.New(cfg.Store.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "open database %s", cfg.Store.Path)
	}
	return st, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "encode output")
	}
	fmt.Println(string(data))
	return nil
}

func prompt(reader *bufio.Reader, message string) string {
	fmt.Print(message)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func promptDefault(reader *bufio.Reader, message, def string) string {
	if v := prompt(reader, fmt.Sprintf("%s [%s]: ", message, def)); v != "" {
		return v
	}
	return def
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the configuration interactively",
		Long:  "Write a config file with the mailbox and review digest settings, and an empty sender allowlist.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)
	c := config.Default()

	fmt.Println("leadmail configuration")
	fmt.Println("======================")
	fmt.Println()

	fmt.Println("Mailbox (IMAP import)")
	if answer := prompt(reader, "Import leads from an IMAP mailbox? (y/N): "); strings.EqualFold(answer, "y") {
		c.Inbox.Enabled = true
		c.Inbox.Provider = promptDefault(reader, "  Provider (gmail/outlook/imap)", "gmail")
		if c.Inbox.Provider == "imap" {
			c.Inbox.Server = prompt(reader, "  IMAP server: ")
			if port, err := strconv.Atoi(promptDefault(reader, "  IMAP port", "993")); err == nil {
				c.Inbox.Port = port
			}
		}
		c.Inbox.Email = prompt(reader, "  Email address: ")
		c.Inbox.Password = prompt(reader, "  App password: ")
		c.Inbox.Folder = promptDefault(reader, "  Folder", c.Inbox.Folder)
		c.Inbox.AutoArchive = strings.EqualFold(prompt(reader, "  Move detected leads to an archive folder? (y/N): "), "y")
		if c.Inbox.AutoArchive {
			c.Inbox.ArchiveFolder = promptDefault(reader, "  Archive folder", c.Inbox.ArchiveFolder)
		}
	}

	fmt.Println()
	fmt.Println("Review digest")
	c.Notify.Provider = promptDefault(reader, "  Provider (smtp/sendgrid/resend, empty to skip)", "")
	if c.Notify.Provider != "" {
		c.Notify.From = prompt(reader, "  From address: ")
		for _, to := range strings.Split(prompt(reader, "  Recipients (comma separated): "), ",") {
			if to = strings.TrimSpace(to); to != "" {
				c.Notify.To = append(c.Notify.To, to)
			}
		}
		switch c.Notify.Provider {
		case config.ProviderSMTP:
			c.Notify.SMTP.Host = prompt(reader, "  SMTP host: ")
			c.Notify.SMTP.Port = 587
			if port, err := strconv.Atoi(promptDefault(reader, "  SMTP port", "587")); err == nil {
				c.Notify.SMTP.Port = port
			}
			c.Notify.SMTP.UseTLS = c.Notify.SMTP.Port == 465
			c.Notify.SMTP.Username = prompt(reader, "  SMTP username: ")
			c.Notify.SMTP.Password = prompt(reader, "  SMTP password: ")
		default:
			c.Notify.APIKey = prompt(reader, "  API key: ")
		}
		if err := c.ValidateNotify(); err != nil {
			fmt.Printf("Warning: %v\n", err)
		}
	}

	configPath := resolveConfigPath()
	if err := config.Save(configPath, c); err != nil {
		return err
	}

	if _, err := os.Stat(c.Allowlist.Path); os.IsNotExist(err) {
		if err := (&allowlist.Database{}).Save(c.Allowlist.Path); err != nil {
			return err
		}
	}

	fmt.Println()
	fmt.Printf("Configuration saved to: %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Add the addresses your lead providers send from: leadmail senders add <domain>")
	fmt.Println("  2. Try a message: leadmail parse message.eml")
	fmt.Println("  3. Import the mailbox: leadmail import")
	return nil
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API",
		Long:  "Expose classification, parsing, validation and mailbox imports over HTTP.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			return runServe()
		},
	}

	cmd.Flags().IntVar(&port, "port", 8080, "Port to listen on")

	return cmd
}

func runServe() error {
	senders, err := loadSenders()
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	server, err := web.NewServer(cfg, newPipeline(senders), st, senders)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	go func() {
		<-ctx.Done()
		fmt.Println("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("shutdown", zap.Error(err))
		}
	}()

	fmt.Printf("Serving the leadmail API at http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println("Press Ctrl+C to stop")
	return server.Start()
}
