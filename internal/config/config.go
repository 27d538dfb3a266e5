package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Notification providers
const (
	ProviderSMTP     = "smtp"
	ProviderSendGrid = "sendgrid"
	ProviderResend   = "resend"
)

func checkFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return eris.Errorf("config file %s has insecure permissions %04o; should be 0600", path, perm)
	}
	return nil
}

// Config holds the full application configuration.
type Config struct {
	Inbox     InboxConfig     `yaml:"inbox" mapstructure:"inbox"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Allowlist AllowlistConfig `yaml:"allowlist" mapstructure:"allowlist"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// InboxConfig holds IMAP settings for the mailbox import
type InboxConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	Provider      string `yaml:"provider" mapstructure:"provider"` // "gmail", "outlook", "imap"
	Server        string `yaml:"server" mapstructure:"server"`
	Port          int    `yaml:"port" mapstructure:"port"`
	Email         string `yaml:"email" mapstructure:"email"`
	Password      string `yaml:"password" mapstructure:"password"` // app password
	Folder        string `yaml:"folder" mapstructure:"folder"`
	Days          int    `yaml:"days" mapstructure:"days"`
	AutoArchive   bool   `yaml:"auto_archive" mapstructure:"auto_archive"`
	ArchiveFolder string `yaml:"archive_folder" mapstructure:"archive_folder"`
}

// NotifyConfig configures the review digest
type NotifyConfig struct {
	Provider string     `yaml:"provider" mapstructure:"provider"` // "", "smtp", "sendgrid", "resend"
	From     string     `yaml:"from" mapstructure:"from"`
	To       []string   `yaml:"to" mapstructure:"to"`
	APIKey   string     `yaml:"api_key,omitempty" mapstructure:"api_key"`
	SMTP     SMTPConfig `yaml:"smtp,omitempty" mapstructure:"smtp"`
}

type SMTPConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	UseTLS   bool   `yaml:"use_tls" mapstructure:"use_tls"`
}

type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

type AllowlistConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PipelineConfig tunes batch processing
type PipelineConfig struct {
	Workers int  `yaml:"workers" mapstructure:"workers"`
	Force   bool `yaml:"force" mapstructure:"force"` // parse messages the classifier rejected
}

type ServerConfig struct {
	Host           string `yaml:"host" mapstructure:"host"`
	Port           int    `yaml:"port" mapstructure:"port"`
	RatePerMinute  int    `yaml:"rate_per_minute" mapstructure:"rate_per_minute"`
	CacheTTLSecs   int    `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Dir is the per-user directory holding config, allowlist and database
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".leadmail"
	}
	return filepath.Join(home, ".leadmail")
}

func DefaultConfigPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Inbox:     InboxConfig{Provider: "imap", Port: 993, Folder: "INBOX", Days: 7, ArchiveFolder: "Leads"},
		Store:     StoreConfig{Path: filepath.Join(Dir(), "leadmail.db")},
		Allowlist: AllowlistConfig{Path: filepath.Join(Dir(), "senders.yaml")},
		Pipeline:  PipelineConfig{Workers: 4},
		Server:    ServerConfig{Host: "127.0.0.1", Port: 8080, RatePerMinute: 60, CacheTTLSecs: 300, MaxUploadBytes: 10 << 20},
		Log:       LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads configuration from path (optional), then the environment
// (LEADMAIL_ prefix, dots as underscores).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := checkFilePermissions(path); err != nil {
				zap.L().Warn("config: insecure permissions", zap.Error(err))
			}
			v.SetConfigFile(path)
		}
	}

	v.SetEnvPrefix("LEADMAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("inbox.enabled", false)
	v.SetDefault("inbox.provider", d.Inbox.Provider)
	v.SetDefault("inbox.server", "")
	v.SetDefault("inbox.port", d.Inbox.Port)
	v.SetDefault("inbox.email", "")
	v.SetDefault("inbox.password", "")
	v.SetDefault("inbox.folder", d.Inbox.Folder)
	v.SetDefault("inbox.days", d.Inbox.Days)
	v.SetDefault("inbox.auto_archive", false)
	v.SetDefault("inbox.archive_folder", d.Inbox.ArchiveFolder)
	v.SetDefault("notify.provider", "")
	v.SetDefault("notify.from", "")
	v.SetDefault("notify.to", []string{})
	v.SetDefault("notify.api_key", "")
	v.SetDefault("notify.smtp.host", "")
	v.SetDefault("notify.smtp.port", 587)
	v.SetDefault("notify.smtp.username", "")
	v.SetDefault("notify.smtp.password", "")
	v.SetDefault("notify.smtp.use_tls", true)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("allowlist.path", d.Allowlist.Path)
	v.SetDefault("pipeline.workers", d.Pipeline.Workers)
	v.SetDefault("pipeline.force", false)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.rate_per_minute", d.Server.RatePerMinute)
	v.SetDefault("server.cache_ttl_secs", d.Server.CacheTTLSecs)
	v.SetDefault("server.max_upload_bytes", d.Server.MaxUploadBytes)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	switch cfg.Inbox.Provider {
	case "gmail":
		if cfg.Inbox.Server == "" {
			cfg.Inbox.Server = "imap.gmail.com"
		}
	case "outlook":
		if cfg.Inbox.Server == "" {
			cfg.Inbox.Server = "outlook.office365.com"
		}
	}
	if cfg.Pipeline.Workers < 1 {
		cfg.Pipeline.Workers = 1
	}

	return &cfg, nil
}

// Save writes cfg as yaml, readable by the owner only
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return eris.Wrap(err, "config: create directory")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return eris.Wrap(err, "config: serialize")
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return eris.Wrap(err, "config: write file")
	}
	return nil
}

// Validate checks the settings every command relies on
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return eris.New("store: path is required")
	}
	if c.Allowlist.Path == "" {
		return eris.New("allowlist: path is required")
	}
	if c.Pipeline.Workers < 1 {
		return eris.New("pipeline: workers must be at least 1")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return eris.Errorf("server: invalid port %d", c.Server.Port)
	}
	return nil
}

// ValidateInbox validates inbox configuration (only called when the mailbox is used)
func (c *Config) ValidateInbox() error {
	if !c.Inbox.Enabled {
		return eris.New("inbox: import is not enabled in config")
	}
	if c.Inbox.Email == "" {
		return eris.New("inbox: email address is required")
	}
	if c.Inbox.Password == "" {
		return eris.New("inbox: password (app password) is required")
	}
	if c.Inbox.Server == "" {
		return eris.New("inbox: IMAP server is required")
	}
	if c.Inbox.Port == 0 {
		return eris.New("inbox: IMAP port is required")
	}
	return nil
}

// ValidateNotify validates the review digest settings
func (c *Config) ValidateNotify() error {
	n := c.Notify
	if n.From == "" {
		return eris.New("notify: from address is required")
	}
	if len(n.To) == 0 {
		return eris.New("notify: at least one recipient is required")
	}
	switch n.Provider {
	case ProviderSMTP:
		if n.SMTP.Host == "" {
			return eris.New("notify.smtp: host is required")
		}
		if n.SMTP.Port == 0 {
			return eris.New("notify.smtp: port is required")
		}
	case ProviderSendGrid, ProviderResend:
		if n.APIKey == "" {
			return eris.Errorf("notify.%s: api_key is required", n.Provider)
		}
	case "":
		return eris.New("notify: provider is required")
	default:
		return eris.Errorf("notify: unknown provider %q", n.Provider)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
