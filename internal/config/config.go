// Package config defines the settlement service configuration and its
// validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by SETTLE_* environment variables.
type Config struct {
	Ledger    LedgerConfig    `toml:"ledger"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Journal   JournalConfig   `toml:"journal"`
	Engine    EngineConfig    `toml:"engine"`
	Operator  OperatorConfig  `toml:"operator"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// LedgerConfig selects the ledger backend: "memory" or "postgres".
type LedgerConfig struct {
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters. DSN wins over the
// discrete fields.
type PostgresConfig struct {
	DSN             string   `toml:"dsn"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Database        string   `toml:"database"`
	User            string   `toml:"user"`
	Password        string   `toml:"password"`
	SSLMode         string   `toml:"ssl_mode"`
	PoolMaxConns    int      `toml:"pool_max_conns"`
	PoolMinConns    int      `toml:"pool_min_conns"`
	MaxConnLifetime duration `toml:"max_conn_lifetime"`
	RunMigrations   bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Without Redis, locks are
// process-local and events are not published.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	DialTimeout duration `toml:"dial_timeout"`
	ReadTimeout duration `toml:"read_timeout"`
	QuoteTTL    duration `toml:"quote_ttl"`
}

// S3Config holds S3-compatible object storage parameters for journal
// archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	KeyPrefix      string `toml:"key_prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// JournalConfig configures the local SQLite audit journal, used when the
// ledger is not PostgreSQL. An empty path disables it.
type JournalConfig struct {
	SQLitePath    string `toml:"sqlite_path"`
	RetentionDays int    `toml:"retention_days"`
}

// EngineConfig tunes settlement limits. Amounts are raw 9-decimal units.
type EngineConfig struct {
	MarketReserve  uint64   `toml:"market_reserve"`
	MinTradeAmount uint64   `toml:"min_trade_amount"`
	LockTTL        duration `toml:"lock_ttl"`
	LockWait       duration `toml:"lock_wait"`
}

// OperatorConfig holds the backend authority key. It signs decision
// receipts and finalizes markets in the worker.
type OperatorConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	ChainID          int64  `toml:"chain_id"`
}

// HasKey reports whether any key source is configured.
func (o OperatorConfig) HasKey() bool {
	return o.PrivateKey != "" || o.EncryptedKeyPath != ""
}

// SchedulerConfig holds worker cron specs (six fields, with seconds). An
// empty spec disables the job.
type SchedulerConfig struct {
	FinalizeCron string   `toml:"finalize_cron"`
	ArchiveCron  string   `toml:"archive_cron"`
	PruneCron    string   `toml:"prune_cron"`
	JobTimeout   duration `toml:"job_timeout"`
}

// duration wraps time.Duration for TOML strings such as "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit is requests per RateWindow per caller; zero disables it.
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   duration `toml:"rate_window"`
	WalletSkew   duration `toml:"wallet_skew"`
	ReadTimeout  duration `toml:"read_timeout"`
	WriteTimeout duration `toml:"write_timeout"`
}

// NotifyConfig holds operator alert channels.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	WebhookURL        string   `toml:"webhook_url"`
	WebhookSecret     string   `toml:"webhook_secret"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config with the values of config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{Backend: "memory"},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "marketsettle",
			User:            "postgres",
			SSLMode:         "disable",
			PoolMaxConns:    10,
			PoolMinConns:    2,
			MaxConnLifetime: duration{time.Hour},
			RunMigrations:   true,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			DialTimeout: duration{5 * time.Second},
			ReadTimeout: duration{3 * time.Second},
			QuoteTTL:    duration{10 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketsettle-journals",
			ForcePathStyle: true,
		},
		Journal: JournalConfig{
			SQLitePath:    "marketsettle-audit.db",
			RetentionDays: 90,
		},
		Engine: EngineConfig{
			MarketReserve:  10_000,
			MinTradeAmount: 10_000,
			LockTTL:        duration{10 * time.Second},
			LockWait:       duration{3 * time.Second},
		},
		Operator: OperatorConfig{ChainID: 137},
		Scheduler: SchedulerConfig{
			FinalizeCron: "@every 30s",
			ArchiveCron:  "0 */10 * * * *",
			PruneCron:    "0 0 3 * * *",
			JobTimeout:   duration{2 * time.Minute},
		},
		Server: ServerConfig{
			Port:         8080,
			CORSOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:    120,
			RateWindow:   duration{time.Minute},
			WalletSkew:   duration{5 * time.Minute},
			ReadTimeout:  duration{15 * time.Second},
			WriteTimeout: duration{15 * time.Second},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"api":    true,
	"worker": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// RunsWorker reports whether the mode runs the scheduler.
func (c *Config) RunsWorker() bool {
	m := strings.ToLower(c.Mode)
	return m == "worker" || m == "full"
}

// RunsAPI reports whether the mode serves HTTP.
func (c *Config) RunsAPI() bool {
	m := strings.ToLower(c.Mode)
	return m == "api" || m == "full"
}

// Validate checks c and returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	switch c.Ledger.Backend {
	case "memory":
		if c.Mode == "worker" {
			errs = append(errs, "ledger: worker mode needs a shared ledger (backend = \"postgres\")")
		}
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("ledger: unknown backend %q (valid: memory, postgres)", c.Ledger.Backend))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	if c.Journal.RetentionDays < 0 {
		errs = append(errs, "journal: retention_days must be >= 0")
	}

	if c.Engine.MinTradeAmount == 0 {
		errs = append(errs, "engine: min_trade_amount must be > 0")
	}
	if c.Engine.LockTTL.Duration <= 0 {
		errs = append(errs, "engine: lock_ttl must be > 0")
	}

	if c.RunsWorker() && !c.Operator.HasKey() {
		errs = append(errs, "operator: private_key or encrypted_key_path is required for mode "+c.Mode)
	}
	if c.Operator.EncryptedKeyPath != "" && c.Operator.KeyPassword == "" {
		errs = append(errs, "operator: key_password is required when encrypted_key_path is set")
	}
	if c.Operator.ChainID <= 0 {
		errs = append(errs, "operator: chain_id must be positive")
	}

	for _, job := range []struct{ name, spec string }{
		{"finalize_cron", c.Scheduler.FinalizeCron},
		{"archive_cron", c.Scheduler.ArchiveCron},
		{"prune_cron", c.Scheduler.PruneCron},
	} {
		if job.spec == "" {
			continue
		}
		if _, err := cronParser.Parse(job.spec); err != nil {
			errs = append(errs, fmt.Sprintf("scheduler: %s %q: %v", job.name, job.spec, err))
		}
	}

	if c.RunsAPI() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
