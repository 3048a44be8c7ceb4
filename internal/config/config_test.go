package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Operator.PrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	return cfg
}

func TestDefaults_RequireOperatorKey(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operator: private_key or encrypted_key_path is required for mode full")

	cfg.Mode = "api"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_OK(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.RunsAPI())
	assert.True(t, cfg.RunsWorker())
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Ledger.Backend = "sqlite"
	cfg.Scheduler.ArchiveCron = "every tuesday"
	cfg.Engine.MinTradeAmount = 0
	cfg.Notify.TelegramToken = "tok"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown log_level "loud"`,
		`ledger: unknown backend "sqlite"`,
		`scheduler: archive_cron "every tuesday"`,
		"engine: min_trade_amount must be > 0",
		"notify: telegram_token and telegram_chat_id must be set together",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_WorkerNeedsSharedLedger(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "worker"
	assert.ErrorContains(t, cfg.Validate(), "worker mode needs a shared ledger")

	cfg.Ledger.Backend = "postgres"
	assert.NoError(t, cfg.Validate())

	cfg.Postgres.PoolMinConns = 50
	assert.ErrorContains(t, cfg.Validate(), "pool_min_conns")
}

func TestValidate_EncryptedKeyNeedsPassword(t *testing.T) {
	cfg := Defaults()
	cfg.Operator.EncryptedKeyPath = "/etc/settle/operator.json"
	assert.ErrorContains(t, cfg.Validate(), "key_password is required")
}

func TestLoad_FileEnvAndDotenv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "worker"
log_level = "debug"

[ledger]
backend = "postgres"

[engine]
lock_ttl = "20s"
market_reserve = 5000

[scheduler]
finalize_cron = "@every 10s"
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SETTLE_SERVER_PORT=9999\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SETTLE_SERVER_PORT") })

	t.Setenv("SETTLE_POSTGRES_DSN", "postgres://u:p@db:5432/settle")
	t.Setenv("SETTLE_NOTIFY_EVENTS", "market_finalized, market_cancelled,,")
	t.Setenv("SETTLE_ENGINE_MIN_TRADE_AMOUNT", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "worker", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.Ledger.Backend)
	assert.Equal(t, 20*time.Second, cfg.Engine.LockTTL.Duration)
	assert.Equal(t, uint64(5000), cfg.Engine.MarketReserve)
	assert.Equal(t, uint64(10_000), cfg.Engine.MinTradeAmount, "unparsable override is ignored")
	assert.Equal(t, "@every 10s", cfg.Scheduler.FinalizeCron)
	assert.Equal(t, "0 */10 * * * *", cfg.Scheduler.ArchiveCron, "unset keys keep defaults")
	assert.Equal(t, "postgres://u:p@db:5432/settle", cfg.Postgres.DSN)
	assert.Equal(t, []string{"market_finalized", "market_cancelled"}, cfg.Notify.Events)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Ledger.Backend)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.DSN = "postgres://u:secret@db/settle"
	cfg.Server.APIKey = "k"
	cfg.Notify.WebhookSecret = "w"
	cfg.Notify.Events = []string{"market_finalized"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Operator.PrivateKey)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Notify.WebhookSecret)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "market_finalized", cfg.Notify.Events[0])
	assert.NotEqual(t, "***", cfg.Operator.PrivateKey)
}
