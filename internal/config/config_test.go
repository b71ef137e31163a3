package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var apiVars = []string{
	"GUILDBANK_API_ADDR", "PORT", "DATABASE_URL", "GUILDBANK_SQLITE_PATH", "GUILDBANK_DB_MAX_CONNS",
	"GUILDBANK_LOCK_TIMEOUT", "GUILDBANK_JWT_SECRET", "GUILDBANK_TOKEN_TTL", "GUILDBANK_CATALOG_FILE",
	"GUILDBANK_PROGRAM_LOG_WEBHOOK", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SERVICE_NAME", "GUILDBANK_LOG_LEVEL",
}

func clearAPIEnv(t *testing.T) {
	t.Helper()
	for _, k := range apiVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadAPIFromEnvDefaults(t *testing.T) {
	clearAPIEnv(t)
	t.Setenv("GUILDBANK_SQLITE_PATH", " ./data/bank.db ")
	t.Setenv("GUILDBANK_JWT_SECRET", strings.Repeat("s", 32))

	cfg, err := LoadAPIFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "./data/bank.db", cfg.SQLitePath)
	assert.Equal(t, int32(20), cfg.MaxConns)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, "guildbank-api", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadAPIFromEnvOverrides(t *testing.T) {
	clearAPIEnv(t)
	t.Setenv("DATABASE_URL", "postgres://bank@localhost/bank")
	t.Setenv("GUILDBANK_JWT_SECRET", strings.Repeat("s", 40))
	t.Setenv("PORT", "9000")
	t.Setenv("GUILDBANK_DB_MAX_CONNS", "4")
	t.Setenv("GUILDBANK_LOCK_TIMEOUT", "750ms")

	cfg, err := LoadAPIFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, int32(4), cfg.MaxConns)
	assert.Equal(t, 750*time.Millisecond, cfg.LockTimeout)
}

func TestLoadAPIFromEnvErrors(t *testing.T) {
	secret := strings.Repeat("s", 32)
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"no store", map[string]string{"GUILDBANK_JWT_SECRET": secret}},
		{"two stores", map[string]string{"GUILDBANK_JWT_SECRET": secret, "DATABASE_URL": "postgres://x", "GUILDBANK_SQLITE_PATH": "bank.db"}},
		{"short secret", map[string]string{"GUILDBANK_JWT_SECRET": "short", "GUILDBANK_SQLITE_PATH": "bank.db"}},
		{"zero conns", map[string]string{"GUILDBANK_JWT_SECRET": secret, "GUILDBANK_SQLITE_PATH": "bank.db", "GUILDBANK_DB_MAX_CONNS": "0"}},
		{"bad duration", map[string]string{"GUILDBANK_JWT_SECRET": secret, "GUILDBANK_SQLITE_PATH": "bank.db", "GUILDBANK_LOCK_TIMEOUT": "soon"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearAPIEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadAPIFromEnv()
			assert.Error(t, err)
		})
	}
}

func clearCLIEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"GBK_API_BASE_URL", "GBK_TOKEN", "GBK_OUTPUT", "GBK_JWT_SECRET", "GBK_QUEUE_DIR"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadCLI(t *testing.T) {
	clearCLIEnv(t)

	path := filepath.Join(t.TempDir(), "gbk.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_base_url: https://bank.example.com/\ntoken: abc\noutput: JSON\nqueue_dir: /tmp/gbk-queue\n"), 0o600))

	cfg, err := LoadCLI(path)
	require.NoError(t, err)
	assert.Equal(t, "https://bank.example.com", cfg.APIBaseURL)
	assert.Equal(t, "abc", cfg.Token)
	assert.Equal(t, "json", cfg.Output)
	assert.Equal(t, "/tmp/gbk-queue", cfg.QueueDir)

	t.Setenv("GBK_TOKEN", "from-env")
	cfg, err = LoadCLI(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Token)
}

func TestLoadCLIMissingFileUsesDefaults(t *testing.T) {
	clearCLIEnv(t)

	cfg, err := LoadCLI(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.APIBaseURL)
	assert.Equal(t, "table", cfg.Output)

	t.Setenv("GBK_OUTPUT", "xml")
	_, err = LoadCLI(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestSaveCLIToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gbk.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_base_url: https://bank.example.com\n"), 0o644))

	got, err := SaveCLIToken(path, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, path, got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	clearCLIEnv(t)
	cfg, err := LoadCLI(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", cfg.Token)
	assert.Equal(t, "https://bank.example.com", cfg.APIBaseURL)
}

func TestLoadWorkerFromEnv(t *testing.T) {
	clearAPIEnv(t)
	for _, k := range []string{"GUILDBANK_IDEMPOTENCY_TTL", "GUILDBANK_PRUNE_EVERY", "GUILDBANK_WORKER_RUN_ONCE"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("GUILDBANK_SQLITE_PATH", "bank.db")

	cfg, err := LoadWorkerFromEnv()
	require.NoError(t, err, "the worker does not need a token secret")
	assert.Equal(t, 7*24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, time.Hour, cfg.PruneEvery)
	assert.False(t, cfg.RunOnce)
	assert.Equal(t, "guildbank-worker", cfg.ServiceName)

	t.Setenv("GUILDBANK_WORKER_RUN_ONCE", "true")
	t.Setenv("GUILDBANK_PRUNE_EVERY", "10m")
	cfg, err = LoadWorkerFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.RunOnce)
	assert.Equal(t, 10*time.Minute, cfg.PruneEvery)

	t.Setenv("GUILDBANK_IDEMPOTENCY_TTL", "0s")
	_, err = LoadWorkerFromEnv()
	assert.Error(t, err)
}
