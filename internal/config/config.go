package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

// StoreConfig selects the database. Exactly one of DatabaseURL and SQLitePath is set.
type StoreConfig struct {
	DatabaseURL string        `env:"DATABASE_URL"`
	SQLitePath  string        `env:"GUILDBANK_SQLITE_PATH"`
	MaxConns    int32         `env:"GUILDBANK_DB_MAX_CONNS" envDefault:"20"`
	LockTimeout time.Duration `env:"GUILDBANK_LOCK_TIMEOUT" envDefault:"5s"`
}

func (c *StoreConfig) normalize() error {
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.SQLitePath = strings.TrimSpace(c.SQLitePath)
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return fmt.Errorf("DATABASE_URL or GUILDBANK_SQLITE_PATH is required")
	}
	if c.DatabaseURL != "" && c.SQLitePath != "" {
		return fmt.Errorf("set only one of DATABASE_URL and GUILDBANK_SQLITE_PATH")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("GUILDBANK_DB_MAX_CONNS must be > 0")
	}
	return nil
}

type APIConfig struct {
	StoreConfig
	Addr         string        `env:"GUILDBANK_API_ADDR" envDefault:":8080"`
	Port         string        `env:"PORT"`
	JWTSecret    string        `env:"GUILDBANK_JWT_SECRET"`
	TokenTTL     time.Duration `env:"GUILDBANK_TOKEN_TTL" envDefault:"24h"`
	CatalogFile  string        `env:"GUILDBANK_CATALOG_FILE"`
	WebhookURL   string        `env:"GUILDBANK_PROGRAM_LOG_WEBHOOK"`
	OTLPEndpoint string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string        `env:"OTEL_SERVICE_NAME" envDefault:"guildbank-api"`
	LogLevel     string        `env:"GUILDBANK_LOG_LEVEL" envDefault:"info"`
}

func LoadAPIFromEnv() (APIConfig, error) {
	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if port := strings.TrimSpace(cfg.Port); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Addr = port
	}
	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	if err := cfg.StoreConfig.normalize(); err != nil {
		return cfg, err
	}
	if len(cfg.JWTSecret) < 32 {
		return cfg, fmt.Errorf("GUILDBANK_JWT_SECRET must be at least 32 bytes")
	}
	return cfg, nil
}

// WorkerConfig drives the maintenance worker that prunes expired idempotency keys.
type WorkerConfig struct {
	StoreConfig
	IdempotencyTTL time.Duration `env:"GUILDBANK_IDEMPOTENCY_TTL" envDefault:"168h"`
	PruneEvery     time.Duration `env:"GUILDBANK_PRUNE_EVERY" envDefault:"1h"`
	RunOnce        bool          `env:"GUILDBANK_WORKER_RUN_ONCE"`
	OTLPEndpoint   string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName    string        `env:"OTEL_SERVICE_NAME" envDefault:"guildbank-worker"`
	LogLevel       string        `env:"GUILDBANK_LOG_LEVEL" envDefault:"info"`
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.StoreConfig.normalize(); err != nil {
		return cfg, err
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, fmt.Errorf("GUILDBANK_IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.PruneEvery <= 0 {
		return cfg, fmt.Errorf("GUILDBANK_PRUNE_EVERY must be > 0")
	}
	return cfg, nil
}

type CLIConfig struct {
	APIBaseURL string
	Token      string
	Output     string
	// JWTSecret lets an operator mint actor tokens locally; only `gbk token` needs it.
	JWTSecret  string
	// QueueDir holds unconfirmed mutations; empty means ~/.gbk.
	QueueDir   string
}

const (
	cliEnvPrefix  = "GBK"
	cliConfigName = ".gbk"

	keyAPIBaseURL = "api_base_url"
	keyToken      = "token"
	keyOutput     = "output"
	keyJWTSecret  = "jwt_secret"
	keyQueueDir   = "queue_dir"
)

// LoadCLI reads ~/.gbk.yaml (or path, when set) and GBK_* environment variables. A
// missing config file is not an error.
func LoadCLI(path string) (CLIConfig, error) {
	v := viper.New()
	v.SetDefault(keyAPIBaseURL, "http://localhost:8080")
	v.SetDefault(keyOutput, "table")
	v.SetEnvPrefix(cliEnvPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(cliConfigName)
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(path != "" && errors.Is(err, os.ErrNotExist)) {
			return CLIConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := CLIConfig{
		APIBaseURL: strings.TrimRight(strings.TrimSpace(v.GetString(keyAPIBaseURL)), "/"),
		Token:      strings.TrimSpace(v.GetString(keyToken)),
		Output:     strings.ToLower(strings.TrimSpace(v.GetString(keyOutput))),
		JWTSecret:  strings.TrimSpace(v.GetString(keyJWTSecret)),
		QueueDir:   strings.TrimSpace(v.GetString(keyQueueDir)),
	}
	switch cfg.Output {
	case "table", "json":
	default:
		return cfg, fmt.Errorf("output must be table or json, got %q", cfg.Output)
	}
	return cfg, nil
}

// SaveCLIToken stores token in the CLI config file, creating it when needed.
func SaveCLIToken(path, token string) (string, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, cliConfigName+".yaml")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("read config: %w", err)
		}
	}
	v.Set(keyToken, token)
	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return path, os.Chmod(path, 0o600)
}
