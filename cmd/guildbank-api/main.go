package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"guildbank/internal/api"
	"guildbank/internal/auth"
	"guildbank/internal/catalog"
	"guildbank/internal/config"
	"guildbank/internal/economy"
	"guildbank/internal/programlog"
	"guildbank/internal/store/backend"
	"guildbank/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("telemetry setup failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	b, err := backend.Open(ctx, cfg.StoreConfig)
	if err != nil {
		logger.Error("store open failed", "err", err)
		os.Exit(1)
	}
	defer b.Close()

	var opts []economy.Option
	if cfg.WebhookURL != "" {
		hook, err := programlog.NewWebhook(cfg.WebhookURL, "guildbank")
		if err != nil {
			logger.Error("program log webhook invalid", "err", err)
			os.Exit(1)
		}
		opts = append(opts, economy.WithNotifier(hook))
	}
	econ := economy.NewService(b.Store, logger, opts...)

	if cfg.CatalogFile != "" {
		if err := seedCatalog(ctx, econ, cfg.CatalogFile, logger); err != nil {
			logger.Error("catalog seed failed", "err", err, "file", cfg.CatalogFile)
			os.Exit(1)
		}
	}

	signer, err := auth.NewSigner(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		logger.Error("token signer init failed", "err", err)
		os.Exit(1)
	}

	server := api.New(logger, signer, econ, api.WithHealthCheck(b.Ping))
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("guildbank api listening", "addr", cfg.Addr, "postgres", b.Postgres)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func seedCatalog(ctx context.Context, econ *economy.Service, path string, logger *slog.Logger) error {
	file, err := catalog.Load(path)
	if err != nil {
		return err
	}
	for _, scope := range []economy.Scope{economy.ScopeUser, economy.ScopeGang} {
		n, err := econ.SyncCatalog(ctx, scope, file.For(scope))
		if err != nil {
			return err
		}
		logger.Info("catalog synced", "scope", scope, "items", n)
	}
	return nil
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
