package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"guildbank/internal/config"
	"guildbank/internal/economy"
	"guildbank/internal/store/backend"
	"guildbank/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	cfg, err := config.LoadWorkerFromEnv()
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

	svc := economy.NewService(b.Store, logger)

	if cfg.RunOnce {
		if err := prune(ctx, svc, cfg.IdempotencyTTL, logger); err != nil {
			logger.Error("prune failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.PruneEvery)
	defer ticker.Stop()

	logger.Info("worker started", "prune_every", cfg.PruneEvery.String(), "idempotency_ttl", cfg.IdempotencyTTL.String(), "postgres", b.Postgres)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			if err := prune(ctx, svc, cfg.IdempotencyTTL, logger); err != nil {
				logger.Error("prune failed", "err", err)
			}
		}
	}
}

func prune(ctx context.Context, svc *economy.Service, ttl time.Duration, logger *slog.Logger) error {
	cutoff := time.Now().Add(-ttl)
	n, err := svc.PruneIdempotencyKeys(ctx, cutoff)
	if err != nil {
		return err
	}
	logger.Info("idempotency keys pruned", "count", n, "before", cutoff.UTC().Format(time.RFC3339))
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
