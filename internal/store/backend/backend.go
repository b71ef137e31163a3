// Package backend opens the configured economy store for the server and worker.
package backend

import (
	"context"
	"fmt"

	"guildbank/internal/config"
	"guildbank/internal/db"
	"guildbank/internal/economy"
	"guildbank/internal/store/pgstore"
	"guildbank/internal/store/sqlitestore"
)

type Backend struct {
	Store    economy.Store
	Ping     func(context.Context) error
	Postgres bool
	close    func()
}

func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}

// Open connects to Postgres (running migrations) or opens the SQLite file, whichever
// cfg names.
func Open(ctx context.Context, cfg config.StoreConfig) (*Backend, error) {
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("db migrate: %w", err)
		}
		return &Backend{
			Store:    pgstore.New(pool, cfg.LockTimeout),
			Ping:     pool.Ping,
			Postgres: true,
			close:    pool.Close,
		}, nil
	}
	lite, err := sqlitestore.Open(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("sqlite open %s: %w", cfg.SQLitePath, err)
	}
	return &Backend{
		Store: lite,
		Ping:  lite.DB().PingContext,
		close: func() { _ = lite.Close() },
	}, nil
}
