// Package sessionstore provides the backends that persist the Telegram
// session (auth key and data-center configuration) between restarts.
package sessionstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gotd/td/session"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/danhigham/telecharm-web/internal/config"
)

// Open returns the storage selected by cfg and a function releasing its
// resources.
func Open(ctx context.Context, cfg config.SessionConfig, logger *zap.Logger) (session.Storage, func(), error) {
	switch cfg.Backend {
	case config.BackendFile:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
			return nil, nil, fmt.Errorf("create session dir: %w", err)
		}
		logger.Info("using file session storage", zap.String("path", cfg.Path))
		return &session.FileStorage{Path: cfg.Path}, func() {}, nil

	case config.BackendPostgres:
		pool, err := NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := NewPostgres(pool, cfg.Name)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("using postgres session storage", zap.String("name", cfg.Name))
		return store, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
}

// NewPool builds a pgxpool and validates connectivity.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pcfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
