// Package backend opens the kv.Store selected by configuration.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/eea/internal/adapters/kv"
	"github.com/okian/eea/internal/adapters/kv/memory"
	"github.com/okian/eea/internal/adapters/kv/redis"
	"github.com/okian/eea/internal/adapters/kv/sqlite"
	"github.com/okian/eea/internal/config"
)

// Open builds the configured backend and checks that it answers.
func Open(ctx context.Context, cfg config.StoreConfig) (kv.Store, error) {
	sweep := time.Duration(cfg.SweepIntervalSeconds) * time.Second
	if sweep <= 0 {
		sweep = -1
	}

	var (
		store kv.Store
		err   error
	)
	switch cfg.Backend {
	case config.BackendMemory, "":
		store = memory.New(memory.WithSweepInterval(sweep))
	case config.BackendRedis:
		store = redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case config.BackendSQLite:
		store, err = sqlite.Open(ctx, cfg.SQLitePath, sqlite.WithSweepInterval(sweep))
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", config.ErrInvalidConfig, cfg.Backend)
	}

	if p, ok := store.(kv.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("%s store unreachable: %w", cfg.Backend, err)
		}
	}
	return store, nil
}
