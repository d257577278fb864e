package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/md-rashed-zaman/carebook/libs/db"
	"github.com/md-rashed-zaman/carebook/libs/runtime"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/storage"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/storage/memory"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/storage/postgres"
)

// openStore builds the configured store and the readiness check that goes
// with it.
func openStore(ctx context.Context, cfg serviceConfig, logger *slog.Logger) (storage.Store, runtime.ReadyCheck, error) {
	if cfg.StoreDriver == driverMemory {
		logger.Warn("using the in-memory store; data is lost on restart")
		s := memory.New()
		return s, runtime.ReadyCheck{Name: "store", Check: s.Ping}, nil
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{})
	if err != nil {
		return nil, runtime.ReadyCheck{}, fmt.Errorf("connect database: %w", err)
	}
	s := postgres.New(pool)
	return s, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)}, nil
}

func applySeed(ctx context.Context, store storage.Store, path string, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	seed, err := storage.LoadSeedFile(path)
	if err != nil {
		return err
	}
	if err := seed.Apply(ctx, store); err != nil {
		return err
	}
	logger.Info("seed applied", "file", path, "providers", len(seed.Providers), "subjects", len(seed.Subjects), "templates", len(seed.Templates))
	return nil
}
