package main

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/carebook/libs/config"
	"github.com/md-rashed-zaman/carebook/libs/db"
	"github.com/md-rashed-zaman/carebook/libs/runtime"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/storage/postgres"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := runtime.NewLoggerWithLevel(config.String("SERVICE_NAME", "scheduling-service"), config.String("LOG_LEVEL", "info"))
			dbURL, err := config.RequiredString("DATABASE_URL")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			pool, err := db.Open(ctx, dbURL, db.PoolConfig{MaxConns: 2})
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			store := postgres.New(pool)
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return err
			}
			logger.Info("schema applied")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load providers, subjects and templates from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StoreDriver != driverPostgres {
				return fmt.Errorf("seed writes to postgres; the memory store is seeded by serve through SEED_FILE")
			}
			logger := runtime.NewLoggerWithLevel(cfg.Service, cfg.LogLevel)
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			store, _, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			if file == "" {
				file = cfg.SeedFile
			}
			if file == "" {
				return fmt.Errorf("no seed file given (use --file or SEED_FILE)")
			}
			return applySeed(ctx, store, file, logger)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "seed file (defaults to SEED_FILE)")
	return cmd
}
