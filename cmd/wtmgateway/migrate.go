package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/config"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/database"
)

// runMigrate inspects or changes the audit database schema.
//
//	migrate status   list applied and pending migrations
//	migrate up       apply pending migrations
//	migrate down     roll back the latest applied migration
func runMigrate(ctx context.Context, args []string, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: wtmgateway migrate status|up|down")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Database.Enabled {
		return fmt.Errorf("audit database is disabled in the configuration")
	}

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-mostly CLI session

	switch args[0] {
	case "status":
		return printMigrationStatus(ctx, db, out)
	case "up":
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		return printMigrationStatus(ctx, db, out)
	case "down":
		if err := db.MigrateDown(ctx); err != nil {
			return err
		}
		return printMigrationStatus(ctx, db, out)
	default:
		return fmt.Errorf("unknown migrate command %q, want status, up or down", args[0])
	}
}

func printMigrationStatus(ctx context.Context, db *database.DB, out io.Writer) error {
	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		return err
	}
	for _, r := range applied {
		if _, err := fmt.Fprintf(out, "applied  %s  %s\n", r.Version, r.AppliedAt.Format(time.RFC3339)); err != nil {
			return err
		}
	}
	for _, m := range pending {
		if _, err := fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name); err != nil {
			return err
		}
	}
	return nil
}
