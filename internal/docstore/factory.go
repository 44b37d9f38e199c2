package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"loanflow/internal/config"
	"loanflow/internal/docstore/migrations"
	"loanflow/internal/loan"
)

// DatabaseFile is the SQLite file name inside the configured data_dir.
const DatabaseFile = "loanflow.db"

// Open connects to the configured database without touching its schema.
func Open(ctx context.Context, cfg config.DocumentStoreConfig) (*sql.DB, migrations.Dialect, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, "", fmt.Errorf("data_dir required for sqlite document store")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, "", fmt.Errorf("creating data dir: %w", err)
		}
		db, err := OpenSQLite(filepath.Join(cfg.DataDir, DatabaseFile))
		return db, migrations.SQLite, err
	case "memory":
		db, err := OpenSQLite(":memory:")
		return db, migrations.SQLite, err
	case "postgres":
		if cfg.DSN == "" {
			return nil, "", fmt.Errorf("postgres document store requires POSTGRES_DSN to be set")
		}
		db, err := OpenPostgres(ctx, cfg.DSN)
		return db, migrations.Postgres, err
	default:
		return nil, "", fmt.Errorf("unknown document store type: %s", cfg.Type)
	}
}

// NewDocumentStoreFromConfig opens the configured database, migrates it
// when auto_migrate is set, and refuses to start on an outdated schema.
func NewDocumentStoreFromConfig(ctx context.Context, cfg config.DocumentStoreConfig, clock loan.Clock, ids loan.IDGenerator) (*SQLStore, error) {
	db, dialect, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate || cfg.Type == "memory" {
		if err := migrations.MigrateUp(db, dialect); err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := migrations.CheckDBMigrationStatus(db, dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("document store schema: %w", err)
	}
	return NewSQLStore(db, dialect, clock, ids), nil
}
