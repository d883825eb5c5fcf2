// Package storage opens the configured database backend and migrates it.
package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ariefcatur/campus-marketplace/internal/config"
	"github.com/ariefcatur/campus-marketplace/internal/postgres"
	"github.com/ariefcatur/campus-marketplace/internal/schema"
	"github.com/ariefcatur/campus-marketplace/internal/sqlite"
)

// Open returns a migrated handle and a func that releases it.
func Open(ctx context.Context, cfg config.Config) (*sqlx.DB, func(), error) {
	var (
		db      *sqlx.DB
		closeFn func()
	)
	switch cfg.DBDriver {
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		db = postgres.SQLX(pool)
		closeFn = func() {
			_ = db.Close()
			pool.Close()
		}
	case "sqlite":
		h, err := sqlite.Open(cfg.SQLiteDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite open: %w", err)
		}
		db = h
		closeFn = func() { _ = db.Close() }
	default:
		return nil, nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}
	if err := schema.Migrate(ctx, db); err != nil {
		closeFn()
		return nil, nil, err
	}
	return db, closeFn, nil
}
