// Package postgres persists the account directory in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	maxPingAttempts = 10
	pingInterval    = 2 * time.Second
)

// Open connects to databaseURL and waits until the server answers.
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := waitForDatabase(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func waitForDatabase(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	var err error
	for attempt := 1; attempt <= maxPingAttempts; attempt++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		logger.Warn("database not ready",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxPingAttempts),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pingInterval):
		}
	}
	return fmt.Errorf("database not ready after %d attempts: %w", maxPingAttempts, err)
}

// Migrate applies the embedded migrations. A dirty database is reported,
// not forced.
func Migrate(db *sql.DB, logger *zap.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is dirty at migration version %d", version)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("database migrations: no change", zap.Uint("version", version))
			return nil
		}
		return fmt.Errorf("run migrations: %w", err)
	}

	newVersion, _, _ := m.Version()
	logger.Info("database migrations applied", zap.Uint("version", newVersion))
	return nil
}
