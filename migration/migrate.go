package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"ride-tracking-system/config"
)

const (
	connectAttempts = 10
	connectBackoff  = 3 * time.Second
)

// WaitForDatabase retries until Postgres answers a ping or attempts run out.
func WaitForDatabase(ctx context.Context, dsn string, attempts int, backoff time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		db, err := sql.Open("postgres", dsn)
		if err == nil {
			err = db.PingContext(ctx)
			db.Close()
		}
		if err == nil {
			log.Info().Msg("Connected to the database successfully")
			return nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", i+1).Msg("Waiting for the database to be ready")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("could not connect to the database: %w", lastErr)
}

// Run waits for the database and applies all pending up migrations.
func Run(ctx context.Context, cfg config.DBConfig) error {
	if err := WaitForDatabase(ctx, cfg.DSN(), connectAttempts, connectBackoff); err != nil {
		return err
	}

	m, err := migrate.New(cfg.MigrationsPath, cfg.URL())
	if err != nil {
		return fmt.Errorf("could not start migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info().Str("source", cfg.MigrationsPath).Msg("Migrations applied successfully")
	return nil
}
