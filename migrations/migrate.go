package migrations

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // postgres driver for migrate
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Up applies all pending migrations to databaseURL.
func Up(databaseURL string) error {
	return run(databaseURL, "up", func(m *migrate.Migrate) error { return m.Up() })
}

// Down rolls back the most recent migration.
func Down(databaseURL string) error {
	return run(databaseURL, "down", func(m *migrate.Migrate) error { return m.Steps(-1) })
}

func run(databaseURL, direction string, fn func(*migrate.Migrate) error) error {
	src, err := iofs.New(FS, ".")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := fn(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}
	return nil
}
