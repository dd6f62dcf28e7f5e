package storage

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunMigrations brings the account and audit schema up to date and
// returns the resulting schema version. A schema left dirty by an
// interrupted run is reported rather than forced.
func RunMigrations(dbURL, migrationsDir string) (uint, error) {
	m, err := migrate.New("file://"+migrationsDir, dbURL)
	if err != nil {
		return 0, fmt.Errorf("opening migrations in %s: %w", migrationsDir, err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("applying schema migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}
