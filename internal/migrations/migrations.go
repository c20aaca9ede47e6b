package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// MigrationFiles holds the engine-owned schema: cursors, the dirty queue and
// the metric and rank tables of the built-in processors.
//
//go:embed *.sql
var MigrationFiles embed.FS

// LatestVersion returns the highest embedded migration version.
func LatestVersion() (uint, error) {
	src, err := iofs.New(MigrationFiles, ".")
	if err != nil {
		return 0, fmt.Errorf("open migration source: %w", err)
	}
	defer src.Close()

	version, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("read first migration: %w", err)
	}
	for {
		next, err := src.Next(version)
		if errors.Is(err, fs.ErrNotExist) {
			return version, nil
		}
		if err != nil {
			return 0, fmt.Errorf("read migration after %d: %w", version, err)
		}
		version = next
	}
}

// RunMigrations brings the schema to the latest embedded version. With
// autoMigrate off it only reports how far behind the database is; the
// startup schema check then refuses to run against missing tables.
func RunMigrations(db *sql.DB, autoMigrate bool) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}

	current, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		if err := recoverDirty(m, current); err != nil {
			return err
		}
	}

	latest, err := LatestVersion()
	if err != nil {
		return err
	}

	if !autoMigrate {
		if current < latest {
			slog.Warn("[Migrations] Schema behind and auto-migration disabled",
				"current_version", current, "latest_version", latest)
		} else {
			slog.Info("[Migrations] Auto-migration disabled, schema current", "version", current)
		}
		return nil
	}

	slog.Info("[Migrations] Applying", "from_version", current, "to_version", latest)
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("[Migrations] Schema up to date", "version", current)
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	applied, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("read applied version: %w", err)
	}
	slog.Info("[Migrations] Applied", "from_version", current, "to_version", applied)
	return nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(MigrationFiles, ".")
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}

	target, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("open migration target: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", target)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// recoverDirty steps back one version after an interrupted migration so Up
// re-runs it. Every statement is IF [NOT] EXISTS.
func recoverDirty(m *migrate.Migrate, version uint) error {
	previous := int(version) - 1
	if previous < 1 {
		previous = database.NilVersion
	}

	slog.Warn("[Migrations] Dirty schema state, interrupted migration will be re-run",
		"version", version, "forced_to", previous)
	if err := m.Force(previous); err != nil {
		return fmt.Errorf("recover dirty migration %d: %w", version, err)
	}
	return nil
}
