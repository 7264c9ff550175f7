// Package migrate applies the embedded PostgreSQL schema for the guard
// tables using golang-migrate.
package migrate

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"

	gomigrate "github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Source returns the embedded migrations as a golang-migrate source driver.
func Source() (source.Driver, error) {
	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate: source: %w", err)
	}
	return d, nil
}

// Up applies all pending migrations to db. The caller keeps ownership of db.
func Up(db *sql.DB) error {
	src, err := Source()
	if err != nil {
		return err
	}
	defer src.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migrate: driver: %w", err)
	}

	// Not closing m: its Close also closes db.
	m, err := gomigrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate: init: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, gomigrate.ErrNoChange) {
			log.Printf("[migrate] schema up to date")
			return nil
		}
		return fmt.Errorf("migrate: up: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("migrate: version: %w", err)
	}
	log.Printf("[migrate] schema at version %d (dirty=%v)", version, dirty)
	return nil
}
