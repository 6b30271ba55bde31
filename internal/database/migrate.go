package database

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// migrationRunner is the part of *migrate.Migrate the server uses.
type migrationRunner interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Close() (error, error)
}

var newMigrate = func(sourceURL, databaseURL string) (migrationRunner, error) {
	return migrate.New(sourceURL, databaseURL)
}

type Migrator struct {
	m migrationRunner
}

// NewMigrator reads SQL migrations from dir and applies them to dsn.
func NewMigrator(dsn, dir string) (*Migrator, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving migrations path: %w", err)
	}
	m, err := newMigrate("file://"+filepath.ToSlash(abs), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening migrations: %w", err)
	}
	return &Migrator{m: m}, nil
}

// Up applies pending migrations. Being already current is not an error.
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (mg *Migrator) Down() error {
	if err := mg.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Version reports the applied version; 0 when nothing has run yet.
func (mg *Migrator) Version() (uint, bool, error) {
	v, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}
