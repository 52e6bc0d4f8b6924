package postgres

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // register postgres driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Migrator applies golang-migrate migrations read from a file system,
// typically an embed.FS compiled into the service binary.
type Migrator struct {
	fsys fs.FS
	dir  string
}

// NewMigrator returns a Migrator for the migrations found under dir in fsys.
func NewMigrator(fsys fs.FS, dir string) Migrator {
	return Migrator{fsys: fsys, dir: dir}
}

// Up applies every pending migration. It is a no-op when the schema is current.
func (m Migrator) Up(dsn string) error {
	return m.run(dsn, "up", (*migrate.Migrate).Up)
}

// Down rolls every migration back.
func (m Migrator) Down(dsn string) error {
	return m.run(dsn, "down", (*migrate.Migrate).Down)
}

// Version reports the applied schema version and whether the last migration
// left the schema dirty. A database without migrations reports version 0.
func (m Migrator) Version(dsn string) (uint, bool, error) {
	mg, err := m.open(dsn)
	if err != nil {
		return 0, false, err
	}
	defer mg.Close()

	v, dirty, err := mg.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("postgres: read migration version: %w", err)
	}
	return v, dirty, nil
}

func (m Migrator) run(dsn, direction string, step func(*migrate.Migrate) error) error {
	mg, err := m.open(dsn)
	if err != nil {
		return err
	}
	defer mg.Close()

	if err := step(mg); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("postgres: run migrations %s: %w", direction, err)
	}
	return nil
}

func (m Migrator) open(dsn string) (*migrate.Migrate, error) {
	src, err := iofs.New(m.fsys, m.dir)
	if err != nil {
		return nil, fmt.Errorf("postgres: open migration source: %w", err)
	}
	mg, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: create migrator: %w", err)
	}
	return mg, nil
}
