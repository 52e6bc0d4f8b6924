package postgres

import (
	"embed"

	pgutil "github.com/bibbank/reconciliation/pkg/postgres"
)

// Migrations holds the schema migrations compiled into the binary.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory of Migrations holding the SQL files.
const MigrationsDir = "migrations"

// Migrator returns a migrator over the embedded schema.
func Migrator() pgutil.Migrator {
	return pgutil.NewMigrator(Migrations, MigrationsDir)
}

// Migrate applies every pending schema migration.
func Migrate(dsn string) error {
	return Migrator().Up(dsn)
}
