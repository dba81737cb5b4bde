package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/courier/internal/store/migrations"
)

// SchemaVersion is the newest migration shipped with this binary.
const SchemaVersion = 2

var (
	// ErrDirtySchema means an earlier migration failed halfway and the
	// database needs manual repair.
	ErrDirtySchema = errors.New("database schema is dirty")
	// ErrSchemaTooNew means the database was migrated by a newer binary.
	ErrSchemaTooNew = errors.New("database schema is newer than this binary")
)

// MigrateResult describes what Migrate did.
type MigrateResult struct {
	From    uint
	Version uint
	Changed bool
}

// Migrate brings the schema up to SchemaVersion. It refuses to touch a
// dirty database or one migrated past what this binary knows.
func (db *DB) Migrate() (*MigrateResult, error) {
	m, err := db.migrator()
	if err != nil {
		return nil, err
	}

	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0
	case err != nil:
		return nil, fmt.Errorf("read schema version: %w", err)
	case dirty:
		return nil, fmt.Errorf("%w at version %d", ErrDirtySchema, from)
	case from > SchemaVersion:
		return nil, fmt.Errorf("%w: version %d, max %d", ErrSchemaTooNew, from, SchemaVersion)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("migration up: %w", err)
	}
	version, _, err := m.Version()
	if err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	return &MigrateResult{From: from, Version: version, Changed: version != from}, nil
}

func (db *DB) migrator() (*migrate.Migrate, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}
	return m, nil
}
