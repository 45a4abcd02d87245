// Package catalog is the embedded relational store behind a project: scan
// records and the cluster hierarchy, kept in a single SQLite file next to the
// project metadata. All operations serialize behind one mutex; a project
// holds exactly one open connection.
package catalog

import (
	"database/sql"
	"embed"
	"errors"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/pointscape/pointscape/internal/errs"
	"github.com/pointscape/pointscape/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Catalog wraps the project database connection.
type Catalog struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the catalog at path and brings its schema
// up to date. Foreign keys are enabled on the connection so cluster deletion
// cascades and scan re-parenting fire in the engine.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errs.Wrap(errs.CatalogError, err, "opening catalog %s", path)
	}

	c := &Catalog{db: db, path: path}
	if err := c.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	monitoring.Debugf("catalog: opened %s", path)
	return c, nil
}

// Close releases the database connection.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return errs.Wrap(errs.CatalogError, err, "closing catalog %s", c.path)
}

// Path returns the database file path.
func (c *Catalog) Path() string { return c.path }

func (c *Catalog) migrateUp() error {
	m, err := c.newMigrate()
	if err != nil {
		return err
	}
	// Not closing m: it would close the underlying DB connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errs.Wrap(errs.CatalogError, err, "migrating catalog %s", c.path)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (c *Catalog) MigrateDown() error {
	m, err := c.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errs.Wrap(errs.CatalogError, err, "rolling back catalog %s", c.path)
	}
	return nil
}

// MigrateVersion returns the applied schema version and dirty flag. A fresh
// database reports 0, false.
func (c *Catalog) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := c.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errs.Wrap(errs.CatalogError, err, "reading schema version of %s", c.path)
	}
	return version, dirty, nil
}

func (c *Catalog) newMigrate() (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, errs.Wrap(errs.CatalogError, err, "loading embedded migrations")
	}
	driver, err := sqlite.WithInstance(c.db, &sqlite.Config{})
	if err != nil {
		return nil, errs.Wrap(errs.CatalogError, err, "creating sqlite migrate driver")
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return nil, errs.Wrap(errs.CatalogError, err, "creating migrate instance")
	}
	m.Log = &migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("catalog migrate: "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// inTx runs fn inside a transaction, rolling back on error. Callers must
// already hold c.mu.
func (c *Catalog) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := c.db.Begin()
	if err != nil {
		return errs.Wrap(errs.CatalogError, err, "beginning transaction")
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			monitoring.Logf("catalog: rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.CatalogError, err, "committing transaction")
	}
	return nil
}

// nullable adapts an optional foreign key for queries where NULL means the
// project root.
func nullable(id *string) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *id, Valid: true}
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
