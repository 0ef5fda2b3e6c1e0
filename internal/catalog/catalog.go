// Package catalog is the persistent record of downloaded bottles, their
// published symlinks and the dependency edges between them, backed by a
// single sqlite file.
package catalog

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/glebarez/go-sqlite"
)

// migrations are applied in order at connect time; the schema version is
// tracked in PRAGMA user_version.
var migrations = []string{
	`CREATE TABLE downloaded_bottles (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		name    TEXT NOT NULL,
		version TEXT NOT NULL,
		path    TEXT NOT NULL,
		UNIQUE (name, version)
	);
	CREATE TABLE linked_files (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		path      TEXT NOT NULL UNIQUE,
		bottle_id INTEGER NOT NULL REFERENCES downloaded_bottles (id) ON DELETE CASCADE
	);
	CREATE TABLE dependencies (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		dependent_id  INTEGER REFERENCES downloaded_bottles (id) ON DELETE CASCADE,
		dependency_id INTEGER NOT NULL REFERENCES downloaded_bottles (id) ON DELETE CASCADE
	);`,
}

// Store wraps the shared catalog connection. All operations serialise on
// the internal mutex; the edge replace-all additionally runs in a single
// transaction.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

var (
	defaultOnce  sync.Once
	defaultStore *Store
	defaultErr   error
)

// Default opens the process-wide catalog once.
func Default(path string) (*Store, error) {
	defaultOnce.Do(func() {
		defaultStore, defaultErr = Open(path)
	})
	return defaultStore, defaultErr
}

// Open connects to the catalog file, enables foreign keys and applies
// pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", path, err)
	}
	// One connection: the store's mutex is the serialisation point.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate catalog: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}

	return nil
}
