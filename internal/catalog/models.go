package catalog

import (
	"database/sql"
	"errors"
	"fmt"
)

// DownloadedBottle is one extracted bottle on disk. At most one row
// exists per (name, version).
type DownloadedBottle struct {
	ID      int64
	Name    string
	Version string
	Path    string
}

// LinkedFile is one symlink published under the bin directory, owned by
// a downloaded bottle.
type LinkedFile struct {
	ID       int64
	Path     string
	BottleID int64
}

// Dependency is one edge of the forest. A nil DependentID marks the
// dependency as a user-declared root.
type Dependency struct {
	DependentID  *int64
	DependencyID int64
}

// CreateBottle inserts a bottle row, failing on a (name, version)
// collision.
func (s *Store) CreateBottle(name, version, path string) (*DownloadedBottle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"INSERT INTO downloaded_bottles (name, version, path) VALUES (?, ?, ?)",
		name, version, path,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record bottle %s %s: %w", name, version, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &DownloadedBottle{ID: id, Name: name, Version: version, Path: path}, nil
}

// GetBottle returns the bottle row for (name, version), or nil when
// there is none.
func (s *Store) GetBottle(name, version string) (*DownloadedBottle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b DownloadedBottle
	err := s.db.QueryRow(
		"SELECT id, name, version, path FROM downloaded_bottles WHERE name = ? AND version = ?",
		name, version,
	).Scan(&b.ID, &b.Name, &b.Version, &b.Path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// AllBottles returns every bottle row ordered by (name, version).
func (s *Store) AllBottles() ([]DownloadedBottle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT id, name, version, path FROM downloaded_bottles ORDER BY name, version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bottles []DownloadedBottle
	for rows.Next() {
		var b DownloadedBottle
		if err := rows.Scan(&b.ID, &b.Name, &b.Version, &b.Path); err != nil {
			return nil, err
		}
		bottles = append(bottles, b)
	}
	return bottles, rows.Err()
}

// DeleteBottle removes a bottle row; edges referencing it cascade.
func (s *Store) DeleteBottle(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM downloaded_bottles WHERE id = ?", id)
	return err
}

// CreateLinkedFile records a published symlink. Re-recording the same
// path is a no-op.
func (s *Store) CreateLinkedFile(path string, bottleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO linked_files (path, bottle_id) VALUES (?, ?) ON CONFLICT (path) DO NOTHING",
		path, bottleID,
	)
	return err
}

// LinkedFiles returns the symlinks recorded for one bottle.
func (s *Store) LinkedFiles(bottleID int64) ([]LinkedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT id, path, bottle_id FROM linked_files WHERE bottle_id = ? ORDER BY path", bottleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []LinkedFile
	for rows.Next() {
		var f LinkedFile
		if err := rows.Scan(&f.ID, &f.Path, &f.BottleID); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *Store) DeleteLinkedFile(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM linked_files WHERE id = ?", id)
	return err
}

// AllDependencies returns every edge in the forest.
func (s *Store) AllDependencies() ([]Dependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT dependent_id, dependency_id FROM dependencies")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deps []Dependency
	for rows.Next() {
		var d Dependency
		var dependent sql.NullInt64
		if err := rows.Scan(&dependent, &d.DependencyID); err != nil {
			return nil, err
		}
		if dependent.Valid {
			id := dependent.Int64
			d.DependentID = &id
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// ReplaceAllDependencies rewrites the whole edge set in one transaction.
// On any failure the previous edges remain.
func (s *Store) ReplaceAllDependencies(deps []Dependency) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM dependencies"); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to clear dependencies: %w", err)
	}
	for _, d := range deps {
		var dependent any
		if d.DependentID != nil {
			dependent = *d.DependentID
		}
		if _, err := tx.Exec(
			"INSERT INTO dependencies (dependent_id, dependency_id) VALUES (?, ?)",
			dependent, d.DependencyID,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert dependency: %w", err)
		}
	}

	return tx.Commit()
}
