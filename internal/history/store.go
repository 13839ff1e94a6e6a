package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS shoots (
    id TEXT PRIMARY KEY,
    name TEXT,
    source_path TEXT,
    resolution TEXT NOT NULL,
    aspect_ratio TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS iterations (
    id TEXT PRIMARY KEY,
    shoot_id TEXT NOT NULL,
    concept_id TEXT NOT NULL,
    parent_id TEXT,
    operation TEXT NOT NULL,
    style TEXT NOT NULL,
    prompt TEXT NOT NULL,
    image_path TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (shoot_id) REFERENCES shoots(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_iterations_shoot_id ON iterations(shoot_id);
CREATE INDEX IF NOT EXISTS idx_iterations_concept_id ON iterations(concept_id);
CREATE INDEX IF NOT EXISTS idx_shoots_updated_at ON shoots(updated_at);
`

type Store struct {
	db *sql.DB
}

// NewStore opens history.db under dir.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithPath(filepath.Join(dir, "history.db"))
}

func NewStoreWithPath(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps PRAGMA foreign_keys in effect for every statement
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateShoot(ctx context.Context, sh *Shoot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shoots (id, name, source_path, resolution, aspect_ratio, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sh.ID, sh.Name, sh.SourcePath, sh.Resolution, sh.AspectRatio, sh.CreatedAt, sh.UpdatedAt)
	return err
}

func (s *Store) GetShoot(ctx context.Context, id string) (*Shoot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, source_path, resolution, aspect_ratio, created_at, updated_at
		 FROM shoots WHERE id = ?`, id)
	return scanShoot(row)
}

func (s *Store) UpdateShoot(ctx context.Context, sh *Shoot) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE shoots SET name = ?, source_path = ?, resolution = ?, aspect_ratio = ?, updated_at = ?
		 WHERE id = ?`,
		sh.Name, sh.SourcePath, sh.Resolution, sh.AspectRatio, sh.UpdatedAt, sh.ID)
	return err
}

func (s *Store) DeleteShoot(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM shoots WHERE id = ?`, id)
	return err
}

func (s *Store) ListShoots(ctx context.Context) ([]*Shoot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, source_path, resolution, aspect_ratio, created_at, updated_at
		 FROM shoots ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shoots []*Shoot
	for rows.Next() {
		sh, err := scanShoot(rows)
		if err != nil {
			return nil, err
		}
		shoots = append(shoots, sh)
	}
	return shoots, rows.Err()
}

func (s *Store) CreateIteration(ctx context.Context, it *Iteration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO iterations (id, shoot_id, concept_id, parent_id, operation, style, prompt, image_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.ShootID, it.ConceptID, nullString(it.ParentID), it.Operation, it.Style,
		it.Prompt, it.ImagePath, it.CreatedAt)
	return err
}

func (s *Store) ListIterations(ctx context.Context, shootID string) ([]*Iteration, error) {
	return s.queryIterations(ctx,
		`SELECT id, shoot_id, concept_id, parent_id, operation, style, prompt, image_path, created_at
		 FROM iterations WHERE shoot_id = ? ORDER BY created_at ASC, rowid ASC`, shootID)
}

func (s *Store) ListConceptIterations(ctx context.Context, shootID, conceptID string) ([]*Iteration, error) {
	return s.queryIterations(ctx,
		`SELECT id, shoot_id, concept_id, parent_id, operation, style, prompt, image_path, created_at
		 FROM iterations WHERE shoot_id = ? AND concept_id = ? ORDER BY created_at ASC, rowid ASC`,
		shootID, conceptID)
}

// LatestIteration returns the newest iteration of a concept, or nil.
func (s *Store) LatestIteration(ctx context.Context, shootID, conceptID string) (*Iteration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, shoot_id, concept_id, parent_id, operation, style, prompt, image_path, created_at
		 FROM iterations WHERE shoot_id = ? AND concept_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, shootID, conceptID)
	it, err := scanIteration(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return it, err
}

func (s *Store) CountIterations(ctx context.Context, shootID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM iterations WHERE shoot_id = ?`, shootID).Scan(&count)
	return count, err
}

func (s *Store) queryIterations(ctx context.Context, query string, args ...any) ([]*Iteration, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var iterations []*Iteration
	for rows.Next() {
		it, err := scanIteration(rows)
		if err != nil {
			return nil, err
		}
		iterations = append(iterations, it)
	}
	return iterations, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanShoot(row scanner) (*Shoot, error) {
	sh := &Shoot{}
	var name, sourcePath sql.NullString
	err := row.Scan(&sh.ID, &name, &sourcePath, &sh.Resolution, &sh.AspectRatio, &sh.CreatedAt, &sh.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sh.Name = name.String
	sh.SourcePath = sourcePath.String
	return sh, nil
}

func scanIteration(row scanner) (*Iteration, error) {
	it := &Iteration{}
	var parentID sql.NullString
	err := row.Scan(&it.ID, &it.ShootID, &it.ConceptID, &parentID, &it.Operation, &it.Style,
		&it.Prompt, &it.ImagePath, &it.CreatedAt)
	if err != nil {
		return nil, err
	}
	it.ParentID = parentID.String
	return it, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
