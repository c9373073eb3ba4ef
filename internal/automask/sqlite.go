package automask

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS learned_boxes (
	seq        INTEGER PRIMARY KEY,
	id         TEXT    NOT NULL UNIQUE,
	x          INTEGER NOT NULL,
	y          INTEGER NOT NULL,
	w          INTEGER NOT NULL,
	h          INTEGER NOT NULL,
	hit_count  INTEGER NOT NULL,
	first_seen TEXT    NOT NULL,
	last_seen  TEXT    NOT NULL
)`

// SQLite stores the boxes in a single table. Save replaces all rows in
// one transaction.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path with WAL
// journaling and a busy timeout.
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: mkdir: %w", ErrPersistence, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %w", ErrPersistence, err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %w", ErrPersistence, p, err)
		}
	}

	s, err := NewSQLite(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLite wraps an open database and ensures the schema exists.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("%w: exec schema: %w", ErrPersistence, err)
	}
	return &SQLite{db: db}, nil
}

// Load reads all boxes in insertion order.
func (s *SQLite) Load(ctx context.Context) ([]LearnedBox, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, x, y, w, h, hit_count, first_seen, last_seen FROM learned_boxes ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("%w: query boxes: %w", ErrPersistence, err)
	}
	defer rows.Close()

	var boxes []LearnedBox
	for rows.Next() {
		var b LearnedBox
		var first, last string
		if err := rows.Scan(&b.ID, &b.X, &b.Y, &b.W, &b.H, &b.HitCount, &first, &last); err != nil {
			return nil, fmt.Errorf("%w: scan box: %w", ErrPersistence, err)
		}
		if b.FirstSeen, err = time.Parse(time.RFC3339Nano, first); err != nil {
			return nil, fmt.Errorf("%w: box %s first_seen: %w", ErrPersistence, b.ID, err)
		}
		if b.LastSeen, err = time.Parse(time.RFC3339Nano, last); err != nil {
			return nil, fmt.Errorf("%w: box %s last_seen: %w", ErrPersistence, b.ID, err)
		}
		boxes = append(boxes, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate boxes: %w", ErrPersistence, err)
	}
	return boxes, nil
}

// Save replaces the stored collection. A failure or cancellation rolls
// back to the previous contents.
func (s *SQLite) Save(ctx context.Context, boxes []LearnedBox) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrPersistence, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM learned_boxes`); err != nil {
		return fmt.Errorf("%w: clear boxes: %w", ErrPersistence, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO learned_boxes (seq, id, x, y, w, h, hit_count, first_seen, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare insert: %w", ErrPersistence, err)
	}
	defer stmt.Close()

	for i, b := range boxes {
		_, err := stmt.ExecContext(ctx, i, b.ID, b.X, b.Y, b.W, b.H, b.HitCount,
			b.FirstSeen.UTC().Format(time.RFC3339Nano), b.LastSeen.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("%w: insert box %s: %w", ErrPersistence, b.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrPersistence, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
