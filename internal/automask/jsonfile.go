package automask

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// fileVersion is written into every JSON document.
const fileVersion = 1

type document struct {
	Version int          `json:"version"`
	Boxes   []LearnedBox `json:"boxes"`
}

// JSONFile stores the boxes as an indented JSON document. Saves go to a
// temporary file in the same directory which is synced and renamed over
// the target.
type JSONFile struct {
	Path string
}

// NewJSONFile returns a JSON backend for path.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{Path: path}
}

// Load reads the document. A missing file is an empty collection.
func (f *JSONFile) Load(ctx context.Context) ([]LearnedBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			// No file yet, start empty
			return nil, nil
		}
		return nil, fmt.Errorf("%w: cannot read %s: %w", ErrPersistence, f.Path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: cannot parse %s: %w", ErrPersistence, f.Path, err)
	}
	if doc.Version > fileVersion {
		return nil, fmt.Errorf("%w: %s has unsupported version %d", ErrPersistence, f.Path, doc.Version)
	}
	return doc.Boxes, nil
}

// Save replaces the document atomically.
func (f *JSONFile) Save(ctx context.Context, boxes []LearnedBox) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if boxes == nil {
		boxes = []LearnedBox{}
	}

	data, err := json.MarshalIndent(document{Version: fileVersion, Boxes: boxes}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: cannot serialize boxes: %w", ErrPersistence, err)
	}

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: cannot create %s: %w", ErrPersistence, dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: cannot create temp file: %w", ErrPersistence, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: cannot write %s: %w", ErrPersistence, tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: cannot sync %s: %w", ErrPersistence, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: cannot close %s: %w", ErrPersistence, tmpName, err)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		return fmt.Errorf("%w: cannot replace %s: %w", ErrPersistence, f.Path, err)
	}
	committed = true
	return nil
}

// Close is a no-op.
func (f *JSONFile) Close() error { return nil }

// Open picks a backend from the file extension: .db, .sqlite and .sqlite3
// use SQLite, anything else JSON.
func Open(path string) (Backend, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLite(path)
	default:
		return NewJSONFile(path), nil
	}
}
