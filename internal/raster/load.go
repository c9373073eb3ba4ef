package raster

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Load decodes an image file into a Snapshot. The snapshot ID is the path.
func Load(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %v: %w", path, err, ErrDecode)
	}

	snap := FromImage(path, img)
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

// FileSource loads a snapshot from disk on demand.
type FileSource struct {
	Path string
}

// ID returns the file path.
func (f FileSource) ID() string { return f.Path }

// Load reads and decodes the file unless ctx is already done.
func (f FileSource) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Load(f.Path)
}

// MemorySource serves an already decoded snapshot.
type MemorySource struct {
	Snapshot *Snapshot
}

// ID returns the snapshot ID.
func (m MemorySource) ID() string {
	if m.Snapshot == nil {
		return ""
	}
	return m.Snapshot.ID
}

// Load returns the wrapped snapshot.
func (m MemorySource) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.Snapshot.Validate(); err != nil {
		return nil, err
	}
	return m.Snapshot, nil
}

// IsImageFile reports whether the path has an extension the loader decodes.
func IsImageFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp":
		return true
	}
	return false
}
