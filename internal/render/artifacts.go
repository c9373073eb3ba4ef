package render

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"snapdiff/internal/diff"
)

// Artifacts are the paths of the rendered diagnostic images.
type Artifacts struct {
	Annotated string `json:"annotated,omitempty"`
	Mask      string `json:"mask,omitempty"`
}

// FileStem turns a page key into a safe file name stem.
func FileStem(key string) string {
	stem := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, key)
	stem = strings.TrimLeft(stem, ".")
	if stem == "" {
		stem = "page"
	}
	return stem
}

// WriteArtifacts writes <key>.annotated.png and <key>.mask.png into dir.
func WriteArtifacts(dir, key string, annotated *image.RGBA, mask *diff.Mask) (Artifacts, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Artifacts{}, fmt.Errorf("cannot create artifact directory: %w", err)
	}

	stem := FileStem(key)
	arts := Artifacts{
		Annotated: filepath.Join(dir, stem+".annotated.png"),
		Mask:      filepath.Join(dir, stem+".mask.png"),
	}

	if err := writePNG(arts.Annotated, annotated); err != nil {
		return Artifacts{}, err
	}
	if err := writePNG(arts.Mask, mask.Image()); err != nil {
		return Artifacts{}, err
	}
	return arts, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("cannot close %s: %w", path, err)
	}
	return nil
}
