package compare

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Report is what one batch writes out. Pages go to the summary file as a
// top-level list of per-page results; the rest goes to the batch file.
type Report struct {
	GeneratedAt time.Time `json:"generatedAt"`
	Version     string    `json:"version"`
	Summary     Summary   `json:"summary"`
	Pages       []*Result `json:"-"`
}

// NewReport wraps a finished batch.
func NewReport(b *Batch, version string, now time.Time) Report {
	pages := b.Results
	if pages == nil {
		pages = []*Result{}
	}
	return Report{
		GeneratedAt: now.UTC(),
		Version:     version,
		Summary:     b.Summary,
		Pages:       pages,
	}
}

// WriteReport writes the page list to summaryPath and the batch metadata
// to batchPath, replacing each file atomically. An empty batchPath skips
// the metadata.
func WriteReport(summaryPath, batchPath string, r Report) error {
	pages := r.Pages
	if pages == nil {
		pages = []*Result{}
	}
	if err := writeJSON(summaryPath, pages); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	if batchPath == "" {
		return nil
	}
	if err := writeJSON(batchPath, r); err != nil {
		return fmt.Errorf("failed to write batch report: %w", err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
