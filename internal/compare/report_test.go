package compare

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapdiff/internal/raster"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
}

func TestPairDirs(t *testing.T) {
	root := t.TempDir()
	oldDir := filepath.Join(root, "run-1")
	newDir := filepath.Join(root, "run-2")
	touch(t, oldDir, "home.png")
	touch(t, oldDir, "cart.png")
	touch(t, oldDir, "only-old.png")
	touch(t, oldDir, "notes.txt")
	touch(t, newDir, "home.png")
	touch(t, newDir, "cart.png")
	touch(t, newDir, "only-new.jpg")
	require.NoError(t, os.Mkdir(filepath.Join(newDir, "nested.png"), 0o755))

	pairs, unpaired, err := PairDirs(oldDir, newDir)
	require.NoError(t, err)

	require.Len(t, pairs, 2)
	assert.Equal(t, "cart", pairs[0].Key)
	assert.Equal(t, "home", pairs[1].Key)
	assert.Equal(t, filepath.Join(oldDir, "home.png"), pairs[1].Old.ID())
	assert.Equal(t, filepath.Join(newDir, "home.png"), pairs[1].New.ID())
	assert.Equal(t, []string{
		filepath.Join(oldDir, "only-old.png"),
		filepath.Join(newDir, "only-new.jpg"),
	}, unpaired)
}

func TestPairDirsAmbiguousKey(t *testing.T) {
	root := t.TempDir()
	oldDir := filepath.Join(root, "run-1")
	newDir := filepath.Join(root, "run-2")
	touch(t, oldDir, "home.png")
	touch(t, oldDir, "home.jpg")
	touch(t, oldDir, "cart.png")
	touch(t, newDir, "home.png")
	touch(t, newDir, "home.jpg")
	touch(t, newDir, "cart.png")

	pairs, unpaired, err := PairDirs(oldDir, newDir)
	require.NoError(t, err)

	require.Len(t, pairs, 1)
	assert.Equal(t, "cart", pairs[0].Key)
	assert.Equal(t, []string{
		filepath.Join(oldDir, "home.jpg"),
		filepath.Join(oldDir, "home.png"),
		filepath.Join(newDir, "home.jpg"),
		filepath.Join(newDir, "home.png"),
	}, unpaired)
}

func TestPairDirsMissing(t *testing.T) {
	_, _, err := PairDirs(filepath.Join(t.TempDir(), "absent"), t.TempDir())
	assert.Error(t, err)
}

func TestWriteReport(t *testing.T) {
	older, newer := redSquarePair()
	engine := New(DefaultOptions())
	batch, err := engine.Run(context.Background(), []Pair{{
		Key: "home",
		Old: raster.MemorySource{Snapshot: older},
		New: raster.MemorySource{Snapshot: newer},
	}})
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "out")
	summaryPath := filepath.Join(dir, "visual_diff_summary.json")
	batchPath := filepath.Join(dir, "visual_diff_batch.json")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, WriteReport(summaryPath, batchPath, NewReport(batch, "1.2.3", now)))

	// The summary file is a plain list so plotting and report scripts can
	// iterate it directly.
	data, err := os.ReadFile(summaryPath)
	require.NoError(t, err)
	var pages []struct {
		Page        string  `json:"page"`
		DiffPercent float64 `json:"diffPercent"`
	}
	require.NoError(t, json.Unmarshal(data, &pages))
	require.Len(t, pages, 1)
	assert.Equal(t, "home", pages[0].Page)
	assert.Equal(t, 8.333, pages[0].DiffPercent)

	data, err = os.ReadFile(batchPath)
	require.NoError(t, err)
	var meta struct {
		GeneratedAt time.Time `json:"generatedAt"`
		Version     string    `json:"version"`
		Summary     struct {
			Pages  int  `json:"pages"`
			Passed bool `json:"passed"`
		} `json:"summary"`
		Pages json.RawMessage `json:"pages"`
	}
	require.NoError(t, json.Unmarshal(data, &meta))
	assert.True(t, now.Equal(meta.GeneratedAt))
	assert.Equal(t, "1.2.3", meta.Version)
	assert.Equal(t, 1, meta.Summary.Pages)
	assert.False(t, meta.Summary.Passed)
	assert.Nil(t, meta.Pages)

	for _, p := range []string{summaryPath, batchPath} {
		_, err = os.Stat(p + ".tmp")
		assert.True(t, os.IsNotExist(err))
	}
}

func TestWriteReportEmptyBatch(t *testing.T) {
	summaryPath := filepath.Join(t.TempDir(), "visual_diff_summary.json")
	require.NoError(t, WriteReport(summaryPath, "", NewReport(&Batch{}, "dev", time.Now())))

	data, err := os.ReadFile(summaryPath)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}
