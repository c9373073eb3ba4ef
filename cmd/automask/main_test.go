package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapdiff/internal/automask"
	"snapdiff/pkg/geometry"
)

var epoch = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

// seed writes a store with one frequently seen box and one transient box.
func seed(t *testing.T, path string) {
	t.Helper()
	store := automask.New(automask.NewJSONFile(path), automask.WithClock(func() time.Time { return epoch }))
	for range 3 {
		store.Observe([]geometry.Rect{geometry.NewRect(0, 0, 50, 20)})
	}
	store.Observe([]geometry.Rect{geometry.NewRect(100, 100, 10, 10)})
	require.NoError(t, store.Save(context.Background()))
}

func TestList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "automask.json")
	seed(t, path)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"list", "-store", path}, &stdout, &stderr, time.Now)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "HITS")
	assert.Contains(t, stdout.String(), "2 boxes")

	stdout.Reset()
	code = run(context.Background(), []string{"list", "-store", path, "-json", "-min-hits", "2"}, &stdout, &stderr, time.Now)
	require.Equal(t, 0, code, stderr.String())
	var boxes []automask.LearnedBox
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &boxes))
	require.Len(t, boxes, 1)
	assert.Equal(t, 3, boxes[0].HitCount)
}

func TestPrune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "automask.json")
	seed(t, path)
	later := func() time.Time { return epoch.Add(40 * 24 * time.Hour) }

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"prune", "-store", path, "-dry-run"}, &stdout, &stderr, later)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "1 of 2 boxes removed")

	reloaded := automask.New(automask.NewJSONFile(path))
	require.NoError(t, reloaded.Load(context.Background()))
	assert.Equal(t, 2, reloaded.Len(), "dry run leaves the store alone")

	stdout.Reset()
	code = run(context.Background(), []string{"prune", "-store", path}, &stdout, &stderr, later)
	require.Equal(t, 0, code, stderr.String())

	require.NoError(t, reloaded.Load(context.Background()))
	require.Equal(t, 1, reloaded.Len())
	assert.Equal(t, 3, reloaded.Snapshot()[0].HitCount)
}

func TestPruneLegacyKeepsEverything(t *testing.T) {
	path := filepath.Join(t.TempDir(), "automask.json")
	seed(t, path)
	later := func() time.Time { return epoch.Add(400 * 24 * time.Hour) }

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"prune", "-store", path, "-legacy"}, &stdout, &stderr, later)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "0 of 2 boxes removed")
}

func TestUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(context.Background(), []string{"explode"}, &stdout, &stderr, time.Now))
	assert.Equal(t, 2, run(context.Background(), nil, &stdout, &stderr, time.Now))
	assert.Equal(t, 2, run(context.Background(), []string{"list"}, &stdout, &stderr, time.Now))
}
