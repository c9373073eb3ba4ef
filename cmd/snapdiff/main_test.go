package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePage(t *testing.T, path string, square image.Point) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 80, 30))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	red := color.RGBA{220, 0, 0, 255}
	for y := square.Y; y < square.Y+10; y++ {
		for x := square.X; x < square.X+10; x++ {
			img.SetRGBA(x, y, red)
		}
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func noEnv(string) string { return "" }

func TestRunGate(t *testing.T) {
	root := t.TempDir()
	oldDir := filepath.Join(root, "old")
	newDir := filepath.Join(root, "new")
	outDir := filepath.Join(root, "out")
	writePage(t, filepath.Join(oldDir, "home.png"), image.Pt(5, 5))
	writePage(t, filepath.Join(newDir, "home.png"), image.Pt(40, 5))
	writePage(t, filepath.Join(oldDir, "about.png"), image.Pt(5, 5))
	writePage(t, filepath.Join(newDir, "about.png"), image.Pt(5, 5))
	maskPath := filepath.Join(root, "automask.json")

	var stdout, stderr bytes.Buffer
	args := []string{"-old", oldDir, "-new", newDir, "-out", outDir, "-automask", maskPath, "-workers", "2"}
	code := run(context.Background(), args, &stdout, &stderr, noEnv)
	assert.Equal(t, exitFail, code, stderr.String())
	assert.Contains(t, stdout.String(), "FAIL")

	data, err := os.ReadFile(filepath.Join(outDir, "visual_diff_summary.json"))
	require.NoError(t, err)
	var pages []struct {
		Page      string `json:"page"`
		Artifacts struct {
			Annotated string `json:"annotated"`
		} `json:"artifacts"`
	}
	require.NoError(t, json.Unmarshal(data, &pages))
	require.Len(t, pages, 2)
	assert.Equal(t, "about", pages[0].Page)
	assert.Equal(t, "home", pages[1].Page)
	assert.FileExists(t, pages[1].Artifacts.Annotated)

	data, err = os.ReadFile(filepath.Join(outDir, "visual_diff_batch.json"))
	require.NoError(t, err)
	var meta struct {
		Summary struct {
			Pages          int     `json:"pages"`
			AvgDiffPercent float64 `json:"avgDiffPercent"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(data, &meta))
	assert.Equal(t, 2, meta.Summary.Pages)
	assert.Greater(t, meta.Summary.AvgDiffPercent, 0.0)
	assert.FileExists(t, maskPath)

	stdout.Reset()
	args = append(args, "-fail-percent", "10")
	code = run(context.Background(), args, &stdout, &stderr, noEnv)
	assert.Equal(t, exitPass, code, stderr.String())
	assert.Contains(t, stdout.String(), "PASS")
}

func TestRunUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitSetup, run(context.Background(), nil, &stdout, &stderr, noEnv))
	assert.Contains(t, stderr.String(), "Usage")

	stderr.Reset()
	assert.Equal(t, exitSetup, run(context.Background(), []string{"-bogus"}, &stdout, &stderr, noEnv))
}

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitPass, run(context.Background(), []string{"-version"}, &stdout, &stderr, noEnv))
	assert.Contains(t, stdout.String(), "snapdiff")
}

func TestRunEnvOverride(t *testing.T) {
	root := t.TempDir()
	var stdout, stderr bytes.Buffer
	env := func(k string) string {
		if k == "SNAPDIFF_WORKERS" {
			return "lots"
		}
		return ""
	}
	code := run(context.Background(), []string{"-old", root, "-new", root}, &stdout, &stderr, env)
	assert.Equal(t, exitSetup, code)
	assert.Contains(t, stderr.String(), "SNAPDIFF_WORKERS")
}
