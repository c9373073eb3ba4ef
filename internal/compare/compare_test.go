package compare

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapdiff/internal/automask"
	"snapdiff/internal/raster"
	"snapdiff/internal/region"
	"snapdiff/pkg/geometry"
)

func page(id string, w, h int) *raster.Snapshot {
	s := raster.NewSnapshot(id, w, h)
	s.Fill(0, 0, w, h, 255, 255, 255, 255)
	return s
}

func redSquarePair() (*raster.Snapshot, *raster.Snapshot) {
	older := page("old/home.png", 80, 30)
	older.Fill(5, 5, 10, 10, 220, 0, 0, 255)
	newer := page("new/home.png", 80, 30)
	newer.Fill(40, 5, 10, 10, 220, 0, 0, 255)
	return older, newer
}

func TestComparePairRedSquare(t *testing.T) {
	older, newer := redSquarePair()
	e := New(DefaultOptions())

	res, err := e.ComparePair(context.Background(), "home", older, newer)
	require.NoError(t, err)

	assert.Equal(t, 80, res.Width)
	assert.Equal(t, 30, res.Height)
	assert.Equal(t, 200, res.DiffPixels)
	assert.InDelta(t, 200.0/2400.0*100, res.DiffPercent, 1e-9)
	assert.Equal(t, "old/home.png", res.OldID)

	// IoU governs classification: no overlap means removed + added even
	// though correlation finds the displacement.
	require.Len(t, res.Matches, 2)
	removed, added := res.Matches[0], res.Matches[1]

	assert.Equal(t, region.Removed, removed.Type)
	assert.Equal(t, geometry.NewRect(5, 5, 10, 10), removed.Old.Rect)
	assert.Zero(t, removed.IoU)
	require.NotNil(t, removed.Motion)
	assert.InDelta(t, 35.0, removed.Motion.DX, 1e-9)
	assert.InDelta(t, 0.0, removed.Motion.DY, 1e-9)
	assert.Greater(t, removed.Motion.Score, 0.99)

	assert.Equal(t, region.Added, added.Type)
	assert.Equal(t, geometry.NewRect(40, 5, 10, 10), added.New.Rect)
	assert.Nil(t, added.Motion)

	assert.Len(t, res.Regions, 2)
}

func TestComparePairMotionNeverReclassifies(t *testing.T) {
	older, newer := redSquarePair()
	opts := DefaultOptions()
	opts.RefineUnmatched = false

	res, err := New(opts).ComparePair(context.Background(), "home", older, newer)
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, region.Removed, res.Matches[0].Type)
	assert.Nil(t, res.Matches[0].Motion)
	assert.Equal(t, region.Added, res.Matches[1].Type)
}

func TestComparePairMoved(t *testing.T) {
	older := page("a", 30, 30)
	older.Fill(5, 5, 10, 10, 50, 50, 50, 255)
	newer := page("b", 30, 30)
	newer.Fill(7, 7, 10, 10, 0, 0, 0, 255)

	opts := DefaultOptions()
	opts.Diff.IncludeAntiAliasing = true
	res, err := New(opts).ComparePair(context.Background(), "card", older, newer)
	require.NoError(t, err)

	require.Len(t, res.Matches, 1)
	m := res.Matches[0]
	assert.Equal(t, region.Moved, m.Type)
	assert.InDelta(t, 64.0/136.0, m.IoU, 1e-9)
	require.NotNil(t, m.Motion)
	assert.InDelta(t, 2.0, m.Motion.DX, 1e-9)
	assert.InDelta(t, 2.0, m.Motion.DY, 1e-9)
}

func TestComparePairIdentical(t *testing.T) {
	a := page("a", 12, 9)
	a.Fill(2, 2, 4, 4, 10, 120, 200, 255)
	b := page("b", 12, 9)
	b.Fill(2, 2, 4, 4, 10, 120, 200, 255)

	res, err := New(DefaultOptions()).ComparePair(context.Background(), "same", a, b)
	require.NoError(t, err)
	assert.Zero(t, res.DiffPixels)
	assert.Zero(t, res.DiffPercent)
	assert.Zero(t, res.MSE)
	assert.True(t, math.IsInf(res.PSNR, 1))
	assert.Empty(t, res.Matches)
	assert.Empty(t, res.Regions)
}

func TestComparePairSinglePixel(t *testing.T) {
	a := page("a", 4, 4)
	b := page("b", 4, 4)
	b.Set(1, 2, 0, 0, 0, 255)

	opts := DefaultOptions()
	res, err := New(opts).ComparePair(context.Background(), "dot", a, b)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DiffPixels)
	assert.InDelta(t, 6.25, res.DiffPercent, 1e-9)
	assert.Empty(t, res.Regions, "filtered by the default minimum area")

	opts.MinArea = 0
	res, err = New(opts).ComparePair(context.Background(), "dot", a, b)
	require.NoError(t, err)
	require.Len(t, res.Regions, 1)
	assert.Equal(t, geometry.NewRect(1, 2, 1, 1), res.Regions[0].Rect)
}

func TestComparePairPadsCanvas(t *testing.T) {
	a := page("a", 3, 3)
	b := page("b", 5, 4)

	res, err := New(DefaultOptions()).ComparePair(context.Background(), "pad", a, b)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Width)
	assert.Equal(t, 4, res.Height)
	assert.Zero(t, res.DiffPixels)
}

func TestComparePairInvalidSnapshot(t *testing.T) {
	bad := &raster.Snapshot{ID: "bad", Width: 4, Height: 4, Pix: make([]uint8, 10)}
	_, err := New(DefaultOptions()).ComparePair(context.Background(), "bad", bad, page("ok", 4, 4))
	assert.ErrorIs(t, err, raster.ErrDecode)
}

func TestComparePairSuppressesLearnedBoxes(t *testing.T) {
	older, newer := redSquarePair()
	store := automask.New(nil)
	for i := 0; i < 3; i++ {
		store.Observe([]geometry.Rect{geometry.NewRect(5, 5, 10, 10), geometry.NewRect(40, 5, 10, 10)})
	}

	opts := DefaultOptions()
	opts.SuppressLearned = true
	res, err := New(opts, WithStore(store)).ComparePair(context.Background(), "home", older, newer)
	require.NoError(t, err)
	assert.Zero(t, res.DiffPixels)
	assert.Equal(t, 200, res.SuppressedPixels)
	assert.Empty(t, res.Matches)
}

func TestComparePairWritesArtifacts(t *testing.T) {
	older, newer := redSquarePair()
	opts := DefaultOptions()
	opts.ArtifactDir = t.TempDir()

	res, err := New(opts).ComparePair(context.Background(), "shop/cart", older, newer)
	require.NoError(t, err)
	assert.FileExists(t, res.Artifacts.Annotated)
	assert.FileExists(t, res.Artifacts.Mask)
	assert.Equal(t, filepath.Join(opts.ArtifactDir, "shop_cart.mask.png"), res.Artifacts.Mask)
}

type failingSource struct{ id string }

func (f failingSource) ID() string { return f.id }
func (f failingSource) Load(context.Context) (*raster.Snapshot, error) {
	return nil, errors.New("capture missing")
}

func TestRunBatch(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "automask.json")
	store := automask.New(automask.NewJSONFile(storePath))

	redOld, redNew := redSquarePair()
	pairs := []Pair{
		{Key: "home", Old: raster.MemorySource{Snapshot: redOld}, New: raster.MemorySource{Snapshot: redNew}},
		{Key: "broken", Old: failingSource{id: "x"}, New: raster.MemorySource{Snapshot: page("y", 4, 4)}},
		{Key: "about", Old: raster.MemorySource{Snapshot: page("a1", 10, 10)}, New: raster.MemorySource{Snapshot: page("a2", 10, 10)}},
	}

	opts := DefaultOptions()
	opts.Workers = 3
	batch, err := New(opts, WithStore(store)).Run(context.Background(), pairs)
	require.NoError(t, err)
	require.NoError(t, batch.PersistErr)

	require.Len(t, batch.Results, 3)
	for i, p := range pairs {
		assert.Equal(t, p.Key, batch.Results[i].Key)
	}
	assert.False(t, batch.Results[0].Failed())
	assert.True(t, batch.Results[1].Failed())
	assert.Contains(t, batch.Results[1].Err.Error(), "capture missing")
	assert.False(t, batch.Results[2].Failed())

	assert.Equal(t, 3, batch.Summary.Pages)
	assert.Equal(t, 1, batch.Summary.Failed)
	assert.False(t, batch.Summary.Passed)

	// removed + added boxes from the home page
	assert.Equal(t, 2, store.Len())
	reloaded := automask.New(automask.NewJSONFile(storePath))
	require.NoError(t, reloaded.Load(context.Background()))
	assert.Equal(t, 2, reloaded.Len())
}

func TestRunCancelledLeavesStore(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "automask.json")
	store := automask.New(automask.NewJSONFile(storePath))

	redOld, redNew := redSquarePair()
	pairs := []Pair{
		{Key: "home", Old: raster.MemorySource{Snapshot: redOld}, New: raster.MemorySource{Snapshot: redNew}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	batch, err := New(DefaultOptions(), WithStore(store)).Run(ctx, pairs)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, batch)
	assert.Zero(t, store.Len())

	_, statErr := os.Stat(storePath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunPrunesStaleBoxes(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	storePath := filepath.Join(t.TempDir(), "automask.json")
	store := automask.New(automask.NewJSONFile(storePath), automask.WithClock(clock))
	store.Observe([]geometry.Rect{geometry.NewRect(0, 0, 10, 10)})

	now = now.Add(31 * 24 * time.Hour)
	same := page("home.png", 20, 20)
	pairs := []Pair{{Key: "home", Old: raster.MemorySource{Snapshot: same}, New: raster.MemorySource{Snapshot: same}}}

	batch, err := New(DefaultOptions(), WithStore(store)).Run(context.Background(), pairs)
	require.NoError(t, err)
	require.NoError(t, batch.PersistErr)
	assert.Zero(t, store.Len())

	reloaded := automask.New(automask.NewJSONFile(storePath))
	require.NoError(t, reloaded.Load(context.Background()))
	assert.Zero(t, reloaded.Len())
}

func TestSummarize(t *testing.T) {
	results := []*Result{
		{Key: "a"}, {Key: "b"}, {Key: "c"}, {Key: "d"}, {Key: "e"},
		{Key: "f", DiffPercent: 12},
	}
	s := Summarize(results, 1.0)

	assert.Equal(t, 6, s.Pages)
	assert.Zero(t, s.Failed)
	assert.InDelta(t, 2.0, s.AvgDiffPercent, 1e-9)
	assert.InDelta(t, 12.0, s.MaxDiffPercent, 1e-9)
	assert.InDelta(t, 98.0, s.Stability, 1e-9)
	// mean 2, population variance 20
	assert.InDelta(t, 2+2*math.Sqrt(20), s.AnomalyThreshold, 1e-9)
	require.Len(t, s.Anomalies, 1)
	assert.Equal(t, "f", s.Anomalies[0].Page)
	assert.False(t, s.Passed)

	assert.True(t, Summarize(results, 2.5).Passed)

	results = append(results, &Result{Key: "g", Err: errors.New("decode")})
	s = Summarize(results, 2.5)
	assert.Equal(t, 7, s.Pages)
	assert.Equal(t, 1, s.Failed)
	assert.InDelta(t, 2.0, s.AvgDiffPercent, 1e-9)
	assert.False(t, s.Passed)
}

func TestSummarizeThresholdFloor(t *testing.T) {
	results := []*Result{{Key: "a", DiffPercent: 0.2}, {Key: "b", DiffPercent: 0.2}}
	s := Summarize(results, 1.0)
	assert.Equal(t, 1.0, s.AnomalyThreshold)
	assert.Empty(t, s.Anomalies)
	assert.True(t, s.Passed)

	empty := Summarize(nil, 1.0)
	assert.Zero(t, empty.Pages)
	assert.Equal(t, 100.0, empty.Stability)
	assert.True(t, empty.Passed)
}

func TestSummarizeUsesReportedPrecision(t *testing.T) {
	// 0.9996 is written as 1.000, which meets the 1% floor.
	results := []*Result{{Key: "a", DiffPercent: 0.9996}, {Key: "b", DiffPercent: 0.9996}}
	s := Summarize(results, 5)
	assert.Equal(t, 1.0, s.AnomalyThreshold)
	require.Len(t, s.Anomalies, 2)
	assert.Equal(t, "a", s.Anomalies[0].Page)
	assert.Equal(t, 1.0, s.AvgDiffPercent)

	results = []*Result{{Key: "a", DiffPercent: 0.9994}, {Key: "b", DiffPercent: 0.9994}}
	assert.Empty(t, Summarize(results, 5).Anomalies)
}

func TestResultJSON(t *testing.T) {
	res := &Result{
		Key:         "home",
		Width:       80,
		Height:      30,
		DiffPixels:  200,
		DiffPercent: 200.0 / 2400.0 * 100,
		PSNR:        math.Inf(1),
	}
	data, err := json.Marshal(res)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "home", doc["page"])
	assert.Equal(t, 8.333, doc["diffPercent"])
	assert.Equal(t, "Inf", doc["psnr"])
	assert.Nil(t, doc["perceptual"])
	assert.Contains(t, doc, "perceptual")
	assert.NotContains(t, doc, "error")
	assert.Equal(t, []any{}, doc["matches"])

	score := 0.5
	res.PSNR = 31.25
	res.Perceptual = &score
	res.Err = errors.New("boom")
	data, err = json.Marshal(res)
	require.NoError(t, err)
	doc = nil
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 31.25, doc["psnr"])
	assert.Equal(t, 0.5, doc["perceptual"])
	assert.Equal(t, "boom", doc["error"])
}
