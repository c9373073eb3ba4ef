// Package compare runs page-pair comparisons and batches of them.
package compare

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"time"

	"snapdiff/internal/automask"
	"snapdiff/internal/diff"
	"snapdiff/internal/motion"
	"snapdiff/internal/observability"
	"snapdiff/internal/quality"
	"snapdiff/internal/raster"
	"snapdiff/internal/region"
	"snapdiff/internal/render"
	"snapdiff/pkg/geometry"
)

// Default engine settings.
const (
	DefaultMinArea     = 20
	DefaultFailPercent = 1.0
	DefaultMinHits     = 3
)

// Options configures an Engine.
type Options struct {
	Diff       diff.Options
	Background color.RGBA

	MinArea int
	MoveIoU float64

	// RefineMotion annotates moved matches with a displacement estimate.
	RefineMotion bool
	// RefineUnmatched also estimates where removed regions went.
	RefineUnmatched bool
	Motion          motion.Config

	Perceptual quality.Options

	// SuppressLearned clears changes inside learned boxes seen at least
	// SuppressMinHits times before regions are extracted.
	SuppressLearned bool
	SuppressMinHits int

	// ArtifactDir receives the annotated and mask images. Empty disables
	// rendering.
	ArtifactDir string

	Workers     int
	FailPercent float64
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		Diff:            diff.Options{Threshold: diff.DefaultThreshold},
		Background:      raster.DefaultBackground,
		MinArea:         DefaultMinArea,
		MoveIoU:         region.DefaultMoveIoU,
		RefineMotion:    true,
		RefineUnmatched: true,
		Motion:          motion.DefaultConfig(),
		Perceptual:      quality.Options{WindowSize: quality.DefaultWindowSize, BitDepth: quality.DefaultBitDepth},
		SuppressMinHits: DefaultMinHits,
		Workers:         4,
		FailPercent:     DefaultFailPercent,
	}
}

// Engine compares snapshots. It is safe for concurrent use.
type Engine struct {
	opts      Options
	scorer    quality.Scorer
	annotator render.Annotator
	store     *automask.Store
	refiner   *motion.Refiner
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// Option configures optional Engine collaborators.
type Option func(*Engine)

// WithScorer sets the perceptual scorer. Without one the perceptual score
// is null.
func WithScorer(s quality.Scorer) Option { return func(e *Engine) { e.scorer = s } }

// WithAnnotator replaces the built-in annotator.
func WithAnnotator(a render.Annotator) Option { return func(e *Engine) { e.annotator = a } }

// WithStore attaches the auto-mask store. The caller loads it beforehand.
func WithStore(s *automask.Store) Option { return func(e *Engine) { e.store = s } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMetrics sets the metric instruments.
func WithMetrics(m *observability.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// New creates an engine.
func New(opts Options, options ...Option) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MinArea < 0 {
		opts.MinArea = 0
	}
	if opts.MoveIoU <= 0 {
		opts.MoveIoU = region.DefaultMoveIoU
	}
	if opts.SuppressMinHits <= 0 {
		opts.SuppressMinHits = DefaultMinHits
	}

	e := &Engine{opts: opts}
	for _, o := range options {
		o(e)
	}
	if e.annotator == nil {
		e.annotator = render.NewBuiltin(render.DefaultOptions())
	}
	if e.logger == nil {
		e.logger = observability.Discard()
	}
	e.logger = e.logger.With("component", "compare")
	e.refiner = motion.NewRefiner(opts.Motion)
	return e
}

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

// ComparePair compares one page pair. Learned-box suppression, when
// enabled, uses the store's current contents.
func (e *Engine) ComparePair(ctx context.Context, key string, older, newer *raster.Snapshot) (*Result, error) {
	return e.compare(ctx, key, older, newer, e.suppressors())
}

func (e *Engine) suppressors() []geometry.Rect {
	if !e.opts.SuppressLearned || e.store == nil {
		return nil
	}
	return e.store.Suppressors(e.opts.SuppressMinHits)
}

func (e *Engine) compare(ctx context.Context, key string, older, newer *raster.Snapshot, suppress []geometry.Rect) (*Result, error) {
	start := time.Now()

	a, b, err := raster.Align(older, newer, e.opts.Background)
	if err != nil {
		return nil, fmt.Errorf("align %s: %w", key, err)
	}
	width, height := a.Bounds().Dx(), a.Bounds().Dy()

	mask, stats, err := diff.Compute(a, b, e.opts.Diff)
	if err != nil {
		return nil, fmt.Errorf("diff %s: %w", key, err)
	}

	suppressed := 0
	for _, r := range suppress {
		suppressed += mask.Clear(r)
	}

	rep, err := quality.Compute(ctx, a, b, e.scorer, e.opts.Perceptual)
	if err != nil {
		return nil, fmt.Errorf("metrics %s: %w", key, err)
	}
	if rep.ScorerErr != nil {
		e.logger.Warn("perceptual score unavailable", "page", key, "error", rep.ScorerErr)
	}

	cls := region.Classify(a, b, mask, region.Options{
		MinArea:    e.opts.MinArea,
		MoveIoU:    e.opts.MoveIoU,
		Background: e.opts.Background,
	})
	if e.opts.RefineMotion {
		e.refine(a, b, cls.Matches)
	}

	diffPixels := mask.Count()
	res := &Result{
		Key:               key,
		OldID:             older.ID,
		NewID:             newer.ID,
		Width:             width,
		Height:            height,
		DiffPixels:        diffPixels,
		DiffPercent:       float64(diffPixels) / float64(width*height) * 100,
		AntiAliasedPixels: stats.AntiAliased,
		IgnoredPixels:     stats.Ignored,
		SuppressedPixels:  suppressed,
		MSE:               rep.MSE,
		PSNR:              rep.PSNR,
		Perceptual:        rep.Perceptual,
		Regions:           region.Extract(mask, e.opts.MinArea),
		RegionsOld:        cls.Old,
		RegionsNew:        cls.New,
		Matches:           cls.Matches,
	}

	if e.opts.ArtifactDir != "" {
		annotated, err := e.annotator.Annotate(b, mask, cls.Matches)
		if err != nil {
			return nil, fmt.Errorf("annotate %s: %w", key, err)
		}
		res.Artifacts, err = render.WriteArtifacts(e.opts.ArtifactDir, key, annotated, mask)
		if err != nil {
			return nil, fmt.Errorf("artifacts %s: %w", key, err)
		}
	}

	elapsed := time.Since(start)
	if e.metrics != nil {
		e.metrics.RecordPage(ctx, res.DiffPercent, elapsed)
	}
	e.logger.Debug("page compared",
		"page", key,
		"width", width,
		"height", height,
		"diffPixels", diffPixels,
		"diffPercent", res.DiffPercent,
		"matches", len(cls.Matches),
		"elapsed", elapsed,
	)
	return res, nil
}

// refine attaches motion estimates. Classification is never changed here.
func (e *Engine) refine(a, b *image.RGBA, matches []region.Match) {
	var older, newer *motion.Plane
	planes := func() {
		if older == nil {
			older = motion.NewPlane(a)
			newer = motion.NewPlane(b)
		}
	}

	for i := range matches {
		m := &matches[i]
		switch {
		case m.Type == region.Moved:
			planes()
			guess := image.Point{X: m.New.X - m.Old.X, Y: m.New.Y - m.Old.Y}
			m.Motion = e.refiner.Refine(older, newer, m.Old.Rect, guess)
		case m.Type == region.Removed && e.opts.RefineUnmatched:
			planes()
			m.Motion = e.refiner.Refine(older, newer, m.Old.Rect, image.Point{})
		}
	}
}
