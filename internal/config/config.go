// Package config loads snapdiff settings from a YAML file and the
// environment.
package config

import (
	"fmt"
	"image/color"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"snapdiff/internal/automask"
	"snapdiff/internal/compare"
	"snapdiff/internal/diff"
	"snapdiff/internal/motion"
	"snapdiff/internal/quality"
	"snapdiff/internal/region"
)

// Renderer names.
const (
	RendererBuiltin = "builtin"
	RendererOpenCV  = "opencv"
)

// Files written next to the artifacts: the per-page list and the batch
// metadata (version, timestamp, aggregate summary).
const (
	DefaultSummaryFile = "visual_diff_summary.json"
	DefaultBatchFile   = "visual_diff_batch.json"
)

// Config is the top-level configuration.
type Config struct {
	Diff       DiffConfig       `yaml:"diff"`
	Motion     MotionConfig     `yaml:"motion"`
	Perceptual PerceptualConfig `yaml:"perceptual"`
	AutoMask   AutoMaskConfig   `yaml:"automask"`
	Output     OutputConfig     `yaml:"output"`
	Batch      BatchConfig      `yaml:"batch"`
	Log        LogConfig        `yaml:"log"`
}

// DiffConfig controls pixel differencing and region extraction.
type DiffConfig struct {
	Threshold           float64 `yaml:"threshold"`
	IncludeAntiAliasing bool    `yaml:"include_anti_aliasing"`
	IgnoreMask          string  `yaml:"ignore_mask"` // image path, white = ignore
	MinArea             int     `yaml:"min_area"`
	MoveIoU             float64 `yaml:"move_iou"`
	Background          string  `yaml:"background"` // #rrggbb or #rrggbbaa
}

// MotionConfig controls displacement refinement.
type MotionConfig struct {
	Enabled         bool    `yaml:"enabled"`
	RefineUnmatched bool    `yaml:"refine_unmatched"`
	TemplateMargin  int     `yaml:"template_margin"`
	SearchRadius    int     `yaml:"search_radius"`
	MaxTemplateSide int     `yaml:"max_template_side"`
	BlockSize       int     `yaml:"block_size"`
	BlockRadius     int     `yaml:"block_radius"`
	MinBlockScore   float64 `yaml:"min_block_score"`
}

// PerceptualConfig controls the optional SSIM score.
type PerceptualConfig struct {
	Enabled    bool `yaml:"enabled"`
	WindowSize int  `yaml:"window_size"`
	BitDepth   int  `yaml:"bit_depth"`
}

// AutoMaskConfig controls the learned-box store.
type AutoMaskConfig struct {
	Path            string        `yaml:"path"` // .json, or .db/.sqlite for SQLite; empty disables
	MaxAge          time.Duration `yaml:"max_age"`
	MinHits         int           `yaml:"min_hits"`
	Suppress        bool          `yaml:"suppress"`
	SuppressMinHits int           `yaml:"suppress_min_hits"`
}

// OutputConfig controls artifacts and the summary file.
type OutputConfig struct {
	Dir         string `yaml:"dir"`
	Artifacts   bool   `yaml:"artifacts"`
	Renderer    string `yaml:"renderer"` // builtin | opencv
	SummaryFile string `yaml:"summary_file"`
	BatchFile   string `yaml:"batch_file"`
}

// BatchConfig controls parallelism and the pass/fail gate.
type BatchConfig struct {
	Workers     int     `yaml:"workers"`
	FailPercent float64 `yaml:"fail_percent"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// Default returns the built-in configuration.
func Default() *Config {
	m := motion.DefaultConfig()
	r := automask.DefaultRetention()
	return &Config{
		Diff: DiffConfig{
			Threshold:  diff.DefaultThreshold,
			MinArea:    compare.DefaultMinArea,
			MoveIoU:    region.DefaultMoveIoU,
			Background: "#ffffff",
		},
		Motion: MotionConfig{
			Enabled:         true,
			RefineUnmatched: true,
			TemplateMargin:  m.TemplateMargin,
			SearchRadius:    m.SearchRadius,
			MaxTemplateSide: m.MaxTemplateSide,
			BlockSize:       m.BlockSize,
			BlockRadius:     m.BlockRadius,
			MinBlockScore:   m.MinBlockScore,
		},
		Perceptual: PerceptualConfig{
			WindowSize: quality.DefaultWindowSize,
			BitDepth:   quality.DefaultBitDepth,
		},
		AutoMask: AutoMaskConfig{
			MaxAge:          r.MaxAge,
			MinHits:         r.MinHits,
			SuppressMinHits: compare.DefaultMinHits,
		},
		Output: OutputConfig{
			Dir:         "visual_diff",
			Artifacts:   true,
			Renderer:    RendererBuiltin,
			SummaryFile: DefaultSummaryFile,
			BatchFile:   DefaultBatchFile,
		},
		Batch: BatchConfig{
			Workers:     4,
			FailPercent: compare.DefaultFailPercent,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFile reads a YAML configuration file over the defaults. An empty
// path returns the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Diff.Threshold <= 0 {
		c.Diff.Threshold = def.Diff.Threshold
	}
	if c.Diff.MoveIoU <= 0 {
		c.Diff.MoveIoU = def.Diff.MoveIoU
	}
	if c.Diff.Background == "" {
		c.Diff.Background = def.Diff.Background
	}
	if c.Motion.SearchRadius <= 0 {
		c.Motion.SearchRadius = def.Motion.SearchRadius
	}
	if c.Motion.BlockSize <= 0 {
		c.Motion.BlockSize = def.Motion.BlockSize
	}
	if c.Perceptual.WindowSize <= 0 {
		c.Perceptual.WindowSize = def.Perceptual.WindowSize
	}
	if c.Perceptual.BitDepth <= 0 {
		c.Perceptual.BitDepth = def.Perceptual.BitDepth
	}
	if c.AutoMask.MaxAge <= 0 {
		c.AutoMask.MaxAge = def.AutoMask.MaxAge
	}
	if c.AutoMask.SuppressMinHits <= 0 {
		c.AutoMask.SuppressMinHits = def.AutoMask.SuppressMinHits
	}
	if c.Output.Renderer == "" {
		c.Output.Renderer = def.Output.Renderer
	}
	if c.Output.SummaryFile == "" {
		c.Output.SummaryFile = def.Output.SummaryFile
	}
	if c.Output.BatchFile == "" {
		c.Output.BatchFile = def.Output.BatchFile
	}
	if c.Batch.Workers <= 0 {
		c.Batch.Workers = def.Batch.Workers
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

// ApplyEnv overrides settings from SNAPDIFF_* variables read through
// getenv. Unset or empty variables leave the setting alone.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	var errs []string
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *float64) {
		if v := getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s=%q", key, v))
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s=%q", key, v))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s=%q", key, v))
				return
			}
			*dst = b
		}
	}

	num("SNAPDIFF_THRESHOLD", &c.Diff.Threshold)
	boolean("SNAPDIFF_INCLUDE_AA", &c.Diff.IncludeAntiAliasing)
	str("SNAPDIFF_IGNORE_MASK", &c.Diff.IgnoreMask)
	integer("SNAPDIFF_MIN_AREA", &c.Diff.MinArea)
	boolean("SNAPDIFF_PERCEPTUAL", &c.Perceptual.Enabled)
	str("SNAPDIFF_AUTOMASK_PATH", &c.AutoMask.Path)
	boolean("SNAPDIFF_AUTOMASK_SUPPRESS", &c.AutoMask.Suppress)
	str("SNAPDIFF_OUTPUT_DIR", &c.Output.Dir)
	str("SNAPDIFF_RENDERER", &c.Output.Renderer)
	integer("SNAPDIFF_WORKERS", &c.Batch.Workers)
	num("SNAPDIFF_FAIL_PERCENT", &c.Batch.FailPercent)
	str("SNAPDIFF_LOG_LEVEL", &c.Log.Level)
	str("SNAPDIFF_LOG_FORMAT", &c.Log.Format)

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid environment values: %s", strings.Join(errs, ", "))
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Diff.Threshold <= 0 || c.Diff.Threshold > 1 {
		return fmt.Errorf("config: diff.threshold %v must be in (0, 1]", c.Diff.Threshold)
	}
	if c.Diff.MinArea < 0 {
		return fmt.Errorf("config: diff.min_area %d must not be negative", c.Diff.MinArea)
	}
	if c.Diff.MoveIoU <= 0 || c.Diff.MoveIoU > 1 {
		return fmt.Errorf("config: diff.move_iou %v must be in (0, 1]", c.Diff.MoveIoU)
	}
	if _, err := ParseColor(c.Diff.Background); err != nil {
		return fmt.Errorf("config: diff.background: %w", err)
	}
	if c.Output.Renderer != RendererBuiltin && c.Output.Renderer != RendererOpenCV {
		return fmt.Errorf("config: output.renderer %q (must be %s or %s)", c.Output.Renderer, RendererBuiltin, RendererOpenCV)
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("config: batch.workers %d must be positive", c.Batch.Workers)
	}
	if c.Batch.FailPercent < 0 {
		return fmt.Errorf("config: batch.fail_percent %v must not be negative", c.Batch.FailPercent)
	}
	return nil
}

// Retention returns the auto-mask prune policy.
func (c *Config) Retention() automask.RetentionPolicy {
	return automask.RetentionPolicy{MaxAge: c.AutoMask.MaxAge, MinHits: c.AutoMask.MinHits}
}

// EngineOptions maps the configuration onto compare.Options. The ignore
// mask image is loaded by the caller.
func (c *Config) EngineOptions() (compare.Options, error) {
	bg, err := ParseColor(c.Diff.Background)
	if err != nil {
		return compare.Options{}, fmt.Errorf("config: diff.background: %w", err)
	}

	opts := compare.DefaultOptions()
	opts.Diff = diff.Options{
		Threshold:           c.Diff.Threshold,
		IncludeAntiAliasing: c.Diff.IncludeAntiAliasing,
	}
	opts.Background = bg
	opts.MinArea = c.Diff.MinArea
	opts.MoveIoU = c.Diff.MoveIoU
	opts.RefineMotion = c.Motion.Enabled
	opts.RefineUnmatched = c.Motion.RefineUnmatched
	opts.Motion = motion.Config{
		TemplateMargin:  c.Motion.TemplateMargin,
		SearchRadius:    c.Motion.SearchRadius,
		MaxTemplateSide: c.Motion.MaxTemplateSide,
		BlockSize:       c.Motion.BlockSize,
		BlockRadius:     c.Motion.BlockRadius,
		MinBlockScore:   c.Motion.MinBlockScore,
	}
	opts.Perceptual = quality.Options{WindowSize: c.Perceptual.WindowSize, BitDepth: c.Perceptual.BitDepth}
	opts.SuppressLearned = c.AutoMask.Suppress
	opts.SuppressMinHits = c.AutoMask.SuppressMinHits
	if c.Output.Artifacts {
		opts.ArtifactDir = c.Output.Dir
	}
	opts.Workers = c.Batch.Workers
	opts.FailPercent = c.Batch.FailPercent
	return opts, nil
}

// ParseColor parses #rrggbb or #rrggbbaa.
func ParseColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 && len(hex) != 8 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	if len(hex) == 6 {
		v = v<<8 | 0xff
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
