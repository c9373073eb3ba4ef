// Command snapdiff compares two run directories of page snapshots and writes
// the visual diff summary.
//
// Exit status is 0 when the batch passes the gate, 1 when it fails and 2 on
// usage or setup errors.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"snapdiff/internal/automask"
	"snapdiff/internal/compare"
	"snapdiff/internal/config"
	"snapdiff/internal/diff"
	"snapdiff/internal/observability"
	"snapdiff/internal/quality/cvssim"
	"snapdiff/internal/raster"
	"snapdiff/internal/render"
	"snapdiff/internal/version"
)

const (
	exitPass  = 0
	exitFail  = 1
	exitSetup = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.Getenv)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) int {
	fs := flag.NewFlagSet("snapdiff", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to YAML config file")
	oldDir := fs.String("old", "", "Directory with the older run's snapshots")
	newDir := fs.String("new", "", "Directory with the newer run's snapshots")
	outDir := fs.String("out", "", "Output directory for artifacts and the summary")
	maskPath := fs.String("automask", "", "Auto-mask store (.json, or .db/.sqlite for SQLite)")
	workers := fs.Int("workers", 0, "Pages compared in parallel")
	failPercent := fs.Float64("fail-percent", -1, "Gate: maximum average diff percentage")
	renderer := fs.String("renderer", "", "Annotation renderer: builtin or opencv")
	perceptual := fs.Bool("perceptual", false, "Compute the SSIM perceptual score")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return exitSetup
	}

	if *showVersion {
		fmt.Fprintln(stdout, version.String("snapdiff"))
		return exitPass
	}
	if *oldDir == "" || *newDir == "" {
		fmt.Fprintln(stderr, "Usage: snapdiff -old <dir> -new <dir> [-out <dir>] [-config <file>]")
		return exitSetup
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return exitSetup
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitSetup
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "out":
			cfg.Output.Dir = *outDir
		case "automask":
			cfg.AutoMask.Path = *maskPath
		case "workers":
			cfg.Batch.Workers = *workers
		case "fail-percent":
			cfg.Batch.FailPercent = *failPercent
		case "renderer":
			cfg.Output.Renderer = *renderer
		case "perceptual":
			cfg.Perceptual.Enabled = *perceptual
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitSetup
	}

	logger := observability.InitLogger(cfg.Log.Level, cfg.Log.Format, stderr).With("component", "snapdiff")

	opts, err := cfg.EngineOptions()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return exitSetup
	}
	if cfg.Diff.IgnoreMask != "" {
		snap, err := raster.Load(cfg.Diff.IgnoreMask)
		if err != nil {
			logger.Error("failed to load ignore mask", "path", cfg.Diff.IgnoreMask, "error", err)
			return exitSetup
		}
		opts.Diff.Ignore = diff.IgnoreMaskFromImage(snap.Image())
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		logger.Error("failed to create metrics", "error", err)
		return exitSetup
	}
	engineOpts := []compare.Option{
		compare.WithLogger(logger),
		compare.WithMetrics(metrics),
	}
	if cfg.Perceptual.Enabled {
		engineOpts = append(engineOpts, compare.WithScorer(cvssim.New()))
	}
	if cfg.Output.Renderer == config.RendererOpenCV {
		engineOpts = append(engineOpts, compare.WithAnnotator(render.NewCV(render.DefaultOptions())))
	}

	if cfg.AutoMask.Path != "" {
		store, err := openStore(ctx, cfg)
		if err != nil {
			logger.Error("failed to open auto-mask store", "path", cfg.AutoMask.Path, "error", err)
			return exitSetup
		}
		defer store.Close()
		logger.Info("auto-mask store loaded", "path", cfg.AutoMask.Path, "boxes", store.Len())
		engineOpts = append(engineOpts, compare.WithStore(store))
	}

	pairs, unpaired, err := compare.PairDirs(*oldDir, *newDir)
	if err != nil {
		logger.Error("failed to pair snapshots", "error", err)
		return exitSetup
	}
	for _, path := range unpaired {
		logger.Warn("snapshot has no counterpart", "path", path)
	}
	if len(pairs) == 0 {
		logger.Warn("no page pairs found", "old", *oldDir, "new", *newDir)
	}

	engine := compare.New(opts, engineOpts...)
	batch, err := engine.Run(ctx, pairs)
	if err != nil {
		logger.Error("comparison aborted", "error", err)
		return exitFail
	}

	summaryPath := filepath.Join(cfg.Output.Dir, cfg.Output.SummaryFile)
	batchPath := filepath.Join(cfg.Output.Dir, cfg.Output.BatchFile)
	report := compare.NewReport(batch, version.Version, time.Now())
	if err := compare.WriteReport(summaryPath, batchPath, report); err != nil {
		logger.Error("failed to write summary", "error", err)
		return exitSetup
	}

	s := batch.Summary
	fmt.Fprintf(stdout, "%d pages, %d failed, avg diff %.3f%%, max %.3f%%, stability %.2f\n",
		s.Pages, s.Failed, s.AvgDiffPercent, s.MaxDiffPercent, s.Stability)
	for _, a := range s.Anomalies {
		fmt.Fprintf(stdout, "  anomaly: %s %.3f%%\n", a.Page, a.DiffPercent)
	}
	fmt.Fprintf(stdout, "Summary written to %s\n", summaryPath)

	if !s.Passed {
		fmt.Fprintf(stdout, "FAIL: average diff above %.3f%% or pages failed\n", s.FailPercent)
		return exitFail
	}
	fmt.Fprintln(stdout, "PASS")
	return exitPass
}

func openStore(ctx context.Context, cfg *config.Config) (*automask.Store, error) {
	backend, err := automask.Open(cfg.AutoMask.Path)
	if err != nil {
		return nil, err
	}
	store := automask.New(backend, automask.WithRetention(cfg.Retention()))
	if err := store.Load(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
