// Command automask inspects and maintains the learned-box store that snapdiff
// uses to recognize recurring noise.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"snapdiff/internal/automask"
	"snapdiff/internal/config"
	"snapdiff/internal/version"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, time.Now))
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: automask <list|prune|version> -store <path> [options]")
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, now func() time.Time) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}

	switch args[0] {
	case "list":
		return list(ctx, args[1:], stdout, stderr)
	case "prune":
		return prune(ctx, args[1:], stdout, stderr, now)
	case "version":
		fmt.Fprintln(stdout, version.String("automask"))
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command %q\n", args[0])
		usage(stderr)
		return 2
	}
}

func list(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("store", "", "Auto-mask store path")
	asJSON := fs.Bool("json", false, "Print boxes as JSON")
	minHits := fs.Int("min-hits", 0, "Only boxes seen at least this many times")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *path == "" {
		usage(stderr)
		return 2
	}

	store, err := open(ctx, *path, automask.DefaultRetention())
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open store: %v\n", err)
		return 1
	}
	defer store.Close()

	var boxes []automask.LearnedBox
	for _, b := range store.Snapshot() {
		if b.HitCount >= *minHits {
			boxes = append(boxes, b)
		}
	}

	if *asJSON {
		if boxes == nil {
			boxes = []automask.LearnedBox{}
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(boxes); err != nil {
			fmt.Fprintf(stderr, "Failed to encode boxes: %v\n", err)
			return 1
		}
		return 0
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tX\tY\tW\tH\tHITS\tLAST SEEN")
	for _, b := range boxes {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			b.ID, b.X, b.Y, b.W, b.H, b.HitCount, b.LastSeen.Format(time.RFC3339))
	}
	tw.Flush()
	fmt.Fprintf(stdout, "%d boxes\n", len(boxes))
	return 0
}

func prune(ctx context.Context, args []string, stdout, stderr io.Writer, now func() time.Time) int {
	def := automask.DefaultRetention()
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("store", "", "Auto-mask store path")
	configPath := fs.String("config", "", "Take the retention policy from this YAML config")
	maxAge := fs.Duration("max-age", def.MaxAge, "Drop boxes unseen for this long")
	minHits := fs.Int("min-hits", def.MinHits, "Keep boxes seen at least this many times regardless of age (0 disables)")
	legacy := fs.Bool("legacy", false, "Use the legacy policy that keeps every box seen once")
	dryRun := fs.Bool("dry-run", false, "Report what would be removed without saving")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *path == "" {
		usage(stderr)
		return 2
	}

	policy := automask.RetentionPolicy{MaxAge: *maxAge, MinHits: *minHits}
	if *configPath != "" {
		cfg, err := config.LoadFile(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
			return 2
		}
		policy = cfg.Retention()
	}
	if *legacy {
		policy = automask.LegacyRetention()
	}

	store, err := open(ctx, *path, policy, automask.WithClock(now))
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open store: %v\n", err)
		return 1
	}
	defer store.Close()

	before := store.Len()
	removed := store.Prune()
	fmt.Fprintf(stdout, "%d of %d boxes removed (max age %s, min hits %d)\n", removed, before, policy.MaxAge, policy.MinHits)

	if *dryRun || removed == 0 {
		return 0
	}
	if err := store.Save(ctx); err != nil {
		fmt.Fprintf(stderr, "Failed to save store: %v\n", err)
		return 1
	}
	return 0
}

func open(ctx context.Context, path string, policy automask.RetentionPolicy, opts ...automask.Option) (*automask.Store, error) {
	backend, err := automask.Open(path)
	if err != nil {
		return nil, err
	}
	opts = append(opts, automask.WithRetention(policy))
	store := automask.New(backend, opts...)
	if err := store.Load(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
