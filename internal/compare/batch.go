package compare

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"snapdiff/internal/raster"
	"snapdiff/pkg/geometry"
)

// Source supplies one snapshot.
type Source interface {
	ID() string
	Load(ctx context.Context) (*raster.Snapshot, error)
}

// Pair is one page key with its older and newer snapshots.
type Pair struct {
	Key string
	Old Source
	New Source
}

// Batch is the outcome of Run.
type Batch struct {
	// Results are in input order.
	Results []*Result
	Summary Summary

	// PersistErr is set when the auto-mask store could not be saved. The
	// comparison results are still valid.
	PersistErr error
}

// Run compares all pairs with up to Options.Workers in parallel. Pages that
// fail are reported in their Result and do not stop the batch. After every
// page is done the added and removed boxes are applied to the auto-mask
// store in input order, the retention policy is applied and the store is
// saved once.
//
// When ctx is cancelled Run returns ctx's error and leaves the store as it
// was.
func (e *Engine) Run(ctx context.Context, pairs []Pair) (*Batch, error) {
	start := time.Now()
	results := make([]*Result, len(pairs))
	suppress := e.suppressors()

	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for i, p := range pairs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = e.runPair(ctx, p, suppress)
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		e.logger.Warn("batch cancelled, auto-mask store not updated", "pages", len(pairs))
		return nil, fmt.Errorf("batch cancelled: %w", err)
	}

	batch := &Batch{
		Results: results,
		Summary: Summarize(results, e.opts.FailPercent),
	}

	if e.store != nil {
		for _, res := range results {
			if res.Failed() {
				continue
			}
			changed := res.ChangedMatches()
			rects := make([]geometry.Rect, len(changed))
			for i, m := range changed {
				rects[i] = m.Box()
			}
			updated, created := e.store.Observe(rects)
			if e.metrics != nil {
				e.metrics.RecordObservations(ctx, updated, created)
			}
		}
		if pruned := e.store.Prune(); pruned > 0 {
			e.logger.Info("pruned learned boxes", "removed", pruned)
		}
		if err := e.store.Save(ctx); err != nil {
			e.logger.Error("failed to save auto-mask store", "error", err)
			batch.PersistErr = err
		}
	}

	e.logger.Info("batch complete",
		"pages", batch.Summary.Pages,
		"failed", batch.Summary.Failed,
		"avgDiffPercent", Round3(batch.Summary.AvgDiffPercent),
		"passed", batch.Summary.Passed,
		"elapsed", time.Since(start),
	)
	return batch, nil
}

func (e *Engine) runPair(ctx context.Context, p Pair, suppress []geometry.Rect) *Result {
	res := &Result{Key: p.Key, OldID: p.Old.ID(), NewID: p.New.ID()}

	older, err := p.Old.Load(ctx)
	if err != nil {
		return e.fail(ctx, res, "load", fmt.Errorf("load old snapshot: %w", err))
	}
	newer, err := p.New.Load(ctx)
	if err != nil {
		return e.fail(ctx, res, "load", fmt.Errorf("load new snapshot: %w", err))
	}

	out, err := e.compare(ctx, p.Key, older, newer, suppress)
	if err != nil {
		return e.fail(ctx, res, "compare", err)
	}
	return out
}

func (e *Engine) fail(ctx context.Context, res *Result, stage string, err error) *Result {
	res.Err = err
	if e.metrics != nil {
		e.metrics.RecordFailure(ctx, stage)
	}
	e.logger.Warn("page comparison failed", "page", res.Key, "stage", stage, "error", err)
	return res
}
