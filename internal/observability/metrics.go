package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds OTel metric instruments for the diff engine.
type Metrics struct {
	PagesCompared metric.Int64Counter
	PageFailures  metric.Int64Counter
	DiffPercent   metric.Float64Histogram
	PageDuration  metric.Float64Histogram
	LearnedBoxes  metric.Int64Counter
}

// NewMetrics creates the engine metric instruments on the global meter
// provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("snapdiff")

	pagesCompared, err := meter.Int64Counter("snapdiff.pages.compared",
		metric.WithDescription("Number of page pairs compared"),
	)
	if err != nil {
		return nil, err
	}

	pageFailures, err := meter.Int64Counter("snapdiff.pages.failed",
		metric.WithDescription("Number of page pairs that could not be compared"),
	)
	if err != nil {
		return nil, err
	}

	diffPercent, err := meter.Float64Histogram("snapdiff.diff.percent",
		metric.WithDescription("Percentage of changed pixels per page"),
		metric.WithUnit("%"),
	)
	if err != nil {
		return nil, err
	}

	pageDuration, err := meter.Float64Histogram("snapdiff.page.duration_seconds",
		metric.WithDescription("Time spent comparing one page pair"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	learnedBoxes, err := meter.Int64Counter("snapdiff.automask.observations",
		metric.WithDescription("Auto-mask box observations by outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		PagesCompared: pagesCompared,
		PageFailures:  pageFailures,
		DiffPercent:   diffPercent,
		PageDuration:  pageDuration,
		LearnedBoxes:  learnedBoxes,
	}, nil
}

// RecordPage records a completed page comparison.
func (m *Metrics) RecordPage(ctx context.Context, diffPercent float64, d time.Duration) {
	m.PagesCompared.Add(ctx, 1)
	m.DiffPercent.Record(ctx, diffPercent)
	m.PageDuration.Record(ctx, d.Seconds())
}

// RecordFailure records a page that failed with the given stage.
func (m *Metrics) RecordFailure(ctx context.Context, stage string) {
	m.PageFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordObservations records auto-mask updates and inserts.
func (m *Metrics) RecordObservations(ctx context.Context, updated, created int) {
	if updated > 0 {
		m.LearnedBoxes.Add(ctx, int64(updated),
			metric.WithAttributes(attribute.String("outcome", "updated")))
	}
	if created > 0 {
		m.LearnedBoxes.Add(ctx, int64(created),
			metric.WithAttributes(attribute.String("outcome", "created")))
	}
}
