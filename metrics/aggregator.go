// Package metrics derives pipeline health and backlog aggregates from the
// document store and exports pipeline activity to Prometheus.
//
// Aggregates are recomputed on every call. Nothing here writes to the store.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/poiesic/dealwire/core"
	"github.com/poiesic/dealwire/linking"
	"github.com/poiesic/dealwire/storage"
	"golang.org/x/sync/errgroup"
)

// FreshnessWindow is the recency window of Freshness counts.
const FreshnessWindow = 24 * time.Hour

// Totals are document counts of one scope.
type Totals struct {
	Documents      int `json:"documents"`
	Completed      int `json:"completed"`
	Pending        int `json:"pending"` // Not yet COMPLETED
	Linked         int `json:"linked"`
	ReviewRequired int `json:"reviewRequired"`
}

// Rates are ratios derived from Totals. A zero denominator yields 0.
type Rates struct {
	Coverage float64 `json:"coverage"` // Completed / Documents
	LinkRate float64 `json:"linkRate"` // Linked / Completed
}

// Freshness counts what was created inside FreshnessWindow.
type Freshness struct {
	Documents24h   int `json:"documents24h"`
	Enrichments24h int `json:"enrichments24h"`
}

// HealthMetrics is the health aggregate of one scope.
type HealthMetrics struct {
	Scope     string    `json:"scope"`
	Totals    Totals    `json:"totals"`
	Rates     Rates     `json:"rates"`
	Freshness Freshness `json:"freshness"`
}

// Backlog counts documents per status.
type Backlog struct {
	New        int `json:"new"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Latency summarizes CompletedAt - CreatedAt over COMPLETED documents.
type Latency struct {
	P50     time.Duration `json:"p50"`
	P90     time.Duration `json:"p90"`
	Samples int           `json:"samples"`
}

// BacklogMetrics is the backlog aggregate of a scope, or of every scope.
type BacklogMetrics struct {
	Scope   string  `json:"scope,omitempty"`
	Backlog Backlog `json:"backlog"`
	Latency Latency `json:"latency"`
}

// Aggregator computes read-only aggregates.
// It is safe for concurrent use.
type Aggregator struct {
	documents   storage.DocumentRepository
	enrichments storage.EnrichmentRepository
	linking     linking.Service
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock overrides the time source of the freshness window.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAggregator creates an Aggregator. A nil linking service reports zero
// linked and review counts.
func NewAggregator(documents storage.DocumentRepository, enrichments storage.EnrichmentRepository, links linking.Service, opts ...Option) *Aggregator {
	if links == nil {
		links = linking.NewStatic(nil)
	}
	a := &Aggregator{
		documents:   documents,
		enrichments: enrichments,
		linking:     links,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "metrics")
	return a
}

// Health computes the health aggregate of scope.
// The document scan, the enrichment count and the linking lookup run concurrently.
func (a *Aggregator) Health(ctx context.Context, scope string) (HealthMetrics, error) {
	since := a.now().UTC().Add(-FreshnessWindow)
	var (
		totals      Totals
		fresh       Freshness
		links       linking.Stats
		enrichments int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.documents.ScanDocuments(gctx, scope, func(doc *core.Document) error {
			totals.Documents++
			if doc.Status == core.StatusCompleted {
				totals.Completed++
			}
			if !doc.CreatedAt.Before(since) {
				fresh.Documents24h++
			}
			return nil
		})
	})
	g.Go(func() error {
		n, err := a.enrichments.CountEnrichmentsSince(gctx, scope, since)
		if err != nil {
			return fmt.Errorf("count enrichments: %w", err)
		}
		enrichments = n
		return nil
	})
	g.Go(func() error {
		st, err := a.linking.Stats(gctx, scope)
		if err != nil {
			return fmt.Errorf("linking stats: %w", err)
		}
		links = st
		return nil
	})
	if err := g.Wait(); err != nil {
		return HealthMetrics{}, fmt.Errorf("health metrics of %q: %w", scope, err)
	}

	totals.Pending = totals.Documents - totals.Completed
	totals.Linked = links.Linked
	totals.ReviewRequired = links.ReviewRequired
	fresh.Enrichments24h = enrichments

	return HealthMetrics{
		Scope:  scope,
		Totals: totals,
		Rates: Rates{
			Coverage: ratio(totals.Completed, totals.Documents),
			LinkRate: ratio(totals.Linked, totals.Completed),
		},
		Freshness: fresh,
	}, nil
}

// Backlog computes status counts and completion latency. An empty scope covers every scope.
func (a *Aggregator) Backlog(ctx context.Context, scope string) (BacklogMetrics, error) {
	var backlog Backlog
	var latencies []time.Duration

	err := a.documents.ScanDocuments(ctx, scope, func(doc *core.Document) error {
		switch doc.Status {
		case core.StatusNew:
			backlog.New++
		case core.StatusProcessing:
			backlog.Processing++
		case core.StatusFailed:
			backlog.Failed++
		case core.StatusCompleted:
			backlog.Completed++
			if !doc.CompletedAt.IsZero() {
				latencies = append(latencies, doc.CompletedAt.Sub(doc.CreatedAt))
			}
		default:
			a.logger.Warn("document with unknown status", "document", doc.ID, "status", doc.Status)
		}
		return nil
	})
	if err != nil {
		return BacklogMetrics{}, fmt.Errorf("backlog metrics: %w", err)
	}

	slices.Sort(latencies)
	return BacklogMetrics{
		Scope:   scope,
		Backlog: backlog,
		Latency: Latency{
			P50:     percentile(latencies, 50),
			P90:     percentile(latencies, 90),
			Samples: len(latencies),
		},
	}, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// percentile returns the nearest-rank percentile p of sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
