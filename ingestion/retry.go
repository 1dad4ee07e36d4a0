package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/dealwire/core"
	"github.com/poiesic/dealwire/storage"
)

// RetryResult reports the outcome of a retry.
type RetryResult struct {
	Requeued     bool
	Attempt      int
	EnrichmentID core.ID // Set when the re-run attempt completed
}

// Retry re-runs a FAILED document.
//
// Documents in any other state are left alone and Requeued is false. A claimed
// retry runs exactly like Process and its error is the attempt's outcome.
// With WithMaxAttempts set, documents at the limit fail with core.ErrRetryLimit.
func (p *Pipeline) Retry(ctx context.Context, id core.ID) (RetryResult, error) {
	doc, err := p.documents.GetDocument(ctx, id)
	if err != nil {
		return RetryResult{}, fmt.Errorf("get document %s: %w", id, err)
	}
	if doc.Status != core.StatusFailed {
		return RetryResult{Attempt: doc.Attempt}, nil
	}
	if p.maxAttempts > 0 && doc.Attempt >= p.maxAttempts {
		return RetryResult{Attempt: doc.Attempt},
			fmt.Errorf("document %s after %d attempts: %w", id, doc.Attempt, core.ErrRetryLimit)
	}

	claimed, ok, err := p.claim(ctx, id)
	if err != nil {
		return RetryResult{}, err
	}
	if !ok {
		// Someone else re-queued it first.
		return RetryResult{Attempt: claimed.Attempt}, nil
	}

	p.logger.Info("retrying document", "document", id, "attempt", claimed.Attempt, "previous", doc.FailureReason)
	res, err := p.runAttempt(ctx, claimed)
	return RetryResult{Requeued: true, Attempt: res.Attempt, EnrichmentID: res.EnrichmentID}, err
}

// SweepStale fails every PROCESSING document whose attempt started more than
// olderThan ago, recording a stale failure. Each transition is conditional on
// the attempt observed, so an attempt finishing concurrently wins cleanly.
// Returns the ids of the documents moved to FAILED.
func (p *Pipeline) SweepStale(ctx context.Context, olderThan time.Duration) ([]core.ID, error) {
	now := p.now()
	docs, err := p.documents.ListDocuments(ctx, storage.DocumentFilter{
		Status:        core.StatusProcessing,
		StartedBefore: now.Add(-olderThan),
	})
	if err != nil {
		return nil, fmt.Errorf("list processing documents: %w", err)
	}

	var swept []core.ID
	var errs []error
	for _, doc := range docs {
		failure := &core.AttemptFailure{
			Kind:    core.FailureStale,
			Message: fmt.Sprintf("processing for %s exceeded %s", now.Sub(doc.ProcessingStartedAt).Round(time.Second), olderThan),
		}
		err := p.fail(ctx, doc, failure)
		if errors.Is(err, core.ErrStaleAttempt) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.logger.Warn("stale document failed", "document", doc.ID, "attempt", doc.Attempt)
		swept = append(swept, doc.ID)
	}
	return swept, errors.Join(errs...)
}
