package requeue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/dealwire/core"
	"github.com/poiesic/dealwire/ingestion"
)

// Retrier re-runs one FAILED document.
// *ingestion.Pipeline satisfies it.
type Retrier interface {
	Retry(ctx context.Context, id core.ID) (ingestion.RetryResult, error)
}

// BatchResult tallies the outcomes of one batch.
type BatchResult struct {
	Completed int // Re-run attempt stored an enrichment
	Failed    int // Re-run attempt ended FAILED again
	Skipped   int // No longer FAILED, or claimed by someone else first
	Limited   int // Refused by the attempt limit
}

func (r *BatchResult) add(o BatchResult) {
	r.Completed += o.Completed
	r.Failed += o.Failed
	r.Skipped += o.Skipped
	r.Limited += o.Limited
}

// Handled is the number of documents the batch settled.
func (r BatchResult) Handled() int {
	return r.Completed + r.Failed + r.Skipped + r.Limited
}

// BatchProcessor retries a batch of documents concurrently.
type BatchProcessor struct {
	retrier        Retrier
	concurrency    int
	maxRetries     int
	retryBaseDelay time.Duration
	logger         *slog.Logger
}

// NewBatchProcessor creates a batch processor.
// maxRetries bounds calls per document when Retry returns a transient error.
func NewBatchProcessor(retrier Retrier, concurrency, maxRetries int, retryBaseDelay time.Duration, logger *slog.Logger) *BatchProcessor {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchProcessor{
		retrier:        retrier,
		concurrency:    concurrency,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
		logger:         logger,
	}
}

// Process retries every document of ids. Attempt outcomes are counted, not
// returned; the error joins the documents that could not be retried at all.
func (bp *BatchProcessor) Process(ctx context.Context, ids []core.ID) (BatchResult, error) {
	var (
		mu     sync.Mutex
		result BatchResult
		errs   []error
	)

	sem := make(chan struct{}, bp.concurrency)
	var wg sync.WaitGroup
	for _, id := range ids {
		sem <- struct{}{}
		wg.Go(func() {
			defer func() { <-sem }()
			outcome, err := bp.retryOne(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			result.add(outcome)
			if err != nil {
				errs = append(errs, fmt.Errorf("retry %s: %w", id, err))
			}
		})
	}
	wg.Wait()
	return result, errors.Join(errs...)
}

func (bp *BatchProcessor) retryOne(ctx context.Context, id core.ID) (BatchResult, error) {
	var res ingestion.RetryResult
	err := RetryWithBackoff(ctx, func() error {
		var err error
		res, err = bp.retrier.Retry(ctx, id)
		return err
	}, bp.maxRetries, bp.retryBaseDelay)

	switch {
	case err == nil && res.Requeued:
		return BatchResult{Completed: 1}, nil
	case err == nil:
		return BatchResult{Skipped: 1}, nil
	case errors.Is(err, core.ErrExtraction), errors.Is(err, core.ErrSchema):
		bp.logger.Debug("document failed again", "document", id, "attempt", res.Attempt, "err", err)
		return BatchResult{Failed: 1}, nil
	case errors.Is(err, core.ErrRetryLimit):
		return BatchResult{Limited: 1}, nil
	default:
		return BatchResult{}, err
	}
}
