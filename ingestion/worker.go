package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/dealwire/core"
	"github.com/poiesic/dealwire/storage"
)

// Worker periodically sweeps stale documents and submits NEW documents to
// its pipeline's worker pool. It can be started and stopped repeatedly.
type Worker struct {
	pipeline   *Pipeline
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	retryStale bool
	logger     *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithInterval sets the time between ticks. Default is 30s.
func WithInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithStaleAfter sets how long an attempt may stay PROCESSING. Default is 10m.
func WithStaleAfter(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.staleAfter = d
		}
	}
}

// WithBatchSize caps the NEW documents submitted per tick. Default is 100.
func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithRetryStale controls whether swept documents are retried right away. Default is true.
func WithRetryStale(enabled bool) WorkerOption {
	return func(w *Worker) {
		w.retryStale = enabled
	}
}

// WithWorkerLogger sets a custom logger.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWorker creates a stopped worker driving pipeline.
func NewWorker(pipeline *Pipeline, opts ...WorkerOption) *Worker {
	w := &Worker{
		pipeline:   pipeline,
		interval:   30 * time.Second,
		staleAfter: 10 * time.Minute,
		batchSize:  100,
		retryStale: true,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "worker")
	return w
}

// Start runs the worker loop in the background until Stop is called or ctx ends.
// The first tick runs immediately.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return ErrWorkerRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel, w.done, w.running = cancel, done, true

	go func() {
		defer close(done)
		defer w.markStopped(done)
		w.loop(ctx)
	}()
	w.logger.Info("worker started", "interval", w.interval, "staleAfter", w.staleAfter)
	return nil
}

// Stop halts the loop and waits for the current tick to finish.
// Attempts already submitted to the pool keep running; use Pipeline.Wait for them.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	w.logger.Info("worker stopped")
}

// Running reports whether the loop is active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) markStopped(done chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done == done {
		w.running = false
		w.cancel = nil
	}
}

func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if err := w.Tick(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("worker tick failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one round: sweep stale documents, then submit NEW ones.
func (w *Worker) Tick(ctx context.Context) error {
	var errs []error

	swept, err := w.pipeline.SweepStale(ctx, w.staleAfter)
	if err != nil {
		errs = append(errs, err)
	}
	if w.retryStale {
		for _, id := range swept {
			if err := w.pipeline.SubmitRetry(id); err != nil {
				errs = append(errs, fmt.Errorf("submit retry of %s: %w", id, err))
			}
		}
	}

	pending, err := w.pipeline.documents.ListDocuments(ctx, storage.DocumentFilter{
		Status: core.StatusNew,
		Limit:  w.batchSize,
	})
	if err != nil {
		return errors.Join(append(errs, fmt.Errorf("list new documents: %w", err))...)
	}
	for _, doc := range pending {
		if err := w.pipeline.SubmitProcess(doc.ID); err != nil {
			errs = append(errs, fmt.Errorf("submit %s: %w", doc.ID, err))
		}
	}
	if len(swept) > 0 || len(pending) > 0 {
		w.logger.Debug("worker tick", "swept", len(swept), "submitted", len(pending))
	}
	return errors.Join(errs...)
}
