// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package requeue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/dealwire/core"
	"github.com/poiesic/dealwire/storage"
)

// JobType prefixes the checkpoint key of requeue runs. The scope is appended.
const JobType = "requeue-failed"

// Config holds configuration for a requeue run.
type Config struct {
	// Scope restricts the run to one tenant; empty covers every scope
	Scope string

	// BatchSize is the number of documents per batch and checkpoint
	BatchSize int

	// Concurrency is the number of retries running at once within a batch
	Concurrency int

	// ReportInterval is how often to report progress (number of documents)
	ReportInterval int

	// MaxRetries bounds calls per document when a retry hits a transient error
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// Resume continues after the last checkpoint of an interrupted run
	Resume bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		Concurrency:    4,
		ReportInterval: 50,
		MaxRetries:     3,
		RetryDelay:     time.Second,
	}
}

// Summary reports a finished run.
type Summary struct {
	Total   int // FAILED documents found
	Resumed int // Skipped because an earlier run handled them
	BatchResult
	Elapsed time.Duration
}

// Requeuer retries every FAILED document of a scope.
type Requeuer struct {
	checkpoints storage.CheckpointRepository
	config      *Config
	progress    io.Writer
	processor   *BatchProcessor
	iterator    *FailedIterator
	logger      *slog.Logger
}

// NewRequeuer creates a requeuer. checkpoints may be nil, in which case runs
// cannot be resumed. progress receives human-readable progress (typically os.Stderr).
func NewRequeuer(documents storage.DocumentRepository, checkpoints storage.CheckpointRepository, retrier Retrier, config *Config, progress io.Writer) (*Requeuer, error) {
	if retrier == nil {
		return nil, ErrRetrierRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}
	logger := slog.Default().With("component", "requeue")

	return &Requeuer{
		checkpoints: checkpoints,
		config:      config,
		progress:    progress,
		processor:   NewBatchProcessor(retrier, config.Concurrency, config.MaxRetries, config.RetryDelay, logger),
		iterator:    NewFailedIterator(documents, config.Scope, config.BatchSize),
		logger:      logger,
	}, nil
}

func (r *Requeuer) jobType() string {
	return JobType + ":" + r.config.Scope
}

// Run retries the FAILED documents found at start.
//
// A checkpoint is saved after each batch and removed when the run finishes.
// Batch errors do not stop the run; they are joined into the returned error.
func (r *Requeuer) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	var after core.ID
	if r.config.Resume && r.checkpoints != nil {
		cp, err := r.checkpoints.LoadCheckpoint(ctx, r.jobType())
		if err != nil {
			return summary, fmt.Errorf("failed to load checkpoint: %w", err)
		}
		if cp != nil {
			after = cp.LastID
			summary.Resumed = cp.Processed
			r.logger.Info("resuming requeue", "after", after, "processed", cp.Processed)
		}
	}

	ids, err := r.iterator.Snapshot(ctx, after)
	if err != nil {
		return summary, fmt.Errorf("failed to list failed documents: %w", err)
	}
	summary.Total = len(ids) + summary.Resumed
	if len(ids) == 0 {
		fmt.Fprintf(r.progress, "No failed documents found\n")
		return summary, r.clearCheckpoint(ctx)
	}

	fmt.Fprintf(r.progress, "Requeuing %d failed documents (batch size: %d)\n", len(ids), r.iterator.batchSize)
	tracker := NewProgressTracker(r.progress, summary.Total, r.config.ReportInterval)
	tracker.Start(summary.Resumed)

	var batchErrs []error
	processed := summary.Resumed
	err = r.iterator.ForEach(ctx, ids, func(batch []core.ID) error {
		result, err := r.processor.Process(ctx, batch)
		summary.add(result)
		if err != nil {
			r.logger.Warn("batch finished with errors", "err", err)
			batchErrs = append(batchErrs, err)
		}

		processed += len(batch)
		tracker.Add(len(batch), result.Failed)
		return r.saveCheckpoint(ctx, batch[len(batch)-1], processed)
	})
	summary.Elapsed = tracker.Elapsed()
	if err != nil {
		return summary, err
	}
	tracker.Finish()

	fmt.Fprintf(r.progress, "Requeue complete: %d completed, %d failed again, %d skipped, %d at limit in %v\n",
		summary.Completed, summary.Failed, summary.Skipped, summary.Limited, summary.Elapsed.Round(time.Millisecond))

	if err := r.clearCheckpoint(ctx); err != nil {
		batchErrs = append(batchErrs, err)
	}
	return summary, errors.Join(batchErrs...)
}

func (r *Requeuer) saveCheckpoint(ctx context.Context, last core.ID, processed int) error {
	if r.checkpoints == nil {
		return nil
	}
	err := r.checkpoints.SaveCheckpoint(ctx, &core.Checkpoint{
		JobType:   r.jobType(),
		LastID:    last,
		Processed: processed,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (r *Requeuer) clearCheckpoint(ctx context.Context) error {
	if r.checkpoints == nil {
		return nil
	}
	if err := r.checkpoints.DeleteCheckpoint(ctx, r.jobType()); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}
