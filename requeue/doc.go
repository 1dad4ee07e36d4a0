// Package requeue re-runs FAILED documents in bulk.
//
// A Requeuer snapshots the FAILED documents of a scope, then retries them in
// batches through the pipeline's Retry operation, so every claim, attempt and
// failure record follows the normal state machine. Progress is checkpointed
// after each batch and an interrupted run can resume where it stopped.
package requeue
