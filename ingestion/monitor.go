package ingestion

import (
	"time"

	"github.com/poiesic/dealwire/core"
)

// Monitor provides hooks to observe the pipeline.
// Hooks are called synchronously from concurrent goroutines and must be thread-safe.
type Monitor interface {
	// Ingested is called for every accepted ingest request.
	Ingested(doc *core.Document, deduplicated bool)
	// Transitioned is called after a status change has been committed.
	Transitioned(id core.ID, attempt int, from, to core.Status)
	// ExtractionFinished is called when an extractor call returns or times out.
	ExtractionFinished(id core.ID, attempt int, elapsed time.Duration, err error)
	// AttemptFailed is called after a failure has been recorded.
	AttemptFailed(failure *core.AttemptFailure)
	// Completed is called after an enrichment record has been stored.
	// latency is the time from ingestion to completion.
	Completed(record *core.EnrichmentRecord, latency time.Duration)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = noopMonitor{}

func (noopMonitor) Ingested(*core.Document, bool)                         {}
func (noopMonitor) Transitioned(core.ID, int, core.Status, core.Status)   {}
func (noopMonitor) ExtractionFinished(core.ID, int, time.Duration, error) {}
func (noopMonitor) AttemptFailed(*core.AttemptFailure)                    {}
func (noopMonitor) Completed(*core.EnrichmentRecord, time.Duration)       {}
