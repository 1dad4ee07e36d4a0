package storage

import (
	"context"
	"time"

	"github.com/poiesic/dealwire/core"
)

// Repository provides common storage operations shared across all repositories.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// Close releases resources held by the repository.
	Close() error
}

// DocumentFilter narrows a document listing. Zero values mean "any".
type DocumentFilter struct {
	Scope  string
	Status core.Status
	// StartedBefore keeps only documents whose ProcessingStartedAt is before this instant.
	StartedBefore time.Time
	Limit         int
}

// DocumentRepository stores documents and drives their status transitions.
//
// Every state-changing operation is a single atomic conditional update at the
// storage level. No in-process lock is needed to guarantee claim exclusivity.
type DocumentRepository interface {
	Repository

	// CreateDocument inserts a NEW document.
	// Sets ID, Status, Attempt and timestamps.
	// Returns ErrDuplicateKey if (Scope, CanonicalURL) already exists.
	CreateDocument(ctx context.Context, doc *core.Document) (*core.Document, error)

	// GetDocument retrieves a single document by ID.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id core.ID) (*core.Document, error)

	// FindDocumentByURL looks a document up by its dedup key.
	// Returns ErrNotFound if no matching document exists.
	FindDocumentByURL(ctx context.Context, scope, canonicalURL string) (*core.Document, error)

	// ClaimDocument atomically moves a NEW or FAILED document to PROCESSING,
	// incrementing Attempt and stamping ProcessingStartedAt with now.
	// Returns the document as it is after the call and whether this call won the claim.
	// A refused claim performs no mutation.
	// Returns ErrNotFound if the document doesn't exist.
	ClaimDocument(ctx context.Context, id core.ID, now time.Time) (*core.Document, bool, error)

	// CompleteDocument stores record and moves the document to COMPLETED in one
	// atomic step, provided the document is still PROCESSING under attempt.
	// Returns core.ErrStaleAttempt and writes nothing otherwise.
	CompleteDocument(ctx context.Context, attempt int, record *core.EnrichmentRecord) error

	// FailDocument stores failure and moves the document to FAILED in one atomic
	// step, provided the document is still PROCESSING under attempt.
	// Returns core.ErrStaleAttempt and writes nothing otherwise.
	FailDocument(ctx context.Context, attempt int, failure *core.AttemptFailure) error

	// ListDocuments returns documents matching filter, newest first.
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]*core.Document, error)

	// ScanDocuments calls fn for every document in scope ("" scans all scopes).
	// Iteration stops at the first error fn returns.
	ScanDocuments(ctx context.Context, scope string, fn func(*core.Document) error) error
}

// EnrichmentRepository provides read access to enrichment records and attempt failures.
// Records and failures are written only through DocumentRepository transitions.
type EnrichmentRepository interface {
	Repository

	// ListEnrichments returns a document's enrichment records, oldest first.
	ListEnrichments(ctx context.Context, documentID core.ID) ([]*core.EnrichmentRecord, error)

	// LatestEnrichment returns the most recent DONE record of a document.
	// Returns ErrNotFound if the document has none.
	LatestEnrichment(ctx context.Context, documentID core.ID) (*core.EnrichmentRecord, error)

	// ListFailures returns a document's attempt failures, oldest first.
	ListFailures(ctx context.Context, documentID core.ID) ([]*core.AttemptFailure, error)

	// CountEnrichmentsSince counts records in scope created at or after since.
	CountEnrichmentsSince(ctx context.Context, scope string, since time.Time) (int, error)
}

// CheckpointRepository persists progress markers for long-running batch jobs.
type CheckpointRepository interface {
	// SaveCheckpoint persists a checkpoint for a job type.
	SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error

	// LoadCheckpoint retrieves the checkpoint for a job type.
	// Returns nil, nil if no checkpoint exists.
	LoadCheckpoint(ctx context.Context, jobType string) (*core.Checkpoint, error)

	// DeleteCheckpoint removes the checkpoint for a job type, if any.
	DeleteCheckpoint(ctx context.Context, jobType string) error
}

// Store bundles the repositories a backend provides.
type Store struct {
	Documents   DocumentRepository
	Enrichments EnrichmentRepository
	// Checkpoints is nil for backends without checkpoint support.
	Checkpoints CheckpointRepository
	closer      func() error
}

// NewStore assembles a Store. closer releases the backend shared by the repositories.
func NewStore(docs DocumentRepository, enrichments EnrichmentRepository, checkpoints CheckpointRepository, closer func() error) *Store {
	return &Store{
		Documents:   docs,
		Enrichments: enrichments,
		Checkpoints: checkpoints,
		closer:      closer,
	}
}

// Close closes the repositories and then the shared backend.
func (s *Store) Close() error {
	var firstErr error
	for _, c := range []func() error{s.Enrichments.Close, s.Documents.Close, s.closer} {
		if c == nil {
			continue
		}
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
