package ingestion

import "errors"

var (
	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrExtractorRequired is returned when a deal extractor is not provided.
	ErrExtractorRequired = errors.New("deal extractor required")

	// ErrWorkerRunning is returned when Start is called on a running worker.
	ErrWorkerRunning = errors.New("worker already running")
)
