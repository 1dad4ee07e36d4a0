// Package ingestion provides the document enrichment pipeline.
//
// The Pipeline type drives a document through its lifecycle:
//   - Ingest deduplicates by (scope, canonical URL) and stores NEW documents
//   - Claim atomically moves a NEW or FAILED document to PROCESSING
//   - Process claims a document, calls the extractor and records the outcome
//   - Retry re-runs a FAILED document
//   - SweepStale fails documents whose attempt has been PROCESSING too long
//
// Exclusivity rests on the store's conditional updates, so any number of
// pipelines may share one store. A Worker runs the sweep and processes NEW
// documents in the background on the pipeline's worker pool.
package ingestion
