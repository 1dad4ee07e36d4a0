// Package api exposes the enrichment pipeline over HTTP using gin.
//
// Routes:
//
//	POST /ingest              ingest a document (201 created, 200 deduplicated)
//	POST /process/:id         claim and enrich a document
//	POST /retry/:id           re-run a FAILED document
//	GET  /documents           list documents with their latest enrichment
//	GET  /documents/:id       document detail with enrichment and failure history
//	GET  /metrics/health      health aggregate of a scope
//	GET  /metrics/backlog     backlog aggregate of a scope, or of all scopes
//	GET  /metrics             Prometheus exposition
//	GET  /healthz             liveness
//
// Errors are JSON objects with a "code" naming the failure class, see errors.go.
// The X-Actor request header identifies the caller; it is stored as CreatedBy.
package api
