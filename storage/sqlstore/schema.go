package sqlstore

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		headline TEXT NOT NULL,
		source_name TEXT NOT NULL,
		publish_date BIGINT NOT NULL,
		canonical_url TEXT NOT NULL,
		raw_text TEXT,
		status TEXT NOT NULL,
		attempt INTEGER NOT NULL DEFAULT 0,
		failure_reason TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		processing_started_at BIGINT NOT NULL DEFAULT 0,
		completed_at BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		UNIQUE (scope, canonical_url)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status, processing_started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_scope_created ON documents(scope, created_at)`,
	`CREATE TABLE IF NOT EXISTS enrichment_records (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id),
		scope TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		output TEXT NOT NULL,
		warnings TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_enrichment_document ON enrichment_records(document_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_enrichment_scope_created ON enrichment_records(scope, created_at)`,
	`CREATE TABLE IF NOT EXISTS attempt_failures (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id),
		scope TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		kind TEXT NOT NULL,
		message TEXT NOT NULL,
		raw_output TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_failures_document ON attempt_failures(document_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS checkpoints (
		job_type TEXT PRIMARY KEY,
		last_id TEXT NOT NULL,
		processed INTEGER NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
}

// migrate creates missing tables and indexes. It is safe to run on every start.
func (d *DB) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
