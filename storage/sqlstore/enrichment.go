package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/poiesic/dealwire/core"
	"github.com/poiesic/dealwire/storage"
)

// EnrichmentRepository implements storage.EnrichmentRepository on SQL.
type EnrichmentRepository struct {
	db *DB
}

var _ storage.EnrichmentRepository = (*EnrichmentRepository)(nil)

// Close releases resources. The shared handle is closed by the store.
func (r *EnrichmentRepository) Close() error {
	return nil
}

// ListEnrichments returns a document's enrichment records, oldest first.
func (r *EnrichmentRepository) ListEnrichments(ctx context.Context, documentID core.ID) ([]*core.EnrichmentRecord, error) {
	query, args, err := r.db.builder.
		Select("id", "document_id", "scope", "attempt", "output", "warnings", "status", "created_by", "created_at").
		From("enrichment_records").
		Where(sq.Eq{"document_id": string(documentID)}).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var records []*core.EnrichmentRecord
	for rows.Next() {
		var (
			record                        core.EnrichmentRecord
			id, docID, status, output, ws string
			created                       int64
		)
		if err := rows.Scan(&id, &docID, &record.Scope, &record.Attempt, &output, &ws, &status, &record.CreatedBy, &created); err != nil {
			return nil, fmt.Errorf("scan enrichment record: %w", err)
		}
		record.ID = core.ID(id)
		record.DocumentID = core.ID(docID)
		record.Status = core.EnrichmentStatus(status)
		record.CreatedAt = fromMicros(created)
		if record.Output, err = core.UnmarshalResult(output); err != nil {
			return nil, fmt.Errorf("%w: enrichment output: %w", storage.ErrSerializationFailed, err)
		}
		if err := json.Unmarshal([]byte(ws), &record.Warnings); err != nil {
			return nil, fmt.Errorf("%w: warnings: %w", storage.ErrSerializationFailed, err)
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return records, nil
}

// LatestEnrichment returns the most recent DONE record of a document.
func (r *EnrichmentRepository) LatestEnrichment(ctx context.Context, documentID core.ID) (*core.EnrichmentRecord, error) {
	records, err := r.ListEnrichments(ctx, documentID)
	if err != nil {
		return nil, err
	}
	latest := core.Latest(records)
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return latest, nil
}

// ListFailures returns a document's attempt failures, oldest first.
func (r *EnrichmentRepository) ListFailures(ctx context.Context, documentID core.ID) ([]*core.AttemptFailure, error) {
	query, args, err := r.db.builder.
		Select("id", "document_id", "scope", "attempt", "kind", "message", "raw_output", "created_at").
		From("attempt_failures").
		Where(sq.Eq{"document_id": string(documentID)}).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var failures []*core.AttemptFailure
	for rows.Next() {
		var (
			failure         core.AttemptFailure
			id, docID, kind string
			created         int64
		)
		if err := rows.Scan(&id, &docID, &failure.Scope, &failure.Attempt, &kind, &failure.Message, &failure.RawOutput, &created); err != nil {
			return nil, fmt.Errorf("scan attempt failure: %w", err)
		}
		failure.ID = core.ID(id)
		failure.DocumentID = core.ID(docID)
		failure.Kind = core.FailureKind(kind)
		failure.CreatedAt = fromMicros(created)
		failures = append(failures, &failure)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return failures, nil
}

// CountEnrichmentsSince counts records in scope created at or after since.
func (r *EnrichmentRepository) CountEnrichmentsSince(ctx context.Context, scope string, since time.Time) (int, error) {
	where := sq.And{sq.GtOrEq{"created_at": toMicros(since)}}
	if scope != "" {
		where = append(where, sq.Eq{"scope": scope})
	}
	query, args, err := r.db.builder.Select("COUNT(*)").From("enrichment_records").Where(where).ToSql()
	if err != nil {
		return 0, err
	}
	var count int
	if err := r.db.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, wrapErr(err)
	}
	return count, nil
}

func marshalWarnings(warnings []string) (string, error) {
	if warnings == nil {
		warnings = []string{}
	}
	b, err := json.Marshal(warnings)
	if err != nil {
		return "", fmt.Errorf("%w: warnings: %w", storage.ErrSerializationFailed, err)
	}
	return string(b), nil
}
