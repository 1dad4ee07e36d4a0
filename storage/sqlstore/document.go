package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/poiesic/dealwire/core"
	"github.com/poiesic/dealwire/storage"
)

var documentColumns = []string{
	"id", "scope", "headline", "source_name", "publish_date", "canonical_url", "raw_text",
	"status", "attempt", "failure_reason", "created_by",
	"processing_started_at", "completed_at", "created_at", "updated_at",
}

// DocumentRepository implements storage.DocumentRepository on SQL.
type DocumentRepository struct {
	db *DB
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// Close releases resources. The shared handle is closed by the store.
func (r *DocumentRepository) Close() error {
	return nil
}

// CreateDocument inserts a NEW document guarded by the UNIQUE (scope, canonical_url) constraint.
func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	created := *doc
	if created.ID == "" {
		created.ID = core.NewID()
	}
	created.Status = core.StatusNew
	created.Attempt = 0
	created.CreatedAt = now
	created.UpdatedAt = now

	var rawText sql.NullString
	if created.RawText != nil {
		rawText = sql.NullString{String: *created.RawText, Valid: true}
	}

	query, args, err := r.db.builder.Insert("documents").
		Columns(documentColumns...).
		Values(
			string(created.ID), created.Scope, created.Headline, created.SourceName,
			toMicros(created.PublishDate), created.CanonicalURL, rawText,
			string(created.Status), created.Attempt, created.FailureReason, created.CreatedBy,
			toMicros(created.ProcessingStartedAt), toMicros(created.CompletedAt),
			toMicros(created.CreatedAt), toMicros(created.UpdatedAt),
		).ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := r.db.db.ExecContext(ctx, query, args...); err != nil {
		return nil, wrapErr(err)
	}
	return &created, nil
}

// GetDocument retrieves a single document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id core.ID) (*core.Document, error) {
	return r.getOne(ctx, r.db.db, sq.Eq{"id": string(id)})
}

// FindDocumentByURL looks a document up by its unique (scope, canonical URL) pair.
func (r *DocumentRepository) FindDocumentByURL(ctx context.Context, scope, canonicalURL string) (*core.Document, error) {
	return r.getOne(ctx, r.db.db, sq.Eq{"scope": scope, "canonical_url": canonicalURL})
}

// ClaimDocument moves a NEW or FAILED document to PROCESSING with one conditional UPDATE.
func (r *DocumentRepository) ClaimDocument(ctx context.Context, id core.ID, now time.Time) (*core.Document, bool, error) {
	var (
		doc     *core.Document
		claimed bool
	)
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		query, args, err := r.db.builder.Update("documents").
			Set("status", string(core.StatusProcessing)).
			Set("attempt", sq.Expr("attempt + 1")).
			Set("processing_started_at", toMicros(now)).
			Set("updated_at", toMicros(now)).
			Where(sq.Eq{"id": string(id), "status": []string{string(core.StatusNew), string(core.StatusFailed)}}).
			ToSql()
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return wrapErr(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		claimed = n == 1
		doc, err = r.getOne(ctx, tx, sq.Eq{"id": string(id)})
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return doc, claimed, nil
}

// CompleteDocument moves an owned document to COMPLETED and inserts its record in one transaction.
func (r *DocumentRepository) CompleteDocument(ctx context.Context, attempt int, record *core.EnrichmentRecord) error {
	if record.ID == "" {
		record.ID = core.NewID()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	output, err := core.MarshalResult(record.Output)
	if err != nil {
		return fmt.Errorf("%w: enrichment output: %w", storage.ErrSerializationFailed, err)
	}
	warnings, err := marshalWarnings(record.Warnings)
	if err != nil {
		return err
	}

	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		err := r.transitionOwned(ctx, tx, record.DocumentID, attempt, map[string]any{
			"status":         string(core.StatusCompleted),
			"failure_reason": "",
			"completed_at":   toMicros(record.CreatedAt),
			"updated_at":     toMicros(record.CreatedAt),
		})
		if err != nil {
			return err
		}
		query, args, err := r.db.builder.Insert("enrichment_records").
			Columns("id", "document_id", "scope", "attempt", "output", "warnings", "status", "created_by", "created_at").
			Values(string(record.ID), string(record.DocumentID), record.Scope, record.Attempt, output, warnings,
				string(record.Status), record.CreatedBy, toMicros(record.CreatedAt)).
			ToSql()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, query, args...)
		return wrapErr(err)
	})
}

// FailDocument moves an owned document to FAILED and inserts the failure in one transaction.
func (r *DocumentRepository) FailDocument(ctx context.Context, attempt int, failure *core.AttemptFailure) error {
	if failure.ID == "" {
		failure.ID = core.NewID()
	}
	if failure.CreatedAt.IsZero() {
		failure.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}

	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		err := r.transitionOwned(ctx, tx, failure.DocumentID, attempt, map[string]any{
			"status":         string(core.StatusFailed),
			"failure_reason": failure.Reason(),
			"updated_at":     toMicros(failure.CreatedAt),
		})
		if err != nil {
			return err
		}
		query, args, err := r.db.builder.Insert("attempt_failures").
			Columns("id", "document_id", "scope", "attempt", "kind", "message", "raw_output", "created_at").
			Values(string(failure.ID), string(failure.DocumentID), failure.Scope, failure.Attempt,
				string(failure.Kind), failure.Message, failure.RawOutput, toMicros(failure.CreatedAt)).
			ToSql()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, query, args...)
		return wrapErr(err)
	})
}

// ListDocuments returns documents matching filter, newest first.
func (r *DocumentRepository) ListDocuments(ctx context.Context, filter storage.DocumentFilter) ([]*core.Document, error) {
	where := sq.And{}
	if filter.Scope != "" {
		where = append(where, sq.Eq{"scope": filter.Scope})
	}
	if filter.Status != "" {
		where = append(where, sq.Eq{"status": string(filter.Status)})
	}
	if !filter.StartedBefore.IsZero() {
		where = append(where, sq.Lt{"processing_started_at": toMicros(filter.StartedBefore)})
	}
	builder := r.db.builder.Select(documentColumns...).From("documents").OrderBy("created_at DESC", "id")
	if len(where) > 0 {
		builder = builder.Where(where)
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	return r.query(ctx, r.db.db, builder)
}

// ScanDocuments calls fn for every document in scope, oldest first.
// Rows are read fully before fn runs so fn may use the store.
func (r *DocumentRepository) ScanDocuments(ctx context.Context, scope string, fn func(*core.Document) error) error {
	builder := r.db.builder.Select(documentColumns...).From("documents").OrderBy("created_at", "id")
	if scope != "" {
		builder = builder.Where(sq.Eq{"scope": scope})
	}
	docs, err := r.query(ctx, r.db.db, builder)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

// transitionOwned applies set to a document still PROCESSING under attempt.
func (r *DocumentRepository) transitionOwned(ctx context.Context, tx *sql.Tx, id core.ID, attempt int, set map[string]any) error {
	query, args, err := r.db.builder.Update("documents").
		SetMap(set).
		Where(sq.Eq{"id": string(id), "status": string(core.StatusProcessing), "attempt": attempt}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	current, err := r.getOne(ctx, tx, sq.Eq{"id": string(id)})
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: document %s is %s at attempt %d, caller holds attempt %d",
		core.ErrStaleAttempt, id, current.Status, current.Attempt, attempt)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *DocumentRepository) getOne(ctx context.Context, q queryer, where sq.Sqlizer) (*core.Document, error) {
	docs, err := r.query(ctx, q, r.db.builder.Select(documentColumns...).From("documents").Where(where).Limit(1))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, storage.ErrNotFound
	}
	return docs[0], nil
}

func (r *DocumentRepository) query(ctx context.Context, q queryer, builder sq.SelectBuilder) ([]*core.Document, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var docs []*core.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return docs, nil
}

func scanDocument(rows *sql.Rows) (*core.Document, error) {
	var doc core.Document
	var id, status string
	var rawText sql.NullString
	var publishDate, processingStarted, completed, created, updated int64
	err := rows.Scan(&id, &doc.Scope, &doc.Headline, &doc.SourceName, &publishDate, &doc.CanonicalURL, &rawText,
		&status, &doc.Attempt, &doc.FailureReason, &doc.CreatedBy,
		&processingStarted, &completed, &created, &updated)
	if err != nil {
		return nil, err
	}
	doc.ID = core.ID(id)
	doc.Status = core.Status(status)
	if rawText.Valid {
		text := rawText.String
		doc.RawText = &text
	}
	doc.PublishDate = fromMicros(publishDate)
	doc.ProcessingStartedAt = fromMicros(processingStarted)
	doc.CompletedAt = fromMicros(completed)
	doc.CreatedAt = fromMicros(created)
	doc.UpdatedAt = fromMicros(updated)
	return &doc, nil
}
