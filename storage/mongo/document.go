package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/dealwire/core"
	"github.com/poiesic/dealwire/storage"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DocumentRepository implements storage.DocumentRepository on MongoDB.
type DocumentRepository struct {
	db *DB
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// Close releases resources. The client is disconnected by the store.
func (r *DocumentRepository) Close() error {
	return nil
}

// CreateDocument inserts a NEW document guarded by the unique (scope, canonicalUrl) index.
func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	ts := now()
	created := *doc
	if created.ID == "" {
		created.ID = core.NewID()
	}
	created.Status = core.StatusNew
	created.Attempt = 0
	created.CreatedAt = ts
	created.UpdatedAt = ts

	if _, err := r.db.documents.InsertOne(ctx, fromDocument(&created)); err != nil {
		return nil, wrapErr(err)
	}
	return &created, nil
}

// GetDocument retrieves a single document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id core.ID) (*core.Document, error) {
	return r.findOne(ctx, bson.M{"_id": string(id)})
}

// FindDocumentByURL looks a document up by its unique (scope, canonical URL) pair.
func (r *DocumentRepository) FindDocumentByURL(ctx context.Context, scope, canonicalURL string) (*core.Document, error) {
	return r.findOne(ctx, bson.M{"scope": scope, "canonicalUrl": canonicalURL})
}

// ClaimDocument moves a NEW or FAILED document to PROCESSING with one FindOneAndUpdate.
func (r *DocumentRepository) ClaimDocument(ctx context.Context, id core.ID, at time.Time) (*core.Document, bool, error) {
	filter := bson.M{
		"_id":    string(id),
		"status": bson.M{"$in": []string{string(core.StatusNew), string(core.StatusFailed)}},
	}
	update := bson.M{
		"$set": bson.M{
			"status":              string(core.StatusProcessing),
			"processingStartedAt": at,
			"updatedAt":           at,
		},
		"$inc": bson.M{"attempt": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m documentDoc
	err := r.db.documents.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err == nil {
		return m.toDocument(), true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, wrapErr(err)
	}
	doc, err := r.GetDocument(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return doc, false, nil
}

// CompleteDocument inserts record and then moves its document to COMPLETED.
func (r *DocumentRepository) CompleteDocument(ctx context.Context, attempt int, record *core.EnrichmentRecord) error {
	if record.ID == "" {
		record.ID = core.NewID()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now()
	}
	output, err := core.MarshalResult(record.Output)
	if err != nil {
		return fmt.Errorf("%w: enrichment output: %w", storage.ErrSerializationFailed, err)
	}
	warnings := record.Warnings
	if warnings == nil {
		warnings = []string{}
	}

	if err := r.ensureOwned(ctx, record.DocumentID, attempt); err != nil {
		return err
	}
	_, err = r.db.enrichments.InsertOne(ctx, enrichmentDoc{
		ID:         string(record.ID),
		DocumentID: string(record.DocumentID),
		Scope:      record.Scope,
		Attempt:    record.Attempt,
		Output:     output,
		Warnings:   warnings,
		Status:     string(record.Status),
		CreatedBy:  record.CreatedBy,
		CreatedAt:  record.CreatedAt,
	})
	if err != nil {
		return wrapErr(err)
	}

	err = r.transitionOwned(ctx, record.DocumentID, attempt, bson.M{
		"status":        string(core.StatusCompleted),
		"failureReason": "",
		"completedAt":   record.CreatedAt,
		"updatedAt":     record.CreatedAt,
	})
	if err != nil {
		r.compensate(r.db.enrichments, record.ID)
		return err
	}
	return nil
}

// FailDocument inserts failure and then moves its document to FAILED.
func (r *DocumentRepository) FailDocument(ctx context.Context, attempt int, failure *core.AttemptFailure) error {
	if failure.ID == "" {
		failure.ID = core.NewID()
	}
	if failure.CreatedAt.IsZero() {
		failure.CreatedAt = now()
	}

	if err := r.ensureOwned(ctx, failure.DocumentID, attempt); err != nil {
		return err
	}
	_, err := r.db.failures.InsertOne(ctx, failureDoc{
		ID:         string(failure.ID),
		DocumentID: string(failure.DocumentID),
		Scope:      failure.Scope,
		Attempt:    failure.Attempt,
		Kind:       string(failure.Kind),
		Message:    failure.Message,
		RawOutput:  failure.RawOutput,
		CreatedAt:  failure.CreatedAt,
	})
	if err != nil {
		return wrapErr(err)
	}

	err = r.transitionOwned(ctx, failure.DocumentID, attempt, bson.M{
		"status":        string(core.StatusFailed),
		"failureReason": failure.Reason(),
		"updatedAt":     failure.CreatedAt,
	})
	if err != nil {
		r.compensate(r.db.failures, failure.ID)
		return err
	}
	return nil
}

// ListDocuments returns documents matching filter, newest first.
func (r *DocumentRepository) ListDocuments(ctx context.Context, filter storage.DocumentFilter) ([]*core.Document, error) {
	query := bson.M{}
	if filter.Scope != "" {
		query["scope"] = filter.Scope
	}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}
	if !filter.StartedBefore.IsZero() {
		query["processingStartedAt"] = bson.M{"$lt": filter.StartedBefore}
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := r.db.documents.Find(ctx, query, opts)
	if err != nil {
		return nil, wrapErr(err)
	}
	var docs []documentDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrapErr(err)
	}
	results := make([]*core.Document, 0, len(docs))
	for _, m := range docs {
		results = append(results, m.toDocument())
	}
	return results, nil
}

// ScanDocuments calls fn for every document in scope, oldest first.
func (r *DocumentRepository) ScanDocuments(ctx context.Context, scope string, fn func(*core.Document) error) error {
	query := bson.M{}
	if scope != "" {
		query["scope"] = scope
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.db.documents.Find(ctx, query, opts)
	if err != nil {
		return wrapErr(err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var m documentDoc
		if err := cursor.Decode(&m); err != nil {
			return err
		}
		if err := fn(m.toDocument()); err != nil {
			return err
		}
	}
	return wrapErr(cursor.Err())
}

func (r *DocumentRepository) findOne(ctx context.Context, filter bson.M) (*core.Document, error) {
	var m documentDoc
	err := r.db.documents.FindOne(ctx, filter).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	return m.toDocument(), nil
}

// ensureOwned rejects attempts that already lost their document before anything is written.
func (r *DocumentRepository) ensureOwned(ctx context.Context, id core.ID, attempt int) error {
	doc, err := r.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if doc.Status != core.StatusProcessing || doc.Attempt != attempt {
		return staleErr(doc, attempt)
	}
	return nil
}

// transitionOwned applies set to a document still PROCESSING under attempt.
func (r *DocumentRepository) transitionOwned(ctx context.Context, id core.ID, attempt int, set bson.M) error {
	filter := bson.M{"_id": string(id), "status": string(core.StatusProcessing), "attempt": attempt}
	res, err := r.db.documents.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return wrapErr(err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	doc, err := r.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	return staleErr(doc, attempt)
}

// compensate removes a record written by an attempt that turned out to be stale.
// It runs detached from the caller's context so a cancelled request still cleans up.
func (r *DocumentRepository) compensate(coll *mongo.Collection, id core.ID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := coll.DeleteOne(ctx, bson.M{"_id": string(id)}); err != nil {
		r.db.logger.Error("failed to remove record of stale attempt", "collection", coll.Name(), "id", id, "error", err)
	}
}

func staleErr(doc *core.Document, attempt int) error {
	return fmt.Errorf("%w: document %s is %s at attempt %d, caller holds attempt %d",
		core.ErrStaleAttempt, doc.ID, doc.Status, doc.Attempt, attempt)
}
