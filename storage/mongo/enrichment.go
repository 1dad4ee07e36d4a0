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

// EnrichmentRepository implements storage.EnrichmentRepository on MongoDB.
type EnrichmentRepository struct {
	db *DB
}

var _ storage.EnrichmentRepository = (*EnrichmentRepository)(nil)

// Close releases resources. The client is disconnected by the store.
func (r *EnrichmentRepository) Close() error {
	return nil
}

// ListEnrichments returns a document's enrichment records, oldest first.
// DONE records not owned by the document's completing attempt are left out:
// they were written by a completion that never committed its status update.
func (r *EnrichmentRepository) ListEnrichments(ctx context.Context, documentID core.ID) ([]*core.EnrichmentRecord, error) {
	var owner struct {
		Status  string `bson:"status"`
		Attempt int    `bson:"attempt"`
	}
	err := r.db.documents.FindOne(ctx, bson.M{"_id": string(documentID)},
		options.FindOne().SetProjection(bson.M{"status": 1, "attempt": 1})).Decode(&owner)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []*core.EnrichmentRecord{}, nil
	}
	if err != nil {
		return nil, wrapErr(err)
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.db.enrichments.Find(ctx, bson.M{"documentId": string(documentID)}, opts)
	if err != nil {
		return nil, wrapErr(err)
	}
	var docs []enrichmentDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrapErr(err)
	}

	records := make([]*core.EnrichmentRecord, 0, len(docs))
	for _, m := range docs {
		output, err := core.UnmarshalResult(m.Output)
		if err != nil {
			return nil, fmt.Errorf("%w: enrichment output: %w", storage.ErrSerializationFailed, err)
		}
		records = append(records, &core.EnrichmentRecord{
			ID:         core.ID(m.ID),
			DocumentID: core.ID(m.DocumentID),
			Scope:      m.Scope,
			Attempt:    m.Attempt,
			Output:     output,
			Warnings:   m.Warnings,
			Status:     core.EnrichmentStatus(m.Status),
			CreatedBy:  m.CreatedBy,
			CreatedAt:  m.CreatedAt.UTC(),
		})
	}
	return committedRecords(records, core.Status(owner.Status), owner.Attempt), nil
}

// committedRecords drops DONE records unless the document completed under
// their attempt. ERROR records pass through unchanged.
func committedRecords(records []*core.EnrichmentRecord, status core.Status, attempt int) []*core.EnrichmentRecord {
	kept := records[:0]
	for _, rec := range records {
		if rec.Status == core.EnrichmentDone && (status != core.StatusCompleted || rec.Attempt != attempt) {
			continue
		}
		kept = append(kept, rec)
	}
	return kept
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
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.db.failures.Find(ctx, bson.M{"documentId": string(documentID)}, opts)
	if err != nil {
		return nil, wrapErr(err)
	}
	var docs []failureDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrapErr(err)
	}
	failures := make([]*core.AttemptFailure, 0, len(docs))
	for _, m := range docs {
		failures = append(failures, m.toFailure())
	}
	return failures, nil
}

// CountEnrichmentsSince counts records in scope created at or after since.
func (r *EnrichmentRepository) CountEnrichmentsSince(ctx context.Context, scope string, since time.Time) (int, error) {
	query := bson.M{"createdAt": bson.M{"$gte": since}}
	if scope != "" {
		query["scope"] = scope
	}
	n, err := r.db.enrichments.CountDocuments(ctx, query)
	if err != nil {
		return 0, wrapErr(err)
	}
	return int(n), nil
}

// CheckpointRepository implements storage.CheckpointRepository on MongoDB.
type CheckpointRepository struct {
	db *DB
}

var _ storage.CheckpointRepository = (*CheckpointRepository)(nil)

// SaveCheckpoint upserts the checkpoint for a job type.
func (r *CheckpointRepository) SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error {
	checkpoint.UpdatedAt = now()
	doc := checkpointDoc{
		JobType:   checkpoint.JobType,
		LastID:    string(checkpoint.LastID),
		Processed: checkpoint.Processed,
		UpdatedAt: checkpoint.UpdatedAt,
	}
	_, err := r.db.checkpoints.ReplaceOne(ctx, bson.M{"_id": checkpoint.JobType}, doc, options.Replace().SetUpsert(true))
	return wrapErr(err)
}

// LoadCheckpoint retrieves the checkpoint for a job type.
// Returns nil, nil if no checkpoint exists.
func (r *CheckpointRepository) LoadCheckpoint(ctx context.Context, jobType string) (*core.Checkpoint, error) {
	var m checkpointDoc
	err := r.db.checkpoints.FindOne(ctx, bson.M{"_id": jobType}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	return &core.Checkpoint{
		JobType:   m.JobType,
		LastID:    core.ID(m.LastID),
		Processed: m.Processed,
		UpdatedAt: m.UpdatedAt.UTC(),
	}, nil
}

// DeleteCheckpoint removes the checkpoint for a job type.
func (r *CheckpointRepository) DeleteCheckpoint(ctx context.Context, jobType string) error {
	_, err := r.db.checkpoints.DeleteOne(ctx, bson.M{"_id": jobType})
	return wrapErr(err)
}
