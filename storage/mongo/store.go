// Package mongo implements the storage interfaces on MongoDB.
//
// Document uniqueness rests on a unique index over (scope, canonicalUrl).
// Claims are single FindOneAndUpdate calls filtered on the claimable states.
// Completion and failure insert their record first and then apply the
// conditional status update; when the update finds the attempt no longer owns
// the document the record is removed again, so a stale attempt leaves nothing
// behind.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/dealwire/storage"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names
const (
	documentsCollection   = "documents"
	enrichmentsCollection = "enrichment_records"
	failuresCollection    = "attempt_failures"
	checkpointsCollection = "checkpoints"
)

// DB holds the client and the collections used by the repositories.
type DB struct {
	client      *mongo.Client
	db          *mongo.Database
	documents   *mongo.Collection
	enrichments *mongo.Collection
	failures    *mongo.Collection
	checkpoints *mongo.Collection
	logger      *slog.Logger
}

// Open connects to MongoDB, ensures indexes and returns the repositories.
// Closing the store disconnects the client.
func Open(ctx context.Context, uri, database string) (*storage.Store, error) {
	db, err := connect(ctx, uri, database)
	if err != nil {
		return nil, err
	}
	return storage.NewStore(
		&DocumentRepository{db: db},
		&EnrichmentRepository{db: db},
		&CheckpointRepository{db: db},
		db.Close,
	), nil
}

func connect(ctx context.Context, uri, database string) (*DB, error) {
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	mdb := cli.Database(database)
	db := &DB{
		client:      cli,
		db:          mdb,
		documents:   mdb.Collection(documentsCollection),
		enrichments: mdb.Collection(enrichmentsCollection),
		failures:    mdb.Collection(failuresCollection),
		checkpoints: mdb.Collection(checkpointsCollection),
		logger:      slog.Default().With("component", "mongostore", "database", database),
	}
	if err := db.ensureIndexes(ctx); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return db, nil
}

func (d *DB) ensureIndexes(ctx context.Context) error {
	_, err := d.documents.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "scope", Value: 1}, {Key: "canonicalUrl", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_scope_url"),
		},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "processingStartedAt", Value: 1}}},
		{Keys: bson.D{{Key: "scope", Value: 1}, {Key: "createdAt", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create document indexes: %w", err)
	}
	_, err = d.enrichments.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "documentId", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "scope", Value: 1}, {Key: "createdAt", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create enrichment indexes: %w", err)
	}
	_, err = d.failures.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "documentId", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create failure indexes: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (d *DB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return d.client.Disconnect(ctx)
}

// wrapErr maps driver errors onto storage sentinels.
func wrapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %w", storage.ErrDuplicateKey, err)
	case err == mongo.ErrClientDisconnected:
		return fmt.Errorf("%w: %w", storage.ErrStorageClosed, err)
	}
	return err
}

// now returns the current time at the precision MongoDB stores.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
