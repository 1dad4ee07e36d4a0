package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/poiesic/dealwire/core"
	"github.com/poiesic/dealwire/storage"
	"github.com/poiesic/dealwire/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*DB, *storage.Store) {
	uri := os.Getenv("DEALWIRE_MONGO_URI")
	if uri == "" {
		t.Skip("DEALWIRE_MONGO_URI not set")
	}
	ctx := context.Background()
	name := "dealwire_test_" + core.NewID().String()[:8]
	db, err := connect(ctx, uri, name)
	require.NoError(t, err)
	dropAndClose := func() error {
		_ = db.db.Drop(context.Background())
		return db.Close()
	}
	return db, storage.NewStore(
		&DocumentRepository{db: db},
		&EnrichmentRepository{db: db},
		&CheckpointRepository{db: db},
		dropAndClose,
	)
}

func TestMongoSuite(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) *storage.Store {
		_, store := openTestStore(t)
		return store
	})
}

func TestLatestEnrichment_IgnoresUncommittedRecord(t *testing.T) {
	db, store := openTestStore(t)
	defer store.Close()
	ctx := context.Background()

	doc, err := store.Documents.CreateDocument(ctx, storagetest.NewDocument("acme", "https://news.example.com/crash"))
	require.NoError(t, err)
	claimed, ok, err := store.Documents.ClaimDocument(ctx, doc.ID, now())
	require.NoError(t, err)
	require.True(t, ok)

	// A completion that stopped after inserting its record.
	orphan := storagetest.NewRecord(claimed)
	output, err := core.MarshalResult(orphan.Output)
	require.NoError(t, err)
	_, err = db.enrichments.InsertOne(ctx, enrichmentDoc{
		ID:         string(orphan.ID),
		DocumentID: string(orphan.DocumentID),
		Scope:      orphan.Scope,
		Attempt:    orphan.Attempt,
		Output:     output,
		Warnings:   []string{},
		Status:     string(core.EnrichmentDone),
		CreatedAt:  orphan.CreatedAt,
	})
	require.NoError(t, err)

	require.NoError(t, store.Documents.FailDocument(ctx, claimed.Attempt, &core.AttemptFailure{
		DocumentID: doc.ID,
		Scope:      doc.Scope,
		Attempt:    claimed.Attempt,
		Kind:       core.FailureStale,
		Message:    "processing exceeded 10m0s",
		CreatedAt:  now().Add(time.Second),
	}))

	_, err = store.Enrichments.LatestEnrichment(ctx, doc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	records, err := store.Enrichments.ListEnrichments(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}
