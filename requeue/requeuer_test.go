package requeue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/dealwire/ai/mock"
	"github.com/poiesic/dealwire/core"
	"github.com/poiesic/dealwire/ingestion"
	"github.com/poiesic/dealwire/storage"
	"github.com/poiesic/dealwire/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyExtractor fails while down is set.
type flakyExtractor struct {
	down atomic.Bool
	*mock.MockDealExtractor
}

func newFlakyExtractor() *flakyExtractor {
	f := &flakyExtractor{MockDealExtractor: mock.NewMockDealExtractor()}
	f.WithExtractFunc(func(context.Context, string) (string, error) {
		if f.down.Load() {
			return "", errors.New("provider unavailable")
		}
		return mock.NoDealResponse, nil
	})
	return f
}

func setupFailedDocuments(t *testing.T, n int, scope string) (*ingestion.Pipeline, *storage.Store, *flakyExtractor, []core.ID) {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	extractor := newFlakyExtractor()
	p, err := ingestion.NewPipeline(store.Documents, extractor, ingestion.WithPoolSize(2))
	require.NoError(t, err)
	t.Cleanup(p.Release)

	ctx := context.Background()
	extractor.down.Store(true)
	ids := make([]core.ID, n)
	for i := range ids {
		res, err := p.Ingest(ctx, ingestion.IngestRequest{
			Scope:        scope,
			Headline:     fmt.Sprintf("Deal %d", i),
			SourceName:   "Example Wire",
			PublishDate:  time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			CanonicalURL: fmt.Sprintf("https://news.example.com/%s/%d", scope, i),
		})
		require.NoError(t, err)
		_, err = p.Process(ctx, res.DocumentID)
		require.ErrorIs(t, err, core.ErrExtraction)
		ids[i] = res.DocumentID
	}
	extractor.down.Store(false)
	return p, store, extractor, ids
}

func TestFailedIterator(t *testing.T) {
	_, store, _, ids := setupFailedDocuments(t, 5, "acme")
	ctx := context.Background()

	// A NEW document is not part of the snapshot.
	_, err := store.Documents.CreateDocument(ctx, &core.Document{
		Scope: "acme", Headline: "h", SourceName: "s",
		PublishDate: time.Now(), CanonicalURL: "https://news.example.com/new",
	})
	require.NoError(t, err)

	it := NewFailedIterator(store.Documents, "acme", 2)
	snapshot, err := it.Snapshot(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, snapshot)
	assert.True(t, slices.IsSorted(snapshot))

	var sizes []int
	require.NoError(t, it.ForEach(ctx, snapshot, func(batch []core.ID) error {
		sizes = append(sizes, len(batch))
		return nil
	}))
	assert.Equal(t, []int{2, 2, 1}, sizes)

	rest, err := it.Snapshot(ctx, snapshot[2])
	require.NoError(t, err)
	assert.Equal(t, snapshot[3:], rest)
}

func TestFailedIterator_StopsOnError(t *testing.T) {
	_, store, _, _ := setupFailedDocuments(t, 4, "acme")
	it := NewFailedIterator(store.Documents, "acme", 1)
	ids, err := it.Snapshot(context.Background(), "")
	require.NoError(t, err)

	calls := 0
	stop := errors.New("stop")
	err = it.ForEach(context.Background(), ids, func([]core.ID) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestRequeuer_Run(t *testing.T) {
	p, store, extractor, ids := setupFailedDocuments(t, 7, "acme")
	setupOther := func() {
		// Documents of another scope stay FAILED.
		extractor.down.Store(true)
		res, err := p.Ingest(context.Background(), ingestion.IngestRequest{
			Scope: "globex", Headline: "h", SourceName: "s",
			PublishDate: time.Now(), CanonicalURL: "https://news.example.com/globex",
		})
		require.NoError(t, err)
		_, err = p.Process(context.Background(), res.DocumentID)
		require.Error(t, err)
		extractor.down.Store(false)
	}
	setupOther()

	var buf bytes.Buffer
	config := &Config{Scope: "acme", BatchSize: 3, Concurrency: 2, ReportInterval: 3, MaxRetries: 2, RetryDelay: time.Millisecond}
	r, err := NewRequeuer(store.Documents, store.Checkpoints, p, config, &buf)
	require.NoError(t, err)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, summary.Total)
	assert.Equal(t, 7, summary.Completed)
	assert.Contains(t, buf.String(), "Requeue complete")

	ctx := context.Background()
	for _, id := range ids {
		doc, err := store.Documents.GetDocument(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, core.StatusCompleted, doc.Status)
		assert.Equal(t, 2, doc.Attempt)

		records, err := store.Enrichments.ListEnrichments(ctx, id)
		require.NoError(t, err)
		assert.Len(t, records, 1, "exactly one record per retried document")

		failures, err := store.Enrichments.ListFailures(ctx, id)
		require.NoError(t, err)
		assert.Len(t, failures, 1, "first failure stays retrievable")
	}

	others, err := store.Documents.ListDocuments(ctx, storage.DocumentFilter{Scope: "globex", Status: core.StatusFailed})
	require.NoError(t, err)
	assert.Len(t, others, 1)

	cp, err := store.Checkpoints.LoadCheckpoint(ctx, JobType+":acme")
	require.NoError(t, err)
	assert.Nil(t, cp, "checkpoint removed after a finished run")
}

func TestRequeuer_FailedAgain(t *testing.T) {
	p, store, extractor, _ := setupFailedDocuments(t, 3, "acme")
	extractor.down.Store(true)

	r, err := NewRequeuer(store.Documents, nil, p, &Config{Scope: "acme", BatchSize: 10, Concurrency: 1, MaxRetries: 3, RetryDelay: time.Millisecond}, nil)
	require.NoError(t, err)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Failed)
	assert.Equal(t, 3, extractor.CallCount()-3, "one call per document, no backoff retries")
}

func TestRequeuer_Resume(t *testing.T) {
	p, store, _, _ := setupFailedDocuments(t, 6, "acme")
	ctx := context.Background()

	it := NewFailedIterator(store.Documents, "acme", 10)
	ids, err := it.Snapshot(ctx, "")
	require.NoError(t, err)

	// An earlier run handled the first two documents before stopping.
	require.NoError(t, store.Checkpoints.SaveCheckpoint(ctx, &core.Checkpoint{
		JobType: JobType + ":acme", LastID: ids[1], Processed: 2, UpdatedAt: time.Now(),
	}))

	r, err := NewRequeuer(store.Documents, store.Checkpoints, p, &Config{Scope: "acme", BatchSize: 2, Concurrency: 2, MaxRetries: 1, Resume: true}, nil)
	require.NoError(t, err)

	summary, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Resumed)
	assert.Equal(t, 6, summary.Total)
	assert.Equal(t, 4, summary.Completed)

	for i, id := range ids {
		doc, err := store.Documents.GetDocument(ctx, id)
		require.NoError(t, err)
		if i < 2 {
			assert.Equal(t, core.StatusFailed, doc.Status)
		} else {
			assert.Equal(t, core.StatusCompleted, doc.Status)
		}
	}
}

func TestRequeuer_NothingToDo(t *testing.T) {
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	var buf bytes.Buffer
	r, err := NewRequeuer(store.Documents, store.Checkpoints, newScriptedRetrier(), nil, &buf)
	require.NoError(t, err)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Contains(t, buf.String(), "No failed documents")
}

func TestNewRequeuer_RequiresRetrier(t *testing.T) {
	_, err := NewRequeuer(nil, nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrRetrierRequired)
}
