package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/dealwire/ai/mock"
	"github.com/poiesic/dealwire/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_Tick(t *testing.T) {
	clock := newFakeClock()
	extractor := mock.NewMockDealExtractor().WithResponse(dealResponse)
	p, store := setupPipeline(t, extractor, WithClock(clock.Now))
	ctx := context.Background()

	pending := ingest(t, p, "https://news.example.com/pending")
	stuck := ingest(t, p, "https://news.example.com/stuck")
	_, err := p.Claim(ctx, stuck)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	w := NewWorker(p, WithStaleAfter(10*time.Minute))
	require.NoError(t, w.Tick(ctx))
	p.Wait()

	for _, id := range []core.ID{pending, stuck} {
		doc, err := store.Documents.GetDocument(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, core.StatusCompleted, doc.Status, "document %s", id)
	}

	doc, err := store.Documents.GetDocument(ctx, stuck)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Attempt)
	failures, err := store.Enrichments.ListFailures(ctx, stuck)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, core.FailureStale, failures[0].Kind)
}

func TestWorker_NoRetryStale(t *testing.T) {
	clock := newFakeClock()
	p, store := setupPipeline(t, mock.NewMockDealExtractor(), WithClock(clock.Now))
	ctx := context.Background()

	stuck := ingest(t, p, "https://news.example.com/stuck")
	_, err := p.Claim(ctx, stuck)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	w := NewWorker(p, WithStaleAfter(time.Minute), WithRetryStale(false))
	require.NoError(t, w.Tick(ctx))
	p.Wait()

	doc, err := store.Documents.GetDocument(ctx, stuck)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, doc.Status)
}

func TestWorker_Lifecycle(t *testing.T) {
	extractor := mock.NewMockDealExtractor()
	p, store := setupPipeline(t, extractor)
	ctx := context.Background()
	id := ingest(t, p, "https://news.example.com/background")

	w := NewWorker(p, WithInterval(10*time.Millisecond))
	assert.False(t, w.Running())

	require.NoError(t, w.Start(ctx))
	assert.True(t, w.Running())
	assert.ErrorIs(t, w.Start(ctx), ErrWorkerRunning)

	require.Eventually(t, func() bool {
		doc, err := store.Documents.GetDocument(ctx, id)
		return err == nil && doc.Status == core.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	w.Stop()
	assert.False(t, w.Running())
	w.Stop()

	// Restartable.
	require.NoError(t, w.Start(ctx))
	assert.True(t, w.Running())
	w.Stop()
	p.Wait()
	assert.Equal(t, 1, extractor.CallCount())
}

func TestWorker_StopsWithContext(t *testing.T) {
	p, _ := setupPipeline(t, mock.NewMockDealExtractor())
	ctx, cancel := context.WithCancel(context.Background())

	w := NewWorker(p, WithInterval(time.Hour))
	require.NoError(t, w.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool { return !w.Running() }, time.Second, 5*time.Millisecond)
}
