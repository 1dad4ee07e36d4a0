// Package storagetest holds the behavioral test suite every storage backend must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/dealwire/core"
	"github.com/poiesic/dealwire/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Opener returns a fresh, empty store. The suite closes it.
type Opener func(t *testing.T) *storage.Store

// Run executes the suite against stores produced by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store *storage.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"DuplicateURL", testDuplicateURL},
		{"ConcurrentCreate", testConcurrentCreate},
		{"ClaimExclusivity", testClaimExclusivity},
		{"ClaimRefusedStates", testClaimRefusedStates},
		{"CompleteRequiresOwnership", testCompleteRequiresOwnership},
		{"FailThenRetry", testFailThenRetry},
		{"ListDocuments", testListDocuments},
		{"ScanDocuments", testScanDocuments},
		{"ScanScopeExtension", testScanScopeExtension},
		{"CountEnrichmentsSince", testCountEnrichmentsSince},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := open(t)
			t.Cleanup(func() { store.Close() })
			tt.fn(t, store)
		})
	}
}

// NewDocument builds a valid document for scope and url.
func NewDocument(scope, url string) *core.Document {
	return &core.Document{
		Scope:        scope,
		Headline:     "Northwind Capital closes Fund III at $400M",
		SourceName:   "Example Wire",
		PublishDate:  time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		CanonicalURL: url,
	}
}

// NewRecord builds a DONE enrichment record for doc.
func NewRecord(doc *core.Document) *core.EnrichmentRecord {
	dealType := core.DealFundraise
	return &core.EnrichmentRecord{
		ID:         core.NewID(),
		DocumentID: doc.ID,
		Scope:      doc.Scope,
		Attempt:    doc.Attempt,
		Output: core.ExtractionResult{
			DealDetected:    true,
			DealType:        &dealType,
			Entities:        core.Entities{GeneralPartners: []string{"Northwind Capital"}, Funds: []string{}, PortfolioCompanies: []string{}, LimitedPartners: []string{}, ServiceProviders: []string{}},
			ConfidenceScore: 90,
			Reasoning:       "final close announced",
		},
		Status:    core.EnrichmentDone,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func create(t *testing.T, store *storage.Store, scope, url string) *core.Document {
	t.Helper()
	doc, err := store.Documents.CreateDocument(context.Background(), NewDocument(scope, url))
	require.NoError(t, err)
	return doc
}

func claim(t *testing.T, store *storage.Store, id core.ID) *core.Document {
	t.Helper()
	doc, claimed, err := store.Documents.ClaimDocument(context.Background(), id, time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, err)
	require.True(t, claimed)
	return doc
}

func testCreateAndGet(t *testing.T, store *storage.Store) {
	ctx := context.Background()
	text := "Northwind Capital announced the final close."
	in := NewDocument("acme", "https://news.example.com/a")
	in.RawText = &text

	created, err := store.Documents.CreateDocument(ctx, in)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, core.StatusNew, created.Status)
	assert.Zero(t, created.Attempt)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := store.Documents.GetDocument(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Headline, got.Headline)
	assert.Equal(t, text, got.Text())
	assert.True(t, created.PublishDate.Equal(got.PublishDate))

	_, err = store.Documents.GetDocument(ctx, core.NewID())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testDuplicateURL(t *testing.T, store *storage.Store) {
	ctx := context.Background()
	first := create(t, store, "acme", "https://news.example.com/a")

	dup := NewDocument("acme", "https://news.example.com/a")
	dup.Headline = "A different headline"
	_, err := store.Documents.CreateDocument(ctx, dup)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	found, err := store.Documents.FindDocumentByURL(ctx, "acme", "https://news.example.com/a")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
	assert.Equal(t, first.Headline, found.Headline)

	// Same URL in another scope is a different document.
	other := create(t, store, "globex", "https://news.example.com/a")
	assert.NotEqual(t, first.ID, other.ID)

	_, err = store.Documents.FindDocumentByURL(ctx, "acme", "https://news.example.com/missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testConcurrentCreate(t *testing.T, store *storage.Store) {
	const workers = 16
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created []core.ID
		dups    int
		others  []error
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := store.Documents.CreateDocument(ctx, NewDocument("acme", "https://news.example.com/race"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created = append(created, doc.ID)
			case errors.Is(err, storage.ErrDuplicateKey):
				dups++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, others)
	assert.Len(t, created, 1, "exactly one insert must win")
	assert.Equal(t, workers-1, dups)

	docs, err := store.Documents.ListDocuments(ctx, storage.DocumentFilter{Scope: "acme"})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func testClaimExclusivity(t *testing.T, store *storage.Store) {
	const workers = 16
	doc := create(t, store, "acme", "https://news.example.com/claim")

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		errs   []error
		winner int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, claimed, err := store.Documents.ClaimDocument(context.Background(), doc.ID, time.Now().UTC())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if claimed {
				wins++
				winner = got.Attempt
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, wins, "exactly one claim must succeed")
	assert.Equal(t, 1, winner)

	got, err := store.Documents.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusProcessing, got.Status)
	assert.Equal(t, 1, got.Attempt)
	assert.False(t, got.ProcessingStartedAt.IsZero())
}

func testClaimRefusedStates(t *testing.T, store *storage.Store) {
	ctx := context.Background()
	doc := create(t, store, "acme", "https://news.example.com/refused")
	claimed := claim(t, store, doc.ID)

	// PROCESSING is not claimable.
	got, ok, err := store.Documents.ClaimDocument(ctx, doc.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, core.StatusProcessing, got.Status)
	assert.Equal(t, 1, got.Attempt, "a refused claim must not mutate")

	// COMPLETED is not claimable.
	require.NoError(t, store.Documents.CompleteDocument(ctx, claimed.Attempt, NewRecord(claimed)))
	got, ok, err = store.Documents.ClaimDocument(ctx, doc.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, core.StatusCompleted, got.Status)

	_, _, err = store.Documents.ClaimDocument(ctx, core.NewID(), time.Now().UTC())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testCompleteRequiresOwnership(t *testing.T, store *storage.Store) {
	ctx := context.Background()
	doc := create(t, store, "acme", "https://news.example.com/owner")

	// Not claimed yet.
	err := store.Documents.CompleteDocument(ctx, 0, NewRecord(doc))
	assert.ErrorIs(t, err, core.ErrStaleAttempt)

	claimed := claim(t, store, doc.ID)

	// Wrong attempt.
	stale := NewRecord(claimed)
	err = store.Documents.CompleteDocument(ctx, claimed.Attempt+1, stale)
	assert.ErrorIs(t, err, core.ErrStaleAttempt)

	records, err := store.Enrichments.ListEnrichments(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, records, "a stale completion must write nothing")

	record := NewRecord(claimed)
	require.NoError(t, store.Documents.CompleteDocument(ctx, claimed.Attempt, record))

	got, err := store.Documents.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, got.Status)
	assert.Empty(t, got.FailureReason)
	assert.False(t, got.CompletedAt.IsZero())

	latest, err := store.Enrichments.LatestEnrichment(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, latest.ID)
	assert.Equal(t, 90, latest.Output.ConfidenceScore)
	assert.Equal(t, []string{"Northwind Capital"}, latest.Output.Entities.GeneralPartners)

	// Completing twice is stale: the document is no longer PROCESSING.
	err = store.Documents.CompleteDocument(ctx, claimed.Attempt, NewRecord(claimed))
	assert.ErrorIs(t, err, core.ErrStaleAttempt)
	records, err = store.Enrichments.ListEnrichments(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func testFailThenRetry(t *testing.T, store *storage.Store) {
	ctx := context.Background()
	doc := create(t, store, "acme", "https://news.example.com/retry")
	first := claim(t, store, doc.ID)

	failure := &core.AttemptFailure{
		DocumentID: doc.ID,
		Scope:      doc.Scope,
		Attempt:    first.Attempt,
		Kind:       core.FailureSchema,
		Message:    "confidenceScore: must be in [0,100], got 150",
		RawOutput:  `{"confidenceScore": 150}`,
	}
	require.NoError(t, store.Documents.FailDocument(ctx, first.Attempt, failure))
	assert.NotEmpty(t, failure.ID)

	got, err := store.Documents.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.Equal(t, failure.Reason(), got.FailureReason)

	_, err = store.Enrichments.LatestEnrichment(ctx, doc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	second := claim(t, store, doc.ID)
	assert.Equal(t, 2, second.Attempt)

	// The first attempt lost ownership.
	err = store.Documents.FailDocument(ctx, first.Attempt, &core.AttemptFailure{DocumentID: doc.ID, Kind: core.FailureExtraction, Message: "late"})
	assert.ErrorIs(t, err, core.ErrStaleAttempt)

	require.NoError(t, store.Documents.CompleteDocument(ctx, second.Attempt, NewRecord(second)))

	records, err := store.Enrichments.ListEnrichments(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 2, records[0].Attempt)

	failures, err := store.Enrichments.ListFailures(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, `{"confidenceScore": 150}`, failures[0].RawOutput)
	assert.Equal(t, core.FailureSchema, failures[0].Kind)
}

func testListDocuments(t *testing.T, store *storage.Store) {
	ctx := context.Background()
	var ids []core.ID
	for i := range 5 {
		doc := create(t, store, "acme", fmt.Sprintf("https://news.example.com/list/%d", i))
		ids = append(ids, doc.ID)
		time.Sleep(2 * time.Millisecond)
	}
	create(t, store, "globex", "https://news.example.com/list/other")

	claimed := claim(t, store, ids[0])
	_, _, err := store.Documents.ClaimDocument(ctx, ids[1], time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	all, err := store.Documents.ListDocuments(ctx, storage.DocumentFilter{Scope: "acme"})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, ids[4], all[0].ID, "newest first")

	limited, err := store.Documents.ListDocuments(ctx, storage.DocumentFilter{Scope: "acme", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	processing, err := store.Documents.ListDocuments(ctx, storage.DocumentFilter{Status: core.StatusProcessing})
	require.NoError(t, err)
	assert.Len(t, processing, 2)

	stale, err := store.Documents.ListDocuments(ctx, storage.DocumentFilter{
		Status:        core.StatusProcessing,
		StartedBefore: claimed.ProcessingStartedAt.Add(time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, ids[0], stale[0].ID)

	everything, err := store.Documents.ListDocuments(ctx, storage.DocumentFilter{})
	require.NoError(t, err)
	assert.Len(t, everything, 6)
}

func testScanDocuments(t *testing.T, store *storage.Store) {
	ctx := context.Background()
	create(t, store, "acme", "https://news.example.com/scan/1")
	create(t, store, "acme", "https://news.example.com/scan/2")
	create(t, store, "globex", "https://news.example.com/scan/3")

	count := func(scope string) int {
		n := 0
		err := store.Documents.ScanDocuments(ctx, scope, func(doc *core.Document) error {
			if scope != "" {
				assert.Equal(t, scope, doc.Scope)
			}
			n++
			return nil
		})
		require.NoError(t, err)
		return n
	}
	assert.Equal(t, 2, count("acme"))
	assert.Equal(t, 1, count("globex"))
	assert.Equal(t, 3, count(""))
	assert.Equal(t, 0, count("initech"))

	stop := errors.New("stop")
	err := store.Documents.ScanDocuments(ctx, "", func(*core.Document) error { return stop })
	assert.ErrorIs(t, err, stop)
}

// testScanScopeExtension checks that a scan never reaches into scopes that
// extend the scanned scope.
func testScanScopeExtension(t *testing.T, store *storage.Store) {
	ScopeIsolation(t, store, "acme", "acme\x01evil", "acme-eu")
}

// ScopeIsolation creates one document per scope under the same URL and checks
// that scanning each scope yields exactly its own document.
func ScopeIsolation(t *testing.T, store *storage.Store, scopes ...string) {
	t.Helper()
	ctx := context.Background()
	for _, scope := range scopes {
		create(t, store, scope, "https://news.example.com/shared")
	}
	for _, scope := range scopes {
		var got []string
		err := store.Documents.ScanDocuments(ctx, scope, func(doc *core.Document) error {
			got = append(got, doc.Scope)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{scope}, got, "scan of %q", scope)
	}
}

func testCountEnrichmentsSince(t *testing.T, store *storage.Store) {
	ctx := context.Background()
	before := time.Now().UTC().Add(-time.Second)

	for i, scope := range []string{"acme", "acme", "globex"} {
		doc := create(t, store, scope, fmt.Sprintf("https://news.example.com/count/%d", i))
		claimed := claim(t, store, doc.ID)
		require.NoError(t, store.Documents.CompleteDocument(ctx, claimed.Attempt, NewRecord(claimed)))
	}

	n, err := store.Enrichments.CountEnrichmentsSince(ctx, "acme", before)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.Enrichments.CountEnrichmentsSince(ctx, "", before)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = store.Enrichments.CountEnrichmentsSince(ctx, "acme", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}
