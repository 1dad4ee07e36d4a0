package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/dealwire/ai/mock"
	"github.com/poiesic/dealwire/core"
	"github.com/poiesic/dealwire/ingestion"
	"github.com/poiesic/dealwire/linking"
	"github.com/poiesic/dealwire/metrics"
	"github.com/poiesic/dealwire/storage"
	"github.com/poiesic/dealwire/storage/badger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dealResponse = `{"dealDetected":true,"dealType":"fundraise","entities":{"generalPartners":["Northwind Capital"],"funds":["Northwind Fund III"]},"amount":{"value":400000000,"currency":"usd"},"geography":{"country":"US","city":null},"announcementDate":"2025-03-01","confidenceScore":92,"reasoning":"Fund close announced."}`

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router    *gin.Engine
	store     *storage.Store
	pipeline  *ingestion.Pipeline
	extractor *mock.MockDealExtractor
	reply     atomic.Pointer[reply]
}

// reply is the scripted extractor answer.
type reply struct {
	raw string
	err error
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	env := &testEnv{store: store}
	env.respond(dealResponse)
	env.extractor = mock.NewMockDealExtractor().WithExtractFunc(func(context.Context, string) (string, error) {
		r := env.reply.Load()
		return r.raw, r.err
	})

	reg := prometheus.NewRegistry()
	monitor, err := metrics.NewPrometheusMonitor(reg)
	require.NoError(t, err)

	env.pipeline, err = ingestion.NewPipeline(store.Documents, env.extractor, ingestion.WithMonitor(monitor))
	require.NoError(t, err)
	t.Cleanup(env.pipeline.Release)

	links := linking.NewStatic(map[string]linking.Stats{"acme": {Linked: 1, ReviewRequired: 1}})
	agg := metrics.NewAggregator(store.Documents, store.Enrichments, links)

	env.router = NewServer(env.pipeline, store, agg, WithGatherer(reg)).Router()
	return env
}

// respond sets the extractor answer: a raw string, or an error.
func (e *testEnv) respond(v any) {
	switch v := v.(type) {
	case error:
		e.reply.Store(&reply{err: v})
	case string:
		e.reply.Store(&reply{raw: v})
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func ingestBodyFor(url string) map[string]any {
	return map[string]any{
		"scope":        "acme",
		"headline":     "Northwind Capital closes Fund III at $400M",
		"sourceName":   "Example Wire",
		"publishDate":  "2025-03-01",
		"canonicalUrl": url,
		"rawText":      "Northwind Capital announced the final close of Fund III.",
	}
}

func (e *testEnv) ingest(t *testing.T, url string) core.ID {
	t.Helper()
	w := e.do(t, http.MethodPost, "/ingest", ingestBodyFor(url))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[ingestResponse](t, w).DocumentID
}

func TestIngest(t *testing.T) {
	env := setupServer(t)

	w := env.do(t, http.MethodPost, "/ingest", ingestBodyFor("https://news.example.com/fund-iii"))
	require.Equal(t, http.StatusCreated, w.Code)
	first := decode[ingestResponse](t, w)
	assert.False(t, first.Deduplicated)
	assert.NotEmpty(t, first.DocumentID)

	w = env.do(t, http.MethodPost, "/ingest", ingestBodyFor("HTTPS://NEWS.example.com/fund-iii#top"))
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[ingestResponse](t, w)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.DocumentID, second.DocumentID)
}

func TestIngest_Validation(t *testing.T) {
	env := setupServer(t)

	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"missing headline", func() map[string]any { b := ingestBodyFor("https://x.example.com/a"); delete(b, "headline"); return b }(), "headline"},
		{"missing publish date", func() map[string]any { b := ingestBodyFor("https://x.example.com/a"); delete(b, "publishDate"); return b }(), "publishDate"},
		{"bad publish date", func() map[string]any { b := ingestBodyFor("https://x.example.com/a"); b["publishDate"] = "March 1st"; return b }(), "publishDate"},
		{"relative url", ingestBodyFor("/fund-iii"), "canonicalUrl"},
		{"not json", "{", "body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/ingest", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			body := decode[errorBody](t, w)
			assert.Equal(t, CodeValidation, body.Code)
			assert.Equal(t, tt.field, body.Field)
		})
	}

	docs, err := env.store.Documents.ListDocuments(context.Background(), storage.DocumentFilter{})
	require.NoError(t, err)
	assert.Empty(t, docs, "rejected requests write nothing")
}

func TestProcess(t *testing.T) {
	env := setupServer(t)
	id := env.ingest(t, "https://news.example.com/fund-iii")

	w := env.do(t, http.MethodPost, "/process/"+string(id), nil, ActorHeader, "analyst@acme")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[processResponse](t, w)
	assert.NotEmpty(t, res.EnrichmentID)
	assert.Equal(t, 1, res.Attempt)
	assert.Empty(t, res.Warnings)

	record, err := env.store.Enrichments.LatestEnrichment(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "analyst@acme", record.CreatedBy)

	w = env.do(t, http.MethodPost, "/process/"+string(id), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, CodeAlreadyProcessing, decode[errorBody](t, w).Code)
}

func TestProcess_NotFoundAndMalformedID(t *testing.T) {
	env := setupServer(t)

	w := env.do(t, http.MethodPost, "/process/"+string(core.NewID()), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeNotFound, decode[errorBody](t, w).Code)

	w = env.do(t, http.MethodPost, "/process/not-an-id", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "id", decode[errorBody](t, w).Field)
}

func TestProcess_SchemaError(t *testing.T) {
	env := setupServer(t)
	id := env.ingest(t, "https://news.example.com/bad-score")
	env.respond(strings.Replace(dealResponse, `"confidenceScore":92`, `"confidenceScore":150`, 1))

	w := env.do(t, http.MethodPost, "/process/"+string(id), nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode[errorBody](t, w)
	assert.Equal(t, CodeSchema, body.Code)
	assert.Equal(t, "confidenceScore", body.Field)
	assert.NotEmpty(t, body.FailureID)

	w = env.do(t, http.MethodGet, "/documents/"+string(id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[detailResponse](t, w)
	assert.Equal(t, core.StatusFailed, detail.Document.Status)
	assert.Empty(t, detail.Enrichments)
	require.Len(t, detail.Failures, 1)
	assert.Equal(t, body.FailureID, detail.Failures[0].ID)
	assert.Contains(t, detail.Failures[0].RawOutput, `"confidenceScore":150`)
}

func TestProcess_ExtractionError(t *testing.T) {
	env := setupServer(t)
	id := env.ingest(t, "https://news.example.com/outage")
	env.respond(errors.New("dial tcp 10.0.0.7:443: api key sk-secret rejected"))

	w := env.do(t, http.MethodPost, "/process/"+string(id), nil)
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, CodeExtraction, decode[errorBody](t, w).Code)
	assert.NotContains(t, w.Body.String(), "sk-secret")
}

func TestRetry(t *testing.T) {
	env := setupServer(t)
	id := env.ingest(t, "https://news.example.com/retry")

	env.respond(errors.New("timeout"))
	w := env.do(t, http.MethodPost, "/process/"+string(id), nil)
	require.Equal(t, http.StatusBadGateway, w.Code)

	// Still failing: the re-run is reported with its error.
	w = env.do(t, http.MethodPost, "/retry/"+string(id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[retryResponse](t, w)
	assert.True(t, res.Requeued)
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeExtraction, res.Error.Code)

	env.respond(dealResponse)
	w = env.do(t, http.MethodPost, "/retry/"+string(id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[retryResponse](t, w)
	assert.True(t, res.Requeued)
	assert.Equal(t, 3, res.Attempt)
	assert.NotEmpty(t, res.EnrichmentID)
	assert.Nil(t, res.Error)

	// COMPLETED documents are left alone.
	w = env.do(t, http.MethodPost, "/retry/"+string(id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[retryResponse](t, w).Requeued)

	w = env.do(t, http.MethodGet, "/documents/"+string(id), nil)
	detail := decode[detailResponse](t, w)
	assert.Equal(t, core.StatusCompleted, detail.Document.Status)
	assert.Len(t, detail.Enrichments, 1)
	assert.Len(t, detail.Failures, 2)
}

func TestListDocuments(t *testing.T) {
	env := setupServer(t)
	done := env.ingest(t, "https://news.example.com/one")
	env.ingest(t, "https://news.example.com/two")

	w := env.do(t, http.MethodPost, "/process/"+string(done), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/documents?scope=acme", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Documents []struct {
			ID     core.ID            `json:"id"`
			Status core.Status        `json:"status"`
			Latest *enrichmentSummary `json:"latestEnrichment"`
		} `json:"documents"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)
	for _, d := range list.Documents {
		if d.ID == done {
			require.NotNil(t, d.Latest)
			assert.True(t, d.Latest.DealDetected)
			assert.Equal(t, 92, d.Latest.ConfidenceScore)
		} else {
			assert.Nil(t, d.Latest)
		}
	}

	w = env.do(t, http.MethodGet, "/documents?scope=acme&status=completed&limit=10", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	w = env.do(t, http.MethodGet, "/documents?status=DONE", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodGet, "/documents?limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoints(t *testing.T) {
	env := setupServer(t)
	id := env.ingest(t, "https://news.example.com/one")
	env.ingest(t, "https://news.example.com/two")
	w := env.do(t, http.MethodPost, "/process/"+string(id), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/metrics/health", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "scope", decode[errorBody](t, w).Field)

	w = env.do(t, http.MethodGet, "/metrics/health?scope=acme", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[metrics.HealthMetrics](t, w)
	assert.Equal(t, 2, health.Totals.Documents)
	assert.Equal(t, 1, health.Totals.Completed)
	assert.Equal(t, 1, health.Totals.Linked)
	assert.InDelta(t, 0.5, health.Rates.Coverage, 1e-9)
	assert.InDelta(t, 1.0, health.Rates.LinkRate, 1e-9)

	w = env.do(t, http.MethodGet, "/metrics/backlog", nil)
	require.Equal(t, http.StatusOK, w.Code)
	backlog := decode[backlogResponse](t, w)
	assert.Equal(t, metrics.Backlog{New: 1, Completed: 1}, backlog.Backlog)
	assert.Equal(t, 1, backlog.Latency.Samples)

	w = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dealwire_ingest_total")
	assert.Contains(t, w.Body.String(), "dealwire_enrichments_total")

	w = env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&core.ValidationError{Field: "scope"}, http.StatusBadRequest, CodeValidation},
		{core.ErrAlreadyProcessing, http.StatusConflict, CodeAlreadyProcessing},
		{&core.ExtractionError{Cause: errors.New("x")}, http.StatusBadGateway, CodeExtraction},
		{&core.SchemaError{Field: "dealType"}, http.StatusUnprocessableEntity, CodeSchema},
		{core.ErrRetryLimit, http.StatusConflict, CodeRetryLimit},
		{core.ErrStaleAttempt, http.StatusConflict, CodeStaleAttempt},
		{storage.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		status, body := classify(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, body.Code, tt.err.Error())
	}
}
