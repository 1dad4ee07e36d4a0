package dealwire

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/dealwire/ai/mock"
	"github.com/poiesic/dealwire/config"
	"github.com/poiesic/dealwire/ingestion"
	"github.com/poiesic/dealwire/requeue"
	"github.com/poiesic/dealwire/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Addr: ":0"},
		Store:  config.StoreConfig{Backend: config.BackendBadger},
		AI:     config.AIConfig{Provider: "openai", Host: "http://localhost:11434", Model: "qwen2.5:7b", MaxOutputTokens: 1024},
		Pipeline: config.PipelineConfig{
			PoolSize:        2,
			ExtractTimeout:  5 * time.Second,
			MaxRequestChars: 1000,
		},
		Worker: config.WorkerConfig{Interval: time.Hour, StaleAfter: time.Minute, BatchSize: 10, RetryStale: true},
	}
}

func openTestService(t *testing.T) (*Service, *mock.MockProvider) {
	t.Helper()
	provider := mock.NewMockProviderWithExtractor(mock.NewMockDealExtractor())
	svc, err := Open(context.Background(), testConfig(t), WithProvider(provider))
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc, provider
}

func TestOpen(t *testing.T) {
	t.Run("in-memory badger with mock provider", func(t *testing.T) {
		svc, _ := openTestService(t)
		assert.NotNil(t, svc.Store())
		assert.NotNil(t, svc.Registry())
		assert.NotNil(t, svc.links)
	})

	t.Run("badger on disk with openai provider", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Store.Path = filepath.Join(t.TempDir(), "db")
		svc, err := Open(context.Background(), cfg)
		require.NoError(t, err)
		assert.NoError(t, svc.Close())
	})

	t.Run("error with invalid path", func(t *testing.T) {
		tmpFile := filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(tmpFile, []byte("test"), 0o644))

		cfg := testConfig(t)
		cfg.Store.Path = tmpFile
		svc, err := Open(context.Background(), cfg)
		assert.Error(t, err)
		assert.Nil(t, svc)
	})

	t.Run("invalid AI config closes the store", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.AI.Provider = "bedrock"
		svc, err := Open(context.Background(), cfg)
		assert.ErrorContains(t, err, "unknown provider")
		assert.Nil(t, svc)
	})
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	store, err := OpenStore(ctx, config.StoreConfig{Backend: config.BackendSQLite, DSN: filepath.Join(t.TempDir(), "dealwire.db")})
	require.NoError(t, err)
	assert.NoError(t, store.Close())

	_, err = OpenStore(ctx, config.StoreConfig{Backend: "cassandra"})
	assert.ErrorIs(t, err, storage.ErrUnknownBackend)
}

func TestService_Close(t *testing.T) {
	provider := mock.NewMockProviderWithExtractor(mock.NewMockDealExtractor())
	svc, err := Open(context.Background(), testConfig(t), WithProvider(provider))
	require.NoError(t, err)

	assert.NoError(t, svc.Close())
	assert.True(t, provider.Closed())
}

func TestService_FactoryMethods(t *testing.T) {
	svc, provider := openTestService(t)
	ctx := context.Background()

	pipeline, err := svc.NewPipeline()
	require.NoError(t, err)
	defer pipeline.Release()

	res, err := pipeline.Ingest(ctx, ingestion.IngestRequest{
		Scope:        "acme",
		Headline:     "Northwind Capital closes Fund III",
		SourceName:   "Example Wire",
		PublishDate:  time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		CanonicalURL: "https://news.example.com/fund-iii",
	})
	require.NoError(t, err)
	_, err = pipeline.Process(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.GetMockExtractor().CallCount())

	t.Run("aggregator", func(t *testing.T) {
		health, err := svc.NewAggregator().Health(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, 1, health.Totals.Completed)
	})

	t.Run("server exposes pipeline metrics", func(t *testing.T) {
		router := svc.NewServer(pipeline, zap.NewNop()).Router()
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "dealwire_transitions_total")
		assert.Contains(t, w.Body.String(), "go_goroutines")
	})

	t.Run("worker", func(t *testing.T) {
		w := svc.NewWorker(pipeline)
		require.NoError(t, w.Tick(ctx))
		assert.False(t, w.Running())
	})

	t.Run("requeuer", func(t *testing.T) {
		r, err := svc.NewRequeuer(pipeline, &requeue.Config{Scope: "acme", BatchSize: 10, Concurrency: 1, MaxRetries: 1}, nil)
		require.NoError(t, err)
		summary, err := r.Run(ctx)
		require.NoError(t, err)
		assert.Zero(t, summary.Total)
	})
}
