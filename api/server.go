package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/dealwire/core"
	"github.com/poiesic/dealwire/ingestion"
	"github.com/poiesic/dealwire/metrics"
	"github.com/poiesic/dealwire/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pipeline is the part of *ingestion.Pipeline the server drives.
type Pipeline interface {
	Ingest(ctx context.Context, req ingestion.IngestRequest) (ingestion.IngestResult, error)
	Process(ctx context.Context, id core.ID) (ingestion.ProcessResult, error)
	Retry(ctx context.Context, id core.ID) (ingestion.RetryResult, error)
}

// Aggregates is the part of *metrics.Aggregator the server exposes.
type Aggregates interface {
	Health(ctx context.Context, scope string) (metrics.HealthMetrics, error)
	Backlog(ctx context.Context, scope string) (metrics.BacklogMetrics, error)
}

// Server serves the HTTP API.
type Server struct {
	pipeline    Pipeline
	documents   storage.DocumentRepository
	enrichments storage.EnrichmentRepository
	aggregates  Aggregates
	gatherer    prometheus.Gatherer
	log         *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the access logger. Default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithGatherer sets the registry served at /metrics.
// Default is prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

// NewServer creates a server over pipeline, the store's repositories and aggregates.
func NewServer(pipeline Pipeline, store *storage.Store, aggregates Aggregates, opts ...Option) *Server {
	s := &Server{
		pipeline:    pipeline,
		documents:   store.Documents,
		enrichments: store.Enrichments,
		aggregates:  aggregates,
		gatherer:    prometheus.DefaultGatherer,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine serving every route.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(actor(), accessLog(s.log), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	r.POST("/ingest", s.ingest)
	r.POST("/process/:id", s.process)
	r.POST("/retry/:id", s.retry)
	r.GET("/documents", s.listDocuments)
	r.GET("/documents/:id", s.getDocument)
	r.GET("/metrics/health", s.health)
	r.GET("/metrics/backlog", s.backlog)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

// Run serves on addr until ctx is done, then shuts down gracefully within shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", zap.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("api stopped")
	return nil
}
