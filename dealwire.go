// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package dealwire assembles the document enrichment service from configuration:
// the document store, the extraction provider, the linking source and the
// Prometheus registry, plus factories for the pipeline and its consumers.
package dealwire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/poiesic/dealwire/ai"
	"github.com/poiesic/dealwire/ai/openai"
	"github.com/poiesic/dealwire/ai/vertex"
	"github.com/poiesic/dealwire/api"
	"github.com/poiesic/dealwire/config"
	"github.com/poiesic/dealwire/ingestion"
	"github.com/poiesic/dealwire/linking"
	linkredis "github.com/poiesic/dealwire/linking/redis"
	"github.com/poiesic/dealwire/metrics"
	"github.com/poiesic/dealwire/requeue"
	"github.com/poiesic/dealwire/storage"
	"github.com/poiesic/dealwire/storage/badger"
	"github.com/poiesic/dealwire/storage/mongo"
	"github.com/poiesic/dealwire/storage/sqlstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// Service owns the long-lived resources of one dealwire process.
type Service struct {
	cfg      *config.Config
	store    *storage.Store
	provider ai.Provider
	links    linking.Service
	closers  []io.Closer
	registry *prometheus.Registry
	monitor  *metrics.PrometheusMonitor
	logger   *slog.Logger
}

// Option configures Open.
type Option func(*options)

type options struct {
	store    *storage.Store
	provider ai.Provider
	links    linking.Service
	logger   *slog.Logger
}

// WithStore uses store instead of opening the configured backend.
// The Service takes ownership and closes it.
func WithStore(store *storage.Store) Option {
	return func(o *options) { o.store = store }
}

// WithProvider uses provider instead of the configured AI provider.
// The Service takes ownership and closes it.
func WithProvider(provider ai.Provider) Option {
	return func(o *options) { o.provider = provider }
}

// WithLinking uses links instead of the configured linking source.
func WithLinking(links linking.Service) Option {
	return func(o *options) { o.links = links }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Open connects every resource cfg names. On error nothing is left open.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (svc *Service, err error) {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	s := &Service{cfg: cfg, logger: o.logger.With("component", "service")}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	s.store = o.store
	if s.store == nil {
		if s.store, err = OpenStore(ctx, cfg.Store); err != nil {
			return nil, err
		}
	}

	s.provider = o.provider
	if s.provider == nil {
		if s.provider, err = OpenProvider(ctx, cfg.AI); err != nil {
			return nil, err
		}
	}

	s.links = o.links
	if s.links == nil {
		if cfg.Redis.Addr == "" {
			s.links = linking.NewStatic(nil)
		} else {
			rs, err := linkredis.Open(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return nil, err
			}
			s.links = rs
			s.closers = append(s.closers, rs)
		}
	}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if s.monitor, err = metrics.NewPrometheusMonitor(s.registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	s.logger.Info("service opened", "store", cfg.Store.Backend, "provider", cfg.AI.Provider, "model", cfg.AI.Model)
	return s, nil
}

// OpenStore opens the configured document store.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (*storage.Store, error) {
	switch cfg.Backend {
	case config.BackendBadger, "":
		if cfg.Path == "" {
			return badger.NewMemoryStore()
		}
		return badger.NewStore(cfg.Path)
	case config.BackendSQLite:
		return sqlstore.Open(ctx, sqlstore.DriverSQLite, cfg.DSN)
	case config.BackendPostgres:
		return sqlstore.Open(ctx, sqlstore.DriverPostgres, cfg.DSN)
	case config.BackendMongo:
		return mongo.Open(ctx, cfg.MongoURI, cfg.Database)
	default:
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownBackend, cfg.Backend)
	}
}

// OpenProvider creates the configured AI provider.
func OpenProvider(ctx context.Context, cfg config.AIConfig) (ai.Provider, error) {
	aiConfig := ai.NewConfig(
		ai.WithProvider(cfg.Provider),
		ai.WithHost(cfg.Host),
		ai.WithAPIKey(cfg.APIKey),
		ai.WithModel(cfg.Model),
		ai.WithVertex(cfg.Project, cfg.Location),
		ai.WithMaxOutputTokens(cfg.MaxOutputTokens),
	)
	if err := aiConfig.Validate(); err != nil {
		return nil, err
	}
	if aiConfig.Provider == ai.ProviderVertex {
		return vertex.NewProvider(ctx, aiConfig)
	}
	return openai.NewProvider(aiConfig)
}

// Close releases every resource, returning the first error.
func (s *Service) Close() error {
	var errs []error
	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			s.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			s.logger.Error("error closing linking source", "err", err)
			errs = append(errs, err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("error closing store", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) Store() *storage.Store {
	return s.store
}

func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

// NewPipeline creates a pipeline configured from the pipeline settings and
// instrumented with the service's Prometheus monitor. opts are applied last.
func (s *Service) NewPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	pc := s.cfg.Pipeline
	base := []ingestion.Option{
		ingestion.WithLogger(s.logger),
		ingestion.WithMonitor(s.monitor),
		ingestion.WithAutoProcess(pc.AutoProcess),
		ingestion.WithMaxAttempts(pc.MaxAttempts),
	}
	if pc.PoolSize > 0 {
		base = append(base, ingestion.WithPoolSize(pc.PoolSize))
	}
	if pc.ExtractTimeout > 0 {
		base = append(base, ingestion.WithExtractTimeout(pc.ExtractTimeout))
	}
	if pc.MaxRequestChars > 0 {
		base = append(base, ingestion.WithMaxRequestChars(pc.MaxRequestChars))
	}
	return ingestion.NewPipeline(s.store.Documents, s.provider.DealExtractor(), append(base, opts...)...)
}

// NewWorker creates a stopped background worker for pipeline.
func (s *Service) NewWorker(pipeline *ingestion.Pipeline) *ingestion.Worker {
	wc := s.cfg.Worker
	return ingestion.NewWorker(pipeline,
		ingestion.WithInterval(wc.Interval),
		ingestion.WithStaleAfter(wc.StaleAfter),
		ingestion.WithBatchSize(wc.BatchSize),
		ingestion.WithRetryStale(wc.RetryStale),
		ingestion.WithWorkerLogger(s.logger),
	)
}

func (s *Service) NewAggregator() *metrics.Aggregator {
	return metrics.NewAggregator(s.store.Documents, s.store.Enrichments, s.links, metrics.WithLogger(s.logger))
}

// NewServer creates the HTTP API over pipeline.
func (s *Service) NewServer(pipeline *ingestion.Pipeline, log *zap.Logger) *api.Server {
	return api.NewServer(pipeline, s.store, s.NewAggregator(), api.WithLogger(log), api.WithGatherer(s.registry))
}

// NewRequeuer creates a bulk requeue job over pipeline.
func (s *Service) NewRequeuer(pipeline *ingestion.Pipeline, cfg *requeue.Config, progress io.Writer) (*requeue.Requeuer, error) {
	return requeue.NewRequeuer(s.store.Documents, s.store.Checkpoints, pipeline, cfg, progress)
}
