package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/dealwire/ai"
	"github.com/poiesic/dealwire/core"
	"github.com/poiesic/dealwire/storage"
)

const (
	// DefaultExtractTimeout bounds a single extractor call.
	DefaultExtractTimeout = 60 * time.Second

	// DefaultMaxRequestChars caps the canonical request sent to the extractor, in runes.
	DefaultMaxRequestChars = 24000
)

// Pipeline orchestrates ingestion, claiming and enrichment of documents.
// It is safe for concurrent use.
type Pipeline struct {
	documents       storage.DocumentRepository
	extractor       ai.DealExtractor
	pool            *ants.Pool
	inflight        sync.WaitGroup
	extractTimeout  time.Duration
	maxRequestChars int
	maxAttempts     int // 0 means unbounded
	autoProcess     bool
	monitor         Monitor
	now             func() time.Time
	logger          *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for background processing.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithExtractTimeout bounds each extractor call.
// Default is DefaultExtractTimeout.
func WithExtractTimeout(d time.Duration) Option {
	return func(p *Pipeline) error {
		if d <= 0 {
			return fmt.Errorf("extract timeout must be positive, got %s", d)
		}
		p.extractTimeout = d
		return nil
	}
}

// WithMaxRequestChars caps the request sent to the extractor.
// Default is DefaultMaxRequestChars.
func WithMaxRequestChars(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			return fmt.Errorf("max request chars must be positive, got %d", n)
		}
		p.maxRequestChars = n
		return nil
	}
}

// WithAutoProcess submits every newly ingested document to the worker pool.
func WithAutoProcess(enabled bool) Option {
	return func(p *Pipeline) error {
		p.autoProcess = enabled
		return nil
	}
}

// WithMaxAttempts makes Retry refuse documents that have been claimed n times.
// Default is 0, which allows unbounded manual retries.
func WithMaxAttempts(n int) Option {
	return func(p *Pipeline) error {
		if n < 0 {
			n = 0
		}
		p.maxAttempts = n
		return nil
	}
}

// WithMonitor installs hooks observing pipeline events.
func WithMonitor(m Monitor) Option {
	return func(p *Pipeline) error {
		if m == nil {
			m = noopMonitor{}
		}
		p.monitor = m
		return nil
	}
}

// WithClock overrides the time source used for lifecycle timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) error {
		if now == nil {
			now = time.Now
		}
		p.now = func() time.Time { return now().UTC() }
		return nil
	}
}

// NewPipeline creates a new enrichment pipeline.
func NewPipeline(documents storage.DocumentRepository, extractor ai.DealExtractor, opts ...Option) (*Pipeline, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if extractor == nil {
		return nil, ErrExtractorRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		documents:       documents,
		extractor:       extractor,
		pool:            pool,
		extractTimeout:  DefaultExtractTimeout,
		maxRequestChars: DefaultMaxRequestChars,
		monitor:         noopMonitor{},
		now:             func() time.Time { return time.Now().UTC() },
		logger:          slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	p.logger = p.logger.With("component", "pipeline")

	return p, nil
}

// IngestRequest describes a document offered for ingestion.
type IngestRequest struct {
	Scope        string
	Headline     string
	SourceName   string
	PublishDate  time.Time
	CanonicalURL string
	RawText      *string
	CreatedBy    string // Defaults to the actor carried by the context
}

// IngestResult reports the document an ingest request resolved to.
type IngestResult struct {
	DocumentID   core.ID
	Deduplicated bool
}

// Ingest stores a NEW document unless one with the same (scope, canonical URL)
// already exists, in which case the existing document is returned untouched.
// Invalid requests are rejected with a *core.ValidationError before any write.
func (p *Pipeline) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	doc := &core.Document{
		Scope:        strings.TrimSpace(req.Scope),
		Headline:     strings.TrimSpace(req.Headline),
		SourceName:   strings.TrimSpace(req.SourceName),
		PublishDate:  req.PublishDate.UTC(),
		CanonicalURL: req.CanonicalURL,
		RawText:      req.RawText,
		CreatedBy:    req.CreatedBy,
	}
	if doc.CreatedBy == "" {
		doc.CreatedBy = ActorFromContext(ctx)
	}
	if err := core.ValidateDocument(doc); err != nil {
		return IngestResult{}, err
	}
	canonical, err := core.NormalizeURL(doc.CanonicalURL)
	if err != nil {
		return IngestResult{}, err
	}
	doc.CanonicalURL = canonical

	existing, err := p.documents.FindDocumentByURL(ctx, doc.Scope, doc.CanonicalURL)
	if err == nil {
		p.monitor.Ingested(existing, true)
		return IngestResult{DocumentID: existing.ID, Deduplicated: true}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return IngestResult{}, fmt.Errorf("look up document: %w", err)
	}

	created, err := p.documents.CreateDocument(ctx, doc)
	if errors.Is(err, storage.ErrDuplicateKey) {
		// Lost the insert race; the winner's document is the answer.
		existing, err := p.documents.FindDocumentByURL(ctx, doc.Scope, doc.CanonicalURL)
		if err != nil {
			return IngestResult{}, fmt.Errorf("resolve duplicate document: %w", err)
		}
		p.logger.Debug("ingest race resolved to existing document", "document", existing.ID)
		p.monitor.Ingested(existing, true)
		return IngestResult{DocumentID: existing.ID, Deduplicated: true}, nil
	}
	if err != nil {
		return IngestResult{}, fmt.Errorf("create document: %w", err)
	}

	p.logger.Debug("document ingested", "document", created.ID, "scope", created.Scope)
	p.monitor.Ingested(created, false)
	if p.autoProcess {
		if err := p.SubmitProcess(created.ID); err != nil {
			p.logger.Error("error submitting document for processing", "document", created.ID, "err", err)
		}
	}
	return IngestResult{DocumentID: created.ID}, nil
}

// SubmitProcess schedules Process for id on the worker pool.
func (p *Pipeline) SubmitProcess(id core.ID) error {
	return p.submit(id, func(ctx context.Context, id core.ID) error {
		_, err := p.Process(ctx, id)
		return err
	})
}

// SubmitRetry schedules Retry for id on the worker pool.
func (p *Pipeline) SubmitRetry(id core.ID) error {
	return p.submit(id, func(ctx context.Context, id core.ID) error {
		_, err := p.Retry(ctx, id)
		return err
	})
}

func (p *Pipeline) submit(id core.ID, fn func(context.Context, core.ID) error) error {
	p.inflight.Add(1)
	err := p.pool.Submit(func() {
		defer p.inflight.Done()
		err := fn(context.Background(), id)
		switch {
		case err == nil:
		case errors.Is(err, core.ErrAlreadyProcessing), errors.Is(err, core.ErrStaleAttempt):
			p.logger.Debug("background attempt skipped", "document", id, "err", err)
		default:
			p.logger.Warn("background attempt failed", "document", id, "err", err)
		}
	})
	if err != nil {
		p.inflight.Done()
	}
	return err
}

// Wait blocks until every submitted background attempt has finished.
func (p *Pipeline) Wait() {
	p.inflight.Wait()
}

// Release waits for background attempts and releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	p.Wait()
	if p.pool != nil {
		p.pool.Release()
	}
}
