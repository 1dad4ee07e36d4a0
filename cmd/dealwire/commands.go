package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/poiesic/dealwire"
	"github.com/poiesic/dealwire/api"
	"github.com/poiesic/dealwire/config"
	"github.com/poiesic/dealwire/core"
	"github.com/poiesic/dealwire/ingestion"
	"github.com/poiesic/dealwire/requeue"
	"github.com/urfave/cli/v2"
)

// session is an opened service with a pipeline over it.
type session struct {
	cfg      *config.Config
	svc      *dealwire.Service
	pipeline *ingestion.Pipeline
}

// close waits for submitted attempts, then releases everything.
func (s *session) close() error {
	s.pipeline.Wait()
	s.pipeline.Release()
	return s.svc.Close()
}

func openSession(ctx context.Context, c *cli.Context, opts ...ingestion.Option) (*session, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	svc, err := dealwire.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open service: %w", err)
	}
	pipeline, err := svc.NewPipeline(opts...)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return &session{cfg: cfg, svc: svc, pipeline: pipeline}, nil
}

// commandContext returns a context cancelled by SIGINT or SIGTERM and
// carrying the actor named on the command line.
func commandContext(c *cli.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	return ingestion.ContextWithActor(ctx, c.String("actor")), stop
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func documentArg(c *cli.Context) (core.ID, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one document id")
	}
	return core.ParseID(c.Args().First())
}

func serveCommand(c *cli.Context) error {
	ctx, stop := commandContext(c)
	defer stop()

	s, err := openSession(ctx, c)
	if err != nil {
		return err
	}
	defer s.close()

	format := s.cfg.Logging.Format
	if c.IsSet("log-format") {
		format = c.String("log-format")
	}
	zlog, err := api.NewLogger(format)
	if err != nil {
		return fmt.Errorf("failed to create access logger: %w", err)
	}
	defer zlog.Sync()

	if s.cfg.Worker.Enabled && !c.Bool("no-worker") {
		worker := s.svc.NewWorker(s.pipeline)
		if err := worker.Start(ctx); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
		defer worker.Stop()
	}

	addr := s.cfg.Server.Addr
	if c.IsSet("addr") {
		addr = c.String("addr")
	}
	return s.svc.NewServer(s.pipeline, zlog).Run(ctx, addr, s.cfg.Server.ShutdownTimeout)
}

func ingestCommand(c *cli.Context) error {
	ctx, stop := commandContext(c)
	defer stop()

	publishDate, err := parseDate(c.String("publish-date"))
	if err != nil {
		return err
	}
	req := ingestion.IngestRequest{
		Scope:        c.String("scope"),
		Headline:     c.String("headline"),
		SourceName:   c.String("source"),
		PublishDate:  publishDate,
		CanonicalURL: c.String("url"),
	}
	switch {
	case c.IsSet("text-file"):
		data, err := os.ReadFile(c.Path("text-file"))
		if err != nil {
			return fmt.Errorf("failed to read text file: %w", err)
		}
		text := string(data)
		req.RawText = &text
	case c.IsSet("text"):
		text := c.String("text")
		req.RawText = &text
	}

	s, err := openSession(ctx, c, ingestion.WithAutoProcess(c.Bool("process")))
	if err != nil {
		return err
	}
	defer s.close()

	res, err := s.pipeline.Ingest(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, res)
}

func seedCommand(c *cli.Context) error {
	ctx, stop := commandContext(c)
	defer stop()

	reqs, err := loadSeedFile(c.Path("file"))
	if err != nil {
		return err
	}

	s, err := openSession(ctx, c, ingestion.WithAutoProcess(c.Bool("process")))
	if err != nil {
		return err
	}
	defer s.close()

	created, deduplicated, err := ingestAll(ctx, s.pipeline, reqs)
	fmt.Fprintf(c.App.ErrWriter, "Seeded %d documents (%d already present)\n", created, deduplicated)
	return err
}

func processCommand(c *cli.Context) error {
	id, err := documentArg(c)
	if err != nil {
		return err
	}
	ctx, stop := commandContext(c)
	defer stop()

	s, err := openSession(ctx, c, ingestion.WithAutoProcess(false))
	if err != nil {
		return err
	}
	defer s.close()

	res, err := s.pipeline.Process(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, res)
}

func retryCommand(c *cli.Context) error {
	id, err := documentArg(c)
	if err != nil {
		return err
	}
	ctx, stop := commandContext(c)
	defer stop()

	s, err := openSession(ctx, c, ingestion.WithAutoProcess(false))
	if err != nil {
		return err
	}
	defer s.close()

	res, err := s.pipeline.Retry(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, res)
}

func requeueCommand(c *cli.Context) error {
	cfg := &requeue.Config{
		Scope:          c.String("scope"),
		BatchSize:      c.Int("batch-size"),
		Concurrency:    c.Int("concurrency"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
		Resume:         c.Bool("resume"),
	}
	if err := validateRequeueConfig(cfg); err != nil {
		return err
	}

	ctx, stop := commandContext(c)
	defer stop()

	s, err := openSession(ctx, c, ingestion.WithAutoProcess(false))
	if err != nil {
		return err
	}
	defer s.close()

	requeuer, err := s.svc.NewRequeuer(s.pipeline, cfg, c.App.ErrWriter)
	if err != nil {
		return err
	}

	scope := cfg.Scope
	if scope == "" {
		scope = "(all)"
	}
	fmt.Fprintf(c.App.ErrWriter, "Store: %s\n", s.cfg.Store.Backend)
	fmt.Fprintf(c.App.ErrWriter, "Scope: %s\n", scope)
	fmt.Fprintf(c.App.ErrWriter, "Model: %s\n", s.cfg.AI.Model)
	fmt.Fprintln(c.App.ErrWriter)

	summary, err := requeuer.Run(ctx)
	if perr := printJSON(c.App.Writer, summary); perr != nil && err == nil {
		err = perr
	}
	if err != nil {
		return fmt.Errorf("requeue failed: %w", err)
	}
	return nil
}

func validateRequeueConfig(cfg *requeue.Config) error {
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if cfg.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be greater than 0")
	}
	if cfg.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if cfg.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}
	return nil
}

func sweepCommand(c *cli.Context) error {
	olderThan := c.Duration("older-than")
	if olderThan <= 0 {
		return fmt.Errorf("older-than must be greater than 0")
	}
	ctx, stop := commandContext(c)
	defer stop()

	s, err := openSession(ctx, c, ingestion.WithAutoProcess(false))
	if err != nil {
		return err
	}
	defer s.close()

	swept, err := s.pipeline.SweepStale(ctx, olderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.ErrWriter, "Swept %d stale documents\n", len(swept))
	if c.Bool("retry") {
		for _, id := range swept {
			if err := s.pipeline.SubmitRetry(id); err != nil {
				return fmt.Errorf("submit retry of %s: %w", id, err)
			}
		}
	}
	return printJSON(c.App.Writer, swept)
}

func metricsCommand(c *cli.Context) error {
	ctx, stop := commandContext(c)
	defer stop()

	s, err := openSession(ctx, c, ingestion.WithAutoProcess(false))
	if err != nil {
		return err
	}
	defer s.close()

	agg := s.svc.NewAggregator()
	scope := c.String("scope")
	health, err := agg.Health(ctx, scope)
	if err != nil {
		return err
	}
	backlog, err := agg.Backlog(ctx, scope)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, map[string]any{
		"health":  health,
		"backlog": backlog,
	})
}
