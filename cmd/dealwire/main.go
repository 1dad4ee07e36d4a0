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


package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "dealwire",
		Usage: "Document ingestion and deal enrichment pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Set logging format (text, json)",
				Value: "text",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
			},
			&cli.StringFlag{
				Name:  "actor",
				Usage: "Actor recorded on documents and enrichments created by this command",
				Value: "cli",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and the background worker",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address, overrides server.addr",
					},
					&cli.BoolFlag{
						Name:  "no-worker",
						Usage: "Do not start the background worker",
					},
				},
			},
			{
				Name:   "ingest",
				Usage:  "Ingest one document",
				Action: ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "scope", Usage: "Tenant scope", Required: true},
					&cli.StringFlag{Name: "headline", Usage: "Document headline", Required: true},
					&cli.StringFlag{Name: "source", Usage: "Source name", Required: true},
					&cli.StringFlag{Name: "url", Usage: "Canonical URL", Required: true},
					&cli.StringFlag{Name: "publish-date", Usage: "Publish date (RFC 3339 or YYYY-MM-DD)", Required: true},
					&cli.StringFlag{Name: "text", Usage: "Article text"},
					&cli.PathFlag{Name: "text-file", Usage: "Read the article text from a file"},
					&cli.BoolFlag{Name: "process", Usage: "Process the document before exiting"},
				},
			},
			{
				Name:   "seed",
				Usage:  "Ingest the documents of a YAML fixture file",
				Action: seedCommand,
				Flags: []cli.Flag{
					&cli.PathFlag{Name: "file", Aliases: []string{"f"}, Usage: "Fixture file", Required: true},
					&cli.BoolFlag{Name: "process", Usage: "Process the documents before exiting"},
				},
			},
			{
				Name:      "process",
				Usage:     "Run one extraction attempt on a NEW or FAILED document",
				ArgsUsage: "<document-id>",
				Action:    processCommand,
			},
			{
				Name:      "retry",
				Usage:     "Re-run a FAILED document",
				ArgsUsage: "<document-id>",
				Action:    retryCommand,
			},
			{
				Name:   "requeue-failed",
				Usage:  "Retry every FAILED document of a scope",
				Action: requeueCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "scope",
						Usage: "Tenant scope (all scopes when empty)",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of documents to process in each batch",
						Value: 50,
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Number of retries running at once",
						Value: 4,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N documents",
						Value: 50,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
					&cli.BoolFlag{
						Name:  "resume",
						Usage: "Continue after the checkpoint of an interrupted run",
					},
				},
			},
			{
				Name:   "sweep",
				Usage:  "Fail documents stuck in PROCESSING",
				Action: sweepCommand,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "older-than",
						Usage: "Age of an attempt after which it counts as stale",
						Value: 10 * time.Minute,
					},
					&cli.BoolFlag{
						Name:  "retry",
						Usage: "Retry swept documents",
					},
				},
			},
			{
				Name:   "metrics",
				Usage:  "Print health and backlog metrics of a scope as JSON",
				Action: metricsCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "scope", Usage: "Tenant scope", Required: true},
				},
			},
		},
	}
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", s)
	}
}

func setupLogger(c *cli.Context) error {
	level, err := parseLevel(c.String("log-level"))
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(c.String("log-format")) {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q: must be text or json", c.String("log-format"))
	}
	slog.SetDefault(slog.New(handler))

	return nil
}
