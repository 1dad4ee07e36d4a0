package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/poiesic/dealwire/ingestion"
	"gopkg.in/yaml.v3"
)

// seedFile is the fixture format read by the seed command.
//
//	scope: acme
//	documents:
//	  - headline: Acme acquires Widgets Inc
//	    source: Newswire
//	    url: https://news.example.com/acme-widgets
//	    publishDate: 2025-03-01
//	    text: Acme said on Monday ...
type seedFile struct {
	Scope     string         `yaml:"scope"`
	Documents []seedDocument `yaml:"documents"`
}

type seedDocument struct {
	Scope       string  `yaml:"scope"` // Overrides the file scope
	Headline    string  `yaml:"headline"`
	Source      string  `yaml:"source"`
	URL         string  `yaml:"url"`
	PublishDate string  `yaml:"publishDate"`
	Text        *string `yaml:"text"`
}

func loadSeedFile(path string) ([]ingestion.IngestRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return parseSeed(data)
}

func parseSeed(data []byte) ([]ingestion.IngestRequest, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	reqs := make([]ingestion.IngestRequest, 0, len(file.Documents))
	for i, d := range file.Documents {
		publishDate, err := parseDate(d.PublishDate)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		scope := d.Scope
		if scope == "" {
			scope = file.Scope
		}
		reqs = append(reqs, ingestion.IngestRequest{
			Scope:        scope,
			Headline:     d.Headline,
			SourceName:   d.Source,
			PublishDate:  publishDate,
			CanonicalURL: d.URL,
			RawText:      d.Text,
		})
	}
	return reqs, nil
}

// ingestAll ingests reqs in order, stopping at the first error.
func ingestAll(ctx context.Context, pipeline *ingestion.Pipeline, reqs []ingestion.IngestRequest) (created, deduplicated int, err error) {
	for i, req := range reqs {
		res, err := pipeline.Ingest(ctx, req)
		if err != nil {
			return created, deduplicated, fmt.Errorf("document %d (%s): %w", i, req.CanonicalURL, err)
		}
		if res.Deduplicated {
			deduplicated++
			continue
		}
		created++
		slog.Debug("seeded document", "document", res.DocumentID, "url", req.CanonicalURL)
	}
	return created, deduplicated, nil
}

// parseDate accepts RFC 3339 timestamps and plain dates.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid publish date %q: want RFC 3339 or YYYY-MM-DD", s)
	}
	return t, nil
}
