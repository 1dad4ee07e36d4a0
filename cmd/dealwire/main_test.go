package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/dealwire/ai/mock"
	"github.com/poiesic/dealwire/ingestion"
	"github.com/poiesic/dealwire/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func findCommand(t *testing.T, app *cli.App, name string) *cli.Command {
	t.Helper()
	for _, cmd := range app.Commands {
		if cmd.Name == name {
			return cmd
		}
	}
	t.Fatalf("command %q not found", name)
	return nil
}

func findFlag[T cli.Flag](t *testing.T, cmd *cli.Command, name string) T {
	t.Helper()
	for _, flag := range cmd.Flags {
		if f, ok := flag.(T); ok && flag.Names()[0] == name {
			return f
		}
	}
	t.Fatalf("flag %q not found on %s", name, cmd.Name)
	var zero T
	return zero
}

func quietApp() *cli.App {
	app := newApp()
	app.Writer = io.Discard
	app.ErrWriter = io.Discard
	return app
}

func TestRequeueCommandFlags(t *testing.T) {
	cmd := findCommand(t, newApp(), "requeue-failed")

	t.Run("batch-size has default value of 50", func(t *testing.T) {
		assert.Equal(t, 50, findFlag[*cli.IntFlag](t, cmd, "batch-size").Value)
	})

	t.Run("max-retries has default value of 3", func(t *testing.T) {
		assert.Equal(t, 3, findFlag[*cli.IntFlag](t, cmd, "max-retries").Value)
	})

	t.Run("retry-delay has default value of 1s", func(t *testing.T) {
		assert.Equal(t, time.Second, findFlag[*cli.DurationFlag](t, cmd, "retry-delay").Value)
	})

	t.Run("scope is optional", func(t *testing.T) {
		f := findFlag[*cli.StringFlag](t, cmd, "scope")
		assert.False(t, f.Required)
		assert.Empty(t, f.Value)
	})
}

func TestRequeueCommandValidation(t *testing.T) {
	tests := []struct {
		name string
		flag string
		want string
	}{
		{"zero batch size", "--batch-size=0", "batch-size must be greater than 0"},
		{"zero concurrency", "--concurrency=0", "concurrency must be greater than 0"},
		{"zero report interval", "--report-interval=0", "report-interval must be greater than 0"},
		{"negative max retries", "--max-retries=-1", "max-retries must be greater than 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := quietApp().Run([]string{"dealwire", "requeue-failed", tt.flag})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestIngestCommandRequiredFlags(t *testing.T) {
	err := quietApp().Run([]string{"dealwire", "ingest", "--scope", "acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "headline")
}

func TestDocumentCommandsRequireID(t *testing.T) {
	for _, name := range []string{"process", "retry"} {
		t.Run(name, func(t *testing.T) {
			err := quietApp().Run([]string{"dealwire", name})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "expected exactly one document id")
		})
	}
}

func TestSweepCommandValidation(t *testing.T) {
	err := quietApp().Run([]string{"dealwire", "sweep", "--older-than=0s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "older-than")
}

func TestSetupLogger(t *testing.T) {
	defaultLogger := slog.Default()
	t.Cleanup(func() { slog.SetDefault(defaultLogger) })

	run := func(args ...string) error {
		app := quietApp()
		app.Commands = []*cli.Command{{Name: "noop", Action: func(*cli.Context) error { return nil }}}
		return app.Run(append(append([]string{"dealwire"}, args...), "noop"))
	}

	t.Run("levels", func(t *testing.T) {
		for _, level := range []string{"debug", "INFO", "warn", "error"} {
			assert.NoError(t, run("--log-level", level))
		}
	})

	t.Run("debug enables debug records", func(t *testing.T) {
		require.NoError(t, run("--log-level", "debug"))
		assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))
	})

	t.Run("json format", func(t *testing.T) {
		require.NoError(t, run("--log-format", "json"))
		_, ok := slog.Default().Handler().(*slog.JSONHandler)
		assert.True(t, ok)
	})

	t.Run("invalid level", func(t *testing.T) {
		err := run("--log-level", "verbose")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("invalid format", func(t *testing.T) {
		err := run("--log-format", "xml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log format")
	})
}

const fixture = `
scope: acme
documents:
  - headline: Acme acquires Widgets Inc
    source: Newswire
    url: https://news.example.com/acme-widgets
    publishDate: 2025-03-01
    text: Acme said on Monday it will acquire Widgets Inc for $2 billion.
  - headline: Globex raises Series B
    source: Wire
    url: https://news.example.com/globex
    publishDate: 2025-03-02T09:30:00Z
    scope: globex
`

func TestParseSeed(t *testing.T) {
	reqs, err := parseSeed([]byte(fixture))
	require.NoError(t, err)
	require.Len(t, reqs, 2)

	assert.Equal(t, "acme", reqs[0].Scope)
	assert.Equal(t, "Acme acquires Widgets Inc", reqs[0].Headline)
	assert.Equal(t, "Newswire", reqs[0].SourceName)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), reqs[0].PublishDate)
	require.NotNil(t, reqs[0].RawText)
	assert.Contains(t, *reqs[0].RawText, "$2 billion")

	assert.Equal(t, "globex", reqs[1].Scope)
	assert.Equal(t, time.Date(2025, 3, 2, 9, 30, 0, 0, time.UTC), reqs[1].PublishDate)
	assert.Nil(t, reqs[1].RawText)
}

func TestParseSeed_Errors(t *testing.T) {
	_, err := parseSeed([]byte("documents: [unclosed"))
	assert.ErrorContains(t, err, "failed to parse seed file")

	_, err = parseSeed([]byte("documents:\n  - headline: x\n    publishDate: March 1st\n"))
	assert.ErrorContains(t, err, "document 0")
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))

	reqs, err := loadSeedFile(path)
	require.NoError(t, err)
	assert.Len(t, reqs, 2)

	_, err = loadSeedFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read seed file")
}

func TestIngestAll(t *testing.T) {
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	pipeline, err := ingestion.NewPipeline(store.Documents, mock.NewMockDealExtractor(),
		ingestion.WithAutoProcess(false))
	require.NoError(t, err)
	defer pipeline.Release()

	reqs, err := parseSeed([]byte(fixture))
	require.NoError(t, err)
	ctx := context.Background()

	created, deduplicated, err := ingestAll(ctx, pipeline, reqs)
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Zero(t, deduplicated)

	created, deduplicated, err = ingestAll(ctx, pipeline, reqs)
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Equal(t, 2, deduplicated)

	bad := append(reqs, ingestion.IngestRequest{Scope: "acme"})
	_, _, err = ingestAll(ctx, pipeline, bad)
	assert.ErrorContains(t, err, "document 2")
}

func TestParseDate(t *testing.T) {
	d, err := parseDate("2025-01-15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), d)

	d, err = parseDate("2025-01-15T10:00:00+02:00")
	require.NoError(t, err)
	assert.True(t, d.Equal(time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)))

	_, err = parseDate("")
	assert.Error(t, err)
}
