package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dealwire.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, BackendBadger, cfg.Store.Backend)
	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, 60*time.Second, cfg.Pipeline.ExtractTimeout)
	assert.Equal(t, 24000, cfg.Pipeline.MaxRequestChars)
	assert.Zero(t, cfg.Pipeline.MaxAttempts)
	assert.True(t, cfg.Worker.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Worker.StaleAfter)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
store:
  backend: SQLite
  dsn: /tmp/dealwire.db
pipeline:
  extractTimeout: 90s
  maxAttempts: 5
worker:
  interval: 1m
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "/tmp/dealwire.db", cfg.Store.DSN)
	assert.Equal(t, 90*time.Second, cfg.Pipeline.ExtractTimeout)
	assert.Equal(t, 5, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Worker.Interval)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "ai:\n  model: llama3\n")
	t.Setenv("DEALWIRE_AI_MODEL", "gpt-4o-mini")
	t.Setenv("DEALWIRE_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.AI.Model)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown backend", "store:\n  backend: cassandra\n", "unknown store backend"},
		{"postgres without dsn", "store:\n  backend: postgres\n", "store.dsn is required"},
		{"mongo without uri", "store:\n  backend: mongo\n", "mongouri"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed"))
	assert.Error(t, err)
}
