// Package config loads process-level settings for the dealwire service.
//
// Values come from an optional YAML file, then DEALWIRE_* environment
// variables (dots become underscores, e.g. DEALWIRE_STORE_BACKEND), then
// built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	AI       AIConfig
	Pipeline PipelineConfig
	Worker   WorkerConfig
	Redis    RedisConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type StoreConfig struct {
	Backend  string
	Path     string // Badger directory; empty runs in memory
	DSN      string // SQLite file or Postgres connection string
	MongoURI string
	Database string
}

type AIConfig struct {
	Provider        string
	Host            string
	APIKey          string
	Model           string
	Project         string
	Location        string
	MaxOutputTokens int
}

type PipelineConfig struct {
	PoolSize        int
	ExtractTimeout  time.Duration
	MaxRequestChars int
	MaxAttempts     int
	AutoProcess     bool
}

type WorkerConfig struct {
	Enabled    bool
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
	RetryStale bool
}

// RedisConfig locates the linking stats published by the entity linking
// service. An empty Addr disables linking counts.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from path, or from ./dealwire.yaml and
// /etc/dealwire/dealwire.yaml when path is empty. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("dealwire")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/dealwire")
	}

	v.SetEnvPrefix("DEALWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	c.Store.Backend = strings.ToLower(c.Store.Backend)
	switch c.Store.Backend {
	case BackendBadger:
	case BackendSQLite, BackendPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the %s backend", c.Store.Backend)
		}
	case BackendMongo:
		if c.Store.MongoURI == "" || c.Store.Database == "" {
			return errors.New("store.mongouri and store.database are required for the mongo backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdownTimeout", 15*time.Second)

	v.SetDefault("store.backend", BackendBadger)
	v.SetDefault("store.path", "")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.mongoURI", "")
	v.SetDefault("store.database", "dealwire")

	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.host", "http://localhost:11434/v1")
	v.SetDefault("ai.apiKey", "none")
	v.SetDefault("ai.model", "qwen2.5:7b")
	v.SetDefault("ai.project", "")
	v.SetDefault("ai.location", "us-central1")
	v.SetDefault("ai.maxOutputTokens", 2048)

	v.SetDefault("pipeline.poolSize", 4)
	v.SetDefault("pipeline.extractTimeout", 60*time.Second)
	v.SetDefault("pipeline.maxRequestChars", 24000)
	v.SetDefault("pipeline.maxAttempts", 0)
	v.SetDefault("pipeline.autoProcess", true)

	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.interval", 30*time.Second)
	v.SetDefault("worker.staleAfter", 10*time.Minute)
	v.SetDefault("worker.batchSize", 100)
	v.SetDefault("worker.retryStale", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}
