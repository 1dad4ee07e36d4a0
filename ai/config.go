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


package ai

import (
	"errors"
	"fmt"
	"strings"
)

// Supported provider names.
const (
	ProviderOpenAI = "openai"
	ProviderVertex = "vertex"
)

// Config holds configuration for AI service providers.
type Config struct {
	// Provider selects the backend: "openai" or "vertex".
	Provider string

	// Host is the base URL of an OpenAI-compatible API.
	// Example: "http://localhost:11434/v1" for a local Ollama server
	Host string

	// APIKey authenticates against the OpenAI-compatible API.
	// Local servers accept any value. Default: "none"
	APIKey string

	// Model is the model identifier used for extraction.
	// Example: "qwen2.5:7b", "gpt-4o-mini", "gemini-1.5-pro"
	Model string

	// Project is the Google Cloud project used by the vertex provider.
	Project string

	// Location is the Vertex AI region. Default: "us-central1"
	Location string

	// MaxOutputTokens bounds the length of a model response.
	// Default: 2048
	MaxOutputTokens int
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithProvider selects the provider backend.
func WithProvider(provider string) ConfigOption {
	return func(c *Config) {
		c.Provider = provider
	}
}

// WithHost sets the OpenAI-compatible host URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.Host = host
	}
}

// WithAPIKey sets the API key for the OpenAI-compatible host.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithModel sets the extraction model identifier.
func WithModel(model string) ConfigOption {
	return func(c *Config) {
		c.Model = model
	}
}

// WithVertex selects the vertex provider in the given project and region.
func WithVertex(project, location string) ConfigOption {
	return func(c *Config) {
		c.Provider = ProviderVertex
		c.Project = project
		c.Location = location
	}
}

// WithMaxOutputTokens sets the response length limit.
func WithMaxOutputTokens(n int) ConfigOption {
	return func(c *Config) {
		c.MaxOutputTokens = n
	}
}

// DefaultConfig returns a Config with sensible defaults for a local OpenAI-compatible service.
func DefaultConfig() *Config {
	return &Config{
		Provider:        ProviderOpenAI,
		Host:            "http://localhost:11434/v1",
		APIKey:          "none",
		Model:           "qwen2.5:7b",
		Location:        "us-central1",
		MaxOutputTokens: 2048,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithHost("https://api.openai.com/v1"),
//	    WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    WithModel("gpt-4o-mini"),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// The provider name is lowercased and an OpenAI host gets the /v1 suffix
// most compatible servers (Ollama, LocalAI, vLLM) require.
func (c *Config) Normalize() {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	c.Host = strings.TrimSpace(c.Host)
	if c.Provider == ProviderOpenAI && c.Host != "" && !strings.HasSuffix(c.Host, "/v1") {
		c.Host = strings.TrimSuffix(c.Host, "/") + "/v1"
	}
	if c.APIKey == "" {
		c.APIKey = "none"
	}
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if c.Model == "" {
		return errors.New("ai config: Model is required")
	}
	if c.MaxOutputTokens < 1 {
		return errors.New("ai config: MaxOutputTokens must be positive")
	}
	switch c.Provider {
	case ProviderOpenAI:
		if c.Host == "" {
			return errors.New("ai config: Host is required")
		}
	case ProviderVertex:
		if c.Project == "" || c.Location == "" {
			return errors.New("ai config: Project and Location are required for vertex")
		}
	default:
		return fmt.Errorf("ai config: unknown provider %q", c.Provider)
	}
	return nil
}
