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
	"time"
)

// Provider names an embedding backend.
type Provider string

const (
	// ProviderOllama talks to Ollama's native /api/embeddings endpoint.
	ProviderOllama Provider = "ollama"

	// ProviderOpenAI talks to any OpenAI-compatible /v1/embeddings endpoint.
	ProviderOpenAI Provider = "openai"
)

// Config holds configuration for the embedding service.
type Config struct {
	// Provider selects the backend implementation.
	// Default: "ollama"
	Provider Provider

	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434" for Ollama,
	// "https://api.openai.com/v1" for OpenAI
	EmbeddingHost string

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "nomic-embed-text", "text-embedding-3-small"
	EmbeddingModel string

	// Dimensions is the length of the vectors the model produces.
	// Default: 768
	Dimensions int

	// APIKey authenticates against hosted services. Local servers ignore it.
	APIKey string

	// RequestsPerSecond caps calls to the backend. 0 disables limiting.
	RequestsPerSecond float64

	// Timeout bounds a single request to the backend.
	// Default: 30s
	Timeout time.Duration
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithProvider sets the embedding backend.
func WithProvider(p Provider) ConfigOption {
	return func(c *Config) {
		c.Provider = p
	}
}

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithDimensions sets the expected embedding length.
func WithDimensions(n int) ConfigOption {
	return func(c *Config) {
		c.Dimensions = n
	}
}

// WithAPIKey sets the API key sent to hosted services.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithRequestsPerSecond caps the request rate to the backend.
func WithRequestsPerSecond(rps float64) ConfigOption {
	return func(c *Config) {
		c.RequestsPerSecond = rps
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.Timeout = d
	}
}

// DefaultConfig returns a Config for a local Ollama server running nomic-embed-text.
func DefaultConfig() *Config {
	return &Config{
		Provider:       ProviderOllama,
		EmbeddingHost:  "http://localhost:11434",
		EmbeddingModel: "nomic-embed-text",
		Dimensions:     768,
		Timeout:        30 * time.Second,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := ai.NewConfig(
//	    ai.WithProvider(ai.ProviderOpenAI),
//	    ai.WithEmbeddingHost("https://api.openai.com"),
//	    ai.WithEmbeddingModel("text-embedding-3-small"),
//	    ai.WithDimensions(1536),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize puts the host in the form each provider expects.
// OpenAI-compatible hosts get a /v1 suffix; Ollama hosts lose it.
func (c *Config) Normalize() {
	c.Provider = Provider(strings.ToLower(strings.TrimSpace(string(c.Provider))))
	if c.EmbeddingHost == "" {
		return
	}
	host := strings.TrimSuffix(c.EmbeddingHost, "/")
	switch c.Provider {
	case ProviderOpenAI:
		if !strings.HasSuffix(host, "/v1") {
			host += "/v1"
		}
	case ProviderOllama:
		host = strings.TrimSuffix(host, "/v1")
	}
	c.EmbeddingHost = host
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	switch c.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("ai config: unknown provider %q", c.Provider)
	}
	if c.EmbeddingHost == "" {
		return errors.New("ai config: EmbeddingHost is required")
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	if c.Dimensions < 0 {
		return errors.New("ai config: Dimensions must not be negative")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("ai config: RequestsPerSecond must not be negative")
	}
	if c.Timeout < 0 {
		return errors.New("ai config: Timeout must not be negative")
	}
	return nil
}
