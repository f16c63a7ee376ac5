// Package config loads docindex configuration.
//
// Values are resolved in order, later sources overriding earlier ones:
//
//  1. Hardcoded defaults (Default)
//  2. An optional YAML file
//  3. Environment variables prefixed with DOCINDEX_
//
// Environment variables map onto section.field keys by splitting on the
// first underscore after the prefix:
//
//	DOCINDEX_EMBEDDING_BATCH_SIZE -> embedding.batch_size
//	DOCINDEX_STORAGE_DRIVER       -> storage.driver
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/poiesic/docindex/ai"
	"github.com/poiesic/docindex/chunking"
	"github.com/poiesic/docindex/notify"
)

// Storage drivers.
const (
	DriverBadger   = "badger"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the full application configuration.
type Config struct {
	Storage   StorageConfig   `koanf:"storage" yaml:"storage"`
	Embedding EmbeddingConfig `koanf:"embedding" yaml:"embedding"`
	Chunking  chunking.Config `koanf:"chunking" yaml:"chunking"`
	Queue     QueueConfig     `koanf:"queue" yaml:"queue"`
	Notify    NotifyConfig    `koanf:"notify" yaml:"notify"`
	Metrics   MetricsConfig   `koanf:"metrics" yaml:"metrics"`
	Uploads   UploadsConfig   `koanf:"uploads" yaml:"uploads"`
	Log       LogConfig       `koanf:"log" yaml:"log"`
}

// StorageConfig selects and locates the document and chunk stores.
type StorageConfig struct {
	Driver   string `koanf:"driver" yaml:"driver"`
	Path     string `koanf:"path" yaml:"path"`           // badger directory or sqlite file
	DSN      string `koanf:"dsn" yaml:"dsn"`             // postgres connection string
	InMemory bool   `koanf:"in_memory" yaml:"in_memory"` // badger and sqlite only
}

// EmbeddingConfig configures the embedding backend and batching.
type EmbeddingConfig struct {
	Provider          string        `koanf:"provider" yaml:"provider"`
	Host              string        `koanf:"host" yaml:"host"`
	Model             string        `koanf:"model" yaml:"model"`
	Dimensions        int           `koanf:"dimensions" yaml:"dimensions"`
	APIKey            string        `koanf:"api_key" yaml:"api_key"`
	BatchSize         int           `koanf:"batch_size" yaml:"batch_size"`
	RequestsPerSecond float64       `koanf:"requests_per_second" yaml:"requests_per_second"`
	Timeout           time.Duration `koanf:"timeout" yaml:"timeout"`
}

// QueueConfig sizes the work queue and its workers.
type QueueConfig struct {
	Capacity int `koanf:"capacity" yaml:"capacity"`
	Workers  int `koanf:"workers" yaml:"workers"`
}

// NotifyConfig configures status notifications.
type NotifyConfig struct {
	NATSURL       string `koanf:"nats_url" yaml:"nats_url"` // empty disables NATS
	SubjectPrefix string `koanf:"subject_prefix" yaml:"subject_prefix"`
	Log           bool   `koanf:"log" yaml:"log"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr"` // empty disables the endpoint
}

// UploadsConfig locates stored uploads.
type UploadsConfig struct {
	Dir   string `koanf:"dir" yaml:"dir"`
	Watch string `koanf:"watch" yaml:"watch"` // directory watched by serve; empty disables
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	embedding := ai.DefaultConfig()
	return Config{
		Storage: StorageConfig{
			Driver: DriverBadger,
			Path:   "data/index",
		},
		Embedding: EmbeddingConfig{
			Provider:   string(embedding.Provider),
			Host:       embedding.EmbeddingHost,
			Model:      embedding.EmbeddingModel,
			Dimensions: embedding.Dimensions,
			BatchSize:  10,
			Timeout:    embedding.Timeout,
		},
		Chunking: chunking.DefaultConfig(),
		Queue: QueueConfig{
			Capacity: 100,
			Workers:  1,
		},
		Notify: NotifyConfig{
			SubjectPrefix: notify.DefaultSubjectPrefix,
			Log:           true,
		},
		Uploads: UploadsConfig{
			Dir: "data/uploads",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration is complete and consistent.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case DriverBadger, DriverSQLite:
		if c.Storage.Path == "" && !c.Storage.InMemory {
			errs = append(errs, fmt.Errorf("storage.path is required for %s", c.Storage.Driver))
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of badger, sqlite, postgres", c.Storage.Driver))
	}

	if err := c.AI().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Embedding.BatchSize < 1 {
		errs = append(errs, errors.New("embedding.batch_size must be positive"))
	}
	if err := c.Chunking.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Queue.Capacity < 1 {
		errs = append(errs, errors.New("queue.capacity must be positive"))
	}
	if c.Queue.Workers < 1 {
		errs = append(errs, errors.New("queue.workers must be positive"))
	}
	if c.Notify.NATSURL != "" && c.Notify.SubjectPrefix == "" {
		errs = append(errs, errors.New("notify.subject_prefix is required with notify.nats_url"))
	}
	if c.Uploads.Dir == "" {
		errs = append(errs, errors.New("uploads.dir is required"))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}

	return errors.Join(errs...)
}

// AI returns the embedding backend settings as an ai.Config.
func (c *Config) AI() *ai.Config {
	cfg := ai.NewConfig(
		ai.WithProvider(ai.Provider(c.Embedding.Provider)),
		ai.WithEmbeddingHost(c.Embedding.Host),
		ai.WithEmbeddingModel(c.Embedding.Model),
		ai.WithDimensions(c.Embedding.Dimensions),
		ai.WithAPIKey(c.Embedding.APIKey),
		ai.WithRequestsPerSecond(c.Embedding.RequestsPerSecond),
		ai.WithTimeout(c.Embedding.Timeout),
	)
	cfg.Normalize()
	return cfg
}

// YAML renders the configuration with secrets masked.
func (c Config) YAML() ([]byte, error) {
	if c.Embedding.APIKey != "" {
		c.Embedding.APIKey = "********"
	}
	if c.Storage.DSN != "" {
		c.Storage.DSN = maskDSN(c.Storage.DSN)
	}
	return yaml.Marshal(c)
}

// maskDSN hides the password of a URL-style connection string.
func maskDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	userinfo, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}
	user, _, hasPassword := strings.Cut(userinfo, ":")
	if !hasPassword {
		return dsn
	}
	return scheme + "://" + user + ":********@" + host
}
