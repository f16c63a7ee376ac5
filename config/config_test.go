package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/poiesic/docindex/ai"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default(), *cfg)
	assert.Equal(t, DriverBadger, cfg.Storage.Driver)
	assert.Equal(t, 10, cfg.Embedding.BatchSize)
	assert.Equal(t, 100, cfg.Queue.Capacity)
	assert.Equal(t, 500, cfg.Chunking.MaxChunkTokens)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docindex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  driver: sqlite
  path: /var/lib/docindex/index.db
embedding:
  provider: openai
  host: https://api.openai.com
  model: text-embedding-3-small
  dimensions: 1536
  batch_size: 25
  timeout: 1m
chunking:
  max_chunk_tokens: 300
queue:
  workers: 2
`), 0o600))

	t.Setenv("DOCINDEX_EMBEDDING_BATCH_SIZE", "5")
	t.Setenv("DOCINDEX_QUEUE_CAPACITY", "7")
	t.Setenv("DOCINDEX_METRICS_ADDR", ":9090")
	t.Setenv("DOCINDEX_EMBEDDING_REQUESTS_PER_SECOND", "2.5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "/var/lib/docindex/index.db", cfg.Storage.Path)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)
	assert.Equal(t, time.Minute, cfg.Embedding.Timeout)
	assert.Equal(t, 5, cfg.Embedding.BatchSize, "environment overrides the file")
	assert.Equal(t, 2.5, cfg.Embedding.RequestsPerSecond)
	assert.Equal(t, 300, cfg.Chunking.MaxChunkTokens)
	assert.Equal(t, 40, cfg.Chunking.MaxLineTokens, "unset fields keep defaults")
	assert.Equal(t, 2, cfg.Queue.Workers)
	assert.Equal(t, 7, cfg.Queue.Capacity)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)

	aiCfg := cfg.AI()
	assert.Equal(t, ai.ProviderOpenAI, aiCfg.Provider)
	assert.Equal(t, "https://api.openai.com/v1", aiCfg.EmbeddingHost)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := LoadBytes([]byte("storage: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "unknown driver",
			modify: func(c *Config) { c.Storage.Driver = "mongo" },
			errMsg: `storage.driver "mongo"`,
		},
		{
			name:   "postgres without dsn",
			modify: func(c *Config) { c.Storage.Driver = DriverPostgres },
			errMsg: "storage.dsn is required",
		},
		{
			name:   "badger without path",
			modify: func(c *Config) { c.Storage.Path = "" },
			errMsg: "storage.path is required",
		},
		{
			name:   "unknown provider",
			modify: func(c *Config) { c.Embedding.Provider = "cohere" },
			errMsg: "unknown provider",
		},
		{
			name:   "zero batch size",
			modify: func(c *Config) { c.Embedding.BatchSize = 0 },
			errMsg: "embedding.batch_size",
		},
		{
			name:   "overlap too large",
			modify: func(c *Config) { c.Chunking.OverlapTokens = c.Chunking.MaxChunkTokens },
			errMsg: "overlap",
		},
		{
			name:   "zero workers",
			modify: func(c *Config) { c.Queue.Workers = 0 },
			errMsg: "queue.workers",
		},
		{
			name:   "bad log level",
			modify: func(c *Config) { c.Log.Level = "verbose" },
			errMsg: "log.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("in-memory badger needs no path", func(t *testing.T) {
		cfg := Default()
		cfg.Storage.Path = ""
		cfg.Storage.InMemory = true
		assert.NoError(t, cfg.Validate())
	})
}

func TestYAML_MasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.Embedding.APIKey = "sk-secret"
	cfg.Storage.DSN = "postgres://docindex:hunter2@db:5432/docindex"

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "sk-secret")
	assert.NotContains(t, string(out), "hunter2")
	assert.Contains(t, string(out), "postgres://docindex:********@db:5432/docindex")
	assert.Equal(t, "sk-secret", cfg.Embedding.APIKey, "rendering must not modify the receiver")

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Contains(t, decoded, "embedding")
	assert.Contains(t, string(out), "timeout: 30s")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "embedding.batch_size", envKey("DOCINDEX_EMBEDDING_BATCH_SIZE"))
	assert.Equal(t, "storage.driver", envKey("DOCINDEX_STORAGE_DRIVER"))
	assert.Equal(t, "storage", envKey("DOCINDEX_STORAGE"))
}
