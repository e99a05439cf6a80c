package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/narrative-knowledge/internal/retrieval"
	"github.com/bull/narrative-knowledge/internal/storage"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	for _, key := range []string{
		"KNOWLEDGE_BACKEND", "KNOWLEDGE_INDEX_DIR", "KNOWLEDGE_PROJECTS_FILE",
		"KNOWLEDGE_CHUNK_SIZE", "KNOWLEDGE_CHUNK_OVERLAP",
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_DIMENSION", "EMBEDDING_BATCH_SIZE",
		"OPENAI_API_KEY", "OPENAI_BASE_URL",
		"IONOS_API_TOKEN", "IONOS_BASE_URL", "IONOS_TIMEOUT", "IONOS_RATE_LIMIT",
		"QDRANT_HOST", "QDRANT_PORT", "QDRANT_COLLECTION",
		"LOG_LEVEL", "LOG_FORMAT", "PORT", "SERVER_MODE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	backend, err := cfg.ResolvedBackend()
	require.NoError(t, err)
	assert.Equal(t, retrieval.BackendLocal, backend)
	assert.Equal(t, ProviderHashing, cfg.ResolvedProvider())
	assert.Equal(t, 500, cfg.Chunking.Size)
	assert.Equal(t, 50, cfg.Chunking.Overlap)
	assert.Equal(t, 384, cfg.Embedding.Dimension)
	assert.Equal(t, storage.DefaultQdrantCollection, cfg.Qdrant.Collection)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: qdrant
chunking:
  size: 800
  overlap: 80
qdrant:
  host: qdrant.internal
  port: 7000
log:
  level: debug
`), 0o644))

	t.Setenv("QDRANT_PORT", "6334")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	backend, err := cfg.ResolvedBackend()
	require.NoError(t, err)
	assert.Equal(t, retrieval.BackendQdrant, backend)
	assert.Equal(t, 800, cfg.Chunking.Size)
	assert.Equal(t, "qdrant.internal", cfg.Qdrant.Host)
	assert.Equal(t, 6334, cfg.Qdrant.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ProviderOpenAI, cfg.ResolvedProvider())
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model, "unset keys keep defaults")
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, retrieval.BackendAuto, cfg.Backend)
}

func TestLoad_BadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("KNOWLEDGE_CHUNK_SIZE", "large")
	_, err := Load("")
	assert.ErrorContains(t, err, "KNOWLEDGE_CHUNK_SIZE")

	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: [nope"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestResolvedBackend_AutoPrefersRemote(t *testing.T) {
	clearEnv(t)
	t.Setenv("IONOS_API_TOKEN", "token")

	cfg, err := Load("")
	require.NoError(t, err)
	backend, err := cfg.ResolvedBackend()
	require.NoError(t, err)
	assert.Equal(t, retrieval.BackendRemote, backend)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*Config)
		notConfigured bool
	}{
		{"remote without token", func(c *Config) { c.Backend = retrieval.BackendRemote }, true},
		{"openai without key", func(c *Config) { c.Embedding.Provider = ProviderOpenAI }, true},
		{"unknown backend", func(c *Config) { c.Backend = "milvus" }, false},
		{"zero chunk size", func(c *Config) { c.Chunking.Size = 0 }, false},
		{"negative overlap", func(c *Config) { c.Chunking.Overlap = -1 }, false},
		{"zero dimension", func(c *Config) { c.Embedding.Dimension = 0 }, false},
		{"bad port", func(c *Config) { c.Qdrant.Port = 70000 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, tt.notConfigured, errors.Is(err, storage.ErrNotConfigured))
		})
	}
}
