// Package config loads settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bull/narrative-knowledge/internal/retrieval"
	"github.com/bull/narrative-knowledge/internal/storage"
)

const (
	ProviderAuto    = "auto"
	ProviderOpenAI  = "openai"
	ProviderHashing = "hashing"
)

// ChunkingConfig configures the local chunker.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"-"`
}

// RemoteConfig configures the hosted document collections backend.
type RemoteConfig struct {
	BaseURL     string  `yaml:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit"`
	Token       string  `yaml:"-"`
}

func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSecs) * time.Second
}

// QdrantConfig contains connection details for the Qdrant backend.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ServerConfig struct {
	Port     string `yaml:"port"`
	HTTPMode bool   `yaml:"http_mode"`
}

// Config is the root configuration. Secrets are only read from the environment.
type Config struct {
	Backend      string          `yaml:"backend"`
	IndexDir     string          `yaml:"index_dir"`
	ProjectsFile string          `yaml:"projects_file"`
	Chunking     ChunkingConfig  `yaml:"chunking"`
	Embedding    EmbeddingConfig `yaml:"embedding"`
	Remote       RemoteConfig    `yaml:"remote"`
	Qdrant       QdrantConfig    `yaml:"qdrant"`
	Log          LogConfig       `yaml:"log"`
	Server       ServerConfig    `yaml:"server"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend:      retrieval.BackendAuto,
		IndexDir:     "data/vector_index",
		ProjectsFile: "data/projects.json",
		Chunking:     ChunkingConfig{Size: 500, Overlap: 50},
		Embedding: EmbeddingConfig{
			Provider:  ProviderAuto,
			Model:     "text-embedding-3-small",
			Dimension: 384,
			BatchSize: 500,
		},
		Remote: RemoteConfig{
			BaseURL:     "https://inference.de-txl.ionos.com",
			TimeoutSecs: 30,
			RateLimit:   5,
		},
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: storage.DefaultQdrantCollection,
		},
		Log:    LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{Port: "8080"},
	}
}

// Load starts from the defaults, overlays the YAML file at path when it
// exists, then applies environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Backend, "KNOWLEDGE_BACKEND")
	setString(&c.IndexDir, "KNOWLEDGE_INDEX_DIR")
	setString(&c.ProjectsFile, "KNOWLEDGE_PROJECTS_FILE")
	setString(&c.Embedding.Provider, "EMBEDDING_PROVIDER")
	setString(&c.Embedding.Model, "EMBEDDING_MODEL")
	setString(&c.Embedding.BaseURL, "OPENAI_BASE_URL")
	setString(&c.Embedding.APIKey, "OPENAI_API_KEY")
	setString(&c.Remote.Token, "IONOS_API_TOKEN")
	setString(&c.Remote.BaseURL, "IONOS_BASE_URL")
	setString(&c.Qdrant.Host, "QDRANT_HOST")
	setString(&c.Qdrant.Collection, "QDRANT_COLLECTION")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.Server.Port, "PORT")

	if v := os.Getenv("SERVER_MODE"); v != "" {
		c.Server.HTTPMode = v == "true"
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"KNOWLEDGE_CHUNK_SIZE", &c.Chunking.Size},
		{"KNOWLEDGE_CHUNK_OVERLAP", &c.Chunking.Overlap},
		{"EMBEDDING_DIMENSION", &c.Embedding.Dimension},
		{"EMBEDDING_BATCH_SIZE", &c.Embedding.BatchSize},
		{"IONOS_TIMEOUT", &c.Remote.TimeoutSecs},
		{"QDRANT_PORT", &c.Qdrant.Port},
	}
	for _, i := range ints {
		if err := setInt(i.dst, i.key); err != nil {
			return err
		}
	}

	if v := os.Getenv("IONOS_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("IONOS_RATE_LIMIT: %w", err)
		}
		c.Remote.RateLimit = f
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = i
	return nil
}

// ResolvedBackend turns "auto" into a concrete backend: remote when a
// collections token is set, local otherwise.
func (c *Config) ResolvedBackend() (string, error) {
	return retrieval.Select(c.Backend, c.Remote.Token != "")
}

// ResolvedProvider turns "auto" into openai when an API key is set, hashing otherwise.
func (c *Config) ResolvedProvider() string {
	if c.Embedding.Provider != ProviderAuto {
		return c.Embedding.Provider
	}
	if c.Embedding.APIKey != "" {
		return ProviderOpenAI
	}
	return ProviderHashing
}

// Validate reports every configuration problem at once. Missing credentials
// for an explicitly selected service wrap storage.ErrNotConfigured.
func (c *Config) Validate() error {
	var errs []error

	backend, err := c.ResolvedBackend()
	if err != nil {
		errs = append(errs, err)
	}

	switch c.Embedding.Provider {
	case ProviderAuto, ProviderHashing:
	case ProviderOpenAI:
		if c.Embedding.APIKey == "" {
			errs = append(errs, fmt.Errorf("%w: embedding provider openai requires OPENAI_API_KEY", storage.ErrNotConfigured))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider))
	}

	if c.Chunking.Size <= 0 {
		errs = append(errs, fmt.Errorf("chunk size must be positive, got %d", c.Chunking.Size))
	}
	if c.Chunking.Overlap < 0 {
		errs = append(errs, fmt.Errorf("chunk overlap must not be negative, got %d", c.Chunking.Overlap))
	}
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embedding dimension must be positive, got %d", c.Embedding.Dimension))
	}
	if backend == retrieval.BackendLocal && c.IndexDir == "" {
		errs = append(errs, errors.New("index dir is required for the local backend"))
	}
	if c.Qdrant.Port <= 0 || c.Qdrant.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid qdrant port %d", c.Qdrant.Port))
	}

	return errors.Join(errs...)
}
