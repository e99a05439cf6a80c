// Package app wires configuration into a ready retrieval service, shared by
// the CLI and the MCP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bull/narrative-knowledge/internal/assistant"
	"github.com/bull/narrative-knowledge/internal/chunking"
	"github.com/bull/narrative-knowledge/internal/collections"
	"github.com/bull/narrative-knowledge/internal/config"
	"github.com/bull/narrative-knowledge/internal/embedding"
	"github.com/bull/narrative-knowledge/internal/indexer"
	"github.com/bull/narrative-knowledge/internal/metrics"
	"github.com/bull/narrative-knowledge/internal/projects"
	"github.com/bull/narrative-knowledge/internal/retrieval"
	"github.com/bull/narrative-knowledge/internal/storage"
)

// App holds every long-lived component. Close releases backend connections.
type App struct {
	Config    *config.Config
	Service   *retrieval.Service
	Assistant *assistant.Assistant
	Projects  *projects.Store
	Pipeline  *indexer.Pipeline
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	closers []func() error
}

// Build validates cfg and constructs the backend it selects. Configuration
// errors, including a dimension mismatch with the on-disk index, are
// returned and should stop the process.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &App{Config: cfg, Metrics: m, Logger: logger}

	backend, err := a.buildBackend(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Projects = projects.NewStore(cfg.ProjectsFile)
	a.Service = retrieval.New(backend,
		retrieval.WithProjectSource(a.Projects),
		retrieval.WithMetrics(m),
		retrieval.WithLogger(logger),
	)
	a.Assistant = assistant.New(a.Service, logger)
	a.Pipeline = indexer.NewPipeline(a.Projects, a.Service, cfg.IndexDir, logger)
	return a, nil
}

// NewProvider returns the embedding provider the configuration selects.
func NewProvider(cfg *config.Config) (embedding.Provider, error) {
	switch cfg.ResolvedProvider() {
	case config.ProviderOpenAI:
		client, err := embedding.NewClient(cfg.Embedding.APIKey, cfg.Embedding.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrNotConfigured, err)
		}
		return embedding.NewEmbedder(client, cfg.Embedding.Model, cfg.Embedding.Dimension, cfg.Embedding.BatchSize), nil
	default:
		return embedding.NewHashingEmbedder(cfg.Embedding.Dimension), nil
	}
}

func (a *App) buildBackend(ctx context.Context) (retrieval.Backend, error) {
	cfg := a.Config
	name, err := cfg.ResolvedBackend()
	if err != nil {
		return nil, err
	}

	if name == retrieval.BackendRemote {
		client := collections.NewClient(collections.Config{
			BaseURL:   cfg.Remote.BaseURL,
			Token:     cfg.Remote.Token,
			Timeout:   cfg.Remote.Timeout(),
			RateLimit: cfg.Remote.RateLimit,
			Logger:    a.Logger,
		})
		remote, err := retrieval.NewRemoteBackend(client, a.Logger)
		if err != nil {
			return nil, err
		}
		// Unreachable collections are created on first write instead.
		if err := remote.EnsureCollections(ctx); err != nil {
			a.Logger.Warn("Could not prepare remote collections", "error", err)
		}
		return remote, nil
	}

	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	chunker := chunking.New(
		chunking.WithChunkSize(cfg.Chunking.Size),
		chunking.WithChunkOverlap(cfg.Chunking.Overlap),
	)

	switch name {
	case retrieval.BackendQdrant:
		store, err := storage.NewQdrantStore(ctx, cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.Collection, provider.Dimension(), a.Logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		if err := store.EnsureCollection(ctx); err != nil {
			return nil, err
		}
		return retrieval.NewQdrantBackend(chunker, provider, store, a.Logger), nil

	default:
		index, err := storage.OpenFlatIndex(cfg.IndexDir, provider.Dimension(), provider.Model(), a.Logger)
		if err != nil {
			return nil, err
		}
		local, err := retrieval.NewLocalBackend(chunker, provider, index, a.Logger)
		if err != nil {
			return nil, err
		}
		return local, nil
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
