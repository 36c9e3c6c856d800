package embed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOllama uses the Ollama API for embeddings (default)
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based embeddings. No network needed.
	ProviderStatic ProviderType = "static"
)

// Config selects and configures an embedder.
type Config struct {
	Provider          ProviderType
	Model             string
	Dimensions        int
	OllamaHost        string
	Timeout           time.Duration
	RequestsPerSecond float64
	BatchSize         int

	// CacheSize is the LRU size for query embeddings. 0 uses the default;
	// negative disables the cache.
	CacheSize int
}

// NewEmbedder creates an embedder for cfg.Provider.
// The PAGESEARCH_EMBEDDER environment variable overrides the provider, and
// PAGESEARCH_EMBED_CACHE=false disables the query cache.
//
// There is no silent fallback: if Ollama is selected and unreachable, the
// error says so and the caller decides.
func NewEmbedder(ctx context.Context, cfg Config) (Embedder, error) {
	provider := cfg.Provider
	if env := os.Getenv("PAGESEARCH_EMBEDDER"); env != "" {
		provider = ProviderType(strings.ToLower(env))
	}

	var (
		embedder Embedder
		err      error
	)
	switch provider {
	case ProviderStatic:
		embedder = NewStaticEmbedder(cfg.Dimensions)

	case ProviderOllama, "":
		embedder, err = NewOllamaEmbedder(ctx, OllamaConfig{
			Host:              cfg.OllamaHost,
			Model:             cfg.Model,
			Dimensions:        cfg.Dimensions,
			BatchSize:         cfg.BatchSize,
			Timeout:           cfg.Timeout,
			MaxRetries:        DefaultMaxRetries,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})

	default:
		return nil, fmt.Errorf("unknown embedding provider %q (want ollama or static)", provider)
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("embedder_created",
		slog.String("provider", string(provider)),
		slog.String("model", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()))

	if cfg.CacheSize >= 0 && !isCacheDisabled() {
		embedder = NewCachedEmbedder(embedder, cfg.CacheSize)
	}

	return embedder, nil
}

// isCacheDisabled checks if embedding cache is disabled via environment.
func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("PAGESEARCH_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}
