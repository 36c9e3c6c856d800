// Package config loads pagesearch settings from defaults, YAML files, a
// .env file and PAGESEARCH_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/pagesearch/internal/chunk"
	"github.com/Aman-CERP/pagesearch/internal/embed"
	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
	"github.com/Aman-CERP/pagesearch/internal/extract"
	"github.com/Aman-CERP/pagesearch/internal/logging"
)

// Config represents the complete pagesearch configuration.
type Config struct {
	DataDir    string           `yaml:"data_dir" json:"data_dir"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Extract    ExtractConfig    `yaml:"extract" json:"extract"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// ChunkingConfig configures the sliding window, in grapheme clusters.
type ChunkingConfig struct {
	Size      int `yaml:"size" json:"size"`
	Stride    int `yaml:"stride" json:"stride"`
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider" json:"provider"` // ollama or static
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"` // 0 = detect
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`

	// QueryPrefix is prepended to search queries. Set it to "" for models
	// that are not instruction tuned.
	QueryPrefix string `yaml:"query_prefix" json:"query_prefix"`

	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"` // 0 = unlimited
	CacheSize         int           `yaml:"cache_size" json:"cache_size"`                   // <0 disables the query cache
}

// SearchConfig configures retrieval.
type SearchConfig struct {
	Limit int `yaml:"limit" json:"limit"`
}

// ExtractConfig configures text extraction.
type ExtractConfig struct {
	OCR         string `yaml:"ocr" json:"ocr"` // auto, always or never
	OCRDPI      int    `yaml:"ocr_dpi" json:"ocr_dpi"`
	OCRLanguage string `yaml:"ocr_language" json:"ocr_language"`
}

// IndexConfig configures the HNSW graph.
type IndexConfig struct {
	M        int `yaml:"m" json:"m"`
	EfSearch int `yaml:"ef_search" json:"ef_search"`
}

// LoggingConfig configures the log file.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Chunking: ChunkingConfig{
			Size:      chunk.DefaultSize,
			Stride:    chunk.DefaultStride,
			BatchSize: 256,
		},
		Embeddings: EmbeddingsConfig{
			Provider:    string(embed.ProviderOllama),
			Model:       embed.DefaultOllamaModel,
			OllamaHost:  embed.DefaultOllamaHost,
			QueryPrefix: embed.DefaultQueryPrefix,
			Timeout:     embed.DefaultTimeout,
			CacheSize:   1000,
		},
		Search: SearchConfig{Limit: 10},
		Extract: ExtractConfig{
			OCR:         string(extract.OCRAuto),
			OCRDPI:      200,
			OCRLanguage: "eng",
		},
		Index: IndexConfig{M: 16, EfSearch: 64},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// DefaultDataDir returns $XDG_DATA_HOME/pagesearch, falling back to
// ~/.local/share/pagesearch.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "pagesearch")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "pagesearch")
	}
	return filepath.Join(home, ".local", "share", "pagesearch")
}

// GetUserConfigPath returns the path to the user configuration file.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "pagesearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "pagesearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "pagesearch", "config.yaml")
}

// Load builds the configuration. Layers, lowest precedence first:
//  1. Built-in defaults
//  2. User config (~/.config/pagesearch/config.yaml), if present
//  3. explicitPath, which must exist when given
//  4. A .env file in the working directory (never overrides set variables)
//  5. PAGESEARCH_* environment variables
func Load(explicitPath string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadYAML(GetUserConfigPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, perrors.ConfigError("failed to load user config", err)
	}

	if explicitPath != "" {
		if err := cfg.loadYAML(explicitPath); err != nil {
			return nil, perrors.ConfigError("failed to load config "+explicitPath, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, perrors.ConfigError("failed to load .env", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML overlays the keys present in the file onto c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies PAGESEARCH_* variables. A variable that is set
// but cannot be parsed is an error.
func (c *Config) applyEnvOverrides() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	if v := os.Getenv("PAGESEARCH_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("PAGESEARCH_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("PAGESEARCH_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("PAGESEARCH_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	str("PAGESEARCH_QUERY_PREFIX", &c.Embeddings.QueryPrefix)
	num("PAGESEARCH_DIMENSIONS", &c.Embeddings.Dimensions)
	if v := os.Getenv("PAGESEARCH_EMBED_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PAGESEARCH_EMBED_TIMEOUT: %w", err))
		} else {
			c.Embeddings.Timeout = d
		}
	}
	if v := os.Getenv("PAGESEARCH_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("PAGESEARCH_RPS: %w", err))
		} else {
			c.Embeddings.RequestsPerSecond = f
		}
	}
	num("PAGESEARCH_CHUNK_SIZE", &c.Chunking.Size)
	num("PAGESEARCH_CHUNK_STRIDE", &c.Chunking.Stride)
	num("PAGESEARCH_BATCH_SIZE", &c.Chunking.BatchSize)
	num("PAGESEARCH_SEARCH_LIMIT", &c.Search.Limit)
	if v := os.Getenv("PAGESEARCH_OCR"); v != "" {
		c.Extract.OCR = v
	}
	if v := os.Getenv("PAGESEARCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if len(errs) > 0 {
		return perrors.ConfigError("invalid environment override", errors.Join(errs...))
	}
	return nil
}

// Validate checks the final configuration.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.DataDir != "", "data_dir must not be empty")
	check(c.Chunking.Size > 0, "chunking.size must be positive, got %d", c.Chunking.Size)
	check(c.Chunking.Stride > 0, "chunking.stride must be positive, got %d", c.Chunking.Stride)
	check(c.Chunking.BatchSize > 0, "chunking.batch_size must be positive, got %d", c.Chunking.BatchSize)

	provider := embed.ProviderType(strings.ToLower(c.Embeddings.Provider))
	check(provider == embed.ProviderOllama || provider == embed.ProviderStatic,
		"embeddings.provider must be 'ollama' or 'static', got %q", c.Embeddings.Provider)
	check(c.Embeddings.Dimensions >= 0, "embeddings.dimensions must be non-negative, got %d", c.Embeddings.Dimensions)
	check(c.Embeddings.Timeout >= 0, "embeddings.timeout must be non-negative, got %s", c.Embeddings.Timeout)
	check(c.Embeddings.RequestsPerSecond >= 0, "embeddings.requests_per_second must be non-negative, got %g", c.Embeddings.RequestsPerSecond)

	check(c.Search.Limit > 0, "search.limit must be positive, got %d", c.Search.Limit)

	_, ocrErr := extract.ParseOCRMode(c.Extract.OCR)
	check(ocrErr == nil, "extract.ocr must be auto, always or never, got %q", c.Extract.OCR)
	check(c.Extract.OCRDPI > 0, "extract.ocr_dpi must be positive, got %d", c.Extract.OCRDPI)

	check(c.Index.M > 0, "index.m must be positive, got %d", c.Index.M)
	check(c.Index.EfSearch > 0, "index.ef_search must be positive, got %d", c.Index.EfSearch)

	check(logging.ValidLevel(c.Logging.Level), "logging.level must be debug, info, warn or error, got %q", c.Logging.Level)

	if len(problems) > 0 {
		return perrors.ConfigError("invalid configuration: "+strings.Join(problems, "; "), nil).
			WithSuggestion("Fix the values in " + GetUserConfigPath() + " or the PAGESEARCH_* environment")
	}
	return nil
}

// DBPath returns the metadata database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "db.sqlite")
}

// IndexPath returns the vector index path.
func (c *Config) IndexPath() string {
	return filepath.Join(c.DataDir, "index.hnsw")
}

// LockPath returns the writer lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, ".lock")
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
