// Package app wires configuration, logging, stores and the embedder into
// the components commands run. An App is built once per process by the
// root command and passed down; stores and the embedder are opened on
// first use so that commands like logs never touch them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"github.com/Aman-CERP/pagesearch/internal/config"
	"github.com/Aman-CERP/pagesearch/internal/embed"
	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
	"github.com/Aman-CERP/pagesearch/internal/extract"
	"github.com/Aman-CERP/pagesearch/internal/index"
	"github.com/Aman-CERP/pagesearch/internal/logging"
	"github.com/Aman-CERP/pagesearch/internal/search"
	"github.com/Aman-CERP/pagesearch/internal/store"
	"github.com/Aman-CERP/pagesearch/internal/ui"
)

// Options are the process-wide CLI flags.
type Options struct {
	ConfigPath string
	DataDir    string // overrides the configured data dir when set
	Debug      bool
}

// App is the application context.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	closeLog func()
	lock     *flock.Flock
	embedder embed.Embedder
	metadata *store.SQLiteStore
	vectors  *store.HNSWStore
}

// New loads configuration, creates the data dir and sets up logging.
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, perrors.New(perrors.ErrCodeDataDir, "failed to create data dir "+cfg.DataDir, err)
	}

	logCfg := logging.Config{
		Level:     cfg.Logging.Level,
		FilePath:  logging.LogPath(cfg.DataDir),
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	}
	if opts.Debug {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}
	logger, closeLog, err := logging.Setup(logCfg)
	if err != nil {
		return nil, perrors.New(perrors.ErrCodeDataDir, "failed to set up logging", err)
	}

	return &App{Config: cfg, Logger: logger, closeLog: closeLog}, nil
}

// Lock takes the exclusive writer lock on the data dir. Only one process
// may index at a time; searches do not lock.
func (a *App) Lock() error {
	if a.lock != nil {
		return nil
	}
	lock := flock.New(a.Config.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return perrors.New(perrors.ErrCodeIndexLocked, "failed to acquire index lock", err)
	}
	if !locked {
		return perrors.New(perrors.ErrCodeIndexLocked,
			fmt.Sprintf("another pagesearch process is writing to %s", a.Config.DataDir), nil).
			WithSuggestion("Wait for the other 'pagesearch index' to finish")
	}
	a.lock = lock
	return nil
}

// Embedder returns the configured embedder, creating it on first use.
// When no dimension is configured the existing index's dimension is used,
// so a static embedder always matches the vectors already stored.
func (a *App) Embedder(ctx context.Context) (embed.Embedder, error) {
	if a.embedder != nil {
		return a.embedder, nil
	}

	dims := a.Config.Embeddings.Dimensions
	if dims == 0 {
		stored, err := store.ReadHNSWStoreDimensions(a.Config.IndexPath())
		if err != nil {
			return nil, perrors.New(perrors.ErrCodeCorruptIndex, "failed to read vector index metadata", err)
		}
		dims = stored
	}

	e, err := embed.NewEmbedder(ctx, embed.Config{
		Provider:          embed.ProviderType(a.Config.Embeddings.Provider),
		Model:             a.Config.Embeddings.Model,
		Dimensions:        dims,
		OllamaHost:        a.Config.Embeddings.OllamaHost,
		Timeout:           a.Config.Embeddings.Timeout,
		RequestsPerSecond: a.Config.Embeddings.RequestsPerSecond,
		BatchSize:         a.Config.Chunking.BatchSize,
		CacheSize:         a.Config.Embeddings.CacheSize,
	})
	if err != nil {
		return nil, err
	}
	a.embedder = e
	return e, nil
}

// Metadata opens the SQLite store on first use.
func (a *App) Metadata() (*store.SQLiteStore, error) {
	if a.metadata != nil {
		return a.metadata, nil
	}
	s, err := store.NewSQLiteStore(a.Config.DBPath())
	if err != nil {
		return nil, err
	}
	a.metadata = s
	return s, nil
}

// Vectors opens the vector index with the given dimension and loads it
// from disk on first use.
func (a *App) Vectors(dims int) (*store.HNSWStore, error) {
	if a.vectors != nil {
		return a.vectors, nil
	}
	cfg := store.DefaultVectorStoreConfig(dims)
	cfg.M = a.Config.Index.M
	cfg.EfSearch = a.Config.Index.EfSearch

	v, err := store.NewHNSWStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := v.Load(a.Config.IndexPath()); err != nil {
		return nil, err
	}
	a.vectors = v
	return v, nil
}

// stores opens the embedder and both stores together.
func (a *App) stores(ctx context.Context) (embed.Embedder, *store.SQLiteStore, *store.HNSWStore, error) {
	emb, err := a.Embedder(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	metadata, err := a.Metadata()
	if err != nil {
		return nil, nil, nil, err
	}
	vectors, err := a.Vectors(emb.Dimensions())
	if err != nil {
		return nil, nil, nil, err
	}
	return emb, metadata, vectors, nil
}

// IndexOptions are the per-run indexing flags.
type IndexOptions struct {
	Force    bool
	OCR      string // overrides extract.ocr when set
	Renderer ui.Renderer
}

// Indexer builds an indexer over the app's stores and records which
// embedder produced the vectors.
func (a *App) Indexer(ctx context.Context, opts IndexOptions) (*index.Indexer, error) {
	ocr := a.Config.Extract.OCR
	if opts.OCR != "" {
		ocr = opts.OCR
	}
	mode, err := extract.ParseOCRMode(ocr)
	if err != nil {
		return nil, err
	}

	emb, metadata, vectors, err := a.stores(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.recordEmbedder(ctx, metadata, emb); err != nil {
		return nil, err
	}

	source := extract.NewSource(extract.Config{
		OCR:         mode,
		OCRDPI:      a.Config.Extract.OCRDPI,
		OCRLanguage: a.Config.Extract.OCRLanguage,
	})
	return index.New(source, emb, metadata, vectors, index.Options{
		ChunkSize:   a.Config.Chunking.Size,
		ChunkStride: a.Config.Chunking.Stride,
		BatchSize:   a.Config.Chunking.BatchSize,
		IndexPath:   a.Config.IndexPath(),
		Force:       opts.Force,
		Renderer:    opts.Renderer,
	})
}

// recordEmbedder stores the embedder identity the first time vectors are
// written. An index built by a different model is refused unless it is
// still empty.
func (a *App) recordEmbedder(ctx context.Context, metadata *store.SQLiteStore, emb embed.Embedder) error {
	model, err := metadata.GetState(ctx, store.StateKeyEmbeddingModel)
	if err != nil {
		return err
	}
	stats, err := metadata.Stats(ctx)
	if err != nil {
		return err
	}
	if model != "" && model != emb.ModelName() && stats.Chunks > 0 {
		return perrors.New(perrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("index was built with %q but the configured embedder is %q", model, emb.ModelName()), nil).
			WithSuggestion("Use the original model, or delete " + a.Config.DataDir + " and re-index")
	}
	if err := metadata.SetState(ctx, store.StateKeyEmbeddingModel, emb.ModelName()); err != nil {
		return err
	}
	return metadata.SetState(ctx, store.StateKeyEmbeddingDimensions, strconv.Itoa(emb.Dimensions()))
}

// Engine builds the retrieval engine.
func (a *App) Engine(ctx context.Context) (*search.Engine, error) {
	emb, metadata, vectors, err := a.stores(ctx)
	if err != nil {
		return nil, err
	}
	cfg := search.DefaultConfig()
	cfg.QueryPrefix = a.Config.Embeddings.QueryPrefix
	return search.NewEngine(emb, vectors, metadata, cfg, search.WithStateReader(metadata))
}

// Checker builds a consistency checker. The embedder is only opened when
// repair is requested.
func (a *App) Checker(ctx context.Context, repair bool) (*index.ConsistencyChecker, error) {
	metadata, err := a.Metadata()
	if err != nil {
		return nil, err
	}

	var emb embed.Embedder
	dims, err := store.ReadHNSWStoreDimensions(a.Config.IndexPath())
	if err != nil {
		return nil, perrors.New(perrors.ErrCodeCorruptIndex, "failed to read vector index metadata", err)
	}
	if repair || dims == 0 {
		if emb, err = a.Embedder(ctx); err != nil {
			return nil, err
		}
		dims = emb.Dimensions()
	}

	vectors, err := a.Vectors(dims)
	if err != nil {
		return nil, err
	}
	return index.NewConsistencyChecker(metadata, vectors, emb, a.Config.IndexPath()), nil
}

// Status gathers index statistics. It works without a reachable embedder;
// the embedder's state is reported rather than required.
func (a *App) Status(ctx context.Context) (*ui.StatusInfo, error) {
	info := &ui.StatusInfo{
		DataDir:        a.Config.DataDir,
		EmbedderType:   a.Config.Embeddings.Provider,
		EmbedderModel:  a.Config.Embeddings.Model,
		EmbedderStatus: "offline",
		MetadataSize:   fileSize(a.Config.DBPath()),
		VectorSize:     fileSize(a.Config.IndexPath()),
	}

	metadata, err := a.Metadata()
	if err != nil {
		return nil, err
	}
	stats, err := metadata.Stats(ctx)
	if err != nil {
		return nil, err
	}
	info.Documents, info.Pages, info.Chunks = stats.Documents, stats.Pages, stats.Chunks

	docs, err := metadata.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if d.IndexedAt.After(info.LastIndexed) {
			info.LastIndexed = d.IndexedAt
		}
	}

	if model, _ := metadata.GetState(ctx, store.StateKeyEmbeddingModel); model != "" {
		info.EmbedderModel = model
	}

	dims, err := store.ReadHNSWStoreDimensions(a.Config.IndexPath())
	if err != nil {
		return nil, perrors.New(perrors.ErrCodeCorruptIndex, "failed to read vector index metadata", err)
	}
	info.Dimensions = dims
	if dims > 0 {
		vectors, err := a.Vectors(dims)
		if err != nil {
			return nil, err
		}
		info.Vectors = vectors.Len()
		consistent, err := index.NewConsistencyChecker(metadata, vectors, nil, a.Config.IndexPath()).QuickCheck(ctx)
		if err != nil {
			return nil, err
		}
		info.Consistent = consistent
	} else {
		info.Consistent = info.Chunks == 0
	}

	availCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if emb, err := a.Embedder(availCtx); err != nil {
		a.Logger.Debug("embedder unavailable", slog.String("error", err.Error()))
		info.EmbedderStatus = "error"
	} else if emb.Available(availCtx) {
		info.EmbedderStatus = "ready"
		info.Dimensions = emb.Dimensions()
	}
	return info, nil
}

func fileSize(path string) int64 {
	st, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return st.Size()
}

// Close releases the stores, the embedder, the lock and the log file. It
// is safe to call more than once.
func (a *App) Close() error {
	var errs []error
	if a.vectors != nil {
		errs = append(errs, a.vectors.Close())
		a.vectors = nil
	}
	if a.metadata != nil {
		errs = append(errs, a.metadata.Close())
		a.metadata = nil
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
		a.embedder = nil
	}
	if a.lock != nil {
		errs = append(errs, a.lock.Unlock())
		a.lock = nil
	}
	if a.closeLog != nil {
		a.closeLog()
		a.closeLog = nil
	}
	return errors.Join(errs...)
}
