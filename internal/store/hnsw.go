package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/coder/hnsw"

	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
)

// HNSWStore implements VectorStore using the coder/hnsw pure Go HNSW graph.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	// keys holds the live keys. Deleted keys stay in the graph as orphans
	// and are filtered out of search results.
	keys     map[uint64]struct{}
	capacity int

	closed bool
}

// hnswMetadata is the gob sidecar persisted next to the graph file.
type hnswMetadata struct {
	Keys     []uint64
	Capacity int
	Config   VectorStoreConfig
}

// NewHNSWStore creates a new, empty HNSW-based vector store with zero capacity.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, perrors.ValidationError(fmt.Sprintf("vector dimensions must be positive, got %d", cfg.Dimensions), nil)
	}
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	return &HNSWStore{
		graph:  newGraph(cfg),
		config: cfg,
		keys:   make(map[uint64]struct{}),
	}, nil
}

func newGraph(cfg VectorStoreConfig) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()

	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}

	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25
	return graph
}

// Reserve implements VectorStore.
func (s *HNSWStore) Reserve(additional int) {
	if additional <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capacity += additional
}

// Add implements VectorStore.
func (s *HNSWStore) Add(_ context.Context, key uint64, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if len(vector) != s.config.Dimensions {
		return ErrDimensionMismatch{
			Expected: s.config.Dimensions,
			Got:      len(vector),
		}
	}
	if _, exists := s.keys[key]; exists {
		return perrors.New(perrors.ErrCodeDuplicateKey, fmt.Sprintf("vector key %d already present", key), nil)
	}
	if len(s.keys) >= s.capacity {
		return perrors.New(perrors.ErrCodeCapacityExhausted,
			fmt.Sprintf("vector index full (%d of %d), reserve capacity before adding", len(s.keys), s.capacity), nil)
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(vec)
	}

	// A key deleted earlier may still sit in the graph; Add replaces it.
	s.graph.Add(hnsw.MakeNode(key, vec))
	s.keys[key] = struct{}{}

	return nil
}

// Search implements VectorStore.
func (s *HNSWStore) Search(_ context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{
			Expected: s.config.Dimensions,
			Got:      len(query),
		}
	}

	if k <= 0 || len(s.keys) == 0 || s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	normalizedQuery := make([]float32, len(query))
	copy(normalizedQuery, query)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(normalizedQuery)
	}

	// Over-fetch by the orphan count so deleted nodes cannot crowd out live ones.
	orphans := s.graph.Len() - len(s.keys)
	if orphans < 0 {
		orphans = 0
	}
	nodes := s.graph.Search(normalizedQuery, k+orphans)

	results := make([]*VectorResult, 0, k)
	for _, node := range nodes {
		if _, live := s.keys[node.Key]; !live {
			continue
		}

		distance := s.graph.Distance(normalizedQuery, node.Value)
		results = append(results, &VectorResult{
			Key:      node.Key,
			Distance: distance,
			Score:    distanceToScore(distance, s.config.Metric),
		})
	}

	slices.SortStableFunc(results, func(a, b *VectorResult) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		default:
			return 0
		}
	})
	if len(results) > k {
		results = results[:k]
	}

	return results, nil
}

// Delete removes vectors by key.
// Uses lazy deletion; coder/hnsw misbehaves when the last node is deleted.
func (s *HNSWStore) Delete(_ context.Context, keys []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, key := range keys {
		delete(s.keys, key)
	}

	return nil
}

// Keys implements VectorStore.
func (s *HNSWStore) Keys() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]uint64, 0, len(s.keys))
	for key := range s.keys {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// MaxKey implements VectorStore.
func (s *HNSWStore) MaxKey() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var top uint64
	for key := range s.keys {
		top = max(top, key)
	}
	return top
}

// Contains implements VectorStore.
func (s *HNSWStore) Contains(key uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.keys[key]
	return exists
}

// Len implements VectorStore.
func (s *HNSWStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Capacity implements VectorStore.
func (s *HNSWStore) Capacity() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capacity
}

// Dimensions implements VectorStore.
func (s *HNSWStore) Dimensions() int {
	return s.config.Dimensions
}

// HNSWStats contains HNSW store statistics including orphan count.
type HNSWStats struct {
	Vectors    int // Live keys
	GraphNodes int // Total nodes in the graph (includes orphans)
	Orphans    int // GraphNodes - Vectors
	Capacity   int
}

// Stats returns HNSW store statistics.
func (s *HNSWStore) Stats() HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return HNSWStats{}
	}

	graphNodes := s.graph.Len()
	return HNSWStats{
		Vectors:    len(s.keys),
		GraphNodes: graphNodes,
		Orphans:    graphNodes - len(s.keys),
		Capacity:   s.capacity,
	}
}

// Save persists the index to disk.
// Uses atomic save (temp file + rename) for both the graph and its sidecar.
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpIndexPath := path + ".tmp"
	file, err := os.Create(tmpIndexPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	w := bufio.NewWriter(file)
	if err := s.graph.Export(w); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to flush index file: %w", err)
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}

	if err := os.Rename(tmpIndexPath, path); err != nil {
		_ = os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	if err := s.saveMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}

	return nil
}

// saveMetadata saves live keys and capacity to a gob file.
func (s *HNSWStore) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	keys := make([]uint64, 0, len(s.keys))
	for key := range s.keys {
		keys = append(keys, key)
	}

	meta := hnswMetadata{
		Keys:     keys,
		Capacity: s.capacity,
		Config:   s.config,
	}

	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp file during cleanup", slog.String("error", closeErr.Error()))
		}
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// Load loads the index from disk. A missing index file is not an error:
// the store stays empty, as on a first run.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Debug("vector index not found, starting empty", slog.String("path", path))
		return nil
	}

	meta, err := readMetadata(path + ".meta")
	if err != nil {
		return perrors.New(perrors.ErrCodeCorruptIndex, "failed to load vector index metadata", err).
			WithSuggestion("Delete the data directory and re-index")
	}
	if meta.Config.Dimensions != s.config.Dimensions {
		return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: meta.Config.Dimensions}
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer func() { _ = file.Close() }()

	graph := newGraph(meta.Config)
	// coder/hnsw Import requires an io.ByteReader.
	if err := graph.Import(bufio.NewReader(file)); err != nil {
		return perrors.New(perrors.ErrCodeCorruptIndex, "failed to import vector graph", err)
	}

	s.graph = graph
	s.config = meta.Config
	s.keys = make(map[uint64]struct{}, len(meta.Keys))
	for _, key := range meta.Keys {
		s.keys[key] = struct{}{}
	}
	s.capacity = max(meta.Capacity, len(s.keys))

	return nil
}

func readMetadata(path string) (*hnswMetadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode hnsw metadata: %w", err)
	}
	return &meta, nil
}

// Close releases resources.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.graph = nil

	return nil
}

// ReadHNSWStoreDimensions reads the dimensions from an existing HNSW store's metadata.
// Returns 0 if the metadata file doesn't exist (fresh start).
// The path should be the vector store path (e.g., "index.hnsw"), not the meta file path.
func ReadHNSWStoreDimensions(vectorPath string) (int, error) {
	meta, err := readMetadata(vectorPath + ".meta")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	return meta.Config.Dimensions, nil
}

// Verify interface implementation
var _ VectorStore = (*HNSWStore)(nil)

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts a distance value to a similarity score.
// For cosine distance: score = 1 - distance/2 (distance ranges 0-2)
// For L2 distance: score = 1 / (1 + distance)
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}
