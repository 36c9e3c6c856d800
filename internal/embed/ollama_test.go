package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
)

// fakeOllama serves /api/tags and /api/embed. Each embedding is
// [len(input), 1, 0, ...] so tests can check ordering.
type fakeOllama struct {
	dims        int
	models      []string
	failEmbeds  atomic.Int64 // number of upcoming embed calls answered with 500
	status      int          // fixed non-200 status for every embed call
	dropOne     bool         // return one embedding fewer than requested
	embedCalls  atomic.Int64
	maxBatchLen atomic.Int64
}

func (f *fakeOllama) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		resp := OllamaModelListResponse{}
		for _, m := range f.models {
			resp.Models = append(resp.Models, OllamaModelInfo{Name: m})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		f.embedCalls.Add(1)
		if f.status != 0 {
			http.Error(w, "bad request", f.status)
			return
		}
		if f.failEmbeds.Load() > 0 {
			f.failEmbeds.Add(-1)
			http.Error(w, "model loading", http.StatusInternalServerError)
			return
		}

		var req struct {
			Model string          `json:"model"`
			Input json.RawMessage `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var inputs []string
		if err := json.Unmarshal(req.Input, &inputs); err != nil {
			var single string
			require.NoError(t, json.Unmarshal(req.Input, &single))
			inputs = []string{single}
		}
		if int64(len(inputs)) > f.maxBatchLen.Load() {
			f.maxBatchLen.Store(int64(len(inputs)))
		}

		resp := OllamaEmbedResponse{Model: req.Model}
		for _, in := range inputs {
			v := make([]float64, f.dims)
			v[0] = float64(len(in))
			v[1] = 1
			resp.Embeddings = append(resp.Embeddings, v)
		}
		if f.dropOne {
			resp.Embeddings = resp.Embeddings[1:]
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func newFakeOllama(t *testing.T, f *fakeOllama) *httptest.Server {
	t.Helper()
	if f.dims == 0 {
		f.dims = 8
	}
	if f.models == nil {
		f.models = []string{"nomic-embed-text:latest"}
	}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEmbedder_HealthCheck_DetectsModelAndDimensions(t *testing.T) {
	// Given: an Ollama server with the model installed under a tag
	f := &fakeOllama{dims: 12}
	srv := newFakeOllama(t, f)

	// When: creating the embedder
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	// Then: the tagged name is resolved and dimensions detected
	assert.Equal(t, "nomic-embed-text:latest", e.ModelName())
	assert.Equal(t, 12, e.Dimensions())
	assert.True(t, e.Available(context.Background()))
}

func TestOllamaEmbedder_ModelMissing_Unavailable(t *testing.T) {
	srv := newFakeOllama(t, &fakeOllama{models: []string{"llama3:8b"}})

	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})

	require.Error(t, err)
	assert.True(t, perrors.HasCode(err, perrors.ErrCodeEmbedderUnavailable))
}

func TestOllamaEmbedder_EmbedBatch_SplitsAndKeepsOrder(t *testing.T) {
	// Given: batch size 2 and five inputs of distinct lengths
	f := &fakeOllama{}
	srv := newFakeOllama(t, f)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 8, BatchSize: 2, SkipHealthCheck: true,
	})
	require.NoError(t, err)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}

	// When: embedding them
	got, err := e.EmbedBatch(context.Background(), texts)

	// Then: three requests were made, none larger than two inputs
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, int64(3), f.embedCalls.Load())
	assert.Equal(t, int64(2), f.maxBatchLen.Load())

	// And: the longer input has the larger first component after normalization
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i][0], got[i-1][0])
		assert.InDelta(t, 1.0, vectorMagnitude(got[i]), 0.001)
	}
}

func TestOllamaEmbedder_RetriesServerErrors(t *testing.T) {
	f := &fakeOllama{}
	f.failEmbeds.Store(1)
	srv := newFakeOllama(t, f)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 8, MaxRetries: 2, SkipHealthCheck: true,
	})
	require.NoError(t, err)

	v, err := e.Embed(context.Background(), "retry me")

	require.NoError(t, err)
	assert.Len(t, v, 8)
	assert.Equal(t, int64(2), f.embedCalls.Load())
}

func TestOllamaEmbedder_ClientErrorNotRetried(t *testing.T) {
	f := &fakeOllama{status: http.StatusBadRequest}
	srv := newFakeOllama(t, f)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 8, MaxRetries: 3, SkipHealthCheck: true,
	})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "bad")

	require.Error(t, err)
	assert.True(t, perrors.HasCode(err, perrors.ErrCodeEmbeddingFailed))
	assert.Equal(t, int64(1), f.embedCalls.Load())
}

func TestOllamaEmbedder_CountMismatch(t *testing.T) {
	srv := newFakeOllama(t, &fakeOllama{dropOne: true})
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 8, SkipHealthCheck: true,
	})
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), []string{"a", "b"})

	require.Error(t, err)
	assert.True(t, perrors.HasCode(err, perrors.ErrCodeEmbeddingFailed))
}

func TestOllamaEmbedder_DimensionMismatch(t *testing.T) {
	srv := newFakeOllama(t, &fakeOllama{dims: 4})
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 8, SkipHealthCheck: true,
	})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "text")

	assert.True(t, perrors.HasCode(err, perrors.ErrCodeDimensionMismatch))
}

func TestOllamaEmbedder_RateLimited(t *testing.T) {
	// Given: a limit of 20 requests per second with burst 1
	srv := newFakeOllama(t, &fakeOllama{})
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 8, BatchSize: 1, RequestsPerSecond: 20, SkipHealthCheck: true,
	})
	require.NoError(t, err)

	// When: sending four single-text requests
	start := time.Now()
	_, err = e.EmbedBatch(context.Background(), []string{"a", "b", "c", "d"})
	require.NoError(t, err)

	// Then: at least three intervals of 50ms elapsed
	assert.GreaterOrEqual(t, time.Since(start), 140*time.Millisecond)
}

func TestOllamaEmbedder_CancelledContext(t *testing.T) {
	srv := newFakeOllama(t, &fakeOllama{})
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 8, SkipHealthCheck: true,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Embed(ctx, "text")

	assert.ErrorIs(t, err, context.Canceled)
}

func TestOllamaEmbedder_Closed(t *testing.T) {
	srv := newFakeOllama(t, &fakeOllama{})
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 8, SkipHealthCheck: true,
	})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = e.Embed(context.Background(), "text")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}
