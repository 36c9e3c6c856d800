package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", perrors.New(perrors.ErrCodeNotFound, "chunk 3 not found", nil), ErrCodeDocumentNotFound},
		{"consistency", perrors.New(perrors.ErrCodeConsistencyViolation, "orphan", nil), ErrCodeIndexInconsistent},
		{"dimension mismatch", perrors.New(perrors.ErrCodeDimensionMismatch, "dims", nil), ErrCodeIndexNotFound},
		{"embedder down", perrors.New(perrors.ErrCodeEmbedderUnavailable, "ollama", nil), ErrCodeEmbeddingFailed},
		{"validation", perrors.ValidationError("bad k", nil), ErrCodeInvalidParams},
		{"network", perrors.NetworkError("slow", nil), ErrCodeTimeout},
		{"storage", perrors.StorageError("disk", nil), ErrCodeInternalError},
		{"wrapped app error", fmt.Errorf("search: %w", perrors.ValidationError("bad", nil)), ErrCodeInvalidParams},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"canceled", context.Canceled, ErrCodeTimeout},
		{"plain", errors.New("boom"), ErrCodeInternalError},
		{"already mapped", NewInvalidParamsError("x"), ErrCodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapError(tt.err).Code)
		})
	}
}

func TestMapError_Nil(t *testing.T) {
	assert.Nil(t, MapError(nil))
}

func TestMapError_AppendsSuggestion(t *testing.T) {
	err := perrors.New(perrors.ErrCodeConsistencyViolation, "vector 9 has no chunk", nil).
		WithSuggestion("Run 'pagesearch check --repair'")

	got := MapError(err)

	assert.Equal(t, "vector 9 has no chunk. Run 'pagesearch check --repair'", got.Message)
}

func TestMCPError_Error(t *testing.T) {
	err := &MCPError{Code: ErrCodeInvalidParams, Message: "query required"}

	assert.Equal(t, "MCP error -32602: query required", err.Error())
}
