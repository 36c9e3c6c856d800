// Package mcp serves pagesearch over the Model Context Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"

	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
)

// Custom MCP error codes.
const (
	// ErrCodeIndexNotFound indicates no usable index exists.
	ErrCodeIndexNotFound = -32001

	// ErrCodeEmbeddingFailed indicates the query could not be embedded.
	ErrCodeEmbeddingFailed = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeDocumentNotFound indicates a path that is not indexed.
	ErrCodeDocumentNotFound = -32004

	// ErrCodeResourceTooLarge indicates a document too large to return.
	ErrCodeResourceTooLarge = -32005

	// ErrCodeIndexInconsistent indicates a vector key with no chunk row.
	ErrCodeIndexInconsistent = -32006

	// Standard JSON-RPC error codes.
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}
	if appErr, ok := perrors.As(err); ok {
		return mapAppError(appErr)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

func mapAppError(ae *perrors.AppError) *MCPError {
	message := ae.Message
	if ae.Suggestion != "" {
		message = fmt.Sprintf("%s. %s", ae.Message, ae.Suggestion)
	}

	code := ErrCodeInternalError
	switch ae.Code {
	case perrors.ErrCodeNotFound, perrors.ErrCodeFileNotFound:
		code = ErrCodeDocumentNotFound
	case perrors.ErrCodeConsistencyViolation:
		code = ErrCodeIndexInconsistent
	case perrors.ErrCodeCorruptIndex, perrors.ErrCodeDimensionMismatch:
		code = ErrCodeIndexNotFound
	case perrors.ErrCodeEmbeddingFailed, perrors.ErrCodeEmbedderUnavailable:
		code = ErrCodeEmbeddingFailed
	default:
		switch ae.Category {
		case perrors.CategoryNetwork:
			code = ErrCodeTimeout
		case perrors.CategoryValidation:
			code = ErrCodeInvalidParams
		}
	}
	return &MCPError{Code: code, Message: message}
}
