// Package errors provides structured error handling for pagesearch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO and storage errors
//   - 3XX: Network errors (embedding service)
//   - 4XX: Validation errors
//   - 5XX: Internal and pipeline errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, disk and database errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates network-related errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid = "ERR_101_CONFIG_INVALID"
	ErrCodeDataDir       = "ERR_102_DATA_DIR"

	// IO errors (200-299)
	ErrCodeFileNotFound     = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission   = "ERR_202_PERMISSION_DENIED"
	ErrCodeExtractionFailed = "ERR_203_EXTRACTION_FAILED"
	ErrCodeStorageFailed    = "ERR_204_STORAGE_FAILED"
	ErrCodeIndexLocked      = "ERR_205_INDEX_LOCKED"

	// Network errors (300-399)
	ErrCodeEmbedderUnavailable = "ERR_301_EMBEDDER_UNAVAILABLE"
	ErrCodeNetworkTimeout      = "ERR_302_TIMEOUT"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeNotFound          = "ERR_403_NOT_FOUND"
	ErrCodeCapacityExhausted = "ERR_404_CAPACITY_EXHAUSTED"
	ErrCodeDuplicateKey      = "ERR_405_DUPLICATE_KEY"

	// Internal errors (500-599)
	ErrCodeInternal             = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed      = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed         = "ERR_503_SEARCH_FAILED"
	ErrCodeIndexFailed          = "ERR_504_INDEX_FAILED"
	ErrCodeConsistencyViolation = "ERR_505_CONSISTENCY_VIOLATION"
	ErrCodeCorruptIndex         = "ERR_506_CORRUPT_INDEX"
	ErrCodeChunkingFailed       = "ERR_507_CHUNKING_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "101" from "ERR_101_CONFIG_INVALID"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeConsistencyViolation:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeEmbedderUnavailable, ErrCodeIndexLocked:
		return true
	default:
		return false
	}
}
