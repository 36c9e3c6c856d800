package mcp

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the natural-language query to search for"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10, max 100"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results" jsonschema:"matching passages, closest first"`
}

// SearchResultOutput is one matching passage.
type SearchResultOutput struct {
	Path     string  `json:"path" jsonschema:"absolute path of the source document"`
	Page     int     `json:"page" jsonschema:"1-based page number"`
	Text     string  `json:"text" jsonschema:"the matching passage"`
	Distance float32 `json:"distance" jsonschema:"cosine distance to the query, lower is closer"`
	Score    float32 `json:"score" jsonschema:"similarity between 0 and 1"`
	ChunkID  int64   `json:"chunk_id" jsonschema:"stable identifier of the passage"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	DataDir    string        `json:"data_dir"`
	Stats      IndexStats    `json:"stats"`
	Embeddings EmbeddingInfo `json:"embeddings"`

	// Consistent is false when chunk rows and vectors disagree in number.
	Consistent bool `json:"consistent"`
}

// IndexStats contains statistics about the index.
type IndexStats struct {
	Documents   int    `json:"documents"`
	Pages       int    `json:"pages"`
	Chunks      int    `json:"chunks"`
	Vectors     int    `json:"vectors"`
	LastIndexed string `json:"last_indexed,omitempty"`
}

// EmbeddingInfo describes the active embedder.
type EmbeddingInfo struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Status     string `json:"status"` // ready or unavailable
}
