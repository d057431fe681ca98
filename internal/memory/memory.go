// Package memory implements the long-term memory stream for chat channels:
// observations and reflections stored as embedded records, retrieved by a
// combined recency / relevance / importance score.
package memory

import "context"

// Embedder converts text to vector embeddings.
// Implementations: mock (testing, deterministic), onnx (local inference).
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// QueryResult pairs a record with its cosine similarity to the query.
type QueryResult struct {
	Record     *Record
	Similarity float64
}

// Store is the vector storage backend interface. Each channel gets its own
// namespace; records never leak across channels.
type Store interface {
	// Store saves a record with its embedding. The embedding must be set.
	Store(ctx context.Context, rec *Record) error

	// Query retrieves up to limit records for the channel by vector
	// similarity, highest first.
	Query(ctx context.Context, channel string, embedding []float32, limit int) ([]QueryResult, error)

	// Recent returns the channel's newest records in ascending time order.
	Recent(ctx context.Context, channel string, limit int) ([]*Record, error)

	// Get retrieves one record by ID. Returns nil, nil when absent.
	Get(ctx context.Context, channel, id string) (*Record, error)

	// SetImportance overwrites a record's importance score.
	SetImportance(ctx context.Context, channel, id string, importance float64) error

	// Channels lists every channel that has at least one record.
	Channels() []string

	// Close releases resources.
	Close() error
}
