// Package rag holds the retrieval side of kbase: the embedding and vector
// index contracts, the Qdrant and in-memory indexes, and the Retriever that
// turns a question into ranked chunks. Callers depend on the interfaces so
// backends can be swapped without touching ingestion or answer code.
package rag

import (
	"context"
)

// Payload is the metadata stored alongside every vector. Its wire form is
// {document_id: int, chunk_index: int, text: string}.
type Payload struct {
	// DocumentID is the owning document's record id.
	DocumentID int64
	// ChunkIndex is the chunk's position within its document.
	ChunkIndex int
	// Text is the chunk content returned to callers on retrieval.
	Text string
}

// Point is one indexed chunk. The ID is a UUID string derived from
// (DocumentID, ChunkIndex), so writing the same chunk twice overwrites it.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// ScoredPoint is a query result. Score is cosine similarity; higher is closer.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload Payload
}

// VectorIndex stores chunk vectors and answers nearest-neighbour queries.
// Implementations must be safe to call from multiple goroutines.
type VectorIndex interface {
	// EnsureCollection creates the backing collection with the configured
	// dimension and cosine distance if it does not exist. Idempotent.
	EnsureCollection(ctx context.Context) error

	// Upsert writes points, replacing any existing point with the same ID.
	// It returns only once the write is durable.
	Upsert(ctx context.Context, points []Point) error

	// Query returns at most k points ordered by non-increasing score.
	// k <= 0 yields an empty result.
	Query(ctx context.Context, vector []float32, k int) ([]ScoredPoint, error)

	// DeleteDocument removes every point belonging to documentID.
	DeleteDocument(ctx context.Context, documentID int64) error

	// CountDocument returns the number of points belonging to documentID.
	CountDocument(ctx context.Context, documentID int64) (int, error)

	// Close releases any resources held by the index.
	Close() error
}

// Embedder converts text into dense vectors.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever fetches the chunks most relevant to a query.
// Implementations must be safe to call from multiple goroutines.
type Retriever interface {
	// Retrieve returns at most topK hits ordered by descending score.
	Retrieve(ctx context.Context, query string, topK int) ([]Hit, error)
}
