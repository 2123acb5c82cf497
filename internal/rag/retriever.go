package rag

import (
	"context"
	"fmt"
)

// DefaultTopK is the result count used when the caller passes k <= 0.
const DefaultTopK = 5

// Hit is one retrieved chunk.
type Hit struct {
	DocumentID int64   `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
}

// DefaultRetriever implements Retriever by embedding the query and
// searching the index. It keeps no state between calls.
type DefaultRetriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// index performs the vector similarity search.
	index VectorIndex

	// defaultTopK is the number of results to return when the caller passes 0.
	defaultTopK int
}

// NewRetriever constructs a DefaultRetriever from the given Embedder and VectorIndex.
// defaultTopK sets the fallback result count when Retrieve is called with topK <= 0.
func NewRetriever(embedder Embedder, index VectorIndex, defaultTopK int) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("rag: index must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	return &DefaultRetriever{
		embedder:    embedder,
		index:       index,
		defaultTopK: defaultTopK,
	}, nil
}

// Retrieve embeds the query and returns the top-k most relevant chunks.
// Embedding failures keep their ErrEmbeddingFailed chain and index failures
// their ErrIndexUnavailable chain.
func (r *DefaultRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = r.defaultTopK
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("rag: embedder returned %d vectors for one query: %w", len(embeddings), ErrEmbeddingFailed)
	}

	points, err := r.index.Query(ctx, embeddings[0], topK)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, Hit{
			DocumentID: p.Payload.DocumentID,
			ChunkIndex: p.Payload.ChunkIndex,
			Text:       p.Payload.Text,
			Score:      p.Score,
		})
	}
	return hits, nil
}
