package rag

import "errors"

var (
	// ErrEmbeddingFailed wraps any failure of the embedding backend.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrDimensionMismatch reports a vector whose length differs from the
	// dimension pinned for the index.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrIndexUnavailable wraps any failure to reach or write the vector index.
	ErrIndexUnavailable = errors.New("vector index unavailable")
)
