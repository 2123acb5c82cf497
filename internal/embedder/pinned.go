package embedder

import (
	"context"
	"fmt"

	"github.com/54b3r/kbase-go/internal/rag"
)

// DefaultBatchSize caps the texts sent to a backend in one request.
const DefaultBatchSize = 64

// Pinned binds a backend to one model and output dimension. Every vector it
// returns has exactly Dimensions elements; anything else is an error
// wrapping rag.ErrDimensionMismatch. Backend failures are wrapped in
// rag.ErrEmbeddingFailed. Large inputs are split into BatchSize requests
// and reassembled in input order.
//
// An index built with one model cannot be queried with another, so the
// model name is carried for startup logging and collection checks.
type Pinned struct {
	backend    rag.Embedder
	model      string
	dimensions int
	batchSize  int
}

var _ rag.Embedder = (*Pinned)(nil)

// NewPinned wraps backend. batchSize <= 0 selects DefaultBatchSize.
func NewPinned(backend rag.Embedder, model string, dimensions, batchSize int) (*Pinned, error) {
	if backend == nil {
		return nil, fmt.Errorf("embedder: backend must not be nil")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("embedder: dimensions must be positive, got %d", dimensions)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Pinned{backend: backend, model: model, dimensions: dimensions, batchSize: batchSize}, nil
}

// Model returns the pinned model name.
func (p *Pinned) Model() string { return p.model }

// Dimensions returns the pinned vector length.
func (p *Pinned) Dimensions() int { return p.dimensions }

// Embed embeds texts in order. An empty input returns an empty result
// without calling the backend.
func (p *Pinned) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		end := min(start+p.batchSize, len(texts))
		batch := texts[start:end]

		vecs, err := p.backend.Embed(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embedder: %s: texts %d-%d: %w: %w", p.model, start, end-1, rag.ErrEmbeddingFailed, err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("embedder: %s: got %d vectors for %d texts: %w", p.model, len(vecs), len(batch), rag.ErrEmbeddingFailed)
		}
		for i, v := range vecs {
			if len(v) != p.dimensions {
				return nil, fmt.Errorf("embedder: %s: text %d has %d dimensions, want %d: %w: %w",
					p.model, start+i, len(v), p.dimensions, rag.ErrEmbeddingFailed, rag.ErrDimensionMismatch)
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedText embeds a single text. It equals Embed(ctx, []string{text})[0].
func (p *Pinned) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Ping delegates to the backend when it supports a reachability probe.
func (p *Pinned) Ping(ctx context.Context) error {
	if pinger, ok := p.backend.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}
