package rag

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
)

// MemoryIndex is an in-process VectorIndex using brute-force cosine
// similarity. Points are keyed by ID so re-upserting a chunk overwrites it.
// Results with equal scores are ordered by ID, which keeps queries
// deterministic. It backs VECTOR_BACKEND=memory and tests.
type MemoryIndex struct {
	dim int

	mu     sync.RWMutex
	points map[string]Point
}

var _ VectorIndex = (*MemoryIndex)(nil)

// NewMemoryIndex returns an empty index for vectors of length dim.
func NewMemoryIndex(dim int) *MemoryIndex {
	return &MemoryIndex{dim: dim, points: make(map[string]Point)}
}

// EnsureCollection is a no-op; the index exists once constructed.
func (m *MemoryIndex) EnsureCollection(context.Context) error { return nil }

// Upsert stores copies of points, replacing any with the same ID.
func (m *MemoryIndex) Upsert(ctx context.Context, points []Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, p := range points {
		if len(p.Vector) != m.dim {
			return fmt.Errorf("memory index: point %s has %d dimensions, want %d: %w", p.ID, len(p.Vector), m.dim, ErrDimensionMismatch)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		p.Vector = slices.Clone(p.Vector)
		m.points[p.ID] = p
	}
	return nil
}

// Query scores every stored point against vector and returns the best k.
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, k int) ([]ScoredPoint, error) {
	if k <= 0 {
		return []ScoredPoint{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vector) != m.dim {
		return nil, fmt.Errorf("memory index: query vector has %d dimensions, want %d: %w", len(vector), m.dim, ErrDimensionMismatch)
	}

	m.mu.RLock()
	scored := make([]ScoredPoint, 0, len(m.points))
	for _, p := range m.points {
		scored = append(scored, ScoredPoint{
			ID:      p.ID,
			Score:   cosine(vector, p.Vector),
			Payload: p.Payload,
		})
	}
	m.mu.RUnlock()

	slices.SortFunc(scored, func(a, b ScoredPoint) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// DeleteDocument removes all points whose payload names documentID.
func (m *MemoryIndex) DeleteDocument(ctx context.Context, documentID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.points {
		if p.Payload.DocumentID == documentID {
			delete(m.points, id)
		}
	}
	return nil
}

// CountDocument returns how many points belong to documentID.
func (m *MemoryIndex) CountDocument(_ context.Context, documentID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.points {
		if p.Payload.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (m *MemoryIndex) Close() error { return nil }

// cosine returns the cosine similarity of a and b, or 0 if either is zero.
func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
