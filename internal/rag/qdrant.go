package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/kbase-go/internal/config"
)

// Payload keys used in the Qdrant collection.
const (
	payloadDocumentID = "document_id"
	payloadChunkIndex = "chunk_index"
	payloadText       = "text"
)

// DefaultCollection is the collection used when QDRANT_COLLECTION is unset.
const DefaultCollection = "documents"

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name (default: documents).
	Collection string

	// VectorSize is the pinned embedding dimension for the collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// SkipVersionCheck skips the client's startup call comparing its
	// version with the server's.
	SkipVersionCheck bool
}

// QdrantConfigFromEnv reads QDRANT_HOST, QDRANT_PORT, QDRANT_COLLECTION,
// QDRANT_API_KEY and QDRANT_TLS. VectorSize is left to the caller, which
// takes it from the pinned embedder.
func QdrantConfigFromEnv() *QdrantConfig {
	return &QdrantConfig{
		Host:       config.Env("QDRANT_HOST", "localhost"),
		Port:       config.EnvInt("QDRANT_PORT", 6334),
		Collection: config.Env("QDRANT_COLLECTION", DefaultCollection),
		APIKey:     config.Env("QDRANT_API_KEY", ""),
		UseTLS:     config.EnvBool("QDRANT_TLS"),
	}
}

// QdrantIndex implements VectorIndex backed by a Qdrant instance over gRPC.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg QdrantConfig
}

var _ VectorIndex = (*QdrantIndex)(nil)

// NewQdrantIndex creates a client for the configured Qdrant instance. It
// does not contact the server; call EnsureCollection once at startup.
func NewQdrantIndex(cfg *QdrantConfig) (*QdrantIndex, error) {
	c := *cfg
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	if c.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: vector size must be set")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   c.Host,
		Port:   c.Port,
		APIKey: c.APIKey,
		UseTLS: c.UseTLS,

		SkipCompatibilityCheck: c.SkipVersionCheck,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w: %w", ErrIndexUnavailable, err)
	}

	return &QdrantIndex{client: client, cfg: c}, nil
}

// Collection returns the collection name this index writes to.
func (s *QdrantIndex) Collection() string { return s.cfg.Collection }

// EnsureCollection creates the collection and its document_id payload index
// if they do not exist. An existing collection whose vector size differs
// from the pinned dimension fails with ErrDimensionMismatch, since every
// stored vector would be incomparable with new queries.
func (s *QdrantIndex) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w: %w", ErrIndexUnavailable, err)
	}

	if exists {
		return s.checkDimension(ctx)
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w: %w", s.cfg.Collection, ErrIndexUnavailable, err)
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.cfg.Collection,
		FieldName:      payloadDocumentID,
		FieldType:      qdrant.FieldType_FieldTypeInteger.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to index %s on %q: %w: %w", payloadDocumentID, s.cfg.Collection, ErrIndexUnavailable, err)
	}

	return nil
}

// checkDimension compares the existing collection's vector size to the pinned one.
func (s *QdrantIndex) checkDimension(ctx context.Context) error {
	info, err := s.client.GetCollectionInfo(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to read collection %q: %w: %w", s.cfg.Collection, ErrIndexUnavailable, err)
	}
	size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	if size != 0 && size != s.cfg.VectorSize {
		return fmt.Errorf("qdrant: collection %q has vector size %d, embedder produces %d: %w",
			s.cfg.Collection, size, s.cfg.VectorSize, ErrDimensionMismatch)
	}
	return nil
}

// Upsert writes points and waits for the write to be applied.
func (s *QdrantIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		if uint64(len(p.Vector)) != s.cfg.VectorSize {
			return fmt.Errorf("qdrant: point %s has %d dimensions, want %d: %w", p.ID, len(p.Vector), s.cfg.VectorSize, ErrDimensionMismatch)
		}
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: map[string]*qdrant.Value{
				payloadDocumentID: qdrant.NewValueInt(p.Payload.DocumentID),
				payloadChunkIndex: qdrant.NewValueInt(int64(p.Payload.ChunkIndex)),
				payloadText:       qdrant.NewValueString(p.Payload.Text),
			},
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert of %d points failed: %w: %w", len(points), ErrIndexUnavailable, err)
	}

	return nil
}

// Query performs a cosine similarity search and returns the top-k results.
func (s *QdrantIndex) Query(ctx context.Context, vector []float32, k int) ([]ScoredPoint, error) {
	if k <= 0 {
		return []ScoredPoint{}, nil
	}
	if uint64(len(vector)) != s.cfg.VectorSize {
		return nil, fmt.Errorf("qdrant: query vector has %d dimensions, want %d: %w", len(vector), s.cfg.VectorSize, ErrDimensionMismatch)
	}

	limit := uint64(k)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query failed: %w: %w", ErrIndexUnavailable, err)
	}

	out := make([]ScoredPoint, 0, len(results))
	for _, r := range results {
		sp := ScoredPoint{ID: r.GetId().GetUuid(), Score: r.GetScore()}
		if p := r.GetPayload(); p != nil {
			sp.Payload = Payload{
				DocumentID: p[payloadDocumentID].GetIntegerValue(),
				ChunkIndex: int(p[payloadChunkIndex].GetIntegerValue()),
				Text:       p[payloadText].GetStringValue(),
			}
		}
		out = append(out, sp)
	}

	return out, nil
}

// documentFilter matches every point of one document.
func documentFilter(documentID int64) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatchInt(payloadDocumentID, documentID),
		},
	}
}

// DeleteDocument removes every point whose document_id payload matches.
func (s *QdrantIndex) DeleteDocument(ctx context.Context, documentID int64) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(documentFilter(documentID)),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete of document %d failed: %w: %w", documentID, ErrIndexUnavailable, err)
	}
	return nil
}

// CountDocument returns the exact number of points stored for documentID.
func (s *QdrantIndex) CountDocument(ctx context.Context, documentID int64) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Filter:         documentFilter(documentID),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count of document %d failed: %w: %w", documentID, ErrIndexUnavailable, err)
	}
	return int(n), nil
}

// Ping calls the Qdrant HealthCheck RPC.
func (s *QdrantIndex) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w: %w", ErrIndexUnavailable, err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantIndex) Close() error {
	return s.client.Close()
}
