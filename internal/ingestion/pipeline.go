// Package ingestion implements the per-document ingestion pipeline.
// A job extracts the stored file's text, chunks it, embeds every chunk,
// upserts the vectors into the index and only then marks the document
// processed. Point ids are derived from (document id, chunk index), so
// running the same job twice converges on the same index state.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/54b3r/kbase-go/internal/chunk"
	"github.com/54b3r/kbase-go/internal/extract"
	"github.com/54b3r/kbase-go/internal/logging"
	"github.com/54b3r/kbase-go/internal/rag"
	"github.com/54b3r/kbase-go/internal/store"
)

// JobPayload is the queue payload for one ingestion job.
type JobPayload struct {
	DocumentID int64
	FilePath   string
}

// Extractor reads a stored file as plain text.
type Extractor interface {
	ExtractFile(ctx context.Context, path string) (string, extract.Format, error)
}

// DocumentStore is the slice of the document record store the pipeline writes.
type DocumentStore interface {
	MarkProcessed(ctx context.Context, id int64, chunkCount int) error
	MarkFailed(ctx context.Context, id int64, msg string) error
}

// RetryConfig bounds the in-job retries of embedding and index calls.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first call (default 3).
	// Negative disables retries.
	MaxRetries int
	// InitialInterval is the first backoff delay (default 500ms).
	InitialInterval time.Duration
	// MaxInterval caps a single backoff delay (default 10s).
	MaxInterval time.Duration
}

// Config holds the pipeline's collaborators and tuning.
type Config struct {
	Extractor Extractor
	// Chunker defaults to chunk.Default() when nil.
	Chunker  *chunk.Chunker
	Embedder rag.Embedder
	Index    rag.VectorIndex
	Docs     DocumentStore
	Retry    RetryConfig
}

// Pipeline runs ingestion jobs. It holds no per-job state and is safe for
// concurrent use by several workers.
type Pipeline struct {
	extractor Extractor
	chunker   *chunk.Chunker
	embedder  rag.Embedder
	index     rag.VectorIndex
	docs      DocumentStore
	retry     RetryConfig
}

// NewPipeline validates cfg and returns a Pipeline.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("ingestion: index must not be nil")
	}
	if cfg.Docs == nil {
		return nil, fmt.Errorf("ingestion: document store must not be nil")
	}
	if cfg.Extractor == nil {
		cfg.Extractor = extract.New()
	}
	if cfg.Chunker == nil {
		cfg.Chunker = chunk.Default()
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.InitialInterval <= 0 {
		cfg.Retry.InitialInterval = 500 * time.Millisecond
	}
	if cfg.Retry.MaxInterval <= 0 {
		cfg.Retry.MaxInterval = 10 * time.Second
	}

	return &Pipeline{
		extractor: cfg.Extractor,
		chunker:   cfg.Chunker,
		embedder:  cfg.Embedder,
		index:     cfg.Index,
		docs:      cfg.Docs,
		retry:     cfg.Retry,
	}, nil
}

// pointNamespace scopes the name-based UUIDs used as point ids.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/54b3r/kbase-go/chunk"))

// PointID returns the deterministic vector point id of a chunk: a UUIDv5
// over "{documentID}:{chunkIndex}".
func PointID(documentID int64, chunkIndex int) string {
	return uuid.NewSHA1(pointNamespace, fmt.Appendf(nil, "%d:%d", documentID, chunkIndex)).String()
}

// Process runs one ingestion attempt for the payload's document and records
// the outcome on the document record. A document is marked processed only
// after the index acknowledged every chunk. When ctx is cancelled (not timed
// out) the document is left untouched so a redelivery can pick it up.
func (p *Pipeline) Process(ctx context.Context, job JobPayload) Result {
	log := logging.Component(ctx, "ingestion").With(
		slog.Int64("document_id", job.DocumentID),
		slog.String("file_path", job.FilePath),
	)
	start := time.Now()

	n, err := p.run(ctx, log, job)
	if err != nil {
		f := classify(ctx, err)
		log.Error("ingestion failed",
			slog.String("kind", string(f.Kind)),
			slog.Bool("retryable", f.Retryable()),
			slog.String("error", f.Message),
			slog.Duration("duration", time.Since(start)),
		)
		if errors.Is(err, context.Canceled) && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return f
		}
		if merr := p.markFailed(ctx, job.DocumentID, f.Message); merr != nil && !errors.Is(merr, store.ErrNotFound) {
			log.Error("could not record failure on document", slog.String("error", merr.Error()))
		}
		return f
	}

	if n == 0 {
		log.Warn("document produced no chunks; marked processed with zero vectors",
			slog.String("reason", "no_extractable_text"),
		)
	} else {
		log.Info("document indexed",
			slog.Int("chunks", n),
			slog.Duration("duration", time.Since(start)),
		)
	}
	return Success{ChunksWritten: n}
}

func (p *Pipeline) run(ctx context.Context, log *slog.Logger, job JobPayload) (int, error) {
	text, format, err := p.extractor.ExtractFile(ctx, job.FilePath)
	if err != nil {
		return 0, err
	}
	log.Debug("extracted text", slog.String("format", string(format)), slog.Int("bytes", len(text)))

	chunks := chunk.Collect(p.chunker.Split(text))
	if len(chunks) == 0 {
		if err := p.docs.MarkProcessed(ctx, job.DocumentID, 0); err != nil {
			return 0, fmt.Errorf("ingestion: mark processed: %w", err)
		}
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	var vectors [][]float32
	err = p.withRetry(ctx, log, "embed", func() error {
		var eerr error
		vectors, eerr = p.embedder.Embed(ctx, texts)
		if eerr != nil && !errors.Is(eerr, rag.ErrEmbeddingFailed) {
			eerr = fmt.Errorf("%w: %w", rag.ErrEmbeddingFailed, eerr)
		}
		return eerr
	})
	if err != nil {
		return 0, fmt.Errorf("ingestion: embed %d chunks: %w", len(texts), err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("ingestion: embedder returned %d vectors for %d chunks: %w",
			len(vectors), len(chunks), rag.ErrEmbeddingFailed)
	}

	points := make([]rag.Point, len(chunks))
	for i, c := range chunks {
		points[i] = rag.Point{
			ID:     PointID(job.DocumentID, c.Index),
			Vector: vectors[i],
			Payload: rag.Payload{
				DocumentID: job.DocumentID,
				ChunkIndex: c.Index,
				Text:       c.Text,
			},
		}
	}

	err = p.withRetry(ctx, log, "upsert", func() error {
		return p.index.Upsert(ctx, points)
	})
	if err != nil {
		return 0, fmt.Errorf("ingestion: upsert %d points: %w", len(points), err)
	}

	if err := p.docs.MarkProcessed(ctx, job.DocumentID, len(points)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Deleted mid-job: the vectors just written have no owner.
			if derr := p.index.DeleteDocument(ctx, job.DocumentID); derr != nil {
				log.Warn("could not remove vectors of deleted document", slog.String("error", derr.Error()))
			}
			return 0, ErrDocumentDeleted
		}
		return 0, fmt.Errorf("ingestion: mark processed: %w", err)
	}
	return len(points), nil
}

// withRetry calls fn, retrying with exponential backoff while it fails with
// a transient embedding or index error.
func (p *Pipeline) withRetry(ctx context.Context, log *slog.Logger, op string, fn func() error) error {
	if p.retry.MaxRetries < 0 {
		return fn()
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.retry.InitialInterval
	eb.MaxInterval = p.retry.MaxInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.retry.MaxRetries)), ctx)

	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		log.Warn("transient failure, retrying",
			slog.String("op", op),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	})
}

// temporary is implemented by backend errors that know whether a retry can help.
type temporary interface {
	Temporary() bool
}

func transient(err error) bool {
	if errors.Is(err, rag.ErrDimensionMismatch) {
		return false
	}
	var t temporary
	if errors.As(err, &t) && !t.Temporary() {
		return false
	}
	return errors.Is(err, rag.ErrEmbeddingFailed) || errors.Is(err, rag.ErrIndexUnavailable)
}

// classify maps an attempt error onto a Failure kind.
func classify(ctx context.Context, err error) Failure {
	var (
		unsupported *extract.UnsupportedFormatError
		decode      *extract.DecodeError
		chunkCfg    *chunk.InvalidConfigError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		err = fmt.Errorf("%w: %w", ErrJobTimeout, err)
		return Failure{Kind: KindTimeout, Message: err.Error(), Err: err}
	case errors.As(err, &unsupported):
		return Failure{Kind: KindUnsupportedFormat, Message: err.Error(), Err: err}
	case errors.Is(err, extract.ErrFileMissing):
		return Failure{Kind: KindFileMissing, Message: err.Error(), Err: err}
	case errors.Is(err, ErrDocumentDeleted):
		return Failure{Kind: KindDocumentDeleted, Message: err.Error(), Err: err}
	case errors.As(err, &decode):
		return Failure{Kind: KindDecode, Message: err.Error(), Err: err}
	case errors.As(err, &chunkCfg):
		return Failure{Kind: KindInvalidChunkConfig, Message: err.Error(), Err: err}
	case errors.Is(err, rag.ErrEmbeddingFailed):
		return Failure{Kind: KindEmbedding, Message: err.Error(), Err: err}
	case errors.Is(err, rag.ErrIndexUnavailable):
		return Failure{Kind: KindIndexUnavailable, Message: err.Error(), Err: err}
	default:
		return Failure{Kind: KindInternal, Message: err.Error(), Err: err}
	}
}

// markFailed records msg on the document. It detaches from ctx so a job that
// hit its deadline can still write its failure.
func (p *Pipeline) markFailed(ctx context.Context, id int64, msg string) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return p.docs.MarkFailed(wctx, id, msg)
}
