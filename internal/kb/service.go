// Package kb is the application service behind the HTTP API and the CLI.
// It binds the upload boundary (file store, document records, job queue)
// to the query boundary (retriever and answer composer).
package kb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/54b3r/kbase-go/internal/extract"
	"github.com/54b3r/kbase-go/internal/files"
	"github.com/54b3r/kbase-go/internal/logging"
	"github.com/54b3r/kbase-go/internal/queue"
	"github.com/54b3r/kbase-go/internal/rag"
	"github.com/54b3r/kbase-go/internal/store"
)

const (
	// DefaultSearchTopK is the result count for Search when none is given.
	DefaultSearchTopK = 5
	// DefaultAskTopK is the number of chunks used as answer context.
	DefaultAskTopK = 3
	// MaxTopK caps any caller-supplied k.
	MaxTopK = 100
	// UnknownDocument names a source whose document record is gone.
	UnknownDocument = "Unknown"
)

var (
	// ErrNotFound is returned when a document or job does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned for empty queries and unusable uploads.
	ErrInvalidInput = errors.New("invalid input")
)

// DocumentStore is the document record store.
type DocumentStore interface {
	Create(ctx context.Context, filename, filePath, format string) (*store.Document, error)
	Get(ctx context.Context, id int64) (*store.Document, error)
	GetMany(ctx context.Context, ids []int64) (map[int64]*store.Document, error)
	List(ctx context.Context, opts store.ListOptions) ([]store.Document, error)
	MarkFailed(ctx context.Context, id int64, msg string) error
	Delete(ctx context.Context, id int64) error
	Counts(ctx context.Context) (map[store.Status]int, error)
}

// JobQueue is the producer side of the ingestion queue.
type JobQueue interface {
	Enqueue(ctx context.Context, p queue.Payload) (*queue.Job, error)
	Get(ctx context.Context, id string) (*queue.Job, error)
	DeleteForDocument(ctx context.Context, documentID int64) error
	Stats(ctx context.Context) (map[queue.State]int, error)
}

// FileStore keeps uploaded bytes.
type FileStore interface {
	Save(ctx context.Context, filename string, r io.Reader) (string, error)
	Remove(path string) error
}

// Composer turns ranked hits into an answer.
type Composer interface {
	Compose(ctx context.Context, question string, hits []rag.Hit) (string, error)
}

// Deps holds the collaborators of a Service.
type Deps struct {
	Docs      DocumentStore
	Queue     JobQueue
	Files     FileStore
	Index     rag.VectorIndex
	Retriever rag.Retriever
	Composer  Composer
}

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	SearchTopK int
	AskTopK    int
}

// Service implements the upload, query and document management operations.
// It is safe for concurrent use.
type Service struct {
	deps       Deps
	searchTopK int
	askTopK    int
}

// New validates deps and returns a Service.
func New(deps Deps, opts Options) (*Service, error) {
	switch {
	case deps.Docs == nil:
		return nil, fmt.Errorf("kb: document store must not be nil")
	case deps.Queue == nil:
		return nil, fmt.Errorf("kb: job queue must not be nil")
	case deps.Files == nil:
		return nil, fmt.Errorf("kb: file store must not be nil")
	case deps.Index == nil:
		return nil, fmt.Errorf("kb: vector index must not be nil")
	case deps.Retriever == nil:
		return nil, fmt.Errorf("kb: retriever must not be nil")
	}
	if opts.SearchTopK <= 0 {
		opts.SearchTopK = DefaultSearchTopK
	}
	if opts.AskTopK <= 0 {
		opts.AskTopK = DefaultAskTopK
	}
	return &Service{deps: deps, searchTopK: opts.SearchTopK, askTopK: opts.AskTopK}, nil
}

// UploadResult is the outcome of Upload.
type UploadResult struct {
	Document *store.Document `json:"document"`
	JobID    string          `json:"job_id"`
}

// Upload stores the file, creates a pending document and enqueues its
// ingestion job. It returns as soon as the job is queued. Files whose
// extension no extractor supports are rejected before anything is stored.
func (s *Service) Upload(ctx context.Context, filename string, r io.Reader) (*UploadResult, error) {
	log := logging.Component(ctx, "kb")

	name, err := files.SanitizeFilename(filename)
	if err != nil {
		return nil, fmt.Errorf("kb: %w: %w", ErrInvalidInput, err)
	}
	format, err := extract.FormatFromPath(name)
	if err != nil {
		return nil, fmt.Errorf("kb: %w: %w", ErrInvalidInput, err)
	}

	path, err := s.deps.Files.Save(ctx, name, r)
	if err != nil {
		return nil, fmt.Errorf("kb: save upload: %w", err)
	}

	doc, err := s.deps.Docs.Create(ctx, name, path, string(format))
	if err != nil {
		if rerr := s.deps.Files.Remove(path); rerr != nil {
			log.Warn("could not remove orphaned upload", slog.String("path", path), slog.String("error", rerr.Error()))
		}
		return nil, fmt.Errorf("kb: create document: %w", err)
	}

	job, err := s.deps.Queue.Enqueue(ctx, queue.Payload{DocumentID: doc.ID, FilePath: path})
	if err != nil {
		if merr := s.deps.Docs.MarkFailed(ctx, doc.ID, "could not enqueue ingestion job"); merr != nil {
			log.Error("could not mark document failed", slog.Int64("document_id", doc.ID), slog.String("error", merr.Error()))
		}
		return nil, fmt.Errorf("kb: enqueue document %d: %w", doc.ID, err)
	}

	log.Info("document uploaded",
		slog.Int64("document_id", doc.ID),
		slog.String("filename", name),
		slog.String("format", string(format)),
		slog.String("job_id", job.ID),
	)
	return &UploadResult{Document: doc, JobID: job.ID}, nil
}

// Search returns the chunks most similar to query. k <= 0 selects the
// configured default; k is capped at MaxTopK.
func (s *Service) Search(ctx context.Context, query string, k int) ([]rag.Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("kb: %w: query is required", ErrInvalidInput)
	}
	hits, err := s.deps.Retriever.Retrieve(ctx, query, s.topK(k, s.searchTopK))
	if err != nil {
		return nil, fmt.Errorf("kb: search: %w", err)
	}
	return hits, nil
}

// Source attributes one answer context chunk to its document.
type Source struct {
	DocumentID int64   `json:"document_id"`
	Document   string  `json:"document"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float32 `json:"score"`
}

// AskResult is a generated answer with its sources.
type AskResult struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources"`
}

// Ask retrieves context for question and composes an answer from it.
func (s *Service) Ask(ctx context.Context, question string, k int) (*AskResult, error) {
	if s.deps.Composer == nil {
		return nil, fmt.Errorf("kb: no chat model configured")
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("kb: %w: question is required", ErrInvalidInput)
	}

	hits, err := s.deps.Retriever.Retrieve(ctx, question, s.topK(k, s.askTopK))
	if err != nil {
		return nil, fmt.Errorf("kb: retrieve context: %w", err)
	}
	answer, err := s.deps.Composer.Compose(ctx, question, hits)
	if err != nil {
		return nil, fmt.Errorf("kb: compose answer: %w", err)
	}

	return &AskResult{
		Question: question,
		Answer:   answer,
		Sources:  s.sources(ctx, hits),
	}, nil
}

// sources maps hits to attributions, naming documents by filename.
func (s *Service) sources(ctx context.Context, hits []rag.Hit) []Source {
	ids := make([]int64, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.DocumentID)
	}
	docs, err := s.deps.Docs.GetMany(ctx, ids)
	if err != nil {
		logging.Component(ctx, "kb").Warn("could not resolve source documents", slog.String("error", err.Error()))
	}

	out := make([]Source, 0, len(hits))
	for _, h := range hits {
		name := UnknownDocument
		if d, ok := docs[h.DocumentID]; ok {
			name = d.Filename
		}
		out = append(out, Source{DocumentID: h.DocumentID, Document: name, ChunkIndex: h.ChunkIndex, Score: h.Score})
	}
	return out
}

// Documents lists document records newest-first.
func (s *Service) Documents(ctx context.Context, opts store.ListOptions) ([]store.Document, error) {
	docs, err := s.deps.Docs.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("kb: list documents: %w", err)
	}
	return docs, nil
}

// Document returns one document record.
func (s *Service) Document(ctx context.Context, id int64) (*store.Document, error) {
	doc, err := s.deps.Docs.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("kb: %w: document %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("kb: get document %d: %w", id, err)
	}
	return doc, nil
}

// Delete removes a document's vectors, queued jobs, stored file and record,
// in that order, so a failure part-way never leaves vectors without a record.
func (s *Service) Delete(ctx context.Context, id int64) error {
	doc, err := s.Document(ctx, id)
	if err != nil {
		return err
	}
	if err := s.deps.Index.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("kb: delete vectors of document %d: %w", id, err)
	}
	if err := s.deps.Queue.DeleteForDocument(ctx, id); err != nil {
		return fmt.Errorf("kb: delete jobs of document %d: %w", id, err)
	}
	if err := s.deps.Files.Remove(doc.FilePath); err != nil {
		logging.Component(ctx, "kb").Warn("could not remove stored file",
			slog.Int64("document_id", id),
			slog.String("error", err.Error()),
		)
	}
	if err := s.deps.Docs.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("kb: delete document %d: %w", id, err)
	}
	// A job that was already past extraction may have upserted between the
	// first delete and the record going away.
	if err := s.deps.Index.DeleteDocument(ctx, id); err != nil {
		logging.Component(ctx, "kb").Warn("could not sweep late vectors",
			slog.Int64("document_id", id),
			slog.String("error", err.Error()),
		)
	}
	logging.Component(ctx, "kb").Info("document deleted", slog.Int64("document_id", id))
	return nil
}

// Reprocess enqueues a new ingestion job for an existing document and
// returns the job id. Point ids are deterministic, so re-running a
// processed document rewrites the same points.
func (s *Service) Reprocess(ctx context.Context, id int64) (string, error) {
	doc, err := s.Document(ctx, id)
	if err != nil {
		return "", err
	}
	job, err := s.deps.Queue.Enqueue(ctx, queue.Payload{DocumentID: doc.ID, FilePath: doc.FilePath})
	if err != nil {
		return "", fmt.Errorf("kb: enqueue document %d: %w", id, err)
	}
	logging.Component(ctx, "kb").Info("document requeued", slog.Int64("document_id", id), slog.String("job_id", job.ID))
	return job.ID, nil
}

// Job returns an ingestion job by id.
func (s *Service) Job(ctx context.Context, id string) (*queue.Job, error) {
	job, err := s.deps.Queue.Get(ctx, id)
	if errors.Is(err, queue.ErrNotFound) {
		return nil, fmt.Errorf("kb: %w: job %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("kb: get job %s: %w", id, err)
	}
	return job, nil
}

// Stats summarises documents per status and jobs per state.
type Stats struct {
	Documents map[store.Status]int `json:"documents"`
	Jobs      map[queue.State]int  `json:"jobs"`
}

// Stats returns document and job counts.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	docs, err := s.deps.Docs.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("kb: document counts: %w", err)
	}
	jobs, err := s.deps.Queue.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("kb: job counts: %w", err)
	}
	return &Stats{Documents: docs, Jobs: jobs}, nil
}

func (s *Service) topK(k, fallback int) int {
	if k <= 0 {
		return fallback
	}
	return min(k, MaxTopK)
}
