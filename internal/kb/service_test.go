package kb

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/54b3r/kbase-go/internal/embedder"
	"github.com/54b3r/kbase-go/internal/extract"
	"github.com/54b3r/kbase-go/internal/files"
	"github.com/54b3r/kbase-go/internal/ingestion"
	"github.com/54b3r/kbase-go/internal/queue"
	"github.com/54b3r/kbase-go/internal/rag"
	"github.com/54b3r/kbase-go/internal/store"
	"github.com/54b3r/kbase-go/internal/worker"
)

const testDim = 64

// stubComposer echoes the question and records the hits it was given.
type stubComposer struct {
	mu   sync.Mutex
	hits []rag.Hit
	err  error
}

func (c *stubComposer) Compose(_ context.Context, question string, hits []rag.Hit) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits = hits
	if c.err != nil {
		return "", c.err
	}
	return "answer to " + question, nil
}

type harness struct {
	svc      *Service
	docs     *store.SQLiteStore
	queue    *queue.SQLiteQueue
	files    *files.LocalStore
	index    *rag.MemoryIndex
	composer *stubComposer
	pool     *worker.Pool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	q, err := queue.New(st.DB(), queue.Config{})
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	fs, err := files.NewLocalStore(filepath.Join(t.TempDir(), "uploads"), 0)
	if err != nil {
		t.Fatalf("files.NewLocalStore: %v", err)
	}

	idx := rag.NewMemoryIndex(testDim)
	emb := embedder.NewHashEmbedder(testDim)
	ret, err := rag.NewRetriever(emb, idx, 0)
	if err != nil {
		t.Fatalf("rag.NewRetriever: %v", err)
	}
	pipe, err := ingestion.NewPipeline(ingestion.Config{
		Extractor: extract.New(),
		Embedder:  emb,
		Index:     idx,
		Docs:      st,
		Retry:     ingestion.RetryConfig{MaxRetries: -1},
	})
	if err != nil {
		t.Fatalf("ingestion.NewPipeline: %v", err)
	}
	pool, err := worker.New(q, pipe, st, worker.Config{Concurrency: 1})
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}

	comp := &stubComposer{}
	svc, err := New(Deps{
		Docs:      st,
		Queue:     q,
		Files:     fs,
		Index:     idx,
		Retriever: ret,
		Composer:  comp,
	}, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{svc: svc, docs: st, queue: q, files: fs, index: idx, composer: comp, pool: pool}
}

func (h *harness) upload(t *testing.T, name, body string) *UploadResult {
	t.Helper()
	res, err := h.svc.Upload(context.Background(), name, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Upload(%s): %v", name, err)
	}
	return res
}

func (h *harness) drain(t *testing.T) int {
	t.Helper()
	n, err := h.pool.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	return n
}

func TestUpload_CreatesPendingDocumentAndJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res := h.upload(t, "terms.txt", "Invoices are payable within thirty days.")
	if res.Document.Status != store.StatusPending || res.Document.Format != "txt" {
		t.Errorf("document = %+v", res.Document)
	}
	if res.JobID == "" {
		t.Fatal("no job id")
	}
	job, err := h.svc.Job(context.Background(), res.JobID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if job.State != queue.StateQueued || job.DocumentID != res.Document.ID {
		t.Errorf("job = %+v", job)
	}
	if n, _ := h.index.CountDocument(context.Background(), res.Document.ID); n != 0 {
		t.Error("upload indexed synchronously")
	}
}

func TestUpload_RejectsUnsupportedFormat(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.svc.Upload(context.Background(), "slides.pptx", strings.NewReader("x"))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
	var ufe *extract.UnsupportedFormatError
	if !errors.As(err, &ufe) {
		t.Errorf("error does not carry *UnsupportedFormatError: %v", err)
	}
	docs, _ := h.svc.Documents(context.Background(), store.ListOptions{})
	if len(docs) != 0 {
		t.Errorf("rejected upload created %d documents", len(docs))
	}
}

func TestUploadThenSearchAndAsk(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	billing := h.upload(t, "billing.txt", "Invoices are payable within thirty days. Late payment incurs a fee.")
	h.upload(t, "cluster.txt", "The kubernetes cluster runs three worker nodes behind a load balancer.")

	if n := h.drain(t); n != 2 {
		t.Fatalf("drained %d jobs, want 2", n)
	}
	doc, err := h.svc.Document(ctx, billing.Document.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !doc.Processed() || doc.ChunkCount != 1 {
		t.Errorf("document after ingestion = %+v", doc)
	}

	hits, err := h.svc.Search(ctx, "payment of invoices", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 || hits[0].DocumentID != billing.Document.ID {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].Score < hits[1].Score {
		t.Error("hits not ordered by score")
	}

	got, err := h.svc.Ask(ctx, "  When are invoices due?  ", 1)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got.Question != "When are invoices due?" || got.Answer != "answer to When are invoices due?" {
		t.Errorf("ask result = %+v", got)
	}
	if len(got.Sources) != 1 || got.Sources[0].Document != "billing.txt" || got.Sources[0].DocumentID != billing.Document.ID {
		t.Errorf("sources = %+v", got.Sources)
	}
	if len(h.composer.hits) != 1 {
		t.Errorf("composer got %d hits, want 1", len(h.composer.hits))
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	for _, q := range []string{"", "   "} {
		if _, err := h.svc.Search(context.Background(), q, 0); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Search(%q) error = %v, want ErrInvalidInput", q, err)
		}
		if _, err := h.svc.Ask(context.Background(), q, 0); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Ask(%q) error = %v, want ErrInvalidInput", q, err)
		}
	}
}

func TestAsk_EmptyIndexStillComposes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	got, err := h.svc.Ask(context.Background(), "anything?", 0)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(got.Sources) != 0 || got.Answer == "" {
		t.Errorf("ask result = %+v", got)
	}
}

func TestAsk_ComposerError(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.composer.err = errors.New("model down")

	if _, err := h.svc.Ask(context.Background(), "q", 0); err == nil || !strings.Contains(err.Error(), "model down") {
		t.Errorf("error = %v", err)
	}
}

func TestSources_UnknownDocument(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	got := h.svc.sources(context.Background(), []rag.Hit{{DocumentID: 99, ChunkIndex: 2, Score: 0.5}})
	if len(got) != 1 || got[0].Document != UnknownDocument || got[0].ChunkIndex != 2 {
		t.Errorf("sources = %+v", got)
	}
}

func TestDelete_RemovesEverything(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	res := h.upload(t, "notes.txt", "alpha beta gamma")
	h.drain(t)
	if n, _ := h.index.CountDocument(ctx, res.Document.ID); n == 0 {
		t.Fatal("document not indexed")
	}

	if err := h.svc.Delete(ctx, res.Document.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _ := h.index.CountDocument(ctx, res.Document.ID); n != 0 {
		t.Errorf("%d points left in the index", n)
	}
	if _, err := h.svc.Document(ctx, res.Document.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Document after delete error = %v, want ErrNotFound", err)
	}
	if _, err := h.svc.Job(ctx, res.JobID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Job after delete error = %v, want ErrNotFound", err)
	}
	if err := h.svc.Delete(ctx, res.Document.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}
}

// lateUpsertIndex re-adds a point for the document on the first
// DeleteDocument call, as a job finishing its upsert concurrently would.
type lateUpsertIndex struct {
	*rag.MemoryIndex
	once sync.Once
}

func (l *lateUpsertIndex) DeleteDocument(ctx context.Context, documentID int64) error {
	if err := l.MemoryIndex.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	var err error
	l.once.Do(func() {
		err = l.MemoryIndex.Upsert(ctx, []rag.Point{{
			ID:      ingestion.PointID(documentID, 0),
			Vector:  unitVector(testDim),
			Payload: rag.Payload{DocumentID: documentID, Text: "late"},
		}})
	})
	return err
}

func unitVector(dim int) []float32 {
	v := make([]float32, dim)
	v[0] = 1
	return v
}

func TestDelete_SweepsLateUpserts(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	res := h.upload(t, "notes.txt", "alpha beta gamma")
	h.drain(t)

	idx := &lateUpsertIndex{MemoryIndex: h.index}
	svc, err := New(Deps{
		Docs:      h.docs,
		Queue:     h.queue,
		Files:     h.files,
		Index:     idx,
		Retriever: h.svc.deps.Retriever,
		Composer:  h.composer,
	}, Options{})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Delete(ctx, res.Document.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _ := h.index.CountDocument(ctx, res.Document.ID); n != 0 {
		t.Errorf("%d orphan points left after delete", n)
	}
}

func TestReprocess_IsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	res := h.upload(t, "notes.txt", "alpha beta gamma delta")
	h.drain(t)
	before, _ := h.index.CountDocument(ctx, res.Document.ID)

	jobID, err := h.svc.Reprocess(ctx, res.Document.ID)
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if jobID == res.JobID {
		t.Error("reprocess reused the original job id")
	}
	h.drain(t)
	if n, _ := h.index.CountDocument(ctx, res.Document.ID); n != before || n == 0 {
		t.Errorf("index size = %d after reprocess, want %d", n, before)
	}
	if _, err := h.svc.Reprocess(ctx, 12345); !errors.Is(err, ErrNotFound) {
		t.Errorf("Reprocess(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.upload(t, "a.txt", "one")
	h.upload(t, "b.txt", "two")

	s, err := h.svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s.Documents[store.StatusPending] != 2 || s.Jobs[queue.StateQueued] != 2 {
		t.Errorf("stats = %+v", s)
	}
}

func TestTopK(t *testing.T) {
	t.Parallel()
	s := &Service{}
	tests := []struct {
		k, fallback, want int
	}{
		{0, 5, 5},
		{-1, 3, 3},
		{7, 5, 7},
		{MaxTopK + 1, 5, MaxTopK},
	}
	for _, tt := range tests {
		if got := s.topK(tt.k, tt.fallback); got != tt.want {
			t.Errorf("topK(%d, %d) = %d, want %d", tt.k, tt.fallback, got, tt.want)
		}
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	if _, err := New(Deps{}, Options{}); err == nil {
		t.Error("empty deps accepted")
	}
}
