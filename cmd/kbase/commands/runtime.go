package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/cloudwego/eino/components/model"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/kbase-go/internal/answer"
	"github.com/54b3r/kbase-go/internal/chunk"
	"github.com/54b3r/kbase-go/internal/config"
	"github.com/54b3r/kbase-go/internal/embedder"
	"github.com/54b3r/kbase-go/internal/extract"
	"github.com/54b3r/kbase-go/internal/files"
	"github.com/54b3r/kbase-go/internal/ingestion"
	"github.com/54b3r/kbase-go/internal/kb"
	"github.com/54b3r/kbase-go/internal/provider"
	"github.com/54b3r/kbase-go/internal/queue"
	"github.com/54b3r/kbase-go/internal/rag"
	"github.com/54b3r/kbase-go/internal/server"
	"github.com/54b3r/kbase-go/internal/store"
	"github.com/54b3r/kbase-go/internal/worker"
)

// Vector index backends selectable with VECTOR_BACKEND.
const (
	vectorBackendQdrant = "qdrant"
	vectorBackendMemory = "memory"
)

// runtimeOptions selects the optional parts of a runtime.
type runtimeOptions struct {
	// chatModel builds the provider chat model and the answer composer.
	chatModel bool
}

// runtime holds every long-lived client a command needs. Each is built
// once here and handed to the components that use it.
type runtime struct {
	log       *slog.Logger
	docs      *store.SQLiteStore
	queue     *queue.SQLiteQueue
	files     *files.LocalStore
	embedder  *embedder.Pinned
	index     rag.VectorIndex
	qdrant    *rag.QdrantIndex
	pipeline  *ingestion.Pipeline
	service   *kb.Service
	chat      model.BaseChatModel
	provider  *provider.Config
	indexName string
}

// openRuntime builds the document store, job queue, file store, embedder,
// vector index, ingestion pipeline and application service from the
// environment. The caller must Close the runtime.
func openRuntime(ctx context.Context, log *slog.Logger, opts runtimeOptions) (_ *runtime, err error) {
	rt := &runtime{log: log}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	dbPath := config.Env("KBASE_DB", "")
	if dbPath == "" {
		if dbPath, err = store.DefaultDBPath(); err != nil {
			return nil, err
		}
	}
	if rt.docs, err = store.Open(dbPath); err != nil {
		return nil, err
	}
	log.Info("document store opened", slog.String("path", dbPath))

	rt.queue, err = queue.New(rt.docs.DB(), queue.Config{
		MaxAttempts: config.EnvInt("JOB_MAX_ATTEMPTS", 0),
	})
	if err != nil {
		return nil, err
	}

	uploadDir := config.Env("KBASE_UPLOAD_DIR", filepath.Join(filepath.Dir(dbPath), "uploads"))
	maxBytes := int64(config.EnvInt("KBASE_MAX_UPLOAD_BYTES", 0))
	if rt.files, err = files.NewLocalStore(uploadDir, maxBytes); err != nil {
		return nil, err
	}

	if err = embedder.Validate(log); err != nil {
		return nil, err
	}
	if rt.embedder, err = embedder.NewFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised",
		slog.String("backend", embedder.Backend()),
		slog.String("model", rt.embedder.Model()),
		slog.Int("dimensions", rt.embedder.Dimensions()),
	)

	if err = rt.openIndex(ctx); err != nil {
		return nil, err
	}

	chunker, err := chunk.New(config.EnvInt("CHUNK_SIZE", chunk.DefaultSize), config.EnvInt("CHUNK_OVERLAP", chunk.DefaultOverlap))
	if err != nil {
		return nil, err
	}
	rt.pipeline, err = ingestion.NewPipeline(ingestion.Config{
		Extractor: extract.New(),
		Chunker:   chunker,
		Embedder:  rt.embedder,
		Index:     rt.index,
		Docs:      rt.docs,
	})
	if err != nil {
		return nil, err
	}

	searchTopK := config.EnvInt("SEARCH_TOP_K", kb.DefaultSearchTopK)
	retriever, err := rag.NewRetriever(rt.embedder, rt.index, searchTopK)
	if err != nil {
		return nil, err
	}

	deps := kb.Deps{
		Docs:      rt.docs,
		Queue:     rt.queue,
		Files:     rt.files,
		Index:     rt.index,
		Retriever: retriever,
	}
	if opts.chatModel {
		if deps.Composer, err = rt.openComposer(ctx); err != nil {
			return nil, err
		}
	}

	rt.service, err = kb.New(deps, kb.Options{
		SearchTopK: searchTopK,
		AskTopK:    config.EnvInt("ASK_TOP_K", kb.DefaultAskTopK),
	})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// openIndex connects the vector index selected by VECTOR_BACKEND and makes
// sure its collection exists with the embedder's dimension.
func (rt *runtime) openIndex(ctx context.Context) error {
	dims := rt.embedder.Dimensions()

	switch backend := config.Env("VECTOR_BACKEND", vectorBackendQdrant); backend {
	case vectorBackendMemory:
		rt.index = rag.NewMemoryIndex(dims)
		rt.indexName = vectorBackendMemory
		rt.log.Warn("vector index is in-memory; vectors are lost on exit and not shared between processes")
		return nil

	case vectorBackendQdrant:
		cfg := rag.QdrantConfigFromEnv()
		cfg.VectorSize = uint64(dims) //nolint:gosec // dimensions are small and positive
		q, err := rag.NewQdrantIndex(cfg)
		if err != nil {
			return err
		}
		rt.qdrant, rt.index, rt.indexName = q, q, vectorBackendQdrant
		if err := q.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
		}
		rt.log.Info("qdrant collection ready",
			slog.String("host", cfg.Host),
			slog.Int("port", cfg.Port),
			slog.String("collection", q.Collection()),
			slog.Int("dimensions", dims),
		)
		return nil

	default:
		return fmt.Errorf("unknown VECTOR_BACKEND %q (valid: qdrant, memory)", backend)
	}
}

// openComposer builds the chat model from MODEL_PROVIDER and wraps it in an
// answer composer.
func (rt *runtime) openComposer(ctx context.Context) (*answer.Composer, error) {
	chat, cfg, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	rt.chat, rt.provider = chat, cfg
	rt.log.Info("provider initialised",
		slog.String("provider", string(cfg.Backend)),
		slog.String("model", cfg.ModelName()),
	)

	temp := config.EnvFloat32("MODEL_TEMPERATURE", answer.DefaultTemperature)
	return answer.New(chat, answer.Config{
		Temperature:     &temp,
		OmitTemperature: !cfg.SupportsTemperature(),
		ContextTokens:   config.EnvInt("ANSWER_CONTEXT_TOKENS", 0),
		MinScore:        config.EnvFloat32("ANSWER_MIN_SCORE", 0),
	})
}

// newPool builds a worker pool over the runtime's queue and pipeline.
func (rt *runtime) newPool(concurrency int, reg prometheus.Registerer) (*worker.Pool, error) {
	if concurrency <= 0 {
		concurrency = config.EnvInt("WORKER_CONCURRENCY", 2)
	}
	return worker.New(rt.queue, rt.pipeline, rt.docs, worker.Config{
		Concurrency:  concurrency,
		JobTimeout:   config.EnvDuration("JOB_TIMEOUT", worker.DefaultJobTimeout),
		PollInterval: config.EnvDuration("WORKER_POLL_INTERVAL", worker.DefaultPollInterval),
		Registerer:   reg,
	})
}

// pingers returns the readiness probes for every dependency in use.
func (rt *runtime) pingers() []server.Pinger {
	ps := []server.Pinger{
		server.NewDependencyPinger("sqlite", rt.docs),
		server.NewDependencyPinger("embedder", rt.embedder),
	}
	if rt.qdrant != nil {
		ps = append(ps, server.NewDependencyPinger("qdrant", rt.qdrant))
	}
	if rt.chat != nil {
		hc := provider.NewHealthCheck(rt.provider, nil)
		ps = append(ps, server.NewLLMPinger(rt.chat, hc, "llm"))
	}
	return ps
}

// preflight probes every dependency once and logs the result. A failing
// dependency is reported but does not stop the command.
func (rt *runtime) preflight(ctx context.Context) {
	if err := server.NewMultiPinger(rt.pingers()...).Ping(ctx); err != nil {
		rt.log.Warn("dependency preflight failed", slog.Any("error", err))
		return
	}
	rt.log.Info("dependency preflight passed")
}

// Close releases every client the runtime opened.
func (rt *runtime) Close() {
	var errs []error
	if rt.index != nil {
		errs = append(errs, rt.index.Close())
	}
	if rt.docs != nil {
		errs = append(errs, rt.docs.Close())
	}
	if err := errors.Join(errs...); err != nil {
		rt.log.Warn("error while closing runtime", slog.Any("error", err))
	}
}
