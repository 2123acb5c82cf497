package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/kbase-go/internal/kb"
	"github.com/54b3r/kbase-go/internal/queue"
	"github.com/54b3r/kbase-go/internal/rag"
	"github.com/54b3r/kbase-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request, including
	// an upload body.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// AskTimeout bounds a single /api/ask request (default: 2m).
	AskTimeout time.Duration
	// MaxUploadBytes caps the multipart body of /api/upload.
	// Defaults to files.DefaultMaxBytes.
	MaxUploadBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// MetricsRegistry receives the server's metrics.
	// Defaults to prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// knowledgeBase is the application service the handlers call.
// *kb.Service satisfies it; tests inject a fake.
type knowledgeBase interface {
	Upload(ctx context.Context, filename string, r io.Reader) (*kb.UploadResult, error)
	Search(ctx context.Context, query string, k int) ([]rag.Hit, error)
	Ask(ctx context.Context, question string, k int) (*kb.AskResult, error)
	Documents(ctx context.Context, opts store.ListOptions) ([]store.Document, error)
	Document(ctx context.Context, id int64) (*store.Document, error)
	Delete(ctx context.Context, id int64) error
	Reprocess(ctx context.Context, id int64) (string, error)
	Job(ctx context.Context, id string) (*queue.Job, error)
	Stats(ctx context.Context) (*kb.Stats, error)
}

// Server is the HTTP front of the knowledge base.
type Server struct {
	// kb serves every API operation.
	kb knowledgeBase
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// handler is the fully wrapped route tree.
	handler http.Handler
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the server's Prometheus collectors.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// documentResponse is one document as returned by the API.
type documentResponse struct {
	*store.Document
	// Processed is true once every chunk of the document is indexed.
	Processed bool `json:"processed"`
}

func newDocumentResponse(d *store.Document) documentResponse {
	return documentResponse{Document: d, Processed: d.Processed()}
}

// uploadResponse is the JSON response for POST /api/upload.
type uploadResponse struct {
	documentResponse
	// JobID identifies the queued ingestion job.
	JobID string `json:"job_id"`
}

// jobResponse is the JSON response for POST /api/documents/{id}/reprocess.
type jobResponse struct {
	JobID string `json:"job_id"`
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	// Query is the text to search for.
	Query string `json:"query"`
	// TopK is the number of results; 0 selects the server default.
	TopK int `json:"top_k,omitempty"`
}

// searchResponse is the JSON response for POST /api/search.
type searchResponse struct {
	Query   string    `json:"query"`
	Results []rag.Hit `json:"results"`
}

// askRequest is the JSON body for POST /api/ask.
type askRequest struct {
	// Question is the natural language question.
	Question string `json:"question"`
	// TopK is the number of context chunks; 0 selects the server default.
	TopK int `json:"top_k,omitempty"`
}

// errorResponse is the JSON body of every non-2xx API response.
type errorResponse struct {
	Error string `json:"error"`
}
