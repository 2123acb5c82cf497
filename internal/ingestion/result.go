package ingestion

import (
	"errors"
	"fmt"

	"github.com/54b3r/kbase-go/internal/rag"
)

// ErrJobTimeout reports that a job exceeded its execution deadline.
var ErrJobTimeout = errors.New("ingestion: job timed out")

// ErrDocumentDeleted reports that the document record went away while its
// job was running.
var ErrDocumentDeleted = errors.New("ingestion: document deleted during ingestion")

// Result is the outcome of one Process call: either Success or Failure.
type Result interface {
	isResult()
}

// Success means every chunk of the document is indexed and the document
// is marked processed.
type Success struct {
	ChunksWritten int
}

func (Success) isResult() {}

// Empty reports whether the document produced no chunks. This is still a
// success; it usually means a scanned or image-only source.
func (s Success) Empty() bool { return s.ChunksWritten == 0 }

// Kind classifies a Failure.
type Kind string

const (
	KindUnsupportedFormat  Kind = "unsupported_format"
	KindFileMissing        Kind = "file_missing"
	KindDocumentDeleted    Kind = "document_deleted"
	KindDecode             Kind = "decode"
	KindInvalidChunkConfig Kind = "invalid_chunk_config"
	KindEmbedding          Kind = "embedding"
	KindIndexUnavailable   Kind = "index_unavailable"
	KindTimeout            Kind = "timeout"
	KindInternal           Kind = "internal"
)

// Failure means the attempt stopped before the document was marked
// processed. Message is what gets stored on the document record.
type Failure struct {
	Kind    Kind
	Message string
	Err     error
}

func (Failure) isResult() {}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f Failure) Unwrap() error { return f.Err }

// Retryable reports whether redelivering the job could succeed. Bad input
// (format, decode, chunk config), a stored file or record that is gone and
// a dimension mismatch never will.
func (f Failure) Retryable() bool {
	switch f.Kind {
	case KindUnsupportedFormat, KindFileMissing, KindDocumentDeleted, KindDecode, KindInvalidChunkConfig:
		return false
	case KindEmbedding:
		return !errors.Is(f.Err, rag.ErrDimensionMismatch)
	default:
		return true
	}
}
