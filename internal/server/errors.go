package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/54b3r/kbase-go/internal/answer"
	"github.com/54b3r/kbase-go/internal/extract"
	"github.com/54b3r/kbase-go/internal/files"
	"github.com/54b3r/kbase-go/internal/kb"
	"github.com/54b3r/kbase-go/internal/logging"
	"github.com/54b3r/kbase-go/internal/rag"
)

// statusFor maps a service error to an HTTP status and a client-safe message.
// Upstream failures (model, embedder, index) are 502; anything unrecognised
// is 500 and its detail stays in the server log.
func statusFor(err error) (int, string) {
	var unsupported *extract.UnsupportedFormatError
	var tooBig *http.MaxBytesError

	switch {
	case errors.As(err, &unsupported):
		return http.StatusUnsupportedMediaType, unsupported.Error()
	case errors.Is(err, files.ErrTooLarge), errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge, "upload exceeds size limit"
	case errors.Is(err, kb.ErrInvalidInput), errors.Is(err, files.ErrInvalidName):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, kb.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	case errors.Is(err, answer.ErrGenerativeModel):
		return http.StatusBadGateway, "language model unavailable"
	case errors.Is(err, rag.ErrEmbeddingFailed):
		return http.StatusBadGateway, "embedding service unavailable"
	case errors.Is(err, rag.ErrIndexUnavailable):
		return http.StatusBadGateway, "vector index unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError logs err and writes the mapped status and message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	log := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.Int("status", status), slog.Any("error", err))
	} else {
		log.Info("request rejected", slog.Int("status", status), slog.String("reason", err.Error()))
	}
	writeErrorMessage(w, r, status, msg)
}
