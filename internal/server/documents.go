package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/54b3r/kbase-go/internal/logging"
	"github.com/54b3r/kbase-go/internal/store"
)

// multipartOverhead is the slack allowed on top of MaxUploadBytes for
// multipart boundaries and part headers.
const multipartOverhead = 1 << 20

// handleUpload handles POST /api/upload. The body is multipart/form-data
// with the document in the "file" field. The file is streamed to storage,
// a pending document is created and its ingestion job is queued; the
// response does not wait for ingestion.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		s.metrics.uploadsTotal.WithLabelValues(outcomeRejected).Inc()
		writeErrorMessage(w, r, http.StatusBadRequest, "multipart/form-data body with a file field is required")
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			s.metrics.uploadsTotal.WithLabelValues(outcomeRejected).Inc()
			writeErrorMessage(w, r, http.StatusBadRequest, "file field is required")
			return
		}
		if err != nil {
			var tooBig *http.MaxBytesError
			s.metrics.uploadsTotal.WithLabelValues(outcomeRejected).Inc()
			if errors.As(err, &tooBig) {
				writeError(w, r, err)
				return
			}
			writeErrorMessage(w, r, http.StatusBadRequest, "malformed multipart body")
			return
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}

		res, err := s.kb.Upload(r.Context(), part.FileName(), part)
		_ = part.Close()
		if err != nil {
			status, _ := statusFor(err)
			s.metrics.uploadsTotal.WithLabelValues(outcomeFor(status)).Inc()
			writeError(w, r, err)
			return
		}

		s.metrics.uploadsTotal.WithLabelValues(outcomeOK).Inc()
		writeJSON(w, r, http.StatusCreated, uploadResponse{
			documentResponse: newDocumentResponse(res.Document),
			JobID:            res.JobID,
		})
		return
	}
}

// handleListDocuments handles GET /api/documents.
// Optional query parameters: status, limit, offset.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListOptions{Status: store.Status(q.Get("status"))}
	switch opts.Status {
	case "", store.StatusPending, store.StatusProcessed, store.StatusFailed:
	default:
		writeErrorMessage(w, r, http.StatusBadRequest, fmt.Sprintf("unknown status %q", opts.Status))
		return
	}
	var err error
	if opts.Limit, err = intParam(q.Get("limit")); err != nil {
		writeErrorMessage(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if opts.Offset, err = intParam(q.Get("offset")); err != nil {
		writeErrorMessage(w, r, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	docs, err := s.kb.Documents(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]documentResponse, len(docs))
	for i := range docs {
		out[i] = newDocumentResponse(&docs[i])
	}
	writeJSON(w, r, http.StatusOK, out)
}

// handleGetDocument handles GET /api/documents/{id}.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	doc, err := s.kb.Document(r.Context(), id)
	if err != nil {
		writeDocumentError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newDocumentResponse(doc))
}

// handleDeleteDocument handles DELETE /api/documents/{id}. It removes the
// document's vectors, queued jobs, stored file and record.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	if err := s.kb.Delete(r.Context(), id); err != nil {
		writeDocumentError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReprocess handles POST /api/documents/{id}/reprocess.
func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	jobID, err := s.kb.Reprocess(r.Context(), id)
	if err != nil {
		writeDocumentError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, jobResponse{JobID: jobID})
}

// handleGetJob handles GET /api/jobs/{id}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.kb.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		if status, _ := statusFor(err); status == http.StatusNotFound {
			writeErrorMessage(w, r, status, "Job not found")
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, job)
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.kb.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// documentID parses the {id} path value, writing a 400 when it is not a
// positive integer.
func documentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		logging.FromContext(r.Context()).Info("invalid document id", slog.String("id", raw))
		writeErrorMessage(w, r, http.StatusBadRequest, "invalid document id")
		return 0, false
	}
	return id, true
}

func writeDocumentError(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := statusFor(err); status == http.StatusNotFound {
		writeErrorMessage(w, r, status, "Document not found")
		return
	}
	writeError(w, r, err)
}

// intParam parses an optional non-negative integer query parameter.
func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}
