package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/54b3r/kbase-go/internal/logging"
)

// maxQueryBody caps the JSON body of /api/search and /api/ask.
const maxQueryBody = 64 << 10

// handleSearch handles POST /api/search with body {"query": ..., "top_k": n}.
// It returns the ranked chunks without calling the language model.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req searchRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxQueryBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.observeQuery("search", outcomeRejected, start)
		writeErrorMessage(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	hits, err := s.kb.Search(r.Context(), req.Query, req.TopK)
	if err != nil {
		status, _ := statusFor(err)
		s.metrics.observeQuery("search", outcomeFor(status), start)
		writeError(w, r, err)
		return
	}

	s.metrics.observeQuery("search", outcomeOK, start)
	s.metrics.searchResults.Observe(float64(len(hits)))
	writeJSON(w, r, http.StatusOK, searchResponse{Query: req.Query, Results: hits})
}

// handleAsk handles POST /api/ask. The question comes from the JSON body
// {"question": ..., "top_k": n} or, when present, the "question" and
// "top_k" query parameters. The call is bounded by AskTimeout.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := logging.FromContext(r.Context())

	req, ok := s.decodeAsk(w, r)
	if !ok {
		s.metrics.observeQuery("ask", outcomeRejected, start)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AskTimeout)
	defer cancel()

	res, err := s.kb.Ask(ctx, req.Question, req.TopK)
	if err != nil {
		status, _ := statusFor(err)
		s.metrics.observeQuery("ask", outcomeFor(status), start)
		writeError(w, r, err)
		return
	}

	s.metrics.observeQuery("ask", outcomeOK, start)
	log.Info("question answered",
		slog.Int("sources", len(res.Sources)),
		slog.Duration("duration", time.Since(start)),
	)
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) decodeAsk(w http.ResponseWriter, r *http.Request) (askRequest, bool) {
	var req askRequest
	q := r.URL.Query()
	if q.Has("question") {
		req.Question = q.Get("question")
		if v := q.Get("top_k"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeErrorMessage(w, r, http.StatusBadRequest, "top_k must be an integer")
				return req, false
			}
			req.TopK = n
		}
		return req, true
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxQueryBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, r, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	return req, true
}
