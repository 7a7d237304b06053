package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/docqa-go/internal/batch"
	"github.com/54b3r/docqa-go/internal/engine"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// writeJSONError writes a JSON-formatted error response with the given status code.
func writeJSONError(w http.ResponseWriter, r *http.Request, msg string, status int) {
	writeJSON(w, r, status, errorResponse{Error: msg})
}

// decodeBody decodes the JSON request body into dst, enforcing the configured
// size limit and rejecting unknown fields.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// queryOptions translates an optional per-request threshold into engine options.
func queryOptions(threshold *float64) ([]engine.QueryOption, error) {
	if threshold == nil {
		return nil, nil
	}
	if *threshold < -1 || *threshold > 1 {
		return nil, fmt.Errorf("similarityThreshold must be within [-1, 1]")
	}
	return []engine.QueryOption{engine.WithThreshold(*threshold)}, nil
}

// toDocument validates a document request and converts it to a rag.Document.
func toDocument(req documentRequest) (rag.Document, error) {
	if strings.TrimSpace(req.Source) == "" {
		return rag.Document{}, fmt.Errorf("source is required")
	}
	if strings.TrimSpace(req.Content) == "" {
		return rag.Document{}, fmt.Errorf("content is required for %q", req.Source)
	}
	return rag.Document{Source: req.Source, Content: req.Content, Metadata: req.Metadata}, nil
}

// handleIndex handles POST /api/documents.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeJSONError(w, r, err.Error(), http.StatusBadRequest)
		return
	}
	doc, err := toDocument(req)
	if err != nil {
		writeJSONError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	res := s.svc.Index(r.Context(), doc)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, r, status, res)
}

// handleListSources handles GET /api/documents.
func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.svc.ListSources(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("list sources failed", slog.Any("error", err))
		writeJSONError(w, r, "failed to list sources", http.StatusInternalServerError)
		return
	}
	if sources == nil {
		sources = []string{}
	}
	writeJSON(w, r, http.StatusOK, sourcesResponse{Sources: sources, Count: len(sources)})
}

// handleRemove handles DELETE /api/documents/{source...}. Sources containing
// reserved characters (URLs, absolute paths) must be path-escaped by the client.
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	if source == "" {
		writeJSONError(w, r, "source is required", http.StatusBadRequest)
		return
	}

	removed, err := s.svc.RemoveDocument(r.Context(), source)
	if err != nil {
		logging.FromContext(r.Context()).Error("remove document failed",
			slog.String("source", source),
			slog.Any("error", err),
		)
		writeJSONError(w, r, "failed to remove document", http.StatusInternalServerError)
		return
	}
	status := http.StatusOK
	if !removed {
		status = http.StatusNotFound
	}
	writeJSON(w, r, status, removeResponse{Source: source, Removed: removed})
}

// handleClear handles DELETE /api/documents.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClearIndex(r.Context()); err != nil {
		logging.FromContext(r.Context()).Error("clear index failed", slog.Any("error", err))
		writeJSONError(w, r, "failed to clear index", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleQuery handles POST /api/query. A failed query still returns 200: the
// result carries a polite answer, success:false and the raw error.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeJSONError(w, r, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSONError(w, r, "query is required", http.StatusBadRequest)
		return
	}
	if req.TopK < 0 {
		writeJSONError(w, r, "topK must not be negative", http.StatusBadRequest)
		return
	}
	opts, err := queryOptions(req.SimilarityThreshold)
	if err != nil {
		writeJSONError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	s.metrics.activeQueries.Inc()
	defer s.metrics.activeQueries.Dec()

	writeJSON(w, r, http.StatusOK, s.svc.Query(r.Context(), req.Query, req.TopK, opts...))
}

// handleBatchIndex handles POST /api/batch/index.
func (s *Server) handleBatchIndex(w http.ResponseWriter, r *http.Request) {
	var req batchIndexRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeJSONError(w, r, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Documents) == 0 {
		writeJSONError(w, r, "documents must not be empty", http.StatusBadRequest)
		return
	}
	if len(req.Documents) > maxBatchItems {
		writeJSONError(w, r, fmt.Sprintf("at most %d documents per batch", maxBatchItems), http.StatusBadRequest)
		return
	}
	docs := make([]rag.Document, 0, len(req.Documents))
	for _, d := range req.Documents {
		doc, err := toDocument(d)
		if err != nil {
			writeJSONError(w, r, err.Error(), http.StatusBadRequest)
			return
		}
		docs = append(docs, doc)
	}

	res, err := s.runner.IndexDocuments(r.Context(), docs, s.parallelism(req.MaxParallelism))
	if err != nil {
		s.batchFailed(w, r, "index", err)
		return
	}
	s.metrics.observeBatch(string(batch.KindIndex), res.Succeeded, res.Failed, res.Skipped)
	writeJSON(w, r, http.StatusOK, batchResponse[*engine.IndexingResult]{
		Total:     res.Total,
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
		Skipped:   res.Skipped,
		Cancelled: res.Cancelled,
		ElapsedMs: res.ElapsedMs(),
		Results:   res.Results,
	})
}

// handleBatchQuery handles POST /api/batch/query.
func (s *Server) handleBatchQuery(w http.ResponseWriter, r *http.Request) {
	var req batchQueryRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeJSONError(w, r, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Queries) == 0 {
		writeJSONError(w, r, "queries must not be empty", http.StatusBadRequest)
		return
	}
	if len(req.Queries) > maxBatchItems {
		writeJSONError(w, r, fmt.Sprintf("at most %d queries per batch", maxBatchItems), http.StatusBadRequest)
		return
	}
	if req.TopK < 0 {
		writeJSONError(w, r, "topK must not be negative", http.StatusBadRequest)
		return
	}
	opts, err := queryOptions(req.SimilarityThreshold)
	if err != nil {
		writeJSONError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	s.metrics.activeQueries.Inc()
	defer s.metrics.activeQueries.Dec()

	res, err := s.runner.QueryMany(r.Context(), req.Queries, req.TopK, s.parallelism(req.MaxParallelism), opts...)
	if err != nil {
		s.batchFailed(w, r, "query", err)
		return
	}
	s.metrics.observeBatch(string(batch.KindQuery), res.Succeeded, res.Failed, res.Skipped)
	avg := res.AverageLatency.Milliseconds()
	writeJSON(w, r, http.StatusOK, batchResponse[*engine.RagResult]{
		Total:            res.Total,
		Succeeded:        res.Succeeded,
		Failed:           res.Failed,
		Skipped:          res.Skipped,
		Cancelled:        res.Cancelled,
		ElapsedMs:        res.ElapsedMs(),
		AverageLatencyMs: &avg,
		Results:          res.Results,
	})
}

// parallelism resolves a per-request limit against the server default.
func (s *Server) parallelism(requested int) int {
	if requested > 0 {
		return requested
	}
	return s.cfg.BatchMaxParallelism
}

// batchFailed logs and reports a batch that could not run at all.
func (s *Server) batchFailed(w http.ResponseWriter, r *http.Request, kind string, err error) {
	logging.FromContext(r.Context()).Error("batch failed",
		slog.String("kind", kind),
		slog.Any("error", err),
	)
	writeJSONError(w, r, "batch "+kind+" failed: "+err.Error(), http.StatusInternalServerError)
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.GetStats(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("stats failed", slog.Any("error", err))
		writeJSONError(w, r, "failed to read stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}
