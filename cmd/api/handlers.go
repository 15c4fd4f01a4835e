package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shamgpt/shamgpt/engine/canonical"
	"github.com/shamgpt/shamgpt/engine/domain"
	"github.com/shamgpt/shamgpt/engine/ingest"
	"github.com/shamgpt/shamgpt/engine/pipeline"
	"github.com/shamgpt/shamgpt/engine/semantic"
)

// AskRequest is the JSON body for POST /api/ask.
type AskRequest struct {
	Question string `json:"question"`
	UserID   string `json:"user_id,omitempty"`
	Context  string `json:"context,omitempty"`
	Language string `json:"language,omitempty"`
}

// VariantsRequest is the JSON body for POST /api/variants.
type VariantsRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	UserID   string `json:"user_id,omitempty"`
}

func handleAsk(pipe *pipeline.Pipeline, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
			return
		}

		decision, err := pipe.Ask(r.Context(), pipeline.AskRequest{
			Question: req.Question,
			UserID:   req.UserID,
			Context:  req.Context,
			Language: domain.Language(req.Language),
		})
		if err != nil {
			kind := domain.KindOf(err)
			logger.Warn("ask failed", "kind", kind, "err", err)
			writeError(w, statusForKind(kind), string(kind), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, decision)
	}
}

func handleSimilar(pipe *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		question := r.URL.Query().Get("q")
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		similar, err := pipe.FindSimilar(r.Context(), question, limit)
		if err != nil {
			kind := domain.KindOf(err)
			writeError(w, statusForKind(kind), string(kind), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"results": similar,
			"count":   len(similar),
		})
	}
}

func handleVariants(pipe *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VariantsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
			return
		}

		variants, err := pipe.ExpandVariants(r.Context(), req.Question, req.Answer, req.UserID)
		if err != nil {
			kind := domain.KindOf(err)
			writeError(w, statusForKind(kind), string(kind), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"variants": variants,
			"count":    len(variants),
		})
	}
}

func handleIngest(ing *ingest.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := ing.RunOnce(r.Context())
		if errors.Is(err, ingest.ErrBusy) {
			writeError(w, http.StatusConflict, "busy", "an ingestion cycle is already running")
			return
		}
		if err != nil {
			logger.Error("ingest cycle failed", "err", err)
			writeError(w, http.StatusInternalServerError, "ingest_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Status string `json:"status"`
			ingest.Report
		}{Status: "completed", Report: report})
	}
}

func handleRecent(store *canonical.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 || limit > 100 {
			limit = 20
		}

		pairs, err := store.ListRecent(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "storage_failure", err.Error())
			return
		}
		counts, err := store.CountBySource(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "storage_failure", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"pairs":  pairs,
			"counts": counts,
		})
	}
}

func handleDelete(store *canonical.Store, index *semantic.VectorStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qaID := r.PathValue("id")
		if err := store.Delete(r.Context(), qaID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeError(w, http.StatusNotFound, "not_found", "no such pair")
				return
			}
			writeError(w, http.StatusInternalServerError, "storage_failure", err.Error())
			return
		}

		// Canonical and variant points both carry qa_id, one delete covers
		// them. A dangling point left by a failure here is tolerated by the
		// ask path, so the delete still succeeds.
		cleaned := true
		if err := index.DeleteByQAID(r.Context(), qaID); err != nil {
			logger.Warn("vector cleanup failed", "qa_id", qaID, "err", err)
			cleaned = false
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"deleted":        qaID,
			"vector_cleanup": cleaned,
		})
	}
}

func handleHealth(pipe *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := pipe.Health(r.Context())
		status := http.StatusOK
		if !report.Initialized {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

// statusForKind maps pipeline error kinds to HTTP status codes. Storage
// failures never surface here: the pipeline degrades them to metadata.
func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindEmbedding, domain.KindGeneration, domain.KindVectorSearch, domain.KindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, detail string) {
	writeJSON(w, status, map[string]string{"error": kind, "detail": detail})
}
