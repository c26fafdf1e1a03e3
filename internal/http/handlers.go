package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"rufous/internal/core"
	"rufous/internal/services"
	"rufous/internal/source"
)

type analyzeRequest struct {
	AccountID string       `json:"account_id"`
	Period    core.Period  `json:"period"`
	CompareTo *core.Period `json:"compare_to"`
}

type categoryRequest struct {
	Category string `json:"category"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	report, err := s.insights.Analyze(r.Context(), services.AnalyzeRequest{
		AccountID: req.AccountID,
		Period:    req.Period,
		CompareTo: req.CompareTo,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSetCategory(w http.ResponseWriter, r *http.Request) {
	txnID := r.PathValue("id")

	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	if err := s.insights.SetCategoryOverride(r.Context(), txnID, req.Category); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearCategory(w http.ResponseWriter, r *http.Request) {
	txnID := r.PathValue("id")

	if err := s.insights.ClearCategoryOverride(r.Context(), txnID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecategorize(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")

	if err := s.insights.RequestRecategorization(r.Context(), accountID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// writeError maps service errors onto status codes: request problems are the
// caller's fault, upstream fetch failures are a bad gateway.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *services.ValidationError
	var fe *source.FetchError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: ve.Error()})
	case errors.Is(err, core.ErrTransactionNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "transaction not found"})
	case errors.Is(err, services.ErrRecategorizationUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	case errors.As(err, &fe):
		slog.ErrorContext(r.Context(), "Upstream fetch failed", "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "transaction source unavailable"})
	default:
		slog.ErrorContext(r.Context(), "Request failed", "error", err, "url", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
