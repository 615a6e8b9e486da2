package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// ExecutionReader is the query side of the execution store.
type ExecutionReader interface {
	GetByID(ctx context.Context, id string) (domain.ExecutionRecord, error)
	ListRecent(ctx context.Context, limit int) ([]domain.ExecutionRecord, error)
	ListOpenRisk(ctx context.Context) ([]domain.ExecutionRecord, error)
}

// ExecutionHandler serves recorded paired-order executions.
type ExecutionHandler struct {
	store  ExecutionReader
	logger *slog.Logger
}

// NewExecutionHandler creates an ExecutionHandler. A nil store makes every
// endpoint answer 503.
func NewExecutionHandler(store ExecutionReader, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{store: store, logger: logHandler(logger, "executions")}
}

// ListRecent returns the latest executions, newest first.
// GET /api/executions?limit=N
func (h *ExecutionHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "execution store not configured")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := h.store.ListRecent(r.Context(), opts.Limit)
	if err != nil {
		h.logger.Error("list executions", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	if recs == nil {
		recs = []domain.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// ListOpenRisk returns executions whose unwind was exhausted.
// GET /api/executions/open-risk
func (h *ExecutionHandler) ListOpenRisk(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "execution store not configured")
		return
	}
	recs, err := h.store.ListOpenRisk(r.Context())
	if err != nil {
		h.logger.Error("list open risk", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	if recs == nil {
		recs = []domain.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// Get returns one execution.
// GET /api/executions/{id}
func (h *ExecutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "execution store not configured")
		return
	}
	id := r.PathValue("id")
	rec, err := h.store.GetByID(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "execution not found")
	case err != nil:
		h.logger.Error("get execution", slog.String("id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get execution")
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}
