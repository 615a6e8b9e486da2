package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// SnapshotSource is the read side of the engine.
type SnapshotSource interface {
	Snapshot() domain.EngineSnapshot
}

// Halter engages the process-wide halt signal.
type Halter interface {
	Halt(reason string) bool
}

// StatusHandler serves the engine snapshot and the halt control.
type StatusHandler struct {
	source SnapshotSource
	halter Halter
	logger *slog.Logger
}

// NewStatusHandler creates a StatusHandler. halter may be nil, in which case
// halt requests are refused.
func NewStatusHandler(source SnapshotSource, halter Halter, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{source: source, halter: halter, logger: logHandler(logger, "status")}
}

// GetStatus responds with the current engine snapshot.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Snapshot())
}

type haltRequest struct {
	Reason string `json:"reason"`
}

// Halt stops all new paired orders for the rest of the process lifetime.
// The body is optional: {"reason": "..."}.
// POST /api/halt
func (h *StatusHandler) Halt(w http.ResponseWriter, r *http.Request) {
	if h.halter == nil {
		writeError(w, http.StatusServiceUnavailable, "halt is not available")
		return
	}

	var req haltRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "operator request"
	}

	engaged := h.halter.Halt(reason)
	if engaged {
		h.logger.Warn("halt engaged via api",
			slog.String("reason", reason),
			slog.String("remote_addr", r.RemoteAddr),
		)
	}
	snap := h.source.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"halted":      snap.Halted,
		"halt_reason": snap.HaltReason,
		"engaged":     engaged,
	})
}
