package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-citations/internal/progress/sinks"
)

// StatusSource yields the current run snapshot.
type StatusSource interface {
	Snapshot() sinks.Status
}

// ProgressHandler exposes read-only run progress.
type ProgressHandler struct {
	source StatusSource
	logger *zap.Logger
}

// NewProgressHandler wires the status source and logger.
func NewProgressHandler(source StatusSource, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{source: source, logger: logger}
}

// GetStatus handles GET /v1/status?field=. Without field it returns
// {"status": {...}}; field=suspended or field=state narrows the payload.
// It answers 503 when no source is wired and 400 for an unknown field.
func (h *ProgressHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "run status unavailable")
		return
	}
	snap := h.source.Snapshot()

	switch field := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("field"))); field {
	case "":
		writeJSON(w, http.StatusOK, map[string]any{"status": snap})
	case "suspended":
		writeJSON(w, http.StatusOK, map[string]any{"suspended": snap.Suspended})
	case "state":
		writeJSON(w, http.StatusOK, map[string]any{"state": snap.State, "next_index": snap.NextIndex, "total": snap.Total})
	default:
		h.logger.Debug("unknown status field", zap.String("field", field))
		writeError(w, http.StatusBadRequest, "invalid field")
	}
}
