package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/getflowetic/flowetic/internal/speccache"
	"github.com/getflowetic/flowetic/internal/webservice/metrics"
)

// Dashboard serves derived dashboard specifications on GET /dashboards/{previewId}.
type Dashboard struct {
	specs dSpecStore
}

// NewDashboard creates a new Dashboard handler.
func NewDashboard(specs dSpecStore) *Dashboard {
	return &Dashboard{specs: specs}
}

// ServeHTTP handles specification lookups. Expired previews are
// indistinguishable from ones that never existed.
func (h *Dashboard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)

	previewID := r.PathValue("previewId")

	rec, err := h.specs.Get(r.Context(), previewID)
	if errors.Is(err, speccache.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Dashboard specification not found or expired")
		return
	}
	if err != nil {
		slog.Error("Failed to fetch dashboard specification", "preview_id", previewID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch dashboard specification")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}
