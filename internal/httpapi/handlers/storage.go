package handlers

import (
	"net/http"

	"certmill/internal/httpkit"
	"certmill/internal/pkg/errors"
)

type cleanupRequest struct {
	Force bool `json:"force,omitempty"`
}

// GetStorageInfo reports per-area disk usage and the next scheduled
// cleanup pass.
func (h *Handler) GetStorageInfo(w http.ResponseWriter, r *http.Request) error {
	usage := h.retention.StorageInfo()

	resp := map[string]any{
		"usage": usage,
	}
	if h.scheduler != nil {
		if next := h.scheduler.NextRun(); next != nil {
			resp["next_cleanup"] = next.UTC()
		}
	}
	httpkit.WriteJSON(w, http.StatusOK, resp)
	return nil
}

// PostCleanup runs a cleanup pass on demand. force=true ignores age
// and count thresholds and empties all areas.
func (h *Handler) PostCleanup(w http.ResponseWriter, r *http.Request) error {
	var req cleanupRequest
	if r.ContentLength > 0 {
		if err := httpkit.DecodeJSON(r, &req); err != nil {
			return errors.Validation("invalid json body")
		}
	}

	stats := h.retention.FullCleanup(req.Force)
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{
		"forced":  req.Force,
		"deleted": stats.Total(),
		"stats":   stats,
	})
	return nil
}
