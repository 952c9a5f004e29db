package handlers

import (
	"net/http"

	"certmill/internal/httpkit"
	"certmill/internal/pkg/errors"
	"certmill/internal/render"
)

type layoutRequest struct {
	Placeholders  render.Layout `json:"placeholders"`
	DefaultFont   string        `json:"default_font,omitempty"`
	FilenameField string        `json:"filename_field,omitempty"`
}

// PostLayout stores the placeholder layout used by previews and
// batches. Boxes are validated up front so a bad layout fails here,
// not mid-batch.
func (h *Handler) PostLayout(w http.ResponseWriter, r *http.Request) error {
	var req layoutRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		return errors.Validation("invalid json body")
	}
	if len(req.Placeholders) == 0 {
		return errors.ValidationField("placeholders", "at least one placeholder is required")
	}
	if err := req.Placeholders.Validate(); err != nil {
		return err
	}

	h.mu.Lock()
	h.sess.layout = req.Placeholders
	h.sess.defaultFont = req.DefaultFont
	h.sess.filenameField = req.FilenameField
	h.mu.Unlock()

	h.log.FromContext(r.Context()).Info("layout set",
		"placeholders", len(req.Placeholders),
		"default_font", req.DefaultFont,
	)

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{
		"placeholders":   len(req.Placeholders),
		"default_font":   req.DefaultFont,
		"filename_field": req.FilenameField,
	})
	return nil
}

// GetLayout returns the active placeholder layout.
func (h *Handler) GetLayout(w http.ResponseWriter, r *http.Request) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.sess.layout) == 0 {
		return errors.NotFound("layout", "active")
	}
	httpkit.WriteJSON(w, http.StatusOK, layoutRequest{
		Placeholders:  h.sess.layout,
		DefaultFont:   h.sess.defaultFont,
		FilenameField: h.sess.filenameField,
	})
	return nil
}
