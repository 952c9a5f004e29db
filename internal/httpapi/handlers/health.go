package handlers

import (
	"net/http"
	"os"

	"certmill/internal/httpkit"
)

// Health performs a health check of the service.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":  "ok",
		"service": "certmill-api",
		"version": "0.1.0",
	}

	// Deep check verifies the data areas are writable.
	if r.URL.Query().Get("deep") == "true" {
		checks := map[string]any{
			"outputs":          checkDir(h.cfg.Data.Outputs),
			"temp_inputs":      checkDir(h.cfg.Data.TempInputs),
			"template_backups": checkDir(h.cfg.Data.TemplateBackups),
		}
		health["checks"] = checks

		for _, c := range checks {
			if m, ok := c.(map[string]any); ok && m["status"] != "ok" {
				health["status"] = "degraded"
				h.log.FromContext(r.Context()).Warn("health check degraded", "checks", checks)
				break
			}
		}
		if h.scheduler != nil {
			health["cleanup_scheduler"] = h.scheduler.IsRunning()
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
}

func checkDir(dir string) map[string]any {
	result := map[string]any{"status": "ok"}

	info, err := os.Stat(dir)
	switch {
	case err != nil:
		result["status"] = "error"
		result["error"] = err.Error()
	case !info.IsDir():
		result["status"] = "error"
		result["error"] = "not a directory"
	}
	return result
}
