package handlers

import (
	"image"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"certmill/internal/httpkit"
	"certmill/internal/pipeline"
	"certmill/internal/pkg/errors"
	"certmill/internal/ports"
	"certmill/internal/render"
)

// safeJobID keeps user-supplied folder names inside the outputs area.
var safeJobID = regexp.MustCompile(`[^A-Za-z0-9_.\- ]`)

type generateRequest struct {
	FolderName string `json:"folder_name,omitempty"`
}

type previewRequest struct {
	RowIndex int `json:"row_index"`
}

// PostPreview renders a single record over the active template and
// returns the frame as PNG. The batch directories are untouched.
func (h *Handler) PostPreview(w http.ResponseWriter, r *http.Request) error {
	var req previewRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		return errors.Validation("invalid json body")
	}

	tpl, layout, rec, defaultFont, err := h.previewInputs(req.RowIndex)
	if err != nil {
		return err
	}

	img, err := h.compositor.Render(tpl, layout, rec, defaultFont)
	if err != nil {
		return errors.Wrap(err, "jobs.preview", "failed to render preview")
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if err := png.Encode(w, img); err != nil {
		h.log.FromContext(r.Context()).Warn("preview encode aborted", "error", err.Error())
	}
	return nil
}

func (h *Handler) previewInputs(row int) (image.Image, render.Layout, render.Record, string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.sess.template == nil {
		return nil, nil, nil, "", errors.Validation("no template uploaded")
	}
	if len(h.sess.layout) == 0 {
		return nil, nil, nil, "", errors.Validation("no layout set")
	}
	if row < 0 || row >= len(h.sess.records) {
		return nil, nil, nil, "", errors.Validationf("row_index %d out of range (have %d records)", row, len(h.sess.records))
	}
	return h.sess.template, h.sess.layout, h.sess.records[row], h.sess.defaultFont, nil
}

// PostGenerate runs the full batch for the active session and returns
// the job result. When a mirror is configured the archive is copied
// off-host after the local write succeeds.
func (h *Handler) PostGenerate(w http.ResponseWriter, r *http.Request) error {
	var req generateRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		return errors.Validation("invalid json body")
	}

	h.mu.RLock()
	sess := h.sess
	h.mu.RUnlock()

	if sess.template == nil {
		return errors.Validation("no template uploaded")
	}
	if len(sess.layout) == 0 {
		return errors.Validation("no layout set")
	}
	if len(sess.records) == 0 {
		return errors.Validation("no records uploaded")
	}

	jobID := strings.TrimSpace(safeJobID.ReplaceAllString(req.FolderName, "_"))
	// "." and ".." survive the charset filter but would escape the
	// outputs area (or dump documents into its top level).
	if jobID == "" || jobID == "." || jobID == ".." {
		jobID = uuid.NewString()
	}

	job := pipeline.Job{
		ID:            jobID,
		Template:      sess.template,
		Layout:        sess.layout,
		Records:       sess.records,
		DefaultFont:   sess.defaultFont,
		FilenameField: sess.filenameField,
		OutputDir:     filepath.Join(h.cfg.Data.Outputs, jobID),
		ArchivePath:   filepath.Join(h.cfg.Data.Outputs, jobID+".zip"),
	}

	res, err := h.pipe.Run(r.Context(), job)
	if err != nil {
		return err
	}

	mirrored := h.mirrorArchive(r, res)

	httpkit.WriteJSON(w, http.StatusCreated, map[string]any{
		"job_id":    res.JobID,
		"documents": len(res.Documents),
		"failed":    res.Failed,
		"archive":   filepath.Base(res.Archive),
		"mirrored":  mirrored,
	})
	return nil
}

// mirrorArchive best-effort copies the finished archive off-host.
// Mirror failures never fail the job; the local archive is canonical.
func (h *Handler) mirrorArchive(r *http.Request, res *pipeline.Result) bool {
	if h.mirror == nil {
		return false
	}
	log := h.log.FromContext(r.Context()).WithJobID(res.JobID)

	f, err := os.Open(res.Archive)
	if err != nil {
		log.Warn("archive mirror skipped", "error", err.Error())
		return false
	}
	defer f.Close()

	st, _ := f.Stat()
	var size int64
	if st != nil {
		size = st.Size()
	}

	out, err := h.mirror.PutObject(r.Context(), ports.PutObjectInput{
		ObjectKey:   filepath.Base(res.Archive),
		ContentType: "application/zip",
		Reader:      f,
		Size:        size,
	})
	if err != nil {
		log.Warn("archive mirror failed", "provider", h.mirror.Provider(), "error", err.Error())
		return false
	}
	log.Info("archive mirrored", "provider", h.mirror.Provider(), "object_key", out.ObjectKey)
	return true
}

// GetArchive streams a finished archive. The name must be a bare
// `.zip` filename; anything resembling a path is rejected.
func (h *Handler) GetArchive(w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "archive")
	if name == "" || name != filepath.Base(name) || !strings.EqualFold(filepath.Ext(name), ".zip") {
		return errors.ValidationField("archive", "invalid archive name")
	}

	path := filepath.Join(h.cfg.Data.Outputs, name)
	if _, err := os.Stat(path); err != nil {
		return errors.NotFound("archive", name)
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(name))
	http.ServeFile(w, r, path)
	return nil
}

// GetStatus summarizes the session: what is uploaded and whether a
// batch can run.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ready := h.sess.template != nil && len(h.sess.layout) > 0 && len(h.sess.records) > 0
	status := map[string]any{
		"template_loaded": h.sess.template != nil,
		"records":         len(h.sess.records),
		"placeholders":    len(h.sess.layout),
		"ready":           ready,
	}
	if h.sess.templateName != "" {
		status["template_name"] = h.sess.templateName
	}
	httpkit.WriteJSON(w, http.StatusOK, status)
	return nil
}
