package handlers

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"certmill/internal/httpkit"
	"certmill/internal/pkg/errors"
)

// maxTemplateBytes bounds the multipart parse buffer for uploads.
const maxTemplateBytes = 32 << 20

var allowedTemplateExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// PostTemplate accepts a multipart template image, stores a
// timestamped copy in the backups area, and makes it the active
// template for subsequent previews and batches.
func (h *Handler) PostTemplate(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseMultipartForm(maxTemplateBytes); err != nil {
		return errors.Validation("invalid multipart body")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return errors.ValidationField("file", "template file is required")
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedTemplateExts[ext] {
		return errors.Validationf("unsupported template format %q, want .png/.jpg/.jpeg", ext)
	}

	name := fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102T150405"), filepath.Base(header.Filename))
	dst := filepath.Join(h.cfg.Data.TemplateBackups, name)

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, "templates.upload", "failed to store template")
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return errors.Wrap(err, "templates.upload", "failed to store template")
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return errors.Wrap(err, "templates.upload", "failed to flush template")
	}

	img, err := loadImage(dst)
	if err != nil {
		_ = os.Remove(dst)
		return errors.Validation("template is not a decodable image")
	}

	h.mu.Lock()
	h.sess.templatePath = dst
	h.sess.templateName = header.Filename
	h.sess.template = img
	h.mu.Unlock()

	bounds := img.Bounds()
	h.log.FromContext(r.Context()).Info("template uploaded",
		"name", header.Filename,
		"width", bounds.Dx(),
		"height", bounds.Dy(),
	)

	httpkit.WriteJSON(w, http.StatusCreated, map[string]any{
		"template": map[string]any{
			"name":   header.Filename,
			"stored": name,
			"width":  bounds.Dx(),
			"height": bounds.Dy(),
		},
	})
	return nil
}

// GetTemplate reports the active template, if any.
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.sess.template == nil {
		return errors.NotFound("template", "active")
	}
	bounds := h.sess.template.Bounds()
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{
		"template": map[string]any{
			"name":   h.sess.templateName,
			"width":  bounds.Dx(),
			"height": bounds.Dy(),
		},
	})
	return nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}
