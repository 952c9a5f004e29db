package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"certmill/internal/httpkit"
	"certmill/internal/pkg/errors"
	"certmill/internal/records"
)

// PostRecords accepts a multipart CSV, stores it in the temp-inputs
// area, parses it, and makes the rows the active record set.
func (h *Handler) PostRecords(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseMultipartForm(maxTemplateBytes); err != nil {
		return errors.Validation("invalid multipart body")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return errors.ValidationField("file", "record file is required")
	}
	defer file.Close()

	if ext := strings.ToLower(filepath.Ext(header.Filename)); ext != ".csv" {
		return errors.Validationf("unsupported record format %q, want .csv", ext)
	}

	name := fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102T150405"), filepath.Base(header.Filename))
	dst := filepath.Join(h.cfg.Data.TempInputs, name)

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, "records.upload", "failed to store record file")
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return errors.Wrap(err, "records.upload", "failed to store record file")
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return errors.Wrap(err, "records.upload", "failed to flush record file")
	}

	f, err := os.Open(dst)
	if err != nil {
		return errors.Wrap(err, "records.upload", "failed to reopen record file")
	}
	defer f.Close()

	headers, rows, err := records.ReadCSV(f)
	if err != nil {
		_ = os.Remove(dst)
		return err
	}
	if len(rows) == 0 {
		_ = os.Remove(dst)
		return errors.Validation("record file has no data rows")
	}

	h.mu.Lock()
	h.sess.recordsPath = dst
	h.sess.headers = headers
	h.sess.records = rows
	h.mu.Unlock()

	h.log.FromContext(r.Context()).Info("records uploaded",
		"name", header.Filename,
		"rows", len(rows),
	)

	httpkit.WriteJSON(w, http.StatusCreated, map[string]any{
		"headers": headers,
		"rows":    len(rows),
	})
	return nil
}

// GetRecordHeaders returns the column names of the active record set.
func (h *Handler) GetRecordHeaders(w http.ResponseWriter, r *http.Request) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.sess.headers) == 0 {
		return errors.NotFound("records", "active")
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{
		"headers": h.sess.headers,
		"rows":    len(h.sess.records),
	})
	return nil
}
