package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"certmill/internal/config"
	"certmill/internal/pipeline"
	"certmill/internal/render"
	"certmill/internal/retention"
)

type fakeRunner struct {
	lastJob pipeline.Job
	err     error
}

func (f *fakeRunner) Run(_ context.Context, job pipeline.Job) (*pipeline.Result, error) {
	f.lastJob = job
	if f.err != nil {
		return nil, f.err
	}
	if err := os.WriteFile(job.ArchivePath, []byte("zip"), 0o644); err != nil {
		return nil, err
	}
	return &pipeline.Result{
		JobID:     job.ID,
		Documents: []string{"001_a.pdf"},
		Archive:   job.ArchivePath,
	}, nil
}

func newTestHandler(t *testing.T) (*Handler, *fakeRunner) {
	t.Helper()
	cfg := config.Default()
	cfg.Data.Root = t.TempDir()
	cfg.Data.Outputs = filepath.Join(cfg.Data.Root, "generated")
	cfg.Data.TempInputs = filepath.Join(cfg.Data.Root, "temp")
	cfg.Data.TemplateBackups = filepath.Join(cfg.Data.Root, "templates")
	cfg.Data.Fonts = filepath.Join(cfg.Data.Root, "fonts")
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatal(err)
	}

	runner := &fakeRunner{}
	fonts := render.NewFontResolver(cfg.Data.Fonts, "")
	h := New(Deps{
		Cfg:        cfg,
		Pipeline:   runner,
		Compositor: render.NewCompositor(fonts, "", nil),
		Retention:  retention.NewManager(cfg.RetentionAreas(), retention.DefaultConfig(), nil),
	})
	return h, runner
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatal(err)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func uploadTemplate(t *testing.T, h *Handler) {
	t.Helper()
	body, ct := multipartBody(t, "file", "cert.png", pngBytes(t))
	req := httptest.NewRequest("POST", "/template", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	if err := h.PostTemplate(rec, req); err != nil {
		t.Fatalf("PostTemplate failed: %v", err)
	}
}

func uploadRecords(t *testing.T, h *Handler) {
	t.Helper()
	body, ct := multipartBody(t, "file", "people.csv", []byte("name,email\nJane,j@x.io\nJohn,jo@x.io\n"))
	req := httptest.NewRequest("POST", "/records", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	if err := h.PostRecords(rec, req); err != nil {
		t.Fatalf("PostRecords failed: %v", err)
	}
}

func setLayout(t *testing.T, h *Handler) {
	t.Helper()
	body := `{"placeholders":{"name":{"x":2,"y":2,"width":30,"height":10,"label":"name"}},"default_font":"GoogleSans-Regular.ttf","filename_field":"email"}`
	req := httptest.NewRequest("POST", "/layout", strings.NewReader(body))
	rec := httptest.NewRecorder()
	if err := h.PostLayout(rec, req); err != nil {
		t.Fatalf("PostLayout failed: %v", err)
	}
}

func TestStatusProgression(t *testing.T) {
	h, _ := newTestHandler(t)

	status := func() map[string]any {
		rec := httptest.NewRecorder()
		if err := h.GetStatus(rec, httptest.NewRequest("GET", "/status", nil)); err != nil {
			t.Fatal(err)
		}
		var out map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatal(err)
		}
		return out
	}

	if s := status(); s["ready"] != false {
		t.Error("fresh session should not be ready")
	}

	uploadTemplate(t, h)
	uploadRecords(t, h)
	setLayout(t, h)

	if s := status(); s["ready"] != true {
		t.Errorf("session should be ready after full setup, got %v", s)
	}
}

func TestPostTemplateRejectsUnknownExtension(t *testing.T) {
	h, _ := newTestHandler(t)
	body, ct := multipartBody(t, "file", "cert.gif", []byte("gif"))
	req := httptest.NewRequest("POST", "/template", body)
	req.Header.Set("Content-Type", ct)
	if err := h.PostTemplate(httptest.NewRecorder(), req); err == nil {
		t.Fatal("expected error for .gif template")
	}
}

func TestPostRecordsParsesCSV(t *testing.T) {
	h, _ := newTestHandler(t)
	uploadRecords(t, h)

	rec := httptest.NewRecorder()
	if err := h.GetRecordHeaders(rec, httptest.NewRequest("GET", "/records/headers", nil)); err != nil {
		t.Fatalf("GetRecordHeaders failed: %v", err)
	}
	var out struct {
		Headers []string `json:"headers"`
		Rows    int      `json:"rows"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Headers) != 2 || out.Rows != 2 {
		t.Errorf("got headers=%v rows=%d, want 2 headers and 2 rows", out.Headers, out.Rows)
	}
}

func TestPostLayoutRejectsMalformedBox(t *testing.T) {
	h, _ := newTestHandler(t)
	body := `{"placeholders":{"name":{"x":1,"y":1,"width":-5,"height":10,"label":"name"}}}`
	req := httptest.NewRequest("POST", "/layout", strings.NewReader(body))
	if err := h.PostLayout(httptest.NewRecorder(), req); err == nil {
		t.Fatal("expected validation error for negative width")
	}
}

func TestPostPreviewReturnsPNG(t *testing.T) {
	h, _ := newTestHandler(t)
	uploadTemplate(t, h)
	uploadRecords(t, h)
	setLayout(t, h)

	req := httptest.NewRequest("POST", "/preview", strings.NewReader(`{"row_index":0}`))
	rec := httptest.NewRecorder()
	if err := h.PostPreview(rec, req); err != nil {
		t.Fatalf("PostPreview failed: %v", err)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	if _, err := png.Decode(rec.Body); err != nil {
		t.Errorf("preview body is not a PNG: %v", err)
	}
}

func TestPostPreviewRowOutOfRange(t *testing.T) {
	h, _ := newTestHandler(t)
	uploadTemplate(t, h)
	uploadRecords(t, h)
	setLayout(t, h)

	req := httptest.NewRequest("POST", "/preview", strings.NewReader(`{"row_index":9}`))
	if err := h.PostPreview(httptest.NewRecorder(), req); err == nil {
		t.Fatal("expected error for out-of-range row")
	}
}

func TestPostGenerateRunsJob(t *testing.T) {
	h, runner := newTestHandler(t)
	uploadTemplate(t, h)
	uploadRecords(t, h)
	setLayout(t, h)

	req := httptest.NewRequest("POST", "/generate", strings.NewReader(`{"folder_name":"batch one"}`))
	rec := httptest.NewRecorder()
	if err := h.PostGenerate(rec, req); err != nil {
		t.Fatalf("PostGenerate failed: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
	if runner.lastJob.ID != "batch one" {
		t.Errorf("job ID = %q, want sanitized folder name", runner.lastJob.ID)
	}
	if runner.lastJob.FilenameField != "email" {
		t.Errorf("FilenameField = %q, want email from layout", runner.lastJob.FilenameField)
	}
	if runner.lastJob.DefaultFont != "GoogleSans-Regular.ttf" {
		t.Errorf("DefaultFont = %q, want the session's default font", runner.lastJob.DefaultFont)
	}
	if len(runner.lastJob.Records) != 2 {
		t.Errorf("job got %d records, want 2", len(runner.lastJob.Records))
	}
}

func TestPostGenerateDotFolderNamesGetFreshIDs(t *testing.T) {
	h, runner := newTestHandler(t)
	uploadTemplate(t, h)
	uploadRecords(t, h)
	setLayout(t, h)

	for _, name := range []string{".", "..", " .. ", ""} {
		body, _ := json.Marshal(generateRequest{FolderName: name})
		req := httptest.NewRequest("POST", "/generate", bytes.NewReader(body))
		if err := h.PostGenerate(httptest.NewRecorder(), req); err != nil {
			t.Fatalf("PostGenerate(%q) failed: %v", name, err)
		}
		if id := runner.lastJob.ID; id == "." || id == ".." || id == "" {
			t.Errorf("folder name %q produced job ID %q", name, id)
		}
		outDir := filepath.Clean(runner.lastJob.OutputDir)
		if filepath.Dir(outDir) != filepath.Clean(h.cfg.Data.Outputs) {
			t.Errorf("folder name %q escaped the outputs area: %s", name, outDir)
		}
	}
}

func TestPostGenerateWithoutSetupFails(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest("POST", "/generate", strings.NewReader(`{}`))
	if err := h.PostGenerate(httptest.NewRecorder(), req); err == nil {
		t.Fatal("expected error for empty session")
	}
}

func TestGetArchiveRejectsPathTraversal(t *testing.T) {
	h, _ := newTestHandler(t)
	for _, name := range []string{"../secret.zip", "nested/x.zip", "report.pdf", ""} {
		req := httptest.NewRequest("GET", "/downloads/x", nil)
		req = withChiParam(req, "archive", name)
		if err := h.GetArchive(httptest.NewRecorder(), req); err == nil {
			t.Errorf("archive name %q should be rejected", name)
		}
	}
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestPostCleanupForce(t *testing.T) {
	h, _ := newTestHandler(t)
	if err := os.WriteFile(filepath.Join(h.cfg.Data.Outputs, "old.zip"), []byte("zip"), 0o644); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("POST", "/storage/cleanup", strings.NewReader(`{"force":true}`))
	rec := httptest.NewRecorder()
	if err := h.PostCleanup(rec, req); err != nil {
		t.Fatalf("PostCleanup failed: %v", err)
	}
	var out struct {
		Deleted int  `json:"deleted"`
		Forced  bool `json:"forced"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if !out.Forced || out.Deleted != 1 {
		t.Errorf("got %+v, want forced deletion of 1 entry", out)
	}
}
