// Package pipeline fans record rendering out across a bounded worker
// pool and gathers the results into an ordered, archived document set.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"certmill/internal/document"
	"certmill/internal/metrics"
	"certmill/internal/pkg/errors"
	"certmill/internal/pkg/logger"
	"certmill/internal/render"
)

// defaultNameField supplies the filename stem when no filename field
// is designated or the designated field is empty for a record.
const defaultNameField = "name"

// unsafeFilenameChars matches everything that may not appear in a
// document filename stem.
var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.\- ]`)

// Renderer composites one record over the template.
// *render.Compositor is the production implementation.
type Renderer interface {
	Render(tpl image.Image, layout render.Layout, rec render.Record, defaultFont string) (*image.RGBA, error)
}

// Packager converts frames to documents and documents to an archive.
// *document.Packager is the production implementation.
type Packager interface {
	ToPDF(img image.Image, dst string) error
	Archive(docs []string, dst string) error
}

var _ Packager = (*document.Packager)(nil)

type Deps struct {
	Compositor Renderer
	Packager   Packager
	// MaxWorkers bounds the per-job worker pool; defaults to 4.
	MaxWorkers int
	Log        *logger.Logger
}

// Pipeline orchestrates record → image → document conversion for one
// batch invocation and hands the survivors to the packager.
type Pipeline struct {
	compositor Renderer
	packager   Packager
	maxWorkers int
	log        *logger.Logger
}

func New(d Deps) *Pipeline {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	workers := d.MaxWorkers
	if workers <= 0 {
		workers = 4
	}
	return &Pipeline{
		compositor: d.Compositor,
		packager:   d.Packager,
		maxWorkers: workers,
		log:        log.WithComponent("pipeline"),
	}
}

// Job is one batch invocation. All fields are read-only during the run.
type Job struct {
	ID       string
	Template image.Image
	Layout   render.Layout
	Records  []render.Record
	// DefaultFont applies to placeholders that declare no font of
	// their own; like FilenameField it travels with the job, not the
	// renderer.
	DefaultFont   string
	FilenameField string
	// OutputDir is the per-job document directory; created if absent.
	OutputDir string
	// ArchivePath is where the finished zip is written.
	ArchivePath string
}

// Result is the durable record of one job's output files. Documents
// are ordered by original record index; len(Documents) ≤ len(Records).
type Result struct {
	JobID     string   `json:"job_id"`
	Documents []string `json:"documents"`
	Archive   string   `json:"archive"`
	Failed    int      `json:"failed"`
}

// Run executes the batch. It aborts only on an empty record set, a
// malformed layout, or a wholly empty result; individual record
// failures are logged and dropped. Workers run to completion once
// started; there is no partial-cancellation contract.
func (p *Pipeline) Run(ctx context.Context, job Job) (*Result, error) {
	log := p.log.FromContext(ctx).WithJobID(job.ID)

	if len(job.Records) == 0 {
		metrics.JobsTotal.WithLabelValues("rejected").Inc()
		return nil, errors.Validation("no records to process")
	}
	if err := job.Layout.Validate(); err != nil {
		metrics.JobsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		metrics.JobsTotal.WithLabelValues("failed").Inc()
		return nil, errors.Wrap(err, "pipeline.run", "failed to create job directory")
	}

	workers := p.maxWorkers
	if len(job.Records) < workers {
		workers = len(job.Records)
	}
	log.Info("starting batch render",
		"records", len(job.Records),
		"workers", workers,
	)

	// Indexed result slots: no ordering dependency on completion.
	produced := make([]string, len(job.Records))
	var mu sync.Mutex
	failed := 0

	var eg errgroup.Group
	eg.SetLimit(workers)
	for i, rec := range job.Records {
		eg.Go(func() error {
			path, err := p.renderOne(job, i+1, rec)
			if err != nil {
				// Per-record failures never abort siblings.
				log.Warn("record dropped",
					"record", i+1,
					"error", err.Error(),
				)
				metrics.RecordFailures.Inc()
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			produced[i] = path
			return nil
		})
	}
	_ = eg.Wait()

	docs := make([]string, 0, len(produced))
	for _, path := range produced {
		if path != "" {
			docs = append(docs, path)
		}
	}
	// Filename sort restores original record order via the zero-padded
	// index prefix, regardless of worker completion order.
	sort.Strings(docs)

	if len(docs) == 0 {
		metrics.JobsTotal.WithLabelValues("failed").Inc()
		return nil, errors.Internalf("all %d records failed to render", len(job.Records))
	}

	if err := p.packager.Archive(docs, job.ArchivePath); err != nil {
		metrics.JobsTotal.WithLabelValues("failed").Inc()
		return nil, errors.Wrap(err, "pipeline.run", "failed to package archive")
	}

	metrics.JobsTotal.WithLabelValues("ok").Inc()
	metrics.DocumentsRendered.Add(float64(len(docs)))
	log.Info("batch complete",
		"documents", len(docs),
		"failed", failed,
		"archive", filepath.Base(job.ArchivePath),
	)

	return &Result{
		JobID:     job.ID,
		Documents: docs,
		Archive:   job.ArchivePath,
		Failed:    failed,
	}, nil
}

func (p *Pipeline) renderOne(job Job, index int, rec render.Record) (string, error) {
	img, err := p.compositor.Render(job.Template, job.Layout, rec, job.DefaultFont)
	if err != nil {
		return "", err
	}

	name := documentName(index, rec, job.FilenameField)
	dst := filepath.Join(job.OutputDir, name)
	if err := p.packager.ToPDF(img, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// documentName builds `<3-digit-index>_<sanitized-stem>.pdf`. The stem
// comes from the designated filename field, then the default field,
// then the index itself, so lexical sort order equals record order.
func documentName(index int, rec render.Record, filenameField string) string {
	stem := ""
	if filenameField != "" {
		stem = rec[filenameField]
	}
	if stem == "" {
		stem = rec[defaultNameField]
	}
	stem = strings.TrimSpace(sanitizeFilename(stem))
	if stem == "" {
		stem = fmt.Sprintf("%03d", index)
	}
	return fmt.Sprintf("%03d_%s.pdf", index, stem)
}

func sanitizeFilename(s string) string {
	return unsafeFilenameChars.ReplaceAllString(s, "_")
}
