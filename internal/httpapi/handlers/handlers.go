package handlers

import (
	"context"
	"image"
	"sync"

	"certmill/internal/config"
	"certmill/internal/pipeline"
	"certmill/internal/pkg/logger"
	"certmill/internal/render"
	"certmill/internal/retention"
	"certmill/internal/storage"
)

// Runner executes one batch job. *pipeline.Pipeline is the production
// implementation.
type Runner interface {
	Run(ctx context.Context, job pipeline.Job) (*pipeline.Result, error)
}

type Deps struct {
	Cfg        config.Config
	Pipeline   Runner
	Compositor *render.Compositor
	Retention  *retention.Manager
	Scheduler  *retention.Scheduler
	// Mirror is the optional off-host archive copy; nil disables it.
	Mirror storage.Provider
	Log    *logger.Logger
}

// session is the mutable batch-setup state: the uploaded template, the
// parsed records and the placeholder layout. It belongs to the handler
// and is guarded by its mutex; callers own the sequencing (upload
// before generate).
type session struct {
	templatePath string
	templateName string
	template     image.Image

	recordsPath string
	headers     []string
	records     []render.Record

	layout        render.Layout
	defaultFont   string
	filenameField string
}

type Handler struct {
	cfg        config.Config
	pipe       Runner
	compositor *render.Compositor
	retention  *retention.Manager
	scheduler  *retention.Scheduler
	mirror     storage.Provider
	log        *logger.Logger

	mu   sync.RWMutex
	sess session
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Handler{
		cfg:        d.Cfg,
		pipe:       d.Pipeline,
		compositor: d.Compositor,
		retention:  d.Retention,
		scheduler:  d.Scheduler,
		mirror:     d.Mirror,
		log:        log.WithComponent("httpapi"),
	}
}
