package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"certmill/internal/httpapi/handlers"
	"certmill/internal/httpkit"
	"certmill/internal/metrics"
	"certmill/internal/pkg/logger"
	"certmill/internal/pkg/middleware"
)

func NewRouter(d handlers.Deps) http.Handler {
	r := chi.NewRouter()

	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Timeout(120 * time.Second))

	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins:   d.Cfg.HTTP.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAgeSeconds:    600,
	}))

	h := handlers.New(d)
	wrap := func(fn middleware.ErrorHandlerFunc) http.HandlerFunc {
		return middleware.WrapHandler(log, fn)
	}

	// ---- HEALTH / METRICS ----
	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	// ---- BATCH SETUP ----
	r.Post("/template", wrap(h.PostTemplate))
	r.Get("/template", wrap(h.GetTemplate))
	r.Post("/records", wrap(h.PostRecords))
	r.Get("/records/headers", wrap(h.GetRecordHeaders))
	r.Post("/layout", wrap(h.PostLayout))
	r.Get("/layout", wrap(h.GetLayout))
	r.Get("/status", wrap(h.GetStatus))

	// ---- GENERATION ----
	r.Post("/preview", wrap(h.PostPreview))
	r.Post("/generate", wrap(h.PostGenerate))
	r.Get("/downloads/{archive}", wrap(h.GetArchive))

	// ---- STORAGE ----
	r.Get("/storage", wrap(h.GetStorageInfo))
	r.Post("/storage/cleanup", wrap(h.PostCleanup))

	return r
}
