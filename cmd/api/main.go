package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"certmill/internal/config"
	"certmill/internal/document"
	"certmill/internal/httpapi"
	"certmill/internal/httpapi/handlers"
	"certmill/internal/pipeline"
	"certmill/internal/pkg/logger"
	"certmill/internal/pkg/shutdown"
	"certmill/internal/render"
	"certmill/internal/retention"
	"certmill/internal/storage"
)

func main() {
	configPath := flag.String("config", config.Env("CERTMILL_CONFIG", ""), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault().LogFatal("failed to load configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "certmill-api",
		AddSource:   config.BoolEnv("LOG_SOURCE", false),
	})

	log.Info("starting certmill API",
		"version", "0.1.0",
		"data_root", cfg.Data.Root,
	)

	if err := cfg.EnsureDirs(); err != nil {
		log.LogFatal("failed to prepare data directories", err)
	}

	// Initialize shutdown manager
	shutdownMgr := shutdown.NewManager(log, 30*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	shutdownMgr.RegisterSimple("background-jobs", cancel)

	// Rendering stack
	fonts := render.NewFontResolver(cfg.Data.Fonts, cfg.Render.FallbackFont)
	compositor := render.NewCompositor(fonts, cfg.Render.DefaultFont, log)
	packager := document.NewPackager()

	pipe := pipeline.New(pipeline.Deps{
		Compositor: compositor,
		Packager:   packager,
		MaxWorkers: cfg.Render.MaxWorkers,
		Log:        log,
	})

	// Retention manager plus its cron scheduler
	manager := retention.NewManager(cfg.RetentionAreas(), cfg.RetentionPolicy(), log)
	scheduler := retention.NewScheduler(manager, log)
	if err := scheduler.Start(ctx); err != nil {
		log.LogFatal("failed to start cleanup scheduler", err)
	}
	shutdownMgr.RegisterSimple("cleanup-scheduler", scheduler.Stop)

	// Config hot-reload: retention policy changes apply without restart.
	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, log, func(next config.Config) {
				manager.SetConfig(next.RetentionPolicy())
			})
			if err != nil {
				log.LogError(ctx, "config watcher exited", err)
			}
		}()
	}

	// Optional off-host archive mirror
	mirror, err := storage.NewMirror(cfg.Mirror)
	if err != nil {
		log.LogFatal("failed to initialize archive mirror", err)
	}
	if mirror != nil {
		log.Info("archive mirror enabled", "provider", mirror.Provider())
	}

	router := httpapi.NewRouter(handlers.Deps{
		Cfg:        cfg,
		Pipeline:   pipe,
		Compositor: compositor,
		Retention:  manager,
		Scheduler:  scheduler,
		Mirror:     mirror,
		Log:        log,
	})

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening",
			"addr", server.Addr,
			"port", cfg.HTTP.Port,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait()
}
