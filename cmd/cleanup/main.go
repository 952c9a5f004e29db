// Command cleanup runs a one-shot retention pass over the data areas
// and prints the resulting storage report. It shares configuration
// with the API server.
package main

import (
	"encoding/json"
	"flag"
	"os"

	"certmill/internal/config"
	"certmill/internal/pkg/logger"
	"certmill/internal/retention"
)

func main() {
	configPath := flag.String("config", config.Env("CERTMILL_CONFIG", ""), "path to YAML config file")
	force := flag.Bool("force", false, "ignore age and count thresholds; empty all areas")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault().LogFatal("failed to load configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "certmill-cleanup",
	})

	manager := retention.NewManager(cfg.RetentionAreas(), cfg.RetentionPolicy(), log)

	stats := manager.FullCleanup(*force)
	usage := manager.StorageInfo()

	report := map[string]any{
		"forced":  *force,
		"deleted": stats.Total(),
		"stats":   stats,
		"usage":   usage,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.LogFatal("failed to write report", err)
	}
}
