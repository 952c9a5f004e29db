// Package retention reclaims disk space across the three storage
// areas written by the generation pipeline: finished outputs,
// temporary inputs, and template backups.
//
// Every pass is stateless: policies are re-evaluated from filesystem
// metadata on each invocation, and each deletion is independently
// fault-tolerant. There is no locking against concurrent batch
// writes; the retention window is assumed to dwarf job duration.
package retention

import (
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"certmill/internal/metrics"
	"certmill/internal/pkg/logger"
)

// Config holds the tunable retention policies.
type Config struct {
	// Window is the maximum age an output archive, job directory or
	// temp entry may reach before a non-forced pass removes it.
	Window time.Duration
	// TemplateKeepCount is how many template backups survive a
	// non-forced pass, newest first. Defaults to 2.
	TemplateKeepCount int
	// MaxArchives caps how many archives stay in the outputs area
	// after the age pass, oldest deleted first. 0 disables the cap.
	MaxArchives int
	// Schedule is the cron expression for periodic passes.
	Schedule string
}

// DefaultConfig mirrors the deployed defaults: 48h window, two backup
// templates kept, hourly passes.
func DefaultConfig() Config {
	return Config{
		Window:            48 * time.Hour,
		TemplateKeepCount: 2,
		MaxArchives:       100,
		Schedule:          "@hourly",
	}
}

// Areas names the three directories a manager owns.
type Areas struct {
	Outputs         string
	TempInputs      string
	TemplateBackups string
}

// Stats reports deleted-entry counts per policy for one pass.
type Stats struct {
	OldArchives        int `json:"old_archives"`
	JobDirs            int `json:"job_dirs"`
	TempFiles          int `json:"temp_files"`
	OldTemplateBackups int `json:"old_template_backups"`
}

func (s Stats) Total() int {
	return s.OldArchives + s.JobDirs + s.TempFiles + s.OldTemplateBackups
}

// Usage is the storage report, in megabytes rounded to two decimals.
type Usage struct {
	OutputsMB         float64 `json:"outputs_mb"`
	TempInputsMB      float64 `json:"temp_inputs_mb"`
	TemplateBackupsMB float64 `json:"template_backups_mb"`
	TotalMB           float64 `json:"total_mb"`
}

// Manager evaluates retention policies over the three storage areas.
type Manager struct {
	areas Areas
	log   *logger.Logger

	mu  sync.RWMutex
	cfg Config
}

func NewManager(areas Areas, cfg Config, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault()
	}
	if cfg.TemplateKeepCount <= 0 {
		cfg.TemplateKeepCount = 2
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Manager{
		areas: areas,
		cfg:   cfg,
		log:   log.WithComponent("retention"),
	}
}

// SetConfig swaps the policy configuration; the next pass uses it.
func (m *Manager) SetConfig(cfg Config) {
	if cfg.TemplateKeepCount <= 0 {
		cfg.TemplateKeepCount = 2
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

func (m *Manager) config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// FullCleanup runs all area policies in sequence and returns per-policy
// deleted counts. force ignores age and count thresholds.
func (m *Manager) FullCleanup(force bool) Stats {
	start := time.Now()
	stats := Stats{
		OldArchives:        m.CleanupArchives(force),
		JobDirs:            m.CleanupJobDirs(force),
		TempFiles:          m.CleanupTempInputs(force),
		OldTemplateBackups: m.CleanupTemplateBackups(force),
	}

	metrics.CleanupDeleted.WithLabelValues("old_archives").Add(float64(stats.OldArchives))
	metrics.CleanupDeleted.WithLabelValues("job_dirs").Add(float64(stats.JobDirs))
	metrics.CleanupDeleted.WithLabelValues("temp_files").Add(float64(stats.TempFiles))
	metrics.CleanupDeleted.WithLabelValues("old_template_backups").Add(float64(stats.OldTemplateBackups))

	m.log.Info("cleanup pass complete",
		"force", force,
		"deleted", stats.Total(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return stats
}

// CleanupArchives deletes output archives past the retention window
// (or all of them when forced), then enforces the archive-count cap
// oldest-first.
func (m *Manager) CleanupArchives(force bool) int {
	cfg := m.config()
	entries, err := os.ReadDir(m.areas.Outputs)
	if err != nil {
		return 0
	}

	deleted := 0
	now := time.Now()
	type archive struct {
		path string
		mod  time.Time
	}
	var remaining []archive

	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".zip") {
			continue
		}
		path := filepath.Join(m.areas.Outputs, e.Name())
		info, err := e.Info()
		if err != nil {
			continue
		}
		if force || now.Sub(info.ModTime()) > cfg.Window {
			if m.remove(path, "archive") {
				deleted++
			}
			continue
		}
		remaining = append(remaining, archive{path: path, mod: info.ModTime()})
	}

	// Count cap: newest survive.
	if !force && cfg.MaxArchives > 0 && len(remaining) > cfg.MaxArchives {
		sort.Slice(remaining, func(i, j int) bool {
			return remaining[i].mod.After(remaining[j].mod)
		})
		for _, a := range remaining[cfg.MaxArchives:] {
			if m.remove(a.path, "archive") {
				deleted++
			}
		}
	}
	return deleted
}

// CleanupJobDirs deletes job directories past the retention window,
// and empty ones regardless of age.
func (m *Manager) CleanupJobDirs(force bool) int {
	cfg := m.config()
	entries, err := os.ReadDir(m.areas.Outputs)
	if err != nil {
		return 0
	}

	deleted := 0
	now := time.Now()
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(m.areas.Outputs, e.Name())
		info, err := e.Info()
		if err != nil {
			continue
		}

		expired := now.Sub(info.ModTime()) > cfg.Window
		if force || expired || isEmptyDir(path) {
			if m.removeAll(path, "job dir") {
				deleted++
			}
		}
	}
	return deleted
}

// CleanupTempInputs deletes every temp entry, file or directory, past
// the retention window, measured uniformly by last-modified time.
func (m *Manager) CleanupTempInputs(force bool) int {
	cfg := m.config()
	entries, err := os.ReadDir(m.areas.TempInputs)
	if err != nil {
		return 0
	}

	deleted := 0
	now := time.Now()
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !force && now.Sub(info.ModTime()) <= cfg.Window {
			continue
		}
		path := filepath.Join(m.areas.TempInputs, e.Name())
		ok := false
		if e.IsDir() {
			ok = m.removeAll(path, "temp dir")
		} else {
			ok = m.remove(path, "temp file")
		}
		if ok {
			deleted++
		}
	}
	return deleted
}

// CleanupTemplateBackups keeps the newest TemplateKeepCount backups
// and deletes the rest regardless of age. force deletes every file.
func (m *Manager) CleanupTemplateBackups(force bool) int {
	cfg := m.config()
	entries, err := os.ReadDir(m.areas.TemplateBackups)
	if err != nil {
		return 0
	}

	type backup struct {
		path string
		mod  time.Time
	}
	var backups []backup
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backup{
			path: filepath.Join(m.areas.TemplateBackups, e.Name()),
			mod:  info.ModTime(),
		})
	}

	deleted := 0
	if force {
		for _, b := range backups {
			if m.remove(b.path, "template backup") {
				deleted++
			}
		}
		return deleted
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].mod.After(backups[j].mod)
	})
	for _, b := range backups[min(cfg.TemplateKeepCount, len(backups)):] {
		if m.remove(b.path, "template backup") {
			deleted++
		}
	}
	return deleted
}

// StorageInfo sums file sizes recursively per area.
func (m *Manager) StorageInfo() Usage {
	outputs := dirSize(m.areas.Outputs)
	temp := dirSize(m.areas.TempInputs)
	backups := dirSize(m.areas.TemplateBackups)

	metrics.StorageBytes.WithLabelValues("outputs").Set(float64(outputs))
	metrics.StorageBytes.WithLabelValues("temp_inputs").Set(float64(temp))
	metrics.StorageBytes.WithLabelValues("template_backups").Set(float64(backups))

	return Usage{
		OutputsMB:         toMB(outputs),
		TempInputsMB:      toMB(temp),
		TemplateBackupsMB: toMB(backups),
		TotalMB:           toMB(outputs + temp + backups),
	}
}

// remove deletes a single file; failures are logged, never fatal.
func (m *Manager) remove(path, kind string) bool {
	if err := os.Remove(path); err != nil {
		m.log.Warn("failed to delete entry",
			"kind", kind,
			"path", path,
			"error", err.Error(),
		)
		return false
	}
	m.log.Debug("deleted entry", "kind", kind, "path", path)
	return true
}

func (m *Manager) removeAll(path, kind string) bool {
	if err := os.RemoveAll(path); err != nil {
		m.log.Warn("failed to delete entry",
			"kind", kind,
			"path", path,
			"error", err.Error(),
		)
		return false
	}
	m.log.Debug("deleted entry", "kind", kind, "path", path)
	return true
}

func isEmptyDir(path string) bool {
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) == 0
}

func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

func toMB(bytes int64) float64 {
	return math.Round(float64(bytes)/(1024*1024)*100) / 100
}
