// Package config loads service configuration from a YAML file with
// environment variable overrides. Environment variables use the
// CERTMILL_SECTION_FIELD convention and always win over file values.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"certmill/internal/pkg/errors"
	"certmill/internal/retention"
)

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Data      DataConfig      `yaml:"data"`
	Render    RenderConfig    `yaml:"render"`
	Retention RetentionConfig `yaml:"retention"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	Log       LogConfig       `yaml:"log"`
}

type HTTPConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DataConfig roots the storage areas. All area paths derive from Root
// unless set explicitly.
type DataConfig struct {
	Root            string `yaml:"root"`
	Outputs         string `yaml:"outputs"`
	TempInputs      string `yaml:"temp_inputs"`
	TemplateBackups string `yaml:"template_backups"`
	Fonts           string `yaml:"fonts"`
}

type RenderConfig struct {
	DefaultFont  string `yaml:"default_font"`
	FallbackFont string `yaml:"fallback_font"`
	MaxWorkers   int    `yaml:"max_workers"`
}

type RetentionConfig struct {
	WindowHours       int    `yaml:"window_hours"`
	TemplateKeepCount int    `yaml:"template_keep_count"`
	MaxArchives       int    `yaml:"max_archives"`
	Schedule          string `yaml:"schedule"`
}

// MirrorConfig configures the optional archive mirror.
// Provider is "none", "localfs" (secondary directory) or "gdrive".
type MirrorConfig struct {
	Provider string `yaml:"provider"`
	// Root is the localfs mirror directory.
	Root         string `yaml:"root"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	FolderID     string `yaml:"folder_id"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:           "8080",
			AllowedOrigins: []string{"*"},
		},
		Data: DataConfig{
			Root: "./data",
		},
		Render: RenderConfig{
			FallbackFont: "GoogleSans-Regular.ttf",
			MaxWorkers:   4,
		},
		Retention: RetentionConfig{
			WindowHours:       48,
			TemplateKeepCount: 2,
			MaxArchives:       100,
			Schedule:          "@hourly",
		},
		Mirror: MirrorConfig{Provider: "none"},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads the YAML file at path, fills defaults, applies env
// overrides, and resolves derived area paths. An empty path yields the
// defaults plus env overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "config.load", "failed to read config file %q", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "config.load", "failed to parse config file %q", path)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.HTTP.Port == "" {
		cfg.HTTP.Port = def.HTTP.Port
	}
	if len(cfg.HTTP.AllowedOrigins) == 0 {
		cfg.HTTP.AllowedOrigins = def.HTTP.AllowedOrigins
	}
	if cfg.Data.Root == "" {
		cfg.Data.Root = def.Data.Root
	}
	if cfg.Data.Outputs == "" {
		cfg.Data.Outputs = filepath.Join(cfg.Data.Root, "generated")
	}
	if cfg.Data.TempInputs == "" {
		cfg.Data.TempInputs = filepath.Join(cfg.Data.Root, "temp")
	}
	if cfg.Data.TemplateBackups == "" {
		cfg.Data.TemplateBackups = filepath.Join(cfg.Data.Root, "templates")
	}
	if cfg.Data.Fonts == "" {
		cfg.Data.Fonts = filepath.Join(cfg.Data.Root, "fonts")
	}
	if cfg.Render.FallbackFont == "" {
		cfg.Render.FallbackFont = def.Render.FallbackFont
	}
	if cfg.Render.MaxWorkers <= 0 {
		cfg.Render.MaxWorkers = def.Render.MaxWorkers
	}
	if cfg.Retention.WindowHours <= 0 {
		cfg.Retention.WindowHours = def.Retention.WindowHours
	}
	if cfg.Retention.TemplateKeepCount <= 0 {
		cfg.Retention.TemplateKeepCount = def.Retention.TemplateKeepCount
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = def.Retention.Schedule
	}
	if cfg.Mirror.Provider == "" {
		cfg.Mirror.Provider = "none"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.HTTP.Port = Env("CERTMILL_HTTP_PORT", cfg.HTTP.Port)
	cfg.Data.Root = Env("CERTMILL_DATA_ROOT", cfg.Data.Root)
	cfg.Render.DefaultFont = Env("CERTMILL_RENDER_DEFAULT_FONT", cfg.Render.DefaultFont)
	cfg.Render.MaxWorkers = IntEnv("CERTMILL_RENDER_MAX_WORKERS", cfg.Render.MaxWorkers)
	cfg.Retention.WindowHours = IntEnv("CERTMILL_RETENTION_WINDOW_HOURS", cfg.Retention.WindowHours)
	cfg.Retention.TemplateKeepCount = IntEnv("CERTMILL_RETENTION_TEMPLATE_KEEP_COUNT", cfg.Retention.TemplateKeepCount)
	cfg.Retention.MaxArchives = IntEnv("CERTMILL_RETENTION_MAX_ARCHIVES", cfg.Retention.MaxArchives)
	cfg.Retention.Schedule = Env("CERTMILL_RETENTION_SCHEDULE", cfg.Retention.Schedule)
	cfg.Mirror.Provider = Env("CERTMILL_MIRROR_PROVIDER", cfg.Mirror.Provider)
	cfg.Mirror.Root = Env("CERTMILL_MIRROR_ROOT", cfg.Mirror.Root)
	cfg.Mirror.ClientID = Env("CERTMILL_MIRROR_CLIENT_ID", cfg.Mirror.ClientID)
	cfg.Mirror.ClientSecret = Env("CERTMILL_MIRROR_CLIENT_SECRET", cfg.Mirror.ClientSecret)
	cfg.Mirror.RefreshToken = Env("CERTMILL_MIRROR_REFRESH_TOKEN", cfg.Mirror.RefreshToken)
	cfg.Mirror.FolderID = Env("CERTMILL_MIRROR_FOLDER_ID", cfg.Mirror.FolderID)
	cfg.Log.Level = Env("CERTMILL_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = Env("CERTMILL_LOG_FORMAT", cfg.Log.Format)
}

func validate(cfg Config) error {
	switch cfg.Mirror.Provider {
	case "none", "localfs", "gdrive":
	default:
		return errors.Validationf("unknown mirror provider %q", cfg.Mirror.Provider)
	}
	if cfg.Mirror.Provider == "localfs" && cfg.Mirror.Root == "" {
		return errors.Validation("localfs mirror requires root")
	}
	if cfg.Mirror.Provider == "gdrive" {
		if cfg.Mirror.ClientID == "" || cfg.Mirror.ClientSecret == "" || cfg.Mirror.RefreshToken == "" {
			return errors.Validation("gdrive mirror requires client_id, client_secret and refresh_token")
		}
	}
	return nil
}

// RetentionAreas maps the data layout onto the retention manager's
// three areas.
func (c Config) RetentionAreas() retention.Areas {
	return retention.Areas{
		Outputs:         c.Data.Outputs,
		TempInputs:      c.Data.TempInputs,
		TemplateBackups: c.Data.TemplateBackups,
	}
}

// RetentionPolicy converts the file representation into policy config.
func (c Config) RetentionPolicy() retention.Config {
	return retention.Config{
		Window:            time.Duration(c.Retention.WindowHours) * time.Hour,
		TemplateKeepCount: c.Retention.TemplateKeepCount,
		MaxArchives:       c.Retention.MaxArchives,
		Schedule:          c.Retention.Schedule,
	}
}

// EnsureDirs creates the data areas if absent.
func (c Config) EnsureDirs() error {
	for _, dir := range []string{c.Data.Outputs, c.Data.TempInputs, c.Data.TemplateBackups, c.Data.Fonts} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "config.dirs", "failed to create data dir %q", dir)
		}
	}
	return nil
}
