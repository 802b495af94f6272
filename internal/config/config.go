// Package config loads the YAML configuration of the staffavail tools.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cyp0633/staffavail/recurrence"
	"gopkg.in/yaml.v3"
)

const (
	defaultDatabasePath   = "staffavail.db"
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultForecastWindow = 365
	defaultCacheEntries   = 1000
)

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	// Path is a file path, or ":memory:" for a throwaway database.
	Path string `yaml:"path" json:"path"`
}

// LogConfig controls the slog handler built by Logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format" json:"format"`
}

// ConflictConfig tunes the conflict detector.
type ConflictConfig struct {
	// ForecastWindowDays bounds the check of rules that repeat forever.
	ForecastWindowDays int `yaml:"forecast_window_days" json:"forecast_window_days"`
	// ScheduleCacheEntries caps the compiled schedule cache. 0 disables it.
	ScheduleCacheEntries int `yaml:"schedule_cache_entries" json:"schedule_cache_entries"`
}

// Config is the top-level application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database" json:"database"`
	Log      LogConfig      `yaml:"log" json:"log"`
	Conflict ConflictConfig `yaml:"conflict" json:"conflict"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Path: defaultDatabasePath},
		Log:      LogConfig{Level: defaultLogLevel, Format: defaultLogFormat},
		Conflict: ConflictConfig{ForecastWindowDays: defaultForecastWindow, ScheduleCacheEntries: defaultCacheEntries},
	}
}

// Normalize fills in missing or unknown values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Database.Path == "" {
		c.Database.Path = defaultDatabasePath
	}

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		c.Log.Level = defaultLogLevel
	}

	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	switch c.Log.Format {
	case "text", "json":
	default:
		c.Log.Format = defaultLogFormat
	}

	if c.Conflict.ForecastWindowDays <= 0 {
		c.Conflict.ForecastWindowDays = defaultForecastWindow
	}
	if c.Conflict.ScheduleCacheEntries < 0 {
		c.Conflict.ScheduleCacheEntries = 0
	}
}

// ForecastWindow returns the configured window as a duration.
func (c *Config) ForecastWindow() time.Duration {
	return time.Duration(c.Conflict.ForecastWindowDays) * 24 * time.Hour
}

// ScheduleCache returns a cache sized from the config, or nil when caching is
// disabled.
func (c *Config) ScheduleCache() *recurrence.ScheduleCache {
	if c.Conflict.ScheduleCacheEntries == 0 {
		return nil
	}
	cfg := recurrence.DefaultCacheConfig
	cfg.MaxEntries = c.Conflict.ScheduleCacheEntries
	return recurrence.NewScheduleCache(cfg)
}

// Logger builds a logger writing to w according to the log settings.
func (c LogConfig) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written there with 0600
// permissions and returned. Otherwise the file is decoded and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// The defaults are still usable; let the caller decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save normalizes cfg and writes it to path atomically via a temp file and
// rename. The parent directory is created with 0700, the file ends up 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".staffavail-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
