package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoad_DefaultsWhenSaveFails(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "conf")
	require.NoError(t, os.Symlink(filepath.Join(dir, "nowhere"), link))

	cfg, err := Load(filepath.Join(link, "config.yaml"))
	assert.Error(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_PartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("database:\n  path: /var/lib/staffavail/data.db\nlog:\n  level: DEBUG\n  format: xml\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/staffavail/data.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 365, cfg.Conflict.ForecastWindowDays)
	assert.Equal(t, 365*24*time.Hour, cfg.ForecastWindow())
	// Absent means disabled.
	assert.Nil(t, cfg.ScheduleCache())
}

func TestConfig_ScheduleCache(t *testing.T) {
	cache := DefaultConfig().ScheduleCache()
	require.NotNil(t, cache)
	defer cache.Close()
	assert.Equal(t, 0, cache.Stats().Entries)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database: [unclosed"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)

	assert.Error(t, Save(path, nil))
	assert.Error(t, Save("", DefaultConfig()))
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Conflict.ForecastWindowDays = 90
	cfg.Log.Format = "json"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestNormalize(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: " Warn "}, Conflict: ConflictConfig{ForecastWindowDays: -3, ScheduleCacheEntries: -1}}
	cfg.Normalize()
	assert.Equal(t, 0, cfg.Conflict.ScheduleCacheEntries)
	assert.Nil(t, cfg.ScheduleCache())
	assert.Equal(t, "staffavail.db", cfg.Database.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 365, cfg.Conflict.ForecastWindowDays)
}

func TestLogConfig_Logger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.Logger(&buf)

	logger.Info("dropped")
	logger.Warn("kept", "rule_id", "r1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "r1", entry["rule_id"])

	buf.Reset()
	LogConfig{Level: "bogus", Format: "text"}.Logger(&buf).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}
