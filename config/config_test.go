package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/config"
)

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "allocation.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Calendar.CheckOnStartup)
	assert.Zero(t, cfg.Calendar.CheckInterval)
}

func TestLoad_TOMLFile(t *testing.T) {
	path := writeFile(t, "alloc.toml", `
[server]
port = 9090

[database]
path = "/var/lib/alloc.db"

[log]
level = "debug"
format = "json"

[calendar]
check_on_startup = false
check_interval = "15m"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/var/lib/alloc.db", cfg.Database.Path)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Calendar.CheckOnStartup)
	assert.Equal(t, 15*time.Minute, cfg.Calendar.CheckInterval)
	// Untouched sections keep their defaults
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, "alloc.yaml", `
server:
  port: 7070
  cors_origins: ["https://planner.example.com"]
log:
  level: warn
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, []string{"https://planner.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "alloc.toml", "[server]\nport = 9090\n")
	t.Setenv("ALLOC_PORT", "6060")
	t.Setenv("ALLOC_DB_PATH", ":memory:")
	t.Setenv("ALLOC_LOG_LEVEL", "ERROR")
	t.Setenv("ALLOC_CALENDAR_CHECK_INTERVAL", "1h")
	t.Setenv("ALLOC_CORS_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6060, cfg.Server.Port)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, time.Hour, cfg.Calendar.CheckInterval)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CORSOrigins)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("bad port", func(t *testing.T) {
		t.Setenv("ALLOC_PORT", "70000")
		_, err := config.Load("")
		assert.ErrorContains(t, err, "invalid config")
	})

	t.Run("unparsable port", func(t *testing.T) {
		t.Setenv("ALLOC_PORT", "eighty")
		_, err := config.Load("")
		assert.ErrorContains(t, err, "ALLOC_PORT")
	})

	t.Run("bad log format", func(t *testing.T) {
		t.Setenv("ALLOC_LOG_FORMAT", "xml")
		_, err := config.Load("")
		assert.Error(t, err)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := writeFile(t, "alloc.ini", "port=1")
		_, err := config.Load(path)
		assert.ErrorContains(t, err, "unsupported config file format")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
		assert.Error(t, err)
	})
}

func TestNewLogger(t *testing.T) {
	logger, err := config.NewLogger(config.LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	_, err = config.NewLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
