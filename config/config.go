/*
config.go - Server configuration

PURPOSE:
  Loads the settings of the allocation engine server and builds its logger.

SOURCES (later wins):
  1. Defaults (DefaultConfig)
  2. Config file: .toml, .yaml or .yml, chosen by extension
  3. .env in the working directory (optional)
  4. ALLOC_* environment variables

ENVIRONMENT:
  ALLOC_PORT                       Server.Port
  ALLOC_DB_PATH                    Database.Path (":memory:" for in-memory)
  ALLOC_CORS_ORIGINS               Server.CORSOrigins, comma separated
  ALLOC_LOG_LEVEL                  Log.Level (debug, info, warn, error)
  ALLOC_LOG_FORMAT                 Log.Format (text, json)
  ALLOC_CALENDAR_CHECK_ON_STARTUP  Calendar.CheckOnStartup
  ALLOC_CALENDAR_CHECK_INTERVAL    Calendar.CheckInterval (Go duration, 0 disables)

SEE ALSO:
  - cmd/server/main.go: Flags override the loaded values
*/
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds all server configuration.
type Config struct {
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Database DatabaseConfig `toml:"database" yaml:"database"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Calendar CalendarConfig `toml:"calendar" yaml:"calendar"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Port            int           `toml:"port" yaml:"port" validate:"min=1,max=65535"`
	CORSOrigins     []string      `toml:"cors_origins" yaml:"cors_origins"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `toml:"path" yaml:"path" validate:"required"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `toml:"format" yaml:"format" validate:"oneof=text json"`
}

// CalendarConfig controls the fiscal calendar consistency check.
type CalendarConfig struct {
	CheckOnStartup bool `toml:"check_on_startup" yaml:"check_on_startup"`
	// CheckInterval reruns the check periodically; zero disables it.
	CheckInterval time.Duration `toml:"check_interval" yaml:"check_interval" validate:"gte=0"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			CORSOrigins:     []string{"http://localhost:5173", "http://localhost:8080"},
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{Path: "allocation.db"},
		Log:      LogConfig{Level: "info", Format: "text"},
		Calendar: CalendarConfig{CheckOnStartup: true},
	}
}

// Load builds the configuration. path may be empty to skip the file.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	// .env is optional
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("loading .env: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing TOML config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v, ok := lookup("ALLOC_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ALLOC_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v, ok := lookup("ALLOC_DB_PATH"); ok {
		cfg.Database.Path = v
	}
	if v, ok := lookup("ALLOC_CORS_ORIGINS"); ok {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.Server.CORSOrigins = origins
	}
	if v, ok := lookup("ALLOC_LOG_LEVEL"); ok {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookup("ALLOC_LOG_FORMAT"); ok {
		cfg.Log.Format = strings.ToLower(v)
	}
	if v, ok := lookup("ALLOC_CALENDAR_CHECK_ON_STARTUP"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ALLOC_CALENDAR_CHECK_ON_STARTUP: %w", err)
		}
		cfg.Calendar.CheckOnStartup = b
	}
	if v, ok := lookup("ALLOC_CALENDAR_CHECK_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ALLOC_CALENDAR_CHECK_INTERVAL: %w", err)
		}
		cfg.Calendar.CheckInterval = d
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// NewLogger builds the logger described by the log settings.
func NewLogger(c LogConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	if c.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
