// Package config handles the docrel configuration file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultPath is read when no --config flag is given.
const DefaultPath = "docrel.toml"

// EnvMongoURI overrides mongo.uri when set.
const EnvMongoURI = "DOCREL_MONGO_URI"

// Config is the docrel configuration.
type Config struct {
	Mongo   MongoConfig   `toml:"mongo"`
	Schema  SchemaConfig  `toml:"schema"`
	Journal JournalConfig `toml:"journal"`
	Cache   CacheConfig   `toml:"cache"`
	Log     LogConfig     `toml:"log"`
}

// MongoConfig locates the backend.
type MongoConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
	// ServerVersion gates version-dependent stages such as $literal. Empty
	// means ask the server.
	ServerVersion string `toml:"server_version"`
}

// SchemaConfig locates the CUE table mappings.
type SchemaConfig struct {
	Dir string `toml:"dir"`
}

// JournalConfig locates the propagation journal. An empty path disables it.
type JournalConfig struct {
	Path string `toml:"path"`
}

// CacheConfig sizes the compiled plan cache. Zero disables it.
type CacheConfig struct {
	Size int `toml:"size"`
}

// LogConfig configures the default slog logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level"`
	// Format is text or json.
	Format string `toml:"format"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Mongo:   MongoConfig{URI: "mongodb://localhost:27017", Database: "app"},
		Schema:  SchemaConfig{Dir: "schema"},
		Journal: JournalConfig{Path: "docrel-journal.db"},
		Cache:   CacheConfig{Size: 256},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// Relative schema and journal paths are resolved against the file's
// directory.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg.applyEnv()
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config %s: unknown key %s", path, undecoded[0])
	}

	base := filepath.Dir(path)
	cfg.Schema.Dir = resolve(base, cfg.Schema.Dir)
	cfg.Journal.Path = resolve(base, cfg.Journal.Path)
	cfg.applyEnv()
	return cfg, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func (c *Config) applyEnv() {
	if uri := os.Getenv(EnvMongoURI); uri != "" {
		c.Mongo.URI = uri
	}
}

// Validate checks enums and sizes.
func (c *Config) Validate() error {
	var errs []error
	if c.Mongo.URI == "" {
		errs = append(errs, errors.New("mongo.uri is required"))
	}
	if c.Mongo.Database == "" {
		errs = append(errs, errors.New("mongo.database is required"))
	}
	if c.Cache.Size < 0 {
		errs = append(errs, fmt.Errorf("cache.size must not be negative, got %d", c.Cache.Size))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a log.level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level must be debug, info, warn or error, got %q", s)
	}
}
