// Package config loads and validates the daemon configuration.
//
// Values are layered: built-in defaults, then a TOML or YAML file chosen by
// extension, then GITWEB_* environment variables. The result is validated
// before anything starts.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/jmgilman/gitweb/errors"
	"github.com/jmgilman/gitweb/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GITWEB_"

// Config is the daemon configuration.
type Config struct {
	// ScanRoot is the directory searched for bare repositories.
	ScanRoot string `toml:"scan_root" yaml:"scan_root"`
	// DBPath is the directory holding the metadata database.
	DBPath string `toml:"db_path" yaml:"db_path"`
	// Interval between index cycles. Zero (written "disabled") runs a
	// single cycle at startup.
	Interval Duration `toml:"interval" yaml:"interval"`
	// Workers bounds how many repositories are indexed at once.
	Workers int `toml:"workers" yaml:"workers"`
	// Watch requests an early cycle when refs change on disk.
	Watch bool `toml:"watch" yaml:"watch"`

	Cache   CacheConfig   `toml:"cache" yaml:"cache"`
	Content ContentConfig `toml:"content" yaml:"content"`
	Log     LogConfig     `toml:"log" yaml:"log"`
}

// CacheConfig bounds the render cache.
type CacheConfig struct {
	MaxBytes   int64 `toml:"max_bytes" yaml:"max_bytes"`
	MaxEntries int   `toml:"max_entries" yaml:"max_entries"`
}

// ContentConfig tunes the content loader.
type ContentConfig struct {
	// IOConcurrency bounds concurrent blocking object reads.
	IOConcurrency int64 `toml:"io_concurrency" yaml:"io_concurrency"`
	// MaxRenderBytes is the largest blob rendered or highlighted.
	MaxRenderBytes int64 `toml:"max_render_bytes" yaml:"max_render_bytes"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// Logging returns the logging configuration.
func (c LogConfig) Logging() logging.Config {
	return logging.Config{Level: c.Level, Format: logging.Format(c.Format)}
}

// Defaults.
const (
	DefaultInterval       = 5 * time.Minute
	DefaultWorkers        = 4
	DefaultCacheBytes     = 64 << 20
	DefaultCacheEntries   = 4096
	DefaultIOConcurrency  = 16
	DefaultMaxRenderBytes = 1 << 20
)

// Default returns the configuration used when nothing is set.
func Default() *Config {
	c := &Config{
		ScanRoot: ".",
		DBPath:   filepath.Join(".", ".gitweb"),
		Interval: Duration(DefaultInterval),
		Log:      LogConfig{Level: "info", Format: string(logging.FormatText)},
	}
	c.SetDefaults()
	return c
}

// SetDefaults fills unset numeric fields. Interval is left alone since zero
// is meaningful.
func (c *Config) SetDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Cache.MaxBytes <= 0 {
		c.Cache.MaxBytes = DefaultCacheBytes
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = DefaultCacheEntries
	}
	if c.Content.IOConcurrency <= 0 {
		c.Content.IOConcurrency = DefaultIOConcurrency
	}
	if c.Content.MaxRenderBytes <= 0 {
		c.Content.MaxRenderBytes = DefaultMaxRenderBytes
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ScanRoot) == "" {
		return invalid("scan_root", "must be set")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return invalid("db_path", "must be set")
	}
	if c.Interval < 0 {
		return invalid("interval", "must not be negative")
	}
	if c.Interval > 0 && c.Interval.Std() < time.Second {
		return invalid("interval", "must be at least 1s or disabled")
	}
	if c.Workers <= 0 {
		return invalid("workers", "must be greater than 0")
	}
	if c.Cache.MaxBytes <= 0 {
		return invalid("cache.max_bytes", "must be greater than 0")
	}
	if c.Cache.MaxEntries <= 0 {
		return invalid("cache.max_entries", "must be greater than 0")
	}
	if c.Content.IOConcurrency <= 0 {
		return invalid("content.io_concurrency", "must be greater than 0")
	}
	if _, err := logging.New(c.Log.Logging()); err != nil {
		return errors.WrapWithContext(err, errors.CodeInvalidConfig, "invalid log configuration",
			map[string]any{"field": "log"})
	}
	return nil
}

func invalid(field, reason string) error {
	return errors.WithContext(
		errors.Newf(errors.CodeInvalidConfig, "%s %s", field, reason),
		"field", field,
	)
}

// Load builds the configuration from defaults, the file at path and the
// environment. An empty path or a missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	return load(path, os.ReadFile, os.LookupEnv)
}

func load(path string, readFile func(string) ([]byte, error), lookup func(string) (string, bool)) (*Config, error) {
	c := Default()

	if path != "" {
		data, err := readFile(path)
		switch {
		case err == nil:
			if err := decode(path, data, c); err != nil {
				return nil, err
			}
		case os.IsNotExist(err):
		default:
			return nil, errors.Wrapf(err, errors.CodeInvalidConfig, "read config file %s", path)
		}
	}

	if err := applyEnv(c, lookup); err != nil {
		return nil, err
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func decode(path string, data []byte, c *Config) error {
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, c)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		return errors.Newf(errors.CodeInvalidConfig, "unsupported config file type %q", filepath.Ext(path))
	}
	if err != nil {
		return errors.Wrapf(err, errors.CodeInvalidConfig, "parse config file %s", path)
	}
	return nil
}

// applyEnv overrides fields from GITWEB_* variables. Empty values count as
// set.
func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"SCAN_ROOT":  &c.ScanRoot,
		"DB_PATH":    &c.DBPath,
		"LOG_LEVEL":  &c.Log.Level,
		"LOG_FORMAT": &c.Log.Format,
	}
	for name, field := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*field = v
		}
	}

	if v, ok := lookup(EnvPrefix + "INTERVAL"); ok {
		if err := c.Interval.UnmarshalText([]byte(v)); err != nil {
			return envError("INTERVAL", err)
		}
	}

	ints := map[string]func(int64){
		"WORKERS":           func(n int64) { c.Workers = int(n) },
		"CACHE_MAX_BYTES":   func(n int64) { c.Cache.MaxBytes = n },
		"CACHE_MAX_ENTRIES": func(n int64) { c.Cache.MaxEntries = int(n) },
		"IO_CONCURRENCY":    func(n int64) { c.Content.IOConcurrency = n },
	}
	for name, set := range ints {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return envError(name, err)
		}
		set(n)
	}

	if v, ok := lookup(EnvPrefix + "WATCH"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return envError("WATCH", err)
		}
		c.Watch = b
	}
	return nil
}

func envError(name string, err error) error {
	return errors.WrapWithContext(err, errors.CodeInvalidConfig, "invalid environment override",
		map[string]any{"variable": EnvPrefix + name})
}
