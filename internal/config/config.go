package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/aizatto/ical-debugger/internal/fsutil"
)

// FetchConfig tunes feed retrieval.
type FetchConfig struct {
	// Timeout bounds a single feed request.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// MaxConcurrent caps how many feeds are fetched at once.
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`
	// MaxBodyBytes rejects feeds larger than this.
	MaxBodyBytes int64  `yaml:"max_body_bytes" json:"max_body_bytes"`
	UserAgent    string `yaml:"user_agent" json:"user_agent"`
	// CacheDir enables ETag/Last-Modified revalidation. Empty disables it.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// StoreConfig selects where subscriptions are persisted.
type StoreConfig struct {
	// Driver is "yaml" (default) or "sqlite".
	Driver string `yaml:"driver" json:"driver"`
	Path   string `yaml:"path" json:"path"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the local API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone day boundaries are computed in.
	// Empty means the system local zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// HorizonDays is how many days past today the default window reaches.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used for periodic refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// EventOrder is "start" (sort each day by start time) or "merge".
	EventOrder string `yaml:"event_order" json:"event_order"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	Fetch FetchConfig `yaml:"fetch" json:"fetch"`
	Store StoreConfig `yaml:"store" json:"store"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		HorizonDays: 3,
		RefreshCron: "*/15 * * * *",
		EventOrder:  "start",
		LogLevel:    "info",
		LogFormat:   "text",
		Fetch: FetchConfig{
			Timeout:       15 * time.Second,
			MaxConcurrent: 8,
			MaxBodyBytes:  10 * 1024 * 1024,
			UserAgent:     "ical-debugger/1.0",
		},
		Store: StoreConfig{
			Driver: "yaml",
			Path:   "./var/subscriptions.yaml",
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	switch c.EventOrder {
	case "start", "merge":
		// ok
	default:
		c.EventOrder = def.EventOrder
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = def.LogFormat
	}

	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = def.Fetch.Timeout
	}
	if c.Fetch.MaxConcurrent <= 0 {
		c.Fetch.MaxConcurrent = def.Fetch.MaxConcurrent
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		c.Fetch.MaxBodyBytes = def.Fetch.MaxBodyBytes
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = def.Fetch.UserAgent
	}

	if c.Store.Driver == "" {
		c.Store.Driver = def.Store.Driver
	}
	if c.Store.Path == "" {
		if c.Store.Driver == "sqlite" {
			c.Store.Path = "./var/subscriptions.db"
		} else {
			c.Store.Path = def.Store.Path
		}
	}
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - A .env file in the working directory, if present, is loaded first
//     and ${VAR} references in the YAML are expanded.
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is decoded and defaults are normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0o600)
}
