// Package config loads the server configuration from YAML, with defaults for
// every field and environment overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sakif/chirp/internal/store"
)

// Config is the application's configuration model.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     store.Config    `yaml:"store"`
	Posting   PostingConfig   `yaml:"posting"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type PostingConfig struct {
	// DuplicateWindowSeconds is how long an identical body from the same
	// author is refused as a double-submit. Zero disables the check.
	DuplicateWindowSeconds int `yaml:"duplicateWindowSeconds"`
}

type RateLimitConfig struct {
	// APIPerSecond throttles all /api traffic per client IP.
	APIPerSecond float64 `yaml:"apiPerSecond"`
	APIBurst     int     `yaml:"apiBurst"`
	// PostPerSecond is the stricter limit on post creation.
	PostPerSecond float64 `yaml:"postPerSecond"`
	PostBurst     int     `yaml:"postBurst"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: store.Config{
			Backend: store.BackendSQLite,
			Path:    "./chirp.db",
		},
		Posting: PostingConfig{
			DuplicateWindowSeconds: 60,
		},
		RateLimit: RateLimitConfig{
			APIPerSecond:  20,
			APIBurst:      40,
			PostPerSecond: 1,
			PostBurst:     5,
		},
		Log: LogConfig{Level: "info"},
	}
}

// ResolveEnv overrides fields from environment variables when set. These are
// the knobs a deployment usually flips without shipping a file.
func (c *Config) ResolveEnv() {
	if v := os.Getenv("CHIRP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("CHIRP_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("CHIRP_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.DSN = v
		if os.Getenv("CHIRP_STORE_BACKEND") == "" {
			c.Store.Backend = store.BackendPostgres
		}
	}
	if v := os.Getenv("CHIRP_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Load reads YAML config from path, applying defaults for absent fields and
// environment overrides on top. An empty path returns defaults plus env.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}
	cfg.ResolveEnv()
	return cfg, nil
}

// DuplicateWindow returns the posting duplicate window as a duration.
func (c Config) DuplicateWindow() time.Duration {
	return time.Duration(c.Posting.DuplicateWindowSeconds) * time.Second
}
