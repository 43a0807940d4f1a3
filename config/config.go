// Package config loads the service configuration from a YAML file and
// resolves portal credentials from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/onescan/dentalsync/order"
)

// Config is the top-level service configuration.
type Config struct {
	Database  DatabaseConfig            `yaml:"database"`
	Browser   BrowserConfig             `yaml:"browser"`
	HTTP      HTTPConfig                `yaml:"http"`
	Ingest    IngestConfig              `yaml:"ingest"`
	Platforms map[string]PlatformConfig `yaml:"platforms"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Headful        bool          `yaml:"headful"`
	WindowWidth    int           `yaml:"window_width"`
	WindowHeight   int           `yaml:"window_height"`
	Remote         string        `yaml:"remote"` // ws:// devtools URL, empty = launch locally
	NavTimeout     time.Duration `yaml:"nav_timeout"`
	ElementTimeout time.Duration `yaml:"element_timeout"`
}

// HTTPConfig controls the caller-facing API listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// IngestConfig controls run orchestration.
type IngestConfig struct {
	MaxParallel    int           `yaml:"max_parallel"`
	LogoutAfterRun bool          `yaml:"logout_after_run"`
	Interval       time.Duration `yaml:"interval"` // 0 disables the periodic sweep
}

// PlatformConfig enables one portal and names the env vars its account
// credentials live in. Credentials themselves never appear in the file.
type PlatformConfig struct {
	Enabled     bool   `yaml:"enabled"`
	UsernameEnv string `yaml:"username_env"`
	PasswordEnv string `yaml:"password_env"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is given: every
// portal enabled, credentials from the standard env vars.
func Default() *Config {
	cfg := &Config{Platforms: map[string]PlatformConfig{}}
	for _, p := range order.Platforms {
		cfg.Platforms[string(p)] = PlatformConfig{Enabled: true}
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) validate() error {
	for name := range c.Platforms {
		if _, err := order.ParsePlatform(name); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "dentalsync.db"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Ingest.MaxParallel <= 0 {
		c.Ingest.MaxParallel = 2
	}
	if c.Platforms == nil {
		c.Platforms = map[string]PlatformConfig{}
	}
	for name, pc := range c.Platforms {
		upper := strings.ToUpper(name)
		if pc.UsernameEnv == "" {
			pc.UsernameEnv = "DENTALSYNC_" + upper + "_USERNAME"
		}
		if pc.PasswordEnv == "" {
			pc.PasswordEnv = "DENTALSYNC_" + upper + "_PASSWORD"
		}
		c.Platforms[name] = pc
	}
}

// EnabledPlatforms returns the enabled portals in canonical ingestion order.
func (c *Config) EnabledPlatforms() []order.Platform {
	var out []order.Platform
	for _, p := range order.Platforms {
		if pc, ok := c.Platforms[string(p)]; ok && pc.Enabled {
			out = append(out, p)
		}
	}
	return out
}
