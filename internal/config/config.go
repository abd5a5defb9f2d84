// Package config loads the cdpbridge YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all cdpbridge configuration.
type Config struct {
	// Headless browser process and page settings
	Browser BrowserConfig `yaml:"browser"`

	// DevTools endpoint polling
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Console and network ring buffers
	Logs LogsConfig `yaml:"logs"`

	// Where screenshots are written
	Artifacts ArtifactsConfig `yaml:"artifacts"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Prometheus listener
	Metrics MetricsConfig `yaml:"metrics"`
}

// BrowserConfig configures the supervised browser.
type BrowserConfig struct {
	Binary            string   `yaml:"binary"` // empty: search the usual install locations
	Port              int      `yaml:"port"`
	UserDataDir       string   `yaml:"user_data_dir"`
	ExtraArgs         []string `yaml:"extra_args,omitempty"`
	ViewportWidth     int      `yaml:"viewport_width"`
	ViewportHeight    int      `yaml:"viewport_height"`
	UserAgent         string   `yaml:"user_agent"`
	NavigationTimeout string   `yaml:"navigation_timeout"`
	CommandTimeout    string   `yaml:"command_timeout"`
	TerminateGrace    string   `yaml:"terminate_grace"`
}

// DiscoveryConfig configures target discovery.
type DiscoveryConfig struct {
	PollInterval string `yaml:"poll_interval"`
	MaxAttempts  int    `yaml:"max_attempts"`
}

// LogsConfig sizes the event buffers.
type LogsConfig struct {
	Capacity int `yaml:"capacity"`
}

// ArtifactsConfig configures artifact storage.
type ArtifactsConfig struct {
	Dir string `yaml:"dir"` // empty: os.TempDir()
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, console
	File       string          `yaml:"file"`   // empty: stderr
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Categories not listed are enabled.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	enabled, exists := c.Categories[category]
	return !exists || enabled
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty: disabled
}

// DefaultUserAgent is sent when browser.user_agent is not set.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Port:              9222,
			ViewportWidth:     1280,
			ViewportHeight:    720,
			UserAgent:         DefaultUserAgent,
			NavigationTimeout: "30s",
			CommandTimeout:    "10s",
			TerminateGrace:    "5s",
		},
		Discovery: DiscoveryConfig{
			PollInterval: "500ms",
			MaxAttempts:  20,
		},
		Logs: LogsConfig{
			Capacity: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Browser binary (CDPBRIDGE_CHROME_PATH wins over the generic CHROME_PATH)
	if bin := os.Getenv("CHROME_PATH"); bin != "" {
		c.Browser.Binary = bin
	}
	if bin := os.Getenv("CDPBRIDGE_CHROME_PATH"); bin != "" {
		c.Browser.Binary = bin
	}

	if port := os.Getenv("CDPBRIDGE_DEBUG_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Browser.Port = p
		}
	}
	if dir := os.Getenv("CDPBRIDGE_ARTIFACT_DIR"); dir != "" {
		c.Artifacts.Dir = dir
	}
	if level := os.Getenv("CDPBRIDGE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("CDPBRIDGE_METRICS_ADDR"); addr != "" {
		c.Metrics.Addr = addr
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetNavigationTimeout returns how long navigate waits for the load event.
func (c *Config) GetNavigationTimeout() time.Duration {
	return parseDuration(c.Browser.NavigationTimeout, 30*time.Second)
}

// GetCommandTimeout returns the per-command reply timeout.
func (c *Config) GetCommandTimeout() time.Duration {
	return parseDuration(c.Browser.CommandTimeout, 10*time.Second)
}

// GetTerminateGrace returns how long SIGTERM is given before SIGKILL.
func (c *Config) GetTerminateGrace() time.Duration {
	return parseDuration(c.Browser.TerminateGrace, 5*time.Second)
}

// GetPollInterval returns the discovery poll interval.
func (c *Config) GetPollInterval() time.Duration {
	return parseDuration(c.Discovery.PollInterval, 500*time.Millisecond)
}

// ValidLogLevels lists the accepted logging levels.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Browser.Port <= 0 || c.Browser.Port > 65535 {
		return fmt.Errorf("invalid browser port: %d", c.Browser.Port)
	}
	if c.Browser.ViewportWidth < 0 || c.Browser.ViewportHeight < 0 {
		return fmt.Errorf("invalid viewport %dx%d", c.Browser.ViewportWidth, c.Browser.ViewportHeight)
	}
	for name, v := range map[string]string{
		"browser.navigation_timeout": c.Browser.NavigationTimeout,
		"browser.command_timeout":    c.Browser.CommandTimeout,
		"browser.terminate_grace":    c.Browser.TerminateGrace,
		"discovery.poll_interval":    c.Discovery.PollInterval,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
	}
	if c.Discovery.MaxAttempts < 0 {
		return fmt.Errorf("invalid discovery.max_attempts: %d", c.Discovery.MaxAttempts)
	}
	if c.Logs.Capacity < 0 {
		return fmt.Errorf("invalid logs.capacity: %d", c.Logs.Capacity)
	}

	validLevel := c.Logging.Level == ""
	for _, l := range ValidLogLevels {
		if c.Logging.Level == l {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid logging level: %s (valid: %v)", c.Logging.Level, ValidLogLevels)
	}
	return nil
}
