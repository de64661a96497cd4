// ABOUTME: Configuration loading for the switchboard-watch client
// ABOUTME: Loads optional TOML config from XDG path with environment variable expansion

package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultServerURL   = "http://localhost:8080"
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxAttempts = 5
)

// Config holds client defaults. Every field is optional; command-line flags
// override whatever the file sets.
type Config struct {
	ServerURL   string `toml:"server_url"`
	SessionID   string `toml:"session_id"`
	BaseDelay   string `toml:"base_delay"`
	MaxAttempts int    `toml:"max_attempts"`
}

// getConfigPath returns the path to the watch client config file.
// Priority: SWITCHBOARD_WATCH_CONFIG env var > XDG_CONFIG_HOME/switchboard/watch.toml > ~/.config/switchboard/watch.toml
func getConfigPath() string {
	if envPath := os.Getenv("SWITCHBOARD_WATCH_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "watch.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "switchboard", "watch.toml")
}

// loadConfig reads config from the given path, expanding environment
// variables. A missing file is not an error; flags alone are enough to run.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables (${VAR} syntax)
	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that the fields present in the file are usable.
func (c *Config) Validate() error {
	if c.ServerURL != "" {
		u, err := url.Parse(c.ServerURL)
		if err != nil {
			return fmt.Errorf("server_url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("server_url must use http or https scheme")
		}
	}
	if c.BaseDelay != "" {
		if _, err := time.ParseDuration(c.BaseDelay); err != nil {
			return fmt.Errorf("base_delay is not a valid duration: %w", err)
		}
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative")
	}
	return nil
}

// serverURL returns the configured server URL or the default.
func (c *Config) serverURL() string {
	if c.ServerURL != "" {
		return c.ServerURL
	}
	return defaultServerURL
}

// baseDelay returns the configured reconnect base delay or the default.
// Validate has already checked the string parses.
func (c *Config) baseDelay() time.Duration {
	if c.BaseDelay == "" {
		return defaultBaseDelay
	}
	d, err := time.ParseDuration(c.BaseDelay)
	if err != nil {
		return defaultBaseDelay
	}
	return d
}

// maxAttempts returns the configured reconnect budget or the default.
func (c *Config) maxAttempts() int {
	if c.MaxAttempts > 0 {
		return c.MaxAttempts
	}
	return defaultMaxAttempts
}
