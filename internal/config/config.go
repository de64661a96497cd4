// ABOUTME: Configuration loading and parsing for switchboard
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete switchboard configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Sessions SessionsConfig `yaml:"sessions"`
	Queue    QueueConfig    `yaml:"queue"`
	Engine   EngineConfig   `yaml:"engine"`
	History  HistoryConfig  `yaml:"history"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server address configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	ShutdownTimeoutRaw string `yaml:"shutdown_timeout"`
}

// Addr returns the host:port listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SessionsConfig holds session lifecycle configuration
type SessionsConfig struct {
	IdleTTL          time.Duration `yaml:"-"`
	SweepInterval    time.Duration `yaml:"-"`
	WorkspaceDefault string        `yaml:"workspace_default"`

	// Raw string values for YAML unmarshaling
	IdleTTLRaw       string `yaml:"idle_ttl"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// QueueConfig holds per-session command queue configuration
type QueueConfig struct {
	Capacity       int           `yaml:"capacity"`
	MaxSteps       int           `yaml:"max_steps"`
	StuckThreshold int           `yaml:"stuck_threshold"`
	StallTimeout   time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	StallTimeoutRaw string `yaml:"stall_timeout"`
}

// EngineConfig selects and tunes the execution engine
type EngineConfig struct {
	Kind       string        `yaml:"kind"`
	ChunkDelay time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	ChunkDelayRaw string `yaml:"chunk_delay"`
}

// HistoryConfig holds transcript store configuration
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
// Missing fields fall back to defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse parses raw YAML configuration bytes. Split out from Load so callers
// with in-memory config (tests, embedded defaults) skip the filesystem.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no config file is given:
// all defaults, history and metrics enabled.
func Default() *Config {
	cfg := &Config{
		History: HistoryConfig{Enabled: true},
		Metrics: MetricsConfig{Enabled: true},
	}
	cfg.applyDefaults()
	return cfg
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in zero-valued fields with their defaults. Booleans are
// left as unmarshaled; only history.path gets a default when history is on.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}
	if c.Sessions.IdleTTL == 0 {
		c.Sessions.IdleTTL = 30 * time.Minute
	}
	if c.Sessions.SweepInterval == 0 {
		c.Sessions.SweepInterval = time.Minute
	}
	if c.Sessions.WorkspaceDefault == "" {
		c.Sessions.WorkspaceDefault = "default"
	}
	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = 32
	}
	if c.Queue.MaxSteps == 0 {
		c.Queue.MaxSteps = 30
	}
	if c.Queue.StuckThreshold == 0 {
		c.Queue.StuckThreshold = 3
	}
	if c.Queue.StallTimeout == 0 {
		c.Queue.StallTimeout = 60 * time.Second
	}
	if c.Engine.Kind == "" {
		c.Engine.Kind = "echo"
	}
	if c.History.Enabled && c.History.Path == "" {
		c.History.Path = "switchboard.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "pretty"
	}
}

// Validate checks that all configuration fields hold sane values.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Sessions.IdleTTL <= 0 {
		return fmt.Errorf("sessions.idle_ttl must be positive, got %s", c.Sessions.IdleTTL)
	}
	if c.Sessions.SweepInterval <= 0 {
		return fmt.Errorf("sessions.sweep_interval must be positive, got %s", c.Sessions.SweepInterval)
	}

	if c.Queue.Capacity < 0 {
		return fmt.Errorf("queue.capacity must not be negative, got %d", c.Queue.Capacity)
	}
	if c.Queue.MaxSteps <= 0 {
		return fmt.Errorf("queue.max_steps must be positive, got %d", c.Queue.MaxSteps)
	}
	if c.Queue.StuckThreshold <= 0 {
		return fmt.Errorf("queue.stuck_threshold must be positive, got %d", c.Queue.StuckThreshold)
	}
	if c.Queue.StallTimeout <= 0 {
		return fmt.Errorf("queue.stall_timeout must be positive, got %s", c.Queue.StallTimeout)
	}

	switch c.Engine.Kind {
	case "echo":
	default:
		return fmt.Errorf("engine.kind %q is not recognized (want \"echo\")", c.Engine.Kind)
	}
	if c.Engine.ChunkDelay < 0 {
		return fmt.Errorf("engine.chunk_delay must not be negative, got %s", c.Engine.ChunkDelay)
	}

	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "pretty":
	default:
		return fmt.Errorf("logging.format %q is not one of json, pretty", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.ShutdownTimeoutRaw != "" {
		cfg.Server.ShutdownTimeout, err = time.ParseDuration(cfg.Server.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutRaw, err)
		}
	}

	if cfg.Sessions.IdleTTLRaw != "" {
		cfg.Sessions.IdleTTL, err = time.ParseDuration(cfg.Sessions.IdleTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_ttl %q: %w", cfg.Sessions.IdleTTLRaw, err)
		}
	}

	if cfg.Sessions.SweepIntervalRaw != "" {
		cfg.Sessions.SweepInterval, err = time.ParseDuration(cfg.Sessions.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing sweep_interval %q: %w", cfg.Sessions.SweepIntervalRaw, err)
		}
	}

	if cfg.Queue.StallTimeoutRaw != "" {
		cfg.Queue.StallTimeout, err = time.ParseDuration(cfg.Queue.StallTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing stall_timeout %q: %w", cfg.Queue.StallTimeoutRaw, err)
		}
	}

	if cfg.Engine.ChunkDelayRaw != "" {
		cfg.Engine.ChunkDelay, err = time.ParseDuration(cfg.Engine.ChunkDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing chunk_delay %q: %w", cfg.Engine.ChunkDelayRaw, err)
		}
	}

	return nil
}
