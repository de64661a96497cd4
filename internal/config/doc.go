// Package config handles configuration loading for switchboard.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults; an empty file (or no
// file at all, via Default) yields a fully working configuration.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from SWITCHBOARD_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/switchboard/config.yaml
//  3. ~/.config/switchboard/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	history:
//	  path: "${SWITCHBOARD_DB_PATH}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	sessions:
//	  idle_ttl: "30m"
//	  sweep_interval: "1m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  host: "0.0.0.0"
//	  port: 8080
//	  shutdown_timeout: "5s"
//
// Session lifecycle:
//
//	sessions:
//	  idle_ttl: "30m"
//	  sweep_interval: "1m"
//	  workspace_default: "default"
//
// Command queues:
//
//	queue:
//	  capacity: 32
//	  max_steps: 30
//	  stuck_threshold: 3
//	  stall_timeout: "60s"
//
// Execution engine:
//
//	engine:
//	  kind: "echo"
//	  chunk_delay: "0ms"
//
// Transcript history:
//
//	history:
//	  enabled: true
//	  path: "switchboard.db"
//
// Logging:
//
//	logging:
//	  level: "info"    # debug, info, warn, error
//	  format: "pretty" # pretty, json
//
// Metrics:
//
//	metrics:
//	  enabled: true
//
// # Validation
//
// Load() validates:
//
//   - Port range (1-65535)
//   - Positive durations (idle_ttl, sweep_interval, stall_timeout)
//   - Non-negative queue capacity, positive step limits
//   - Known engine kind, logging level and format values
//   - History path presence when history is enabled
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/switchboard/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
