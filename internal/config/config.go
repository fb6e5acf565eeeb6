// Package config manages uwbd daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete uwbd configuration.
type Config struct {
	Log     LogConfig     `koanf:"log"`
	Control ControlConfig `koanf:"control"`
	Adapter AdapterConfig `koanf:"adapter"`
	Session SessionConfig `koanf:"session"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// ControlConfig holds the local control-plane listener configuration used
// by cmd/uwbctl for debug introspection.
type ControlConfig struct {
	// SocketPath is the unix domain socket path the control plane listens
	// on (e.g., "/run/uwbd/control.sock").
	SocketPath string `koanf:"socket_path"`
}

// AdapterConfig holds the default adapter parameters.
type AdapterConfig struct {
	// ToggleState is the persisted SETTINGS_TOGGLE_STATE boolean, replayed
	// to the HAL on every boot before any other call.
	ToggleState bool `koanf:"toggle_state"`

	// WatchdogTimeout is loaded and validated (> 0) only; internal/adapter
	// bounds HAL enable/disable calls with its own fixed 10s watchdog and
	// does not read this value.
	WatchdogTimeout time.Duration `koanf:"watchdog_timeout"`
}

// SessionConfig holds the default ranging session manager parameters.
type SessionConfig struct {
	// MaxSessions bounds the number of concurrently open ranging sessions.
	MaxSessions int `koanf:"max_sessions"`

	// OperationTimeout is loaded and validated (> 0) only;
	// internal/session.Manager bounds its radio-confirmation waits with
	// its own fixed 3s timeout and does not read this value.
	OperationTimeout time.Duration `koanf:"operation_timeout"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Control: ControlConfig{
			SocketPath: "/run/uwbd/control.sock",
		},
		Adapter: AdapterConfig{
			ToggleState:     false,
			WatchdogTimeout: 10 * time.Second,
		},
		Session: SessionConfig{
			MaxSessions:      8,
			OperationTimeout: 3 * time.Second,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for uwbd configuration.
// Variables are named UWBD_<section>_<key>, e.g., UWBD_LOG_LEVEL.
const envPrefix = "UWBD_"

// airplaneModeEnvVar is read directly (outside koanf) by AirplaneModeOn,
// since airplane mode is host platform state, not persisted daemon
// configuration.
const airplaneModeEnvVar = "AIRPLANE_MODE_ON"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (UWBD_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	UWBD_LOG_LEVEL              -> log.level
//	UWBD_LOG_FORMAT             -> log.format
//	UWBD_CONTROL_SOCKET_PATH    -> control.socket_path
//	UWBD_ADAPTER_TOGGLE_STATE   -> adapter.toggle_state
//	UWBD_ADAPTER_WATCHDOG_TIMEOUT -> adapter.watchdog_timeout
//	UWBD_SESSION_MAX_SESSIONS   -> session.max_sessions
//	UWBD_SESSION_OPERATION_TIMEOUT -> session.operation_timeout
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms UWBD_ADAPTER_TOGGLE_STATE -> adapter.toggle_state.
// Strips the UWBD_ prefix, lowercases, and replaces the first _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	parts := strings.SplitN(s, "_", 2)
	if len(parts) != 2 {
		return s
	}
	return parts[0] + "." + parts[1]
}

// AirplaneModeOn reads the host platform's airplane-mode state from the
// environment. cmd/uwbd calls this once at startup and hands the result
// to the adapter; it intentionally bypasses koanf since this value is not
// part of the persisted configuration file.
func AirplaneModeOn() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(airplaneModeEnvVar)))
	return v == "1" || v == "true" || v == "on"
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"log.level":                 defaults.Log.Level,
		"log.format":                defaults.Log.Format,
		"control.socket_path":       defaults.Control.SocketPath,
		"adapter.toggle_state":      defaults.Adapter.ToggleState,
		"adapter.watchdog_timeout":  defaults.Adapter.WatchdogTimeout.String(),
		"session.max_sessions":      defaults.Session.MaxSessions,
		"session.operation_timeout": defaults.Session.OperationTimeout.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptySocketPath indicates the control socket path is empty.
	ErrEmptySocketPath = errors.New("control.socket_path must not be empty")

	// ErrInvalidMaxSessions indicates the max sessions bound is not positive.
	ErrInvalidMaxSessions = errors.New("session.max_sessions must be >= 1")

	// ErrInvalidOperationTimeout indicates the operation timeout is not positive.
	ErrInvalidOperationTimeout = errors.New("session.operation_timeout must be > 0")

	// ErrInvalidWatchdogTimeout indicates the adapter watchdog timeout is not positive.
	ErrInvalidWatchdogTimeout = errors.New("adapter.watchdog_timeout must be > 0")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Control.SocketPath == "" {
		return ErrEmptySocketPath
	}

	if cfg.Adapter.WatchdogTimeout <= 0 {
		return ErrInvalidWatchdogTimeout
	}

	if cfg.Session.MaxSessions < 1 {
		return ErrInvalidMaxSessions
	}

	if cfg.Session.OperationTimeout <= 0 {
		return ErrInvalidOperationTimeout
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
