package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/uwbcore/uwbd/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if cfg.Control.SocketPath != "/run/uwbd/control.sock" {
		t.Errorf("Control.SocketPath = %q, want %q", cfg.Control.SocketPath, "/run/uwbd/control.sock")
	}

	if cfg.Adapter.ToggleState != false {
		t.Errorf("Adapter.ToggleState = %v, want false", cfg.Adapter.ToggleState)
	}

	if cfg.Adapter.WatchdogTimeout != 10*time.Second {
		t.Errorf("Adapter.WatchdogTimeout = %v, want %v", cfg.Adapter.WatchdogTimeout, 10*time.Second)
	}

	if cfg.Session.MaxSessions != 8 {
		t.Errorf("Session.MaxSessions = %d, want %d", cfg.Session.MaxSessions, 8)
	}

	if cfg.Session.OperationTimeout != 3*time.Second {
		t.Errorf("Session.OperationTimeout = %v, want %v", cfg.Session.OperationTimeout, 3*time.Second)
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
log:
  level: "debug"
  format: "text"
control:
  socket_path: "/tmp/uwbd-test.sock"
adapter:
  toggle_state: true
  watchdog_timeout: "5s"
session:
  max_sessions: 4
  operation_timeout: "1500ms"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}

	if cfg.Control.SocketPath != "/tmp/uwbd-test.sock" {
		t.Errorf("Control.SocketPath = %q, want %q", cfg.Control.SocketPath, "/tmp/uwbd-test.sock")
	}

	if !cfg.Adapter.ToggleState {
		t.Error("Adapter.ToggleState = false, want true")
	}

	if cfg.Adapter.WatchdogTimeout != 5*time.Second {
		t.Errorf("Adapter.WatchdogTimeout = %v, want %v", cfg.Adapter.WatchdogTimeout, 5*time.Second)
	}

	if cfg.Session.MaxSessions != 4 {
		t.Errorf("Session.MaxSessions = %d, want %d", cfg.Session.MaxSessions, 4)
	}

	if cfg.Session.OperationTimeout != 1500*time.Millisecond {
		t.Errorf("Session.OperationTimeout = %v, want %v", cfg.Session.OperationTimeout, 1500*time.Millisecond)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override log.level and session.max_sessions.
	// Everything else should inherit from defaults.
	yamlContent := `
log:
  level: "warn"
session:
  max_sessions: 2
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Overridden values.
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	if cfg.Session.MaxSessions != 2 {
		t.Errorf("Session.MaxSessions = %d, want %d", cfg.Session.MaxSessions, 2)
	}

	// Default values should be preserved.
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if cfg.Control.SocketPath != "/run/uwbd/control.sock" {
		t.Errorf("Control.SocketPath = %q, want default %q", cfg.Control.SocketPath, "/run/uwbd/control.sock")
	}

	if cfg.Adapter.WatchdogTimeout != 10*time.Second {
		t.Errorf("Adapter.WatchdogTimeout = %v, want default %v", cfg.Adapter.WatchdogTimeout, 10*time.Second)
	}

	if cfg.Session.OperationTimeout != 3*time.Second {
		t.Errorf("Session.OperationTimeout = %v, want default %v", cfg.Session.OperationTimeout, 3*time.Second)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty control socket path",
			modify: func(cfg *config.Config) {
				cfg.Control.SocketPath = ""
			},
			wantErr: config.ErrEmptySocketPath,
		},
		{
			name: "zero watchdog timeout",
			modify: func(cfg *config.Config) {
				cfg.Adapter.WatchdogTimeout = 0
			},
			wantErr: config.ErrInvalidWatchdogTimeout,
		},
		{
			name: "negative watchdog timeout",
			modify: func(cfg *config.Config) {
				cfg.Adapter.WatchdogTimeout = -1 * time.Second
			},
			wantErr: config.ErrInvalidWatchdogTimeout,
		},
		{
			name: "zero max sessions",
			modify: func(cfg *config.Config) {
				cfg.Session.MaxSessions = 0
			},
			wantErr: config.ErrInvalidMaxSessions,
		},
		{
			name: "zero operation timeout",
			modify: func(cfg *config.Config) {
				cfg.Session.OperationTimeout = 0
			},
			wantErr: config.ErrInvalidOperationTimeout,
		},
		{
			name: "negative operation timeout",
			modify: func(cfg *config.Config) {
				cfg.Session.OperationTimeout = -500 * time.Millisecond
			},
			wantErr: config.ErrInvalidOperationTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

// -------------------------------------------------------------------------
// Environment Variable Override Tests
// -------------------------------------------------------------------------

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("UWBD_LOG_LEVEL", "debug")
	t.Setenv("UWBD_SESSION_MAX_SESSIONS", "16")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}

	if cfg.Session.MaxSessions != 16 {
		t.Errorf("Session.MaxSessions = %d, want %d (from env)", cfg.Session.MaxSessions, 16)
	}
}

func TestLoadEnvOverridesAdapter(t *testing.T) {
	yamlContent := `
adapter:
  toggle_state: false
`
	path := writeTemp(t, yamlContent)

	t.Setenv("UWBD_ADAPTER_TOGGLE_STATE", "true")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if !cfg.Adapter.ToggleState {
		t.Error("Adapter.ToggleState = false, want true (from env)")
	}
}

func TestAirplaneModeOn(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{value: "", want: false},
		{value: "0", want: false},
		{value: "false", want: false},
		{value: "1", want: true},
		{value: "true", want: true},
		{value: "TRUE", want: true},
		{value: "on", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("AIRPLANE_MODE_ON", tt.value)
			if got := config.AirplaneModeOn(); got != tt.want {
				t.Errorf("AirplaneModeOn() with env %q = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "uwbd.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
