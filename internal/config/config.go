// Package config handles configuration loading, validation, and management for fnmoded.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// Version is the current configuration schema version.
const Version = 3

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version for migrations.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Daemon configuration for process lifecycle.
	Daemon DaemonConfig `toml:"daemon" json:"daemon" yaml:"daemon"`

	// Keyboard configuration for fn-key mode behavior.
	Keyboard KeyboardConfig `toml:"keyboard" json:"keyboard" yaml:"keyboard"`

	// Focus configuration for application focus tracking.
	Focus FocusConfig `toml:"focus" json:"focus" yaml:"focus"`

	// Rules configuration for per-app rule persistence.
	Rules RulesConfig `toml:"rules" json:"rules" yaml:"rules"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// IPC configuration for inter-process communication.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`

	// Tray configuration for the menu bar frontend.
	Tray TrayConfig `toml:"tray" json:"tray" yaml:"tray"`

	// Notifications configuration for desktop notifications.
	Notifications NotificationsConfig `toml:"notifications" json:"notifications" yaml:"notifications"`

	// mu protects concurrent access to the config.
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// DaemonConfig holds process lifecycle configuration.
type DaemonConfig struct {
	// PidFile is the path to the PID file.
	PidFile string `toml:"pid_file" json:"pid_file" yaml:"pid_file"`

	// ApplyOnStart determines whether the resolved mode is applied
	// immediately when the daemon starts, before the first focus change.
	ApplyOnStart bool `toml:"apply_on_start" json:"apply_on_start" yaml:"apply_on_start"`

	// ReapplyOnResume determines whether the mode is re-applied after the
	// system wakes from sleep. Firmware resets the fn-key mode on some
	// machines.
	ReapplyOnResume bool `toml:"reapply_on_resume" json:"reapply_on_resume" yaml:"reapply_on_resume"`
}

// KeyboardConfig holds fn-key mode configuration.
type KeyboardConfig struct {
	// DefaultMode is the mode used for apps without a rule: "apple" or "other".
	DefaultMode string `toml:"default_mode" json:"default_mode" yaml:"default_mode"`

	// RestoreStateOnQuit determines whether a specific mode is restored
	// when the daemon shuts down.
	RestoreStateOnQuit bool `toml:"restore_state_on_quit" json:"restore_state_on_quit" yaml:"restore_state_on_quit"`

	// RestorePreviousState selects what to restore on quit: the mode that
	// was active when the daemon started (true), or OnQuitState (false).
	// Only meaningful when RestoreStateOnQuit is set.
	RestorePreviousState bool `toml:"restore_previous_state" json:"restore_previous_state" yaml:"restore_previous_state"`

	// OnQuitState is the fixed mode restored on quit when
	// RestorePreviousState is false: "apple" or "other".
	OnQuitState string `toml:"on_quit_state" json:"on_quit_state" yaml:"on_quit_state"`

	// FnmodePath overrides the hid_apple sysfs path on Linux.
	// Empty means the standard /sys/module/hid_apple/parameters/fnmode.
	FnmodePath string `toml:"fnmode_path" json:"fnmode_path" yaml:"fnmode_path"`
}

// FocusConfig holds application focus tracking configuration.
type FocusConfig struct {
	// DebounceMs is the focus change debounce interval in milliseconds.
	// Rapid app switches within this window collapse into one change.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`

	// PollIntervalMs is the polling interval for platforms without focus
	// change notifications.
	PollIntervalMs int `toml:"poll_interval_ms" json:"poll_interval_ms" yaml:"poll_interval_ms"`

	// IgnoreApps is a list of app identifiers that never trigger a mode
	// switch. The daemon's own frontends are always ignored.
	IgnoreApps []string `toml:"ignore_apps" json:"ignore_apps" yaml:"ignore_apps"`
}

// RulesConfig holds per-app rule persistence configuration.
type RulesConfig struct {
	// Path is the path to the rules database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`

	// MaxConnections is the maximum number of database connections.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output includes "file").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of log files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// IPCConfig holds inter-process communication configuration.
type IPCConfig struct {
	// Enabled determines whether the IPC server is enabled.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// SocketPath is the path to the Unix socket (or named pipe on Windows).
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// Permissions is the Unix socket permissions (e.g., "0600").
	Permissions string `toml:"permissions" json:"permissions" yaml:"permissions"`

	// MaxConnections is the maximum concurrent connections.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`

	// TimeoutSec is the connection timeout.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// TrayConfig holds menu bar frontend configuration.
type TrayConfig struct {
	// Enabled determines whether the tray expects to connect.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// ShowAppName shows the focused app name in the tray menu.
	ShowAppName bool `toml:"show_app_name" json:"show_app_name" yaml:"show_app_name"`
}

// NotificationsConfig holds desktop notification configuration.
type NotificationsConfig struct {
	// Enabled determines whether desktop notifications are sent.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// OnModeChange notifies when the keyboard mode switches.
	OnModeChange bool `toml:"on_mode_change" json:"on_mode_change" yaml:"on_mode_change"`
}

// Mode strings accepted by KeyboardConfig fields.
const (
	ModeApple = "apple"
	ModeOther = "other"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := FnmodedDir()

	return &Config{
		Version: Version,
		Daemon: DaemonConfig{
			PidFile:         filepath.Join(dir, "fnmoded.pid"),
			ApplyOnStart:    true,
			ReapplyOnResume: true,
		},
		Keyboard: KeyboardConfig{
			DefaultMode:          ModeApple,
			RestoreStateOnQuit:   true,
			RestorePreviousState: true,
			OnQuitState:          ModeApple,
			FnmodePath:           "",
		},
		Focus: FocusConfig{
			DebounceMs:     150,
			PollIntervalMs: 500,
			IgnoreApps:     DefaultIgnoredApps(),
		},
		Rules: RulesConfig{
			Path:           filepath.Join(dir, "rules.db"),
			BusyTimeoutMs:  5000,
			MaxConnections: 5,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "file",
			FilePath:   filepath.Join(dir, "fnmoded.log"),
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
		IPC: IPCConfig{
			Enabled:        true,
			SocketPath:     defaultSocketPath(),
			Permissions:    "0600",
			MaxConnections: 10,
			TimeoutSec:     30,
		},
		Tray: TrayConfig{
			Enabled:     true,
			ShowAppName: true,
		},
		Notifications: NotificationsConfig{
			Enabled:      false,
			OnModeChange: true,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(FnmodedDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates all necessary directories for the daemon.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Rules.Path),
		filepath.Dir(c.Logging.FilePath),
		filepath.Dir(c.Daemon.PidFile),
	}
	if c.IPC.SocketPath != "" && runtime.GOOS != "windows" {
		dirs = append(dirs, filepath.Dir(c.IPC.SocketPath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// FnmodedDir returns the base fnmoded directory.
// Uses platform-specific paths or the FNMODED_DATA_DIR environment override.
func FnmodedDir() string {
	if envDir := os.Getenv("FNMODED_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with FNMODED_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Keyboard overrides
	if v := os.Getenv("FNMODED_DEFAULT_MODE"); v != "" {
		c.Keyboard.DefaultMode = v
	}
	if v := os.Getenv("FNMODED_FNMODE_PATH"); v != "" {
		c.Keyboard.FnmodePath = v
	}

	// Rules overrides
	if v := os.Getenv("FNMODED_RULES_PATH"); v != "" {
		c.Rules.Path = v
	}

	// Logging overrides
	if v := os.Getenv("FNMODED_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FNMODED_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}

	// IPC overrides
	if v := os.Getenv("FNMODED_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := *c
	clone.Focus.IgnoreApps = append([]string{}, c.Focus.IgnoreApps...)
	return &clone
}

func defaultSocketPath() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "fnmoded", "fnmoded.sock")
	case "linux":
		// Prefer XDG_RUNTIME_DIR
		if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
			return filepath.Join(xdgRuntime, "fnmoded.sock")
		}
		return "/tmp/fnmoded.sock"
	case "windows":
		return `\\.\pipe\fnmoded`
	default:
		return "/tmp/fnmoded.sock"
	}
}

// RulesPath returns the rules database path.
func (c *Config) RulesPath() string {
	return c.Rules.Path
}

// LogPath returns the log file path.
func (c *Config) LogPath() string {
	return c.Logging.FilePath
}

// SocketPath returns the IPC socket path.
func (c *Config) SocketPath() string {
	return c.IPC.SocketPath
}
