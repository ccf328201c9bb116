// Package config handles configuration loading and validation for fnmoded.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// MigrationResult contains the result of a configuration migration.
type MigrationResult struct {
	FromVersion int
	ToVersion   int
	Backup      string
	Changes     []string
	Warnings    []string
}

// MigrateConfig migrates a configuration from an older version to the current version.
// It automatically creates a backup before migration.
func MigrateConfig(cfg *Config, configPath string) (*MigrationResult, error) {
	if cfg.Version >= Version {
		return nil, nil // No migration needed
	}

	result := &MigrationResult{
		FromVersion: cfg.Version,
		ToVersion:   Version,
	}

	// Create backup before migration
	if configPath != "" {
		backup, err := backupConfig(configPath)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("could not create backup: %v", err))
		} else {
			result.Backup = backup
		}
	}

	// Apply migrations in sequence
	for cfg.Version < Version {
		changes, warnings, err := applyMigration(cfg)
		if err != nil {
			return result, fmt.Errorf("migration from v%d to v%d failed: %w", cfg.Version, cfg.Version+1, err)
		}
		result.Changes = append(result.Changes, changes...)
		result.Warnings = append(result.Warnings, warnings...)
	}

	return result, nil
}

// applyMigration applies a single version upgrade.
func applyMigration(cfg *Config) (changes []string, warnings []string, err error) {
	switch cfg.Version {
	case 1:
		changes, warnings = migrateV1ToV2(cfg)
	case 2:
		changes, warnings = migrateV2ToV3(cfg)
	default:
		return nil, nil, fmt.Errorf("unknown version %d", cfg.Version)
	}

	cfg.Version++
	return changes, warnings, nil
}

// migrateV1ToV2 migrates from version 1 to version 2.
// V1 was the original flat preferences file with integer mode values.
func migrateV1ToV2(cfg *Config) (changes []string, warnings []string) {
	dir := FnmodedDir()

	if cfg.Keyboard.DefaultMode == "" {
		cfg.Keyboard.DefaultMode = ModeApple
		changes = append(changes, "set default keyboard.default_mode")
	}

	if cfg.Keyboard.OnQuitState == "" {
		cfg.Keyboard.OnQuitState = ModeApple
		changes = append(changes, "set default keyboard.on_quit_state")
	}

	if cfg.Rules.Path == "" {
		cfg.Rules.Path = filepath.Join(dir, "rules.db")
		changes = append(changes, "set default rules.path")
	}

	if cfg.Logging.FilePath == "" {
		cfg.Logging.FilePath = filepath.Join(dir, "fnmoded.log")
		changes = append(changes, "set default logging.file_path")
	}

	if cfg.IPC.SocketPath == "" {
		cfg.IPC.Enabled = true
		cfg.IPC.SocketPath = defaultSocketPath()
		cfg.IPC.Permissions = "0600"
		cfg.IPC.MaxConnections = 10
		cfg.IPC.TimeoutSec = 30
		changes = append(changes, "added IPC configuration")
	}

	return changes, warnings
}

// migrateV2ToV3 migrates from version 2 to version 3.
// V3 added daemon, focus, tray, and notifications sections.
func migrateV2ToV3(cfg *Config) (changes []string, warnings []string) {
	dir := FnmodedDir()

	if cfg.Daemon.PidFile == "" {
		cfg.Daemon.PidFile = filepath.Join(dir, "fnmoded.pid")
		cfg.Daemon.ApplyOnStart = true
		cfg.Daemon.ReapplyOnResume = true
		changes = append(changes, "added daemon configuration")
	}

	if cfg.Focus.DebounceMs == 0 {
		cfg.Focus.DebounceMs = 150
		cfg.Focus.PollIntervalMs = 500
		cfg.Focus.IgnoreApps = DefaultIgnoredApps()
		changes = append(changes, "added focus tracking configuration")
	}

	if !cfg.Tray.Enabled {
		cfg.Tray.Enabled = true
		cfg.Tray.ShowAppName = true
		changes = append(changes, "enabled tray configuration")
	}

	return changes, warnings
}

// backupConfig creates a backup of the config file.
func backupConfig(configPath string) (string, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return "", nil // No file to backup
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	backupPath := configPath + ".backup-" + timestamp

	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	return backupPath, nil
}

// MigrateLegacyConfig converts a legacy (v1) configuration map to the new format.
// V1 stored integer mode values: 0 for apple, 1 for other. Per-app rules that
// lived in the v1 file are imported into the rules database by the store, not
// here.
func MigrateLegacyConfig(data map[string]interface{}) (*Config, error) {
	cfg := DefaultConfig()

	if v, ok := data["version"].(float64); ok {
		cfg.Version = int(v)
	} else {
		cfg.Version = 1 // Assume version 1 if not specified
	}

	if mode, ok := data["default_mode"].(float64); ok {
		cfg.Keyboard.DefaultMode = legacyIntMode(int(mode))
	}
	if mode, ok := data["default_mode"].(string); ok {
		cfg.Keyboard.DefaultMode = mode
	}

	if restore, ok := data["restore_on_quit"].(bool); ok {
		cfg.Keyboard.RestoreStateOnQuit = restore
	}

	if previous, ok := data["restore_previous"].(bool); ok {
		cfg.Keyboard.RestorePreviousState = previous
	}

	if mode, ok := data["on_quit_mode"].(float64); ok {
		cfg.Keyboard.OnQuitState = legacyIntMode(int(mode))
	}

	if path, ok := data["socket_path"].(string); ok {
		cfg.IPC.SocketPath = path
	}

	if path, ok := data["log_path"].(string); ok {
		cfg.Logging.FilePath = path
	}

	if path, ok := data["rules_path"].(string); ok {
		cfg.Rules.Path = path
	}

	return cfg, nil
}

// legacyIntMode maps v1 integer modes to mode strings.
func legacyIntMode(mode int) string {
	if mode == 1 {
		return ModeOther
	}
	return ModeApple
}

// SaveConfig saves the configuration to a file.
func SaveConfig(cfg *Config, path string) error {
	ext := filepath.Ext(path)

	var data []byte
	var err error

	switch ext {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		// Default to TOML
		data = []byte(generateTOML(cfg))
	}

	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// generateTOML generates a well-formatted TOML configuration file.
func generateTOML(cfg *Config) string {
	return fmt.Sprintf(`# fnmoded configuration
# Version %d

version = %d

[daemon]
pid_file = "%s"
apply_on_start = %t
reapply_on_resume = %t

[keyboard]
default_mode = "%s"
restore_state_on_quit = %t
restore_previous_state = %t
on_quit_state = "%s"
fnmode_path = "%s"

[focus]
debounce_ms = %d
poll_interval_ms = %d
ignore_apps = %s

[rules]
path = "%s"
busy_timeout_ms = %d
max_connections = %d

[logging]
level = "%s"
format = "%s"
output = "%s"
file_path = "%s"
max_size_mb = %d
max_backups = %d
max_age_days = %d
compress = %t

[ipc]
enabled = %t
socket_path = "%s"
permissions = "%s"
max_connections = %d
timeout_sec = %d

[tray]
enabled = %t
show_app_name = %t

[notifications]
enabled = %t
on_mode_change = %t
`,
		Version,
		cfg.Version,
		cfg.Daemon.PidFile,
		cfg.Daemon.ApplyOnStart,
		cfg.Daemon.ReapplyOnResume,
		cfg.Keyboard.DefaultMode,
		cfg.Keyboard.RestoreStateOnQuit,
		cfg.Keyboard.RestorePreviousState,
		cfg.Keyboard.OnQuitState,
		cfg.Keyboard.FnmodePath,
		cfg.Focus.DebounceMs,
		cfg.Focus.PollIntervalMs,
		toTOMLArray(cfg.Focus.IgnoreApps),
		cfg.Rules.Path,
		cfg.Rules.BusyTimeoutMs,
		cfg.Rules.MaxConnections,
		cfg.Logging.Level,
		cfg.Logging.Format,
		cfg.Logging.Output,
		cfg.Logging.FilePath,
		cfg.Logging.MaxSizeMB,
		cfg.Logging.MaxBackups,
		cfg.Logging.MaxAgeDays,
		cfg.Logging.Compress,
		cfg.IPC.Enabled,
		cfg.IPC.SocketPath,
		cfg.IPC.Permissions,
		cfg.IPC.MaxConnections,
		cfg.IPC.TimeoutSec,
		cfg.Tray.Enabled,
		cfg.Tray.ShowAppName,
		cfg.Notifications.Enabled,
		cfg.Notifications.OnModeChange,
	)
}

func toTOMLArray(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	result := "["
	for i, item := range items {
		if i > 0 {
			result += ", "
		}
		result += fmt.Sprintf(`"%s"`, item)
	}
	result += "]"
	return result
}

// GetMigrationHistory returns the migration history if stored in the config directory.
func GetMigrationHistory() ([]MigrationResult, error) {
	historyPath := filepath.Join(FnmodedDir(), "migration_history.json")

	data, err := os.ReadFile(historyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read migration history: %w", err)
	}

	var history []MigrationResult
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("parse migration history: %w", err)
	}

	return history, nil
}

// SaveMigrationHistory saves a migration result to the history file.
func SaveMigrationHistory(result *MigrationResult) error {
	historyPath := filepath.Join(FnmodedDir(), "migration_history.json")

	history, err := GetMigrationHistory()
	if err != nil {
		history = nil // Start fresh if error
	}

	history = append(history, *result)

	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode migration history: %w", err)
	}

	dir := filepath.Dir(historyPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	if err := os.WriteFile(historyPath, data, 0600); err != nil {
		return fmt.Errorf("write migration history: %w", err)
	}

	return nil
}
