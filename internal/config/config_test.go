package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Version != Version {
		t.Errorf("expected version %d, got %d", Version, cfg.Version)
	}
	if cfg.Keyboard.DefaultMode != ModeApple {
		t.Errorf("expected default mode apple, got %s", cfg.Keyboard.DefaultMode)
	}
	if !cfg.Keyboard.RestoreStateOnQuit {
		t.Error("expected restore_state_on_quit enabled by default")
	}
	if cfg.Focus.DebounceMs != 150 {
		t.Errorf("expected debounce 150ms, got %d", cfg.Focus.DebounceMs)
	}

	// Check paths contain fnmoded
	if !strings.Contains(cfg.RulesPath(), "fnmoded") {
		t.Errorf("rules path should contain fnmoded: %s", cfg.RulesPath())
	}
	if !strings.Contains(cfg.LogPath(), "fnmoded") {
		t.Errorf("log path should contain fnmoded: %s", cfg.LogPath())
	}
	if !strings.Contains(cfg.Daemon.PidFile, "fnmoded") {
		t.Errorf("pid file should contain fnmoded: %s", cfg.Daemon.PidFile)
	}
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	if path == "" {
		t.Error("ConfigPath returned empty string")
	}
	if !strings.HasSuffix(path, "config.toml") {
		t.Errorf("expected path ending with config.toml, got %s", path)
	}
}

func TestFnmodedDirEnvOverride(t *testing.T) {
	t.Setenv("FNMODED_DATA_DIR", "/custom/data/dir")
	if dir := FnmodedDir(); dir != "/custom/data/dir" {
		t.Errorf("expected /custom/data/dir, got %s", dir)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}

	// Should have defaults
	if cfg.Keyboard.DefaultMode != ModeApple {
		t.Errorf("expected default mode apple, got %s", cfg.Keyboard.DefaultMode)
	}
}

func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `
version = 3

[keyboard]
default_mode = "other"
restore_state_on_quit = false

[focus]
debounce_ms = 300
ignore_apps = ["com.example.kiosk"]

[rules]
path = "/custom/path/rules.db"

[ipc]
enabled = true
socket_path = "/custom/fnmoded.sock"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Keyboard.DefaultMode != ModeOther {
		t.Errorf("expected default mode other, got %s", cfg.Keyboard.DefaultMode)
	}
	if cfg.Keyboard.RestoreStateOnQuit {
		t.Error("expected restore_state_on_quit disabled")
	}
	if cfg.Focus.DebounceMs != 300 {
		t.Errorf("expected debounce 300, got %d", cfg.Focus.DebounceMs)
	}
	if len(cfg.Focus.IgnoreApps) != 1 || cfg.Focus.IgnoreApps[0] != "com.example.kiosk" {
		t.Errorf("unexpected ignore apps: %v", cfg.Focus.IgnoreApps)
	}
	if cfg.Rules.Path != "/custom/path/rules.db" {
		t.Errorf("expected rules path /custom/path/rules.db, got %s", cfg.Rules.Path)
	}
	if cfg.IPC.SocketPath != "/custom/fnmoded.sock" {
		t.Errorf("expected socket path /custom/fnmoded.sock, got %s", cfg.IPC.SocketPath)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	// Only set some values, rest should come from defaults
	content := `
[focus]
debounce_ms = 250
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Focus.DebounceMs != 250 {
		t.Errorf("expected debounce 250, got %d", cfg.Focus.DebounceMs)
	}
	// Other fields should have defaults
	if cfg.Keyboard.DefaultMode != ModeApple {
		t.Errorf("expected default mode apple, got %s", cfg.Keyboard.DefaultMode)
	}
	if !strings.Contains(cfg.Rules.Path, "fnmoded") {
		t.Error("rules path should have default value")
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `
this is not valid toml {{{
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestLoadJSONConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	content := `{
  "version": 3,
  "keyboard": {"default_mode": "other"}
}`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Keyboard.DefaultMode != ModeOther {
		t.Errorf("expected default mode other, got %s", cfg.Keyboard.DefaultMode)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("FNMODED_DEFAULT_MODE", "other")
	t.Setenv("FNMODED_SOCKET_PATH", "/env/fnmoded.sock")
	t.Setenv("FNMODED_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Keyboard.DefaultMode != ModeOther {
		t.Errorf("expected default mode other, got %s", cfg.Keyboard.DefaultMode)
	}
	if cfg.IPC.SocketPath != "/env/fnmoded.sock" {
		t.Errorf("expected socket path /env/fnmoded.sock, got %s", cfg.IPC.SocketPath)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	if err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestValidateInvalidMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Keyboard.DefaultMode = "sideways"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid default mode")
	}

	cfg = DefaultConfig()
	cfg.Keyboard.RestorePreviousState = false
	cfg.Keyboard.OnQuitState = "nope"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid on-quit state")
	}
}

func TestValidateOnQuitStateIgnoredWhenRestoringPrevious(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Keyboard.RestorePreviousState = true
	cfg.Keyboard.OnQuitState = "garbage"
	if err := cfg.Validate(); err != nil {
		t.Errorf("on_quit_state should not be validated when restoring previous: %v", err)
	}
}

func TestValidateFocusBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Focus.DebounceMs = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative debounce")
	}

	cfg = DefaultConfig()
	cfg.Focus.PollIntervalMs = 10
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for too-small poll interval")
	}
}

func TestValidateLogging(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid log level")
	}

	cfg = DefaultConfig()
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for file output without path")
	}
}

func TestValidateIPCDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IPC.Enabled = false
	cfg.IPC.SocketPath = ""
	cfg.IPC.MaxConnections = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled IPC should skip validation: %v", err)
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Rules.Path = filepath.Join(tmpDir, "data", "rules.db")
	cfg.Logging.FilePath = filepath.Join(tmpDir, "logs", "fnmoded.log")
	cfg.Daemon.PidFile = filepath.Join(tmpDir, "run", "fnmoded.pid")
	cfg.IPC.SocketPath = filepath.Join(tmpDir, "sock", "fnmoded.sock")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{"data", "logs", "run", "sock"} {
		if _, err := os.Stat(filepath.Join(tmpDir, dir)); os.IsNotExist(err) {
			t.Errorf("%s was not created", dir)
		}
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Focus.IgnoreApps = []string{"com.example.a"}

	clone := cfg.Clone()
	clone.Focus.IgnoreApps[0] = "com.example.b"
	clone.Keyboard.DefaultMode = ModeOther

	if cfg.Focus.IgnoreApps[0] != "com.example.a" {
		t.Error("clone shares ignore apps slice with original")
	}
	if cfg.Keyboard.DefaultMode != ModeApple {
		t.Error("clone shares keyboard config with original")
	}
}

func TestMigrateLegacyConfig(t *testing.T) {
	legacy := map[string]interface{}{
		"default_mode":    float64(1),
		"restore_on_quit": true,
		"on_quit_mode":    float64(0),
		"socket_path":     "/legacy/fnmoded.sock",
	}

	cfg, err := MigrateLegacyConfig(legacy)
	if err != nil {
		t.Fatalf("MigrateLegacyConfig failed: %v", err)
	}

	if cfg.Keyboard.DefaultMode != ModeOther {
		t.Errorf("expected default mode other, got %s", cfg.Keyboard.DefaultMode)
	}
	if cfg.Keyboard.OnQuitState != ModeApple {
		t.Errorf("expected on-quit state apple, got %s", cfg.Keyboard.OnQuitState)
	}
	if !cfg.Keyboard.RestoreStateOnQuit {
		t.Error("expected restore_on_quit carried over")
	}
	if cfg.IPC.SocketPath != "/legacy/fnmoded.sock" {
		t.Errorf("expected legacy socket path, got %s", cfg.IPC.SocketPath)
	}
	if cfg.Version != 1 {
		t.Errorf("expected version 1 for unversioned legacy config, got %d", cfg.Version)
	}
}

func TestMigrateConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Version = 1
	cfg.Daemon.PidFile = ""
	cfg.Focus.DebounceMs = 0

	result, err := MigrateConfig(cfg, "")
	if err != nil {
		t.Fatalf("MigrateConfig failed: %v", err)
	}
	if result == nil {
		t.Fatal("expected migration result")
	}

	if cfg.Version != Version {
		t.Errorf("expected version %d after migration, got %d", Version, cfg.Version)
	}
	if result.FromVersion != 1 || result.ToVersion != Version {
		t.Errorf("unexpected migration range: %d -> %d", result.FromVersion, result.ToVersion)
	}
	if len(result.Changes) == 0 {
		t.Error("expected recorded changes")
	}
	if cfg.Daemon.PidFile == "" {
		t.Error("migration should set daemon.pid_file")
	}
	if cfg.Focus.DebounceMs != 150 {
		t.Errorf("migration should set focus defaults, got debounce %d", cfg.Focus.DebounceMs)
	}
}

func TestMigrateConfigCurrentVersion(t *testing.T) {
	cfg := DefaultConfig()
	result, err := MigrateConfig(cfg, "")
	if err != nil {
		t.Fatalf("MigrateConfig failed: %v", err)
	}
	if result != nil {
		t.Error("expected nil result for current version")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	cfg := DefaultConfig()
	cfg.Keyboard.DefaultMode = ModeOther
	cfg.Focus.IgnoreApps = []string{"com.example.one", "com.example.two"}

	if err := SaveConfig(cfg, configPath); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Keyboard.DefaultMode != ModeOther {
		t.Errorf("expected default mode other, got %s", loaded.Keyboard.DefaultMode)
	}
	if len(loaded.Focus.IgnoreApps) != 2 {
		t.Errorf("expected 2 ignore apps, got %d", len(loaded.Focus.IgnoreApps))
	}
}

func TestLoadOrCreate(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	cfg, created, err := LoadOrCreate(configPath)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if !created {
		t.Error("expected config file to be created")
	}
	if cfg == nil {
		t.Fatal("expected config")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not written")
	}

	// Second call loads the existing file
	_, created, err = LoadOrCreate(configPath)
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if created {
		t.Error("expected existing config to be loaded, not created")
	}
}

func TestMerge(t *testing.T) {
	dst := DefaultConfig()
	src := &Config{}
	src.Keyboard.DefaultMode = ModeOther
	src.Focus.DebounceMs = 400
	src.Logging.Level = "debug"

	merged := Merge(dst, src)

	if merged.Keyboard.DefaultMode != ModeOther {
		t.Errorf("expected merged default mode other, got %s", merged.Keyboard.DefaultMode)
	}
	if merged.Focus.DebounceMs != 400 {
		t.Errorf("expected merged debounce 400, got %d", merged.Focus.DebounceMs)
	}
	if merged.Logging.Level != "debug" {
		t.Errorf("expected merged log level debug, got %s", merged.Logging.Level)
	}
	// Unset fields keep dst values
	if merged.Rules.Path != dst.Rules.Path {
		t.Error("unset rules path should keep destination value")
	}
}
