// Package config handles configuration loading and validation for fnmoded.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/fnmoded/
//   - Linux:   ~/.local/share/fnmoded/
//   - Windows: %APPDATA%\fnmoded\
//
// Falls back to ~/.fnmoded if platform detection fails.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir()
	case "linux":
		return linuxDataDir()
	case "windows":
		return windowsDataDir()
	default:
		return fallbackDataDir()
	}
}

// PlatformConfigDir returns the platform-specific config directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/fnmoded/
//   - Linux:   ~/.config/fnmoded/
//   - Windows: %APPDATA%\fnmoded\
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir() // macOS uses same dir for config and data
	case "linux":
		return linuxConfigDir()
	case "windows":
		return windowsDataDir() // Windows uses same dir for config and data
	default:
		return fallbackDataDir()
	}
}

// PlatformLogDir returns the platform-specific log directory.
//
// Platform paths:
//   - macOS:   ~/Library/Logs/fnmoded/
//   - Linux:   ~/.local/state/fnmoded/ (XDG_STATE_HOME)
//   - Windows: %LOCALAPPDATA%\fnmoded\logs\
func PlatformLogDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSLogDir()
	case "linux":
		return linuxStateDir()
	case "windows":
		return windowsLogDir()
	default:
		return filepath.Join(fallbackDataDir(), "logs")
	}
}

// PlatformRuntimeDir returns the platform-specific runtime directory for sockets.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/fnmoded/
//   - Linux:   $XDG_RUNTIME_DIR/fnmoded/ or /tmp/fnmoded-$UID/
//   - Windows: (uses named pipes, not applicable)
func PlatformRuntimeDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir()
	case "linux":
		return linuxRuntimeDir()
	case "windows":
		return "" // Windows uses named pipes
	default:
		return filepath.Join("/tmp", "fnmoded-"+getUserID())
	}
}

// macOS-specific paths

func macOSDataDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, "Library", "Application Support", "fnmoded")
}

func macOSLogDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, "Library", "Logs", "fnmoded")
}

// Linux-specific paths following XDG Base Directory Specification

func linuxDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "fnmoded")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "fnmoded")
}

func linuxConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "fnmoded")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "fnmoded")
}

func linuxStateDir() string {
	if xdgState := os.Getenv("XDG_STATE_HOME"); xdgState != "" {
		return filepath.Join(xdgState, "fnmoded")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "fnmoded")
}

func linuxRuntimeDir() string {
	if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
		return filepath.Join(xdgRuntime, "fnmoded")
	}
	return filepath.Join("/tmp", "fnmoded-"+getUserID())
}

// Windows-specific paths

func windowsDataDir() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, "fnmoded")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "AppData", "Roaming", "fnmoded")
}

func windowsLogDir() string {
	if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
		return filepath.Join(localAppData, "fnmoded", "logs")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "AppData", "Local", "fnmoded", "logs")
}

// Fallback path

func fallbackDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".fnmoded")
}

func getUserID() string {
	if uid := os.Getuid(); uid >= 0 {
		return strconv.Itoa(uid)
	}
	return "0"
}

// DefaultPaths returns all default paths for a platform.
type DefaultPaths struct {
	DataDir    string
	ConfigDir  string
	LogDir     string
	RuntimeDir string

	// Specific file paths
	ConfigFile string
	RulesFile  string
	LogFile    string
	SocketPath string
	PIDFile    string
}

// GetDefaultPaths returns all default paths for the current platform.
func GetDefaultPaths() *DefaultPaths {
	dataDir := PlatformDataDir()
	configDir := PlatformConfigDir()
	logDir := PlatformLogDir()
	runtimeDir := PlatformRuntimeDir()

	return &DefaultPaths{
		DataDir:    dataDir,
		ConfigDir:  configDir,
		LogDir:     logDir,
		RuntimeDir: runtimeDir,

		ConfigFile: filepath.Join(configDir, "config.toml"),
		RulesFile:  filepath.Join(dataDir, "rules.db"),
		LogFile:    filepath.Join(logDir, "fnmoded.log"),
		SocketPath: getDefaultSocketPath(runtimeDir),
		PIDFile:    filepath.Join(dataDir, "fnmoded.pid"),
	}
}

func getDefaultSocketPath(runtimeDir string) string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\fnmoded`
	}
	if runtimeDir != "" {
		return filepath.Join(runtimeDir, "fnmoded.sock")
	}
	return "/tmp/fnmoded.sock"
}

// DefaultIgnoredApps returns app identifiers that never trigger a mode
// switch. These are transient system surfaces that briefly steal focus.
func DefaultIgnoredApps() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"com.apple.loginwindow",
			"com.apple.SecurityAgent",
			"com.apple.ScreenSaver.Engine",
			"com.apple.notificationcenterui",
		}
	case "linux":
		return []string{
			"gnome-screensaver",
			"xscreensaver",
			"gnome-shell",
		}
	default:
		return []string{}
	}
}

// Platform constants for feature detection
const (
	PlatformMacOS   = "darwin"
	PlatformLinux   = "linux"
	PlatformWindows = "windows"
)

// HasFnKeySupport returns true if the platform can switch the fn-key mode.
func HasFnKeySupport() bool {
	switch runtime.GOOS {
	case "darwin", "linux":
		return true
	default:
		return false
	}
}

// HasFocusNotifications returns true if the platform delivers focus change
// notifications natively, rather than requiring polling.
func HasFocusNotifications() bool {
	switch runtime.GOOS {
	case "darwin", "windows":
		return true
	default:
		return false
	}
}

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{
		"toml",
		"json",
		"yaml",
		"yml",
	}
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first found config file, or empty string if none found.
func FindConfigFile() string {
	paths := GetDefaultPaths()

	// Search order:
	// 1. Current directory
	// 2. Config directory
	// 3. Data directory (legacy)
	searchDirs := []string{
		".",
		paths.ConfigDir,
		paths.DataDir,
	}

	for _, dir := range searchDirs {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}

	return ""
}
