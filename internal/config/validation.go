// Package config handles configuration loading and validation for fnmoded.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	if daemonErrs := validateDaemon(&c.Daemon); len(daemonErrs) > 0 {
		errs = append(errs, daemonErrs...)
	}

	if kbErrs := validateKeyboard(&c.Keyboard); len(kbErrs) > 0 {
		errs = append(errs, kbErrs...)
	}

	if focusErrs := validateFocus(&c.Focus); len(focusErrs) > 0 {
		errs = append(errs, focusErrs...)
	}

	if rulesErrs := validateRules(&c.Rules); len(rulesErrs) > 0 {
		errs = append(errs, rulesErrs...)
	}

	if loggingErrs := validateLogging(&c.Logging); len(loggingErrs) > 0 {
		errs = append(errs, loggingErrs...)
	}

	if ipcErrs := validateIPC(&c.IPC); len(ipcErrs) > 0 {
		errs = append(errs, ipcErrs...)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDaemon(d *DaemonConfig) ValidationErrors {
	var errs ValidationErrors

	if d.PidFile == "" {
		errs = append(errs, ValidationError{
			Field:   "daemon.pid_file",
			Message: "pid file path is required",
		})
	}

	return errs
}

func validateKeyboard(k *KeyboardConfig) ValidationErrors {
	var errs ValidationErrors

	if !isValidMode(k.DefaultMode) {
		errs = append(errs, ValidationError{
			Field:   "keyboard.default_mode",
			Message: fmt.Sprintf("invalid mode: %s (valid: apple, other)", k.DefaultMode),
		})
	}

	if k.RestoreStateOnQuit && !k.RestorePreviousState && !isValidMode(k.OnQuitState) {
		errs = append(errs, ValidationError{
			Field:   "keyboard.on_quit_state",
			Message: fmt.Sprintf("invalid mode: %s (valid: apple, other)", k.OnQuitState),
		})
	}

	// The fnmode path may legitimately be absent (non-Apple keyboard,
	// module not loaded). Flag as a warning only.
	if k.FnmodePath != "" {
		if _, err := os.Stat(expandPath(k.FnmodePath)); err != nil {
			errs = append(errs, ValidationError{
				Field:   "keyboard.fnmode_path",
				Message: fmt.Sprintf("path not accessible: %s", k.FnmodePath),
			})
		}
	}

	return errs
}

func validateFocus(f *FocusConfig) ValidationErrors {
	var errs ValidationErrors

	if f.DebounceMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "focus.debounce_ms",
			Message: "debounce cannot be negative",
		})
	}
	if f.DebounceMs > 5000 {
		errs = append(errs, ValidationError{
			Field:   "focus.debounce_ms",
			Message: "debounce cannot exceed 5000ms",
		})
	}

	if f.PollIntervalMs < 100 {
		errs = append(errs, ValidationError{
			Field:   "focus.poll_interval_ms",
			Message: "poll interval must be at least 100ms",
		})
	}
	if f.PollIntervalMs > 10000 {
		errs = append(errs, ValidationError{
			Field:   "focus.poll_interval_ms",
			Message: "poll interval cannot exceed 10000ms",
		})
	}

	for i, app := range f.IgnoreApps {
		if strings.TrimSpace(app) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("focus.ignore_apps[%d]", i),
				Message: "app identifier cannot be empty",
			})
		}
	}

	return errs
}

func validateRules(r *RulesConfig) ValidationErrors {
	var errs ValidationErrors

	if r.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "rules.path",
			Message: "rules database path is required",
		})
	}

	if r.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "rules.busy_timeout_ms",
			Message: "busy timeout cannot be negative",
		})
	}

	if r.MaxConnections < 1 {
		errs = append(errs, ValidationError{
			Field:   "rules.max_connections",
			Message: "max connections must be at least 1",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch strings.ToLower(l.Format) {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid format: %s (valid: text, json)", l.Format),
		})
	}

	switch strings.ToLower(l.Output) {
	case "stdout", "stderr", "file", "both":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if (strings.ToLower(l.Output) == "file" || strings.ToLower(l.Output) == "both") && l.FilePath == "" {
		errs = append(errs, ValidationError{
			Field:   "logging.file_path",
			Message: "file path is required when output includes file",
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}

	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

func validateIPC(i *IPCConfig) ValidationErrors {
	var errs ValidationErrors

	if !i.Enabled {
		return errs
	}

	if i.SocketPath == "" {
		errs = append(errs, ValidationError{
			Field:   "ipc.socket_path",
			Message: "socket path is required when IPC is enabled",
		})
	}

	// Validate permissions format (Unix only)
	if i.Permissions != "" {
		if matched, _ := regexp.MatchString(`^0[0-7]{3}$`, i.Permissions); !matched {
			errs = append(errs, ValidationError{
				Field:   "ipc.permissions",
				Message: fmt.Sprintf("invalid permissions format: %s (expected octal like 0600)", i.Permissions),
			})
		}
	}

	if i.MaxConnections < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.max_connections",
			Message: "max connections must be at least 1",
		})
	}

	if i.TimeoutSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.timeout_sec",
			Message: "timeout must be at least 1 second",
		})
	}

	return errs
}

// Helper functions

func isValidMode(mode string) bool {
	switch mode {
	case ModeApple, ModeOther:
		return true
	default:
		return false
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// IsWarning returns true if this is a non-fatal validation issue.
func (e *ValidationError) IsWarning() bool {
	// Some fields are warnings, not errors
	warningFields := []string{
		"keyboard.fnmode_path", // The module may load later
	}
	for _, f := range warningFields {
		if strings.HasPrefix(e.Field, f) {
			return true
		}
	}
	return false
}

// Warnings returns only warning-level validation errors.
func (e ValidationErrors) Warnings() ValidationErrors {
	var warnings ValidationErrors
	for _, err := range e {
		if err.IsWarning() {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// Errors returns only error-level validation errors.
func (e ValidationErrors) Errors() ValidationErrors {
	var errs ValidationErrors
	for _, err := range e {
		if !err.IsWarning() {
			errs = append(errs, err)
		}
	}
	return errs
}

// HasErrors returns true if there are any non-warning errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")
