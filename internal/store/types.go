// Package store persists per-app fn-key rules and runtime settings in SQLite.
package store

import (
	"time"

	"fnmoded/internal/keymode"
)

// Rule pins an application to a keyboard mode. Apps without a rule inherit
// the global default; inherited is represented by absence, never stored.
type Rule struct {
	// AppID is the reverse-DNS application identifier (bundle identifier
	// on macOS, desktop file id or executable name on Linux).
	AppID string

	// AppName is the human-readable application name, for display.
	AppName string

	// AppPath is the install location, when known.
	AppPath string

	// Behavior is the pinned mode: BehaviorApple or BehaviorOther.
	Behavior keymode.AppBehavior

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Setting keys stored in the settings table.
const (
	// SettingDefaultMode overrides the configured default mode at runtime.
	SettingDefaultMode = "default_mode"
)
