//go:build linux

package main

import (
	"fnmoded/internal/config"
	"fnmoded/internal/keymode"
)

// buildKeyboard honors the fnmode_path override so the daemon can be
// pointed at a fake sysfs tree.
func buildKeyboard(cfg *config.Config) keymode.Switcher {
	if path := cfg.Keyboard.FnmodePath; path != "" {
		return keymode.NewWithPath(path)
	}
	return keymode.New()
}
