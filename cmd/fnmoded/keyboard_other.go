//go:build !linux

package main

import (
	"fnmoded/internal/config"
	"fnmoded/internal/keymode"
)

func buildKeyboard(_ *config.Config) keymode.Switcher {
	return keymode.New()
}
