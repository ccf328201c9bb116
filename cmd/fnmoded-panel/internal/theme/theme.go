// Package theme styles the fnmoded panels on top of gio's material
// theme.
package theme

import (
	"image/color"
	"runtime"

	"gioui.org/unit"
	"gioui.org/widget/material"
)

// Palette is the panel color set.
type Palette struct {
	Background color.NRGBA
	Surface    color.NRGBA
	Primary    color.NRGBA
	Text       color.NRGBA
	TextMuted  color.NRGBA
	Border     color.NRGBA
	Apple      color.NRGBA
	Other      color.NRGBA
	Error      color.NRGBA
}

// Config holds the shared metrics.
type Config struct {
	CornerRadius unit.Dp
	Spacing      unit.Dp
	Padding      unit.Dp
	RowHeight    unit.Dp
	FontTitle    unit.Sp
	FontBody     unit.Sp
	FontCaption  unit.Sp
}

// Theme wraps the material theme with fnmoded styling.
type Theme struct {
	*material.Theme
	Palette Palette
	Config  Config
}

// New builds the theme for the current OS.
func New(mtheme *material.Theme) *Theme {
	t := &Theme{Theme: mtheme}

	if runtime.GOOS == "darwin" {
		setupMacTheme(t)
	} else {
		setupFallbackTheme(t)
	}

	t.Theme.Palette.Bg = t.Palette.Background
	t.Theme.Palette.Fg = t.Palette.Text

	return t
}

func setupMacTheme(t *Theme) {
	// Dark system palette; Apple blue primary, green/amber for the two
	// keyboard behaviors.
	t.Palette = Palette{
		Background: color.NRGBA{R: 0x1E, G: 0x1E, B: 0x1E, A: 0xFF},
		Surface:    color.NRGBA{R: 0x2A, G: 0x2A, B: 0x2C, A: 0xFF},
		Primary:    color.NRGBA{R: 0x0A, G: 0x84, B: 0xFF, A: 0xFF},
		Text:       color.NRGBA{R: 0xF5, G: 0xF5, B: 0xF7, A: 0xFF},
		TextMuted:  color.NRGBA{R: 0x86, G: 0x86, B: 0x8B, A: 0xFF},
		Border:     color.NRGBA{R: 0x3A, G: 0x3A, B: 0x3C, A: 0xFF},
		Apple:      color.NRGBA{R: 0x30, G: 0xD1, B: 0x58, A: 0xFF},
		Other:      color.NRGBA{R: 0xFF, G: 0x9F, B: 0x0A, A: 0xFF},
		Error:      color.NRGBA{R: 0xFF, G: 0x45, B: 0x3A, A: 0xFF},
	}

	t.Config = Config{
		CornerRadius: unit.Dp(10),
		Spacing:      unit.Dp(10),
		Padding:      unit.Dp(20),
		RowHeight:    unit.Dp(36),
		FontTitle:    unit.Sp(22),
		FontBody:     unit.Sp(13),
		FontCaption:  unit.Sp(11),
	}
}

func setupFallbackTheme(t *Theme) {
	setupMacTheme(t)

	// Slightly tighter metrics read better under non-mac window
	// decorations.
	t.Config.CornerRadius = unit.Dp(4)
	t.Config.Padding = unit.Dp(16)
	t.Config.FontTitle = unit.Sp(20)
	t.Config.FontBody = unit.Sp(14)
	t.Config.FontCaption = unit.Sp(12)
}

// BehaviorColor maps a behavior name to its accent color.
func (t *Theme) BehaviorColor(name string) color.NRGBA {
	switch name {
	case "apple":
		return t.Palette.Apple
	case "other":
		return t.Palette.Other
	default:
		return t.Palette.TextMuted
	}
}
