package main

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"fnmoded/internal/keymode"
)

// stdoutIsTerminal gates tables and colors. Piped output stays plain
// and tab-separated so it composes with grep and awk.
var stdoutIsTerminal = term.IsTerminal(int(os.Stdout.Fd()))

// palette holds the ANSI escapes used for terminal output. The zero
// palette prints nothing, which is what pipes and NO_COLOR get.
type palette struct {
	Reset  string
	Bold   string
	Dim    string
	Red    string
	Green  string
	Yellow string
	Cyan   string
	White  string
}

var c = func() palette {
	if !stdoutIsTerminal || os.Getenv("NO_COLOR") != "" {
		return palette{}
	}
	return palette{
		Reset:  "\033[0m",
		Bold:   "\033[1m",
		Dim:    "\033[2m",
		Red:    "\033[31m",
		Green:  "\033[32m",
		Yellow: "\033[33m",
		Cyan:   "\033[36m",
		White:  "\033[37m",
	}
}()

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s%sError%s: %s\n", c.Bold, c.Red, c.Reset, msg)
}

func printSection(title string) {
	fmt.Printf("\n%s%s%s%s\n\n", c.Bold, c.Cyan, title, c.Reset)
}

// stateLabel renders a keyboard state with its meaning spelled out.
func stateLabel(s keymode.KeyboardState) string {
	switch s {
	case keymode.StateApple:
		return fmt.Sprintf("%sapple%s %s(media keys)%s", c.Green, c.Reset, c.Dim, c.Reset)
	case keymode.StateOther:
		return fmt.Sprintf("%sother%s %s(F1-F12)%s", c.Yellow, c.Reset, c.Dim, c.Reset)
	default:
		return c.Red + "error" + c.Reset
	}
}

func behaviorLabel(b keymode.AppBehavior) string {
	switch b {
	case keymode.BehaviorApple:
		return c.Green + "apple" + c.Reset
	case keymode.BehaviorOther:
		return c.Yellow + "other" + c.Reset
	default:
		return c.Dim + "inherited" + c.Reset
	}
}

// paddedBehavior pads before coloring so the escapes do not skew
// column widths.
func paddedBehavior(b keymode.AppBehavior, width int) string {
	padded := fmt.Sprintf("%-*s", width, b.String())
	switch b {
	case keymode.BehaviorApple:
		return c.Green + padded + c.Reset
	case keymode.BehaviorOther:
		return c.Yellow + padded + c.Reset
	default:
		return c.Dim + padded + c.Reset
	}
}
