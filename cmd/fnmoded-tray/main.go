// fnmoded-tray puts the daemon's keyboard mode in the macOS menu bar.
//
// The status item title tracks the active mode. Its menu carries a
// quick behavior toggle for the focused application, the default
// toggle, and launchers for the panel windows.
package main

import (
	"fmt"
	"os"
	"runtime"
)

// Version is set at build time via -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if runtime.GOOS != "darwin" {
		fmt.Fprintln(os.Stderr, "fnmoded-tray is only supported on macOS.")
		os.Exit(1)
	}
	runTray()
}
