// fnmoded - per-application fn-key mode daemon
//
// fnmoded watches which application owns keyboard focus and flips the
// keyboard between media-key and function-key behavior according to
// per-app rules:
//
//	fnmoded run       Run the daemon in the foreground
//	fnmoded check     Probe keyboard access, focus tracking, and config
//	fnmoded stop      Signal a running daemon to shut down
//	fnmoded version   Print the daemon version
package main

import (
	"fmt"
	"os"
)

// Version is overridden at build time via -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		cmdRun(os.Args[2:])
	case "check":
		cmdCheck(os.Args[2:])
	case "stop":
		cmdStop(os.Args[2:])
	case "version", "-v", "--version":
		fmt.Println("fnmoded " + Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`fnmoded - per-application fn-key mode switching

USAGE:
    fnmoded <command> [options]

COMMANDS:
    run        Run the daemon in the foreground
    check      Probe keyboard access, focus tracking, and configuration
    stop       Signal a running daemon to shut down
    version    Print the daemon version
    help       Show this help message

RUN OPTIONS:
    -config <path>    Configuration file (TOML, JSON, or YAML)
    -dry-run          Log mode changes without touching the keyboard

The daemon watches the focused application and applies the fn-key mode
configured for it: "apple" keeps the media keys on the top row, "other"
turns it into plain F1-F12. Rules and the global default are managed
with fnmodectl, which talks to the daemon over its control socket.

On startup the daemon records the active mode and restores it on exit
when restore_state_on_quit is set. A second instance refuses to start
while the socket answers or the pid file points at a live process.`)
}
