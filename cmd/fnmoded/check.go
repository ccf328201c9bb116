package main

import (
	"flag"
	"fmt"
	"os"

	"fnmoded/internal/config"
	"fnmoded/internal/focus"
	"fnmoded/internal/ipc"
	"fnmoded/internal/notify"
)

// cmdCheck probes everything the daemon needs and reports what it
// found. Exits nonzero when the config is invalid or the keyboard
// cannot be switched.
func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file path")
	fs.Parse(args)

	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}

	fmt.Println("=== fnmoded Check ===")
	fmt.Println()

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Printf("Config: %s (unreadable: %v)\n", path, err)
		os.Exit(1)
	}

	failed := false
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Config: %s (invalid: %v)\n", path, err)
		failed = true
	} else {
		fmt.Printf("Config: %s\n", path)
	}

	fmt.Printf("Data directory: %s\n", config.FnmodedDir())
	fmt.Printf("Rules database: %s\n", cfg.Rules.Path)
	fmt.Printf("Default mode: %s\n", cfg.Keyboard.DefaultMode)
	fmt.Println()

	keyboard := buildKeyboard(cfg)
	if ok, detail := keyboard.Available(); ok {
		fmt.Printf("Keyboard: available (%s)\n", detail)
	} else {
		fmt.Printf("Keyboard: NOT available (%s)\n", detail)
		failed = true
	}

	// The daemon degrades to default-mode-only without focus tracking,
	// so a missing tracker is reported but does not fail the check.
	tracker := focus.New(focus.DefaultConfig(), nil)
	if ok, detail := tracker.Available(); ok {
		fmt.Printf("Focus tracking: available (%s)\n", detail)
	} else {
		fmt.Printf("Focus tracking: not available (%s)\n", detail)
	}

	notifier := notify.New()
	if ok, detail := notifier.Available(); ok {
		fmt.Printf("Notifications: available (%s)\n", detail)
	} else {
		fmt.Printf("Notifications: not available (%s)\n", detail)
	}
	notifier.Close()

	fmt.Println()
	if cfg.IPC.Enabled && ipc.IsSocketListening(cfg.SocketPath()) {
		fmt.Printf("Daemon: running (socket %s)\n", cfg.SocketPath())
	} else if pid, running := daemonRunning(cfg.Daemon.PidFile); running {
		fmt.Printf("Daemon: running (pid %d)\n", pid)
	} else {
		fmt.Println("Daemon: not running")
	}

	if failed {
		os.Exit(1)
	}
}

// cmdStop signals the daemon through its pid file. fnmodectl stop does
// the same over IPC; this path works even when the socket is wedged.
func cmdStop(args []string) {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file path")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fnmoded: load config: %v\n", err)
		os.Exit(1)
	}

	pid, running := daemonRunning(cfg.Daemon.PidFile)
	if !running {
		fmt.Println("fnmoded is not running")
		return
	}

	if err := signalDaemon(cfg.Daemon.PidFile); err != nil {
		fmt.Fprintf(os.Stderr, "fnmoded: stop daemon: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Sent SIGTERM to fnmoded (pid %d)\n", pid)
}
