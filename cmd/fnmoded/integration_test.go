// Integration tests for the fnmoded daemon. They run the full daemon
// in dry-run mode against a temporary data directory and drive it over
// the control socket and the pid file.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fnmoded/internal/config"
	"fnmoded/internal/ipc"
	"fnmoded/internal/keymode"
)

// writeTestConfig points every daemon path into dir so tests never
// touch the real data directory.
func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()

	cfgPath := filepath.Join(dir, "config.toml")
	content := fmt.Sprintf(`[daemon]
pid_file = %q
apply_on_start = false
reapply_on_resume = false

[keyboard]
default_mode = "apple"

[rules]
path = %q

[logging]
level = "error"
output = "stderr"

[ipc]
enabled = true
socket_path = %q
`,
		filepath.Join(dir, "fnmoded.pid"),
		filepath.Join(dir, "rules.db"),
		filepath.Join(dir, "fnmoded.sock"))

	if err := os.WriteFile(cfgPath, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

// TestDaemonRunAndShutdown runs the daemon, talks to it over the
// socket, and shuts it down through the IPC shutdown operation.
func TestDaemonRunAndShutdown(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	done := make(chan error, 1)
	go func() { done <- runDaemon(cfgPath, true) }()

	socket := filepath.Join(dir, "fnmoded.sock")
	waitFor(t, 5*time.Second, "socket never came up", func() bool {
		return ipc.IsSocketListening(socket)
	})

	client := ipc.NewClient(ipc.DefaultClientConfig(socket))
	if err := client.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Running {
		t.Error("daemon reports not running")
	}
	if status.Version != Version {
		t.Errorf("version = %q, want %q", status.Version, Version)
	}
	if status.DefaultBehavior != keymode.BehaviorApple {
		t.Errorf("default behavior = %v, want BehaviorApple", status.DefaultBehavior)
	}
	if status.CurrentState != keymode.StateApple {
		t.Errorf("current state = %v, want StateApple", status.CurrentState)
	}

	if err := client.Shutdown(); err != nil {
		t.Fatalf("shutdown request: %v", err)
	}
	client.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("daemon exited with error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not exit after shutdown request")
	}

	if _, err := os.Stat(filepath.Join(dir, "fnmoded.pid")); !os.IsNotExist(err) {
		t.Error("pid file still present after shutdown")
	}
}

// TestSecondDaemonRefused verifies single-instance enforcement and the
// SIGTERM stop path used by the stop subcommand.
func TestSecondDaemonRefused(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	done := make(chan error, 1)
	go func() { done <- runDaemon(cfgPath, true) }()

	socket := filepath.Join(dir, "fnmoded.sock")
	waitFor(t, 5*time.Second, "socket never came up", func() bool {
		return ipc.IsSocketListening(socket)
	})

	err := runDaemon(cfgPath, true)
	if err == nil {
		t.Fatal("second instance started")
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Errorf("unexpected refusal error: %v", err)
	}

	// The daemon runs in this process, so the pid file holds our own
	// pid and SIGTERM lands on the daemon's signal handler.
	if err := signalDaemon(filepath.Join(dir, "fnmoded.pid")); err != nil {
		t.Fatalf("signal daemon: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("daemon exited with error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not exit after SIGTERM")
	}
}

func TestPidFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fnmoded.pid")

	if err := writePidFile(path); err != nil {
		t.Fatalf("write pid file: %v", err)
	}

	pid, err := readPidFile(path)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}

	gotPid, running := daemonRunning(path)
	if !running {
		t.Error("own pid reported as not running")
	}
	if gotPid != os.Getpid() {
		t.Errorf("daemonRunning pid = %d, want %d", gotPid, os.Getpid())
	}
}

func TestDaemonRunningStalePid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fnmoded.pid")
	if err := os.WriteFile(path, []byte("2147483646"), 0600); err != nil {
		t.Fatalf("write pid file: %v", err)
	}

	if _, running := daemonRunning(path); running {
		t.Error("stale pid reported as running")
	}
}

func TestDaemonRunningMissingFile(t *testing.T) {
	if _, running := daemonRunning(filepath.Join(t.TempDir(), "absent.pid")); running {
		t.Error("missing pid file reported as running")
	}
}

func TestDaemonRunningGarbageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fnmoded.pid")
	if err := os.WriteFile(path, []byte("not a pid"), 0600); err != nil {
		t.Fatalf("write pid file: %v", err)
	}

	if _, running := daemonRunning(path); running {
		t.Error("garbage pid file reported as running")
	}
}

func TestBuildLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := buildLogger(&config.LoggingConfig{Level: "chatty", Output: "stderr"})
	if err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestBuildLoggerJSON(t *testing.T) {
	logger, err := buildLogger(&config.LoggingConfig{
		Level:  "debug",
		Format: "json",
		Output: "stderr",
	})
	if err != nil {
		t.Fatalf("build logger: %v", err)
	}
	logger.Close()
}
