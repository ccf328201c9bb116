package main

import (
	"os"
	"strconv"
	"strings"
	"syscall"
)

// writePidFile records the daemon pid.
func writePidFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0600)
}

// readPidFile returns the recorded pid.
func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// daemonRunning reports whether the pid in the file belongs to a live
// process. A stale file left by a crashed daemon reads as not running.
func daemonRunning(pidFile string) (int, bool) {
	pid, err := readPidFile(pidFile)
	if err != nil {
		return 0, false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}

	// On Unix, FindProcess always succeeds. Signal 0 probes for liveness.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return pid, false
	}
	return pid, true
}

// signalDaemon sends SIGTERM to the recorded pid.
func signalDaemon(pidFile string) error {
	pid, err := readPidFile(pidFile)
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	return process.Signal(syscall.SIGTERM)
}
