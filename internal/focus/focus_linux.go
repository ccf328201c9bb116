//go:build linux

package focus

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"fnmoded/internal/logging"
)

// Focus detection on Linux polls the X11 active window through xdotool
// or xprop and resolves the owning process via /proc. Wayland keeps the
// active window private, so short of a compositor-specific protocol the
// tracker reports itself unavailable there (XWayland still works).

// linuxTracker polls the active X11 window.
type linuxTracker struct {
	*baseTracker
	display string
	tool    string // "xdotool" or "xprop"
}

func newPlatformTracker(cfg Config, logger *logging.Logger) Tracker {
	return &linuxTracker{baseTracker: newBaseTracker(cfg, logger)}
}

func (t *linuxTracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return ErrAlreadyRunning
	}

	t.display = detectDisplayServer()
	t.tool = pickQueryTool()
	if t.display != "x11" || t.tool == "" {
		t.mu.Unlock()
		_, reason := t.Available()
		return fmt.Errorf("%w: %s", ErrUnavailable, reason)
	}

	t.running = true
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.mu.Unlock()

	go t.pollLoop()
	return nil
}

func (t *linuxTracker) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.shutdown()
	return nil
}

func (t *linuxTracker) Available() (bool, string) {
	switch detectDisplayServer() {
	case "x11":
		if _, err := exec.LookPath("xdotool"); err == nil {
			return true, "X11 focus polling available (xdotool)"
		}
		if _, err := exec.LookPath("xprop"); err == nil {
			return true, "X11 focus polling available (xprop)"
		}
		return false, "X11 detected but neither xdotool nor xprop found; install xdotool"
	case "wayland":
		return false, "Wayland hides the active window from other clients; run under XWayland"
	default:
		return false, "no X11 or Wayland display detected"
	}
}

var _ Tracker = (*linuxTracker)(nil)

func (t *linuxTracker) pollLoop() {
	// Poll once right away so the daemon learns the frontmost app at
	// startup instead of after the first interval.
	t.pollOnce()

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.pollOnce()
		}
	}
}

func (t *linuxTracker) pollOnce() {
	info, err := t.activeWindow()
	if err != nil || info == nil {
		return
	}
	t.observe(*info)
}

func (t *linuxTracker) activeWindow() (*AppInfo, error) {
	if t.tool == "xdotool" {
		if info, err := activeWindowXdotool(); err == nil {
			return info, nil
		}
	}
	return activeWindowXprop()
}

// pickQueryTool prefers xdotool, whose output needs no property parsing.
func pickQueryTool() string {
	if _, err := exec.LookPath("xdotool"); err == nil {
		return "xdotool"
	}
	if _, err := exec.LookPath("xprop"); err == nil {
		return "xprop"
	}
	return ""
}

// detectDisplayServer distinguishes X11, XWayland and pure Wayland.
func detectDisplayServer() string {
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		if os.Getenv("DISPLAY") != "" {
			return "x11" // XWayland
		}
		return "wayland"
	}
	if os.Getenv("DISPLAY") != "" {
		return "x11"
	}
	return "unknown"
}

func activeWindowXdotool() (*AppInfo, error) {
	out, err := exec.Command("xdotool", "getactivewindow").Output()
	if err != nil {
		return nil, err
	}
	windowID := strings.TrimSpace(string(out))

	info := &AppInfo{}
	if out, err := exec.Command("xdotool", "getwindowpid", windowID).Output(); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(out))); perr == nil {
			info.PID = pid
			enrichFromProc(info)
		}
	}
	if info.ID == "" {
		fillFromWMClass(info, windowID)
	}
	if info.ID == "" {
		return nil, fmt.Errorf("window %s has no identifiable owner", windowID)
	}
	return info, nil
}

func activeWindowXprop() (*AppInfo, error) {
	out, err := exec.Command("xprop", "-root", "_NET_ACTIVE_WINDOW").Output()
	if err != nil {
		return nil, err
	}

	// "_NET_ACTIVE_WINDOW(WINDOW): window id # 0x3c00012"
	parts := strings.Fields(string(out))
	if len(parts) < 5 {
		return nil, fmt.Errorf("unexpected xprop output: %q", strings.TrimSpace(string(out)))
	}
	windowID := parts[len(parts)-1]

	info := &AppInfo{}
	propOut, err := exec.Command("xprop", "-id", windowID, "WM_CLASS", "_NET_WM_PID").Output()
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(string(propOut), "\n") {
		switch {
		case strings.HasPrefix(line, "WM_CLASS"):
			if class := parseWMClass(line); class != "" {
				info.Name = class
				info.ID = class
			}
		case strings.HasPrefix(line, "_NET_WM_PID"):
			if idx := strings.Index(line, "= "); idx != -1 {
				if pid, perr := strconv.Atoi(strings.TrimSpace(line[idx+2:])); perr == nil {
					info.PID = pid
					enrichFromProc(info)
				}
			}
		}
	}
	if info.ID == "" {
		return nil, fmt.Errorf("window %s has no identifiable owner", windowID)
	}
	return info, nil
}

func fillFromWMClass(info *AppInfo, windowID string) {
	out, err := exec.Command("xprop", "-id", windowID, "WM_CLASS").Output()
	if err != nil {
		return
	}
	if class := parseWMClass(string(out)); class != "" {
		if info.Name == "" {
			info.Name = class
		}
		info.ID = class
	}
}

// parseWMClass pulls the class (second string) out of
// `WM_CLASS(STRING) = "instance", "Class"`.
func parseWMClass(line string) string {
	idx := strings.Index(line, ", \"")
	if idx == -1 {
		return ""
	}
	rest := line[idx+3:]
	end := strings.Index(rest, "\"")
	if end == -1 {
		return ""
	}
	return rest[:end]
}

// enrichFromProc resolves the executable behind a PID. The exe path is
// the stable identifier on Linux, playing the role of the bundle id.
func enrichFromProc(info *AppInfo) {
	if info.PID <= 0 {
		return
	}
	if target, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", info.PID)); err == nil {
		info.Path = target
		info.ID = target
		if info.Name == "" {
			info.Name = filepath.Base(target)
		}
	}
	if info.Name == "" {
		if data, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", info.PID)); err == nil {
			info.Name = strings.TrimSpace(string(data))
		}
	}
}

// RunningApps scans /proc for processes attached to a display session.
// Best effort: processes of other users are invisible, and daemons with
// a stale DISPLAY leak in. Deduplicated by executable.
func RunningApps() ([]AppInfo, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("scan /proc: %w", err)
	}

	seen := make(map[string]struct{})
	var apps []AppInfo
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		environ, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "environ"))
		if err != nil {
			continue
		}
		if !bytes.Contains(environ, []byte("DISPLAY=")) {
			continue
		}
		exe, err := os.Readlink(filepath.Join("/proc", entry.Name(), "exe"))
		if err != nil {
			continue
		}
		if _, dup := seen[exe]; dup {
			continue
		}
		seen[exe] = struct{}{}

		name := filepath.Base(exe)
		if data, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "comm")); err == nil {
			if comm := strings.TrimSpace(string(data)); comm != "" {
				name = comm
			}
		}
		apps = append(apps, AppInfo{ID: exe, Name: name, Path: exe, PID: pid})
	}

	sort.Slice(apps, func(i, j int) bool {
		return strings.ToLower(apps[i].Name) < strings.ToLower(apps[j].Name)
	})
	return apps, nil
}
