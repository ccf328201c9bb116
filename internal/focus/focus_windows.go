//go:build windows

package focus

import (
	"context"
	"path/filepath"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"fnmoded/internal/logging"
)

const processQueryLimitedInformation = 0x1000

var (
	user32   = windows.NewLazySystemDLL("user32.dll")
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procGetForegroundWindow        = user32.NewProc("GetForegroundWindow")
	procGetWindowThreadProcessId   = user32.NewProc("GetWindowThreadProcessId")
	procQueryFullProcessImageNameW = kernel32.NewProc("QueryFullProcessImageNameW")
)

// windowsTracker polls the foreground window. Focus events work here even
// though fn-key switching does not, so status and app listings stay
// useful on Windows.
type windowsTracker struct {
	*baseTracker
}

func newPlatformTracker(cfg Config, logger *logging.Logger) Tracker {
	return &windowsTracker{baseTracker: newBaseTracker(cfg, logger)}
}

func (t *windowsTracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return ErrAlreadyRunning
	}
	t.running = true
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.mu.Unlock()

	go t.pollLoop()
	return nil
}

func (t *windowsTracker) Stop() error {
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

func (t *windowsTracker) Available() (bool, string) {
	return true, "win32 foreground window polling"
}

var _ Tracker = (*windowsTracker)(nil)

func (t *windowsTracker) pollLoop() {
	if info := foregroundApp(); info != nil {
		t.observe(*info)
	}

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			if info := foregroundApp(); info != nil {
				t.observe(*info)
			}
		}
	}
}

func foregroundApp() *AppInfo {
	hwnd, _, _ := procGetForegroundWindow.Call()
	if hwnd == 0 {
		return nil
	}

	var pid uint32
	procGetWindowThreadProcessId.Call(hwnd, uintptr(unsafe.Pointer(&pid)))
	if pid == 0 {
		return nil
	}

	exe := processImagePath(pid)
	if exe == "" {
		return nil
	}

	return &AppInfo{
		ID:   strings.ToLower(exe),
		Name: filepath.Base(exe),
		Path: exe,
		PID:  int(pid),
	}
}

func processImagePath(pid uint32) string {
	h, err := windows.OpenProcess(processQueryLimitedInformation, false, pid)
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, 1024)
	size := uint32(len(buf))
	r1, _, _ := procQueryFullProcessImageNameW.Call(
		uintptr(h),
		0,
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(unsafe.Pointer(&size)),
	)
	if r1 == 0 || size == 0 {
		return ""
	}
	return windows.UTF16ToString(buf[:size])
}

// RunningApps is not implemented on Windows.
func RunningApps() ([]AppInfo, error) {
	return nil, ErrUnavailable
}
