//go:build linux

package keymode

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// hid_apple exposes the fn key policy as a module parameter:
// 0 disables the fn key, 1 makes media keys primary, 2 makes F-keys
// primary. Writes take effect for newly pressed keys immediately but the
// module re-reads the value only on device attach, hence the resume
// re-apply in the daemon.
const defaultFnmodePath = "/sys/module/hid_apple/parameters/fnmode"

const (
	fnmodeDisabled = "0"
	fnmodeMedia    = "1"
	fnmodeFkeys    = "2"
)

type linuxSwitcher struct {
	mu   sync.Mutex
	path string
}

func newPlatformSwitcher() Switcher {
	return &linuxSwitcher{path: defaultFnmodePath}
}

// newLinuxSwitcher returns a switcher reading a custom parameter path.
// Used by tests and by the sysfs_path config override.
func newLinuxSwitcher(path string) *linuxSwitcher {
	if path == "" {
		path = defaultFnmodePath
	}
	return &linuxSwitcher{path: path}
}

// NewWithPath returns a Switcher bound to a non-default fnmode path.
func NewWithPath(path string) Switcher {
	return newLinuxSwitcher(path)
}

func (s *linuxSwitcher) Current() (KeyboardState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return StateError, fmt.Errorf("read fnmode: %w", err)
	}

	switch strings.TrimSpace(string(data)) {
	case fnmodeMedia:
		return StateApple, nil
	case fnmodeFkeys:
		return StateOther, nil
	case fnmodeDisabled:
		return StateError, fmt.Errorf("fnmode is 0 (fn key disabled)")
	default:
		return StateError, fmt.Errorf("unexpected fnmode value %q", strings.TrimSpace(string(data)))
	}
}

func (s *linuxSwitcher) Apply(state KeyboardState) error {
	if !state.Valid() {
		return ErrInvalidState
	}

	value := fnmodeMedia
	if state == StateOther {
		value = fnmodeFkeys
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.path, []byte(value+"\n"), 0644); err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("write fnmode: %w (run the daemon with write access to %s)", err, s.path)
		}
		return fmt.Errorf("write fnmode: %w", err)
	}
	return nil
}

func (s *linuxSwitcher) Available() (bool, string) {
	if _, err := os.Stat(s.path); err != nil {
		return false, fmt.Sprintf("%s not present; load the hid_apple module (modprobe hid_apple)", s.path)
	}
	if err := unix.Access(s.path, unix.W_OK); err != nil {
		return false, fmt.Sprintf("%s not writable by this user; adjust permissions or run privileged", s.path)
	}
	return true, "hid_apple fnmode parameter writable"
}

var _ Switcher = (*linuxSwitcher)(nil)
