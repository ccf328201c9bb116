//go:build darwin

package keymode

/*
#cgo LDFLAGS: -framework IOKit -framework CoreFoundation

#include <stdbool.h>
#include <IOKit/IOKitLib.h>
#include <IOKit/hidsystem/IOHIDLib.h>
#include <IOKit/hidsystem/IOHIDParameter.h>
#include <IOKit/hidsystem/event_status_driver.h>

// readFnKeyMode returns 1 when the top row sends standard function keys,
// 0 when it sends media keys, -1 when the HID system is unreachable.
static int readFnKeyMode(void) {
	NXEventHandle handle = NXOpenEventStatus();
	if (handle == 0) {
		return -1;
	}

	bool state = false;
	IOByteCount actual = 0;
	kern_return_t kr = IOHIDGetParameter(handle, CFSTR(kIOHIDFKeyModeKey),
	                                     sizeof(state), &state, &actual);
	NXCloseEventStatus(handle);

	if (kr != KERN_SUCCESS || actual == 0) {
		return -1;
	}
	return state ? 1 : 0;
}

// writeFnKeyMode sets the mode. standardFKeys != 0 selects F1-F12,
// 0 selects media keys. Returns 0 on success, -1 on failure.
static int writeFnKeyMode(int standardFKeys) {
	NXEventHandle handle = NXOpenEventStatus();
	if (handle == 0) {
		return -1;
	}

	bool state = standardFKeys != 0;
	kern_return_t kr = IOHIDSetParameter(handle, CFSTR(kIOHIDFKeyModeKey),
	                                     &state, sizeof(state));
	NXCloseEventStatus(handle);

	return (kr == KERN_SUCCESS) ? 0 : -1;
}
*/
import "C"
import (
	"fmt"
	"sync"
)

// darwinSwitcher drives kIOHIDFKeyModeKey on the HID system connection.
// The parameter is the same one System Settings toggles with
// "Use F1, F2, etc. keys as standard function keys".
type darwinSwitcher struct {
	mu sync.Mutex
}

func newPlatformSwitcher() Switcher {
	return &darwinSwitcher{}
}

func (s *darwinSwitcher) Current() (KeyboardState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch C.readFnKeyMode() {
	case 0:
		return StateApple, nil
	case 1:
		return StateOther, nil
	default:
		return StateError, fmt.Errorf("read fn key mode: HID system unreachable")
	}
}

func (s *darwinSwitcher) Apply(state KeyboardState) error {
	if !state.Valid() {
		return ErrInvalidState
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	standard := 0
	if state == StateOther {
		standard = 1
	}
	if C.writeFnKeyMode(C.int(standard)) != 0 {
		return fmt.Errorf("write fn key mode %s: HID system rejected parameter", state)
	}
	return nil
}

func (s *darwinSwitcher) Available() (bool, string) {
	if C.readFnKeyMode() < 0 {
		return false, "HID system connection failed; check that the process can open the event status driver"
	}
	return true, "IOKit fn key mode parameter accessible"
}

var _ Switcher = (*darwinSwitcher)(nil)
