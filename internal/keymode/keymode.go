package keymode

import (
	"errors"
	"sync"
)

// Common errors.
var (
	// ErrUnsupported means the platform has no function-key mode control.
	ErrUnsupported = errors.New("function-key mode switching not supported on this platform")
	// ErrInvalidState means a non-applicable state (StateError) was requested.
	ErrInvalidState = errors.New("keyboard state is not applicable")
)

// Switcher reads and applies the hardware function-key mode.
//
// Implementations talk to the HID system (darwin), the hid_apple module
// parameter (linux), or report unavailability. Apply(StateError) always
// fails with ErrInvalidState before reaching the OS.
type Switcher interface {
	// Current reads the mode currently active in the OS.
	Current() (KeyboardState, error)

	// Apply sets the hardware mode. Callers are expected to skip the call
	// when the target equals the known current state.
	Apply(state KeyboardState) error

	// Available reports whether switching works here, with a
	// human-readable explanation.
	Available() (bool, string)
}

// New returns the Switcher for the current platform.
func New() Switcher {
	return newPlatformSwitcher()
}

// MemorySwitcher is an in-process Switcher holding the mode in memory.
// It backs dry-run daemon mode and tests.
type MemorySwitcher struct {
	mu      sync.Mutex
	state   KeyboardState
	applied []KeyboardState
}

// NewMemorySwitcher returns a MemorySwitcher starting at initial.
func NewMemorySwitcher(initial KeyboardState) *MemorySwitcher {
	return &MemorySwitcher{state: initial}
}

// Current returns the stored mode.
func (m *MemorySwitcher) Current() (KeyboardState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

// Apply stores the mode and records the transition.
func (m *MemorySwitcher) Apply(state KeyboardState) error {
	if !state.Valid() {
		return ErrInvalidState
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.applied = append(m.applied, state)
	return nil
}

// Available always reports true.
func (m *MemorySwitcher) Available() (bool, string) {
	return true, "in-memory mode (no hardware calls)"
}

// Applied returns the sequence of modes applied so far.
func (m *MemorySwitcher) Applied() []KeyboardState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]KeyboardState, len(m.applied))
	copy(out, m.applied)
	return out
}

var _ Switcher = (*MemorySwitcher)(nil)
