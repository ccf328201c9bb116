//go:build windows

package keymode

// Windows exposes no stable API for flipping the Fn policy of Apple (or
// other) keyboards; vendor drivers own that setting. The daemon can still
// run for status and rules editing, it just cannot switch.

type windowsSwitcher struct{}

func newPlatformSwitcher() Switcher {
	return &windowsSwitcher{}
}

func (s *windowsSwitcher) Current() (KeyboardState, error) {
	return StateError, ErrUnsupported
}

func (s *windowsSwitcher) Apply(state KeyboardState) error {
	if !state.Valid() {
		return ErrInvalidState
	}
	return ErrUnsupported
}

func (s *windowsSwitcher) Available() (bool, string) {
	return false, "function-key mode switching is not supported on Windows"
}

var _ Switcher = (*windowsSwitcher)(nil)
