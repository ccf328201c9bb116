// Package keymode models keyboard function-key modes and provides the
// platform port that reads and applies them.
//
// The top keyboard row can act as media/system keys ("apple" mode) or as
// standard F1-F12 keys ("other" mode). Which one is active is a global,
// hardware-level setting; fnmoded flips it per focused application.
package keymode

import (
	"fmt"
	"strings"
)

// KeyboardState is the hardware function-key mode.
type KeyboardState int

const (
	// StateError is the sentinel for an unknown or uninitialized mode.
	// It is never a valid target for Apply.
	StateError KeyboardState = iota
	// StateApple means the top row sends media/system keys.
	StateApple
	// StateOther means the top row sends standard F1-F12 keys.
	StateOther
)

// String returns the state's canonical name.
func (s KeyboardState) String() string {
	switch s {
	case StateApple:
		return "apple"
	case StateOther:
		return "other"
	default:
		return "error"
	}
}

// Valid reports whether the state is a mode that can be applied.
func (s KeyboardState) Valid() bool {
	return s == StateApple || s == StateOther
}

// Toggled returns the opposite mode. Toggling StateError yields StateError.
func (s KeyboardState) Toggled() KeyboardState {
	switch s {
	case StateApple:
		return StateOther
	case StateOther:
		return StateApple
	default:
		return StateError
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s KeyboardState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *KeyboardState) UnmarshalText(text []byte) error {
	parsed, err := ParseKeyboardState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseKeyboardState parses a state name.
func ParseKeyboardState(s string) (KeyboardState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "apple", "media":
		return StateApple, nil
	case "other", "function", "fkeys":
		return StateOther, nil
	case "error", "unknown", "":
		return StateError, nil
	default:
		return StateError, fmt.Errorf("unknown keyboard state: %q", s)
	}
}

// AppBehavior is a per-application function-key policy.
type AppBehavior int

const (
	// BehaviorInherited means no override: the global default applies.
	BehaviorInherited AppBehavior = iota
	// BehaviorApple forces media/system keys for the app.
	BehaviorApple
	// BehaviorOther forces standard F-keys for the app.
	BehaviorOther
)

// String returns the behavior's canonical name.
func (b AppBehavior) String() string {
	switch b {
	case BehaviorApple:
		return "apple"
	case BehaviorOther:
		return "other"
	default:
		return "inherited"
	}
}

// Valid reports whether b is one of the three defined behaviors.
func (b AppBehavior) Valid() bool {
	return b == BehaviorInherited || b == BehaviorApple || b == BehaviorOther
}

// Concrete reports whether b is an explicit override rather than inherited.
func (b AppBehavior) Concrete() bool {
	return b == BehaviorApple || b == BehaviorOther
}

// KeyboardState maps a concrete behavior to the hardware state it demands.
// Inherited has no state of its own and maps to StateError.
func (b AppBehavior) KeyboardState() KeyboardState {
	switch b {
	case BehaviorApple:
		return StateApple
	case BehaviorOther:
		return StateOther
	default:
		return StateError
	}
}

// BehaviorForState returns the behavior that pins an app to the given state.
func BehaviorForState(s KeyboardState) AppBehavior {
	switch s {
	case StateApple:
		return BehaviorApple
	case StateOther:
		return BehaviorOther
	default:
		return BehaviorInherited
	}
}

// MarshalText implements encoding.TextMarshaler.
func (b AppBehavior) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *AppBehavior) UnmarshalText(text []byte) error {
	parsed, err := ParseAppBehavior(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// ParseAppBehavior parses a behavior name. The historical spellings
// "infered" and "inferred" are accepted for inherited.
func ParseAppBehavior(s string) (AppBehavior, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inherited", "inherit", "default", "infered", "inferred":
		return BehaviorInherited, nil
	case "apple", "media":
		return BehaviorApple, nil
	case "other", "function", "fkeys":
		return BehaviorOther, nil
	default:
		return BehaviorInherited, fmt.Errorf("unknown app behavior: %q", s)
	}
}
