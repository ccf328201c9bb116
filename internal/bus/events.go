// Package bus is the in-process event bus connecting the focus tracker,
// the switcher engine, the IPC layer and the frontends.
//
// Events are tagged structs. Every event validates itself before
// publication; malformed events are dropped without side effects.
package bus

import (
	"errors"
	"fmt"

	"fnmoded/internal/keymode"
)

// Kind discriminates event types for filtered subscriptions.
type Kind int

const (
	// KindFocusChanged fires when the focused application changes.
	KindFocusChanged Kind = iota
	// KindDefaultChanged fires when the global default behavior changes.
	KindDefaultChanged
	// KindBehaviorChanged fires when a per-app rule changes.
	KindBehaviorChanged
	// KindModeApplied fires after the hardware mode actually switched.
	KindModeApplied
	// KindPanelRequested asks the panel host to open a panel.
	KindPanelRequested
)

// String returns the kind name used in logs and wire events.
func (k Kind) String() string {
	switch k {
	case KindFocusChanged:
		return "focus_changed"
	case KindDefaultChanged:
		return "default_changed"
	case KindBehaviorChanged:
		return "behavior_changed"
	case KindModeApplied:
		return "mode_applied"
	case KindPanelRequested:
		return "panel_requested"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Origin tags which surface produced a behavior change, so frontends can
// skip refreshing the view the user just edited.
type Origin int

const (
	// OriginExternal is a change from ctl, import, or another client.
	OriginExternal Origin = iota
	// OriginCurrentApp is the tray quick-toggle for the focused app.
	OriginCurrentApp
	// OriginAppList is an edit made inside the running-apps panel.
	OriginAppList
)

// String returns the origin name.
func (o Origin) String() string {
	switch o {
	case OriginCurrentApp:
		return "current_app"
	case OriginAppList:
		return "app_list"
	default:
		return "external"
	}
}

// ParseOrigin maps an origin name back to its value. Unknown names parse
// as OriginExternal, which makes every view refresh.
func ParseOrigin(s string) Origin {
	switch s {
	case "current_app":
		return OriginCurrentApp
	case "app_list":
		return OriginAppList
	default:
		return OriginExternal
	}
}

// Event is implemented by all bus payloads.
type Event interface {
	Kind() Kind
	// Validate reports why the event must not be published, or nil.
	Validate() error
}

// Validation errors.
var (
	ErrMissingAppID    = errors.New("event has empty app id")
	ErrInvalidBehavior = errors.New("event has out-of-range behavior")
	ErrInvalidState    = errors.New("event has out-of-range keyboard state")
	ErrMissingPanel    = errors.New("event has empty panel kind")
)

// FocusChanged reports a new frontmost application.
type FocusChanged struct {
	AppID   string
	AppName string
	AppPath string
}

func (FocusChanged) Kind() Kind { return KindFocusChanged }

func (e FocusChanged) Validate() error {
	if e.AppID == "" {
		return ErrMissingAppID
	}
	return nil
}

// DefaultChanged reports a new global default behavior.
type DefaultChanged struct {
	Behavior keymode.AppBehavior
}

func (DefaultChanged) Kind() Kind { return KindDefaultChanged }

func (e DefaultChanged) Validate() error {
	if !e.Behavior.Valid() {
		return ErrInvalidBehavior
	}
	return nil
}

// BehaviorChanged reports a per-app rule change. AppPath may be empty for
// apps whose install location is unknown.
type BehaviorChanged struct {
	AppID    string
	AppName  string
	AppPath  string
	Behavior keymode.AppBehavior
	Origin   Origin
}

func (BehaviorChanged) Kind() Kind { return KindBehaviorChanged }

func (e BehaviorChanged) Validate() error {
	if e.AppID == "" {
		return ErrMissingAppID
	}
	if !e.Behavior.Valid() {
		return ErrInvalidBehavior
	}
	return nil
}

// ModeApplied reports that the hardware mode switched.
type ModeApplied struct {
	AppID    string
	Behavior keymode.AppBehavior
	State    keymode.KeyboardState
	Previous keymode.KeyboardState
}

func (ModeApplied) Kind() Kind { return KindModeApplied }

func (e ModeApplied) Validate() error {
	if !e.State.Valid() {
		return ErrInvalidState
	}
	return nil
}

// PanelRequested asks the panel host to open (or raise) a panel.
type PanelRequested struct {
	Panel string
}

func (PanelRequested) Kind() Kind { return KindPanelRequested }

func (e PanelRequested) Validate() error {
	if e.Panel == "" {
		return ErrMissingPanel
	}
	return nil
}
