// Package switcher is the daemon's control loop. It consumes focus
// changes and rule/default updates, resolves each focused application to
// a keyboard state through the behavior manager, and drives the platform
// keyboard port.
//
// Session state lives here and only here: the mode last applied, the
// mode found at launch, and the app that caused the last transition.
// All of it resets with the daemon.
package switcher

import (
	"context"
	"errors"
	"sync"

	"fnmoded/internal/behavior"
	"fnmoded/internal/bus"
	"fnmoded/internal/focus"
	"fnmoded/internal/keymode"
	"fnmoded/internal/logging"
)

// ErrAlreadyRunning is returned when Start is called twice.
var ErrAlreadyRunning = errors.New("switcher: already running")

// Options tunes startup behavior.
type Options struct {
	// ApplyOnStart applies the mode resolved for the frontmost app right
	// after the first hardware read, instead of waiting for a switch.
	ApplyOnStart bool
}

// Status is a snapshot of the switcher's session state.
type Status struct {
	Running         bool                  `json:"running"`
	CurrentState    keymode.KeyboardState `json:"current_state"`
	LaunchState     keymode.KeyboardState `json:"launch_state"`
	CurrentAppID    string                `json:"current_app_id"`
	CurrentAppName  string                `json:"current_app_name"`
	CurrentBehavior keymode.AppBehavior   `json:"current_behavior"`
	FocusedAppID    string                `json:"focused_app_id"`
	FocusedAppName  string                `json:"focused_app_name"`
	KeyboardOK      bool                  `json:"keyboard_ok"`
	KeyboardDetail  string                `json:"keyboard_detail"`
	TrackerOK       bool                  `json:"tracker_ok"`
	TrackerDetail   string                `json:"tracker_detail"`
}

// Switcher wires the focus tracker, the behavior manager and the
// keyboard port together.
type Switcher struct {
	mu sync.RWMutex

	manager  *behavior.Manager
	keyboard keymode.Switcher
	tracker  focus.Tracker
	events   *bus.Bus
	logger   *logging.Logger
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc

	running     bool
	unsubscribe func()
	trackerCh   <-chan focus.AppInfo
	busCh       <-chan bus.Event

	// Session state. currentAppID/currentBehavior describe the last
	// applied transition; focusedApp follows every focus event.
	currentState    keymode.KeyboardState
	launchState     keymode.KeyboardState
	currentAppID    string
	currentAppName  string
	currentBehavior keymode.AppBehavior
	focusedID       string
	focusedName     string
	focusedPath     string
}

// New builds a switcher. tracker may be nil on platforms without focus
// tracking; the switcher then only reacts to bus events and IPC.
func New(manager *behavior.Manager, keyboard keymode.Switcher, tracker focus.Tracker, events *bus.Bus, logger *logging.Logger, opts Options) *Switcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Switcher{
		manager:  manager,
		keyboard: keyboard,
		tracker:  tracker,
		events:   events,
		logger:   logger.WithComponent("switcher"),
		opts:     opts,
	}
}

// Start reads the launch state, starts the tracker and the event loop.
func (s *Switcher) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	// The mode active right now becomes the launch state. A failed read
	// leaves it StateError and quit restoration will skip it.
	state, err := s.keyboard.Current()
	if err != nil {
		s.logger.Warn("reading launch keyboard mode", "error", err)
		state = keymode.StateError
	}
	s.launchState = state
	s.currentState = state

	if s.tracker != nil {
		if err := s.tracker.Start(s.ctx); err != nil {
			s.logger.Warn("focus tracking disabled", "error", err)
		} else {
			s.trackerCh = s.tracker.Events()
		}
	}
	if s.events != nil {
		s.busCh, s.unsubscribe = s.events.Subscribe(bus.KindDefaultChanged, bus.KindBehaviorChanged)
	}

	s.running = true
	applyDefault := s.opts.ApplyOnStart && s.trackerCh == nil
	s.mu.Unlock()

	s.logger.Info("launch keyboard mode", "state", state.String())

	// Without focus events the start-up apply falls back to the default
	// mode; with them the tracker's seed event covers it.
	if applyDefault {
		s.applyState("", "", keymode.BehaviorInherited, s.manager.StateAccordingToPreferences())
	}

	go s.run()
	return nil
}

// Stop ends the loop and performs quit restoration.
func (s *Switcher) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.tracker != nil {
		if err := s.tracker.Stop(); err != nil {
			s.logger.Warn("stopping focus tracker", "error", err)
		}
	}

	s.restoreOnQuit()
	return nil
}

// Running reports whether the control loop is active.
func (s *Switcher) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Switcher) run() {
	for {
		select {
		case <-s.ctx.Done():
			return

		case info, ok := <-s.trackerCh:
			if !ok {
				s.trackerCh = nil
				continue
			}
			s.handleFocus(info)

		case ev, ok := <-s.busCh:
			if !ok {
				s.busCh = nil
				continue
			}
			s.handleBusEvent(ev)
		}
	}
}

// handleFocus reacts to the tracker reporting a new frontmost app.
func (s *Switcher) handleFocus(info focus.AppInfo) {
	s.mu.Lock()
	s.focusedID = info.ID
	s.focusedName = info.Name
	s.focusedPath = info.Path
	s.mu.Unlock()

	s.logger.Debug("focus changed", "app_id", info.ID, "app_name", info.Name)

	if s.events != nil {
		s.events.Publish(bus.FocusChanged{AppID: info.ID, AppName: info.Name, AppPath: info.Path})
	}
	s.applyFor(info.ID, info.Name)
}

// handleBusEvent re-evaluates the focused app when the rules that govern
// it change. Rule changes for background apps wait for their next focus.
func (s *Switcher) handleBusEvent(ev bus.Event) {
	s.mu.RLock()
	focusedID, focusedName := s.focusedID, s.focusedName
	s.mu.RUnlock()

	switch e := ev.(type) {
	case bus.DefaultChanged:
		if focusedID == "" {
			s.applyState("", "", keymode.BehaviorInherited, s.manager.StateAccordingToPreferences())
			return
		}
		s.applyFor(focusedID, focusedName)

	case bus.BehaviorChanged:
		if e.AppID != focusedID {
			return
		}
		s.applyFor(focusedID, focusedName)
	}
}

// applyFor resolves the app's behavior and drives the keyboard to the
// state it demands.
func (s *Switcher) applyFor(appID, appName string) {
	b := s.manager.BehaviorFor(appID)
	state := s.manager.KeyboardStateFor(b)
	s.applyState(appID, appName, b, state)
}

// applyState is the single place hardware transitions happen. A target
// equal to the current state is skipped: no switch call, no event.
func (s *Switcher) applyState(appID, appName string, b keymode.AppBehavior, state keymode.KeyboardState) {
	if state == keymode.StateError {
		// Never applied. Post-launch this means a broken resolution
		// chain, worth an error but not a crash.
		s.logger.Error("resolved keyboard state is unknown, not applying",
			"app_id", appID, "behavior", b.String())
		return
	}

	s.mu.Lock()
	if state == s.currentState {
		s.mu.Unlock()
		return
	}
	prev := s.currentState

	if err := s.keyboard.Apply(state); err != nil {
		s.mu.Unlock()
		s.logger.Error("applying keyboard mode",
			"state", state.String(), "app_id", appID, "error", err)
		return
	}

	s.currentState = state
	s.currentAppID = appID
	s.currentAppName = appName
	s.currentBehavior = b
	s.mu.Unlock()

	s.logger.Info("keyboard mode switched",
		"state", state.String(), "previous", prev.String(),
		"app_id", appID, "behavior", b.String())

	if s.events != nil {
		s.events.Publish(bus.ModeApplied{
			AppID:    appID,
			Behavior: b,
			State:    state,
			Previous: prev,
		})
	}
}

// ForceMode pins the hardware to a state regardless of rules. The pin
// lasts until the next focus change re-resolves.
func (s *Switcher) ForceMode(state keymode.KeyboardState) error {
	if !state.Valid() {
		return keymode.ErrInvalidState
	}

	b := keymode.BehaviorForState(state)

	s.mu.Lock()
	if state == s.currentState {
		s.mu.Unlock()
		return nil
	}
	prev := s.currentState

	if err := s.keyboard.Apply(state); err != nil {
		s.mu.Unlock()
		return err
	}

	s.currentState = state
	s.currentBehavior = b
	appID := s.currentAppID
	s.mu.Unlock()

	s.logger.Info("keyboard mode forced", "state", state.String(), "previous", prev.String())

	if s.events != nil {
		s.events.Publish(bus.ModeApplied{
			AppID:    appID,
			Behavior: b,
			State:    state,
			Previous: prev,
		})
	}
	return nil
}

// Reapply pushes the current state to the hardware again. Used after
// system resume, when the driver may have forgotten the parameter.
func (s *Switcher) Reapply() {
	s.mu.RLock()
	state := s.currentState
	s.mu.RUnlock()

	if !state.Valid() {
		s.logger.Debug("no applied state to restore after resume")
		return
	}
	if err := s.keyboard.Apply(state); err != nil {
		s.logger.Error("reapplying keyboard mode after resume", "state", state.String(), "error", err)
		return
	}
	s.logger.Info("keyboard mode reapplied after resume", "state", state.String())
}

// CurrentState returns the mode last applied (or found at launch).
func (s *Switcher) CurrentState() keymode.KeyboardState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentState
}

// LaunchState returns the mode read from the hardware at startup.
func (s *Switcher) LaunchState() keymode.KeyboardState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.launchState
}

// Status snapshots the session for the IPC status response.
func (s *Switcher) Status() Status {
	s.mu.RLock()
	st := Status{
		Running:         s.running,
		CurrentState:    s.currentState,
		LaunchState:     s.launchState,
		CurrentAppID:    s.currentAppID,
		CurrentAppName:  s.currentAppName,
		CurrentBehavior: s.currentBehavior,
		FocusedAppID:    s.focusedID,
		FocusedAppName:  s.focusedName,
	}
	s.mu.RUnlock()

	st.KeyboardOK, st.KeyboardDetail = s.keyboard.Available()
	if s.tracker != nil {
		st.TrackerOK, st.TrackerDetail = s.tracker.Available()
	} else {
		st.TrackerOK, st.TrackerDetail = false, "no focus tracker"
	}
	return st
}

// restoreOnQuit applies the configured shutdown state.
func (s *Switcher) restoreOnQuit() {
	if !s.manager.ShouldRestoreStateOnQuit() {
		return
	}

	var target keymode.KeyboardState
	if s.manager.ShouldRestorePreviousState() {
		target = s.LaunchState()
		if target == keymode.StateError {
			s.logger.Warn("launch state unknown, skipping quit restoration")
			return
		}
	} else {
		target = s.manager.OnQuitState()
	}

	s.mu.RLock()
	current := s.currentState
	s.mu.RUnlock()
	if target == current {
		return
	}

	if err := s.keyboard.Apply(target); err != nil {
		s.logger.Error("restoring keyboard mode on quit", "state", target.String(), "error", err)
		return
	}
	s.logger.Info("keyboard mode restored on quit", "state", target.String())
}
