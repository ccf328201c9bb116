package switcher

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"fnmoded/internal/behavior"
	"fnmoded/internal/bus"
	"fnmoded/internal/config"
	"fnmoded/internal/focus"
	"fnmoded/internal/keymode"
	"fnmoded/internal/logging"
	"fnmoded/internal/store"
)

// stubTracker feeds scripted focus events into the switcher.
type stubTracker struct {
	events   chan focus.AppInfo
	startErr error
	started  bool
	stopped  bool
}

func newStubTracker() *stubTracker {
	return &stubTracker{events: make(chan focus.AppInfo, 16)}
}

func (s *stubTracker) Start(ctx context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *stubTracker) Stop() error {
	s.stopped = true
	return nil
}

func (s *stubTracker) Events() <-chan focus.AppInfo { return s.events }
func (s *stubTracker) Current() *focus.AppInfo      { return nil }
func (s *stubTracker) Available() (bool, string)    { return true, "stub tracker" }

func (s *stubTracker) SendFocus(id, name string) {
	s.events <- focus.AppInfo{ID: id, Name: name, Timestamp: time.Now()}
}

// failingKeyboard cannot read the current mode, as on a machine where the
// HID query fails. Apply still works.
type failingKeyboard struct {
	*keymode.MemorySwitcher
}

func (f *failingKeyboard) Current() (keymode.KeyboardState, error) {
	return keymode.StateError, errors.New("hid query failed")
}

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.New(&logging.Config{
		Level:     logging.LevelError,
		Format:    logging.FormatText,
		Output:    "stderr",
		Component: "test",
	})
	if err != nil {
		t.Fatalf("logging.New failed: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

type fixture struct {
	sw      *Switcher
	manager *behavior.Manager
	keys    *keymode.MemorySwitcher
	events  *bus.Bus
	tracker *stubTracker
}

func newFixture(t *testing.T, cfg *config.Config, initial keymode.KeyboardState) *fixture {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "rules.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := testLogger(t)
	f := &fixture{
		manager: behavior.New(st, cfg, logger),
		keys:    keymode.NewMemorySwitcher(initial),
		events:  bus.New(logger),
		tracker: newStubTracker(),
	}
	t.Cleanup(f.events.Close)
	f.sw = New(f.manager, f.keys, f.tracker, f.events, logger, Options{})
	return f
}

func startFixture(t *testing.T, f *fixture) {
	t.Helper()
	if err := f.sw.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { f.sw.Stop() })
}

// waitModeApplied drains the subscription until a ModeApplied arrives.
func waitModeApplied(t *testing.T, ch <-chan bus.Event) bus.ModeApplied {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatal("event channel closed")
			}
			if ma, isMode := ev.(bus.ModeApplied); isMode {
				return ma
			}
		case <-deadline:
			t.Fatal("timed out waiting for mode change")
		}
	}
}

func waitFocusChanged(t *testing.T, ch <-chan bus.Event) bus.FocusChanged {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatal("event channel closed")
			}
			if fc, isFocus := ev.(bus.FocusChanged); isFocus {
				return fc
			}
		case <-deadline:
			t.Fatal("timed out waiting for focus event")
		}
	}
}

// expectNoModeApplied asserts that no hardware transition is announced
// within the wait window.
func expectNoModeApplied(t *testing.T, ch <-chan bus.Event, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if _, isMode := ev.(bus.ModeApplied); isMode {
				t.Fatalf("unexpected mode change: %#v", ev)
			}
		case <-deadline:
			return
		}
	}
}

func TestStartReadsLaunchState(t *testing.T) {
	f := newFixture(t, nil, keymode.StateOther)
	startFixture(t, f)

	if got := f.sw.LaunchState(); got != keymode.StateOther {
		t.Errorf("LaunchState = %v, want other", got)
	}
	if got := f.sw.CurrentState(); got != keymode.StateOther {
		t.Errorf("CurrentState = %v, want other", got)
	}
	if !f.tracker.started {
		t.Error("tracker was not started")
	}
	if !f.sw.Running() {
		t.Error("expected Running after Start")
	}

	if err := f.sw.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if f.sw.Running() {
		t.Error("expected not Running after Stop")
	}
	if !f.tracker.stopped {
		t.Error("tracker was not stopped")
	}
}

func TestDoubleStart(t *testing.T) {
	f := newFixture(t, nil, keymode.StateApple)
	startFixture(t, f)

	if err := f.sw.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start: got %v, want ErrAlreadyRunning", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	f := newFixture(t, nil, keymode.StateApple)
	if err := f.sw.Stop(); err != nil {
		t.Errorf("Stop without Start failed: %v", err)
	}
	if n := len(f.keys.Applied()); n != 0 {
		t.Errorf("Stop without Start applied %d modes", n)
	}
}

func TestFocusAppliesRuleState(t *testing.T) {
	f := newFixture(t, nil, keymode.StateApple)
	if err := f.manager.SetBehaviorFor("com.apple.dt.Xcode", "Xcode", "", keymode.BehaviorOther); err != nil {
		t.Fatalf("SetBehaviorFor failed: %v", err)
	}

	ch, cancel := f.events.Subscribe()
	defer cancel()
	startFixture(t, f)

	f.tracker.SendFocus("com.apple.dt.Xcode", "Xcode")

	applied := waitModeApplied(t, ch)
	if applied.AppID != "com.apple.dt.Xcode" {
		t.Errorf("AppID = %q", applied.AppID)
	}
	if applied.State != keymode.StateOther || applied.Previous != keymode.StateApple {
		t.Errorf("transition = %v -> %v, want apple -> other", applied.Previous, applied.State)
	}
	if applied.Behavior != keymode.BehaviorOther {
		t.Errorf("Behavior = %v, want other", applied.Behavior)
	}

	if state, _ := f.keys.Current(); state != keymode.StateOther {
		t.Errorf("hardware state = %v, want other", state)
	}

	st := f.sw.Status()
	if st.CurrentAppID != "com.apple.dt.Xcode" || st.CurrentBehavior != keymode.BehaviorOther {
		t.Errorf("status transition app = %q behavior = %v", st.CurrentAppID, st.CurrentBehavior)
	}
	if st.FocusedAppID != "com.apple.dt.Xcode" {
		t.Errorf("status focused app = %q", st.FocusedAppID)
	}
}

func TestFocusSameStateSkipped(t *testing.T) {
	f := newFixture(t, nil, keymode.StateApple) // default mode is apple

	ch, cancel := f.events.Subscribe()
	defer cancel()
	startFixture(t, f)

	f.tracker.SendFocus("com.example.editor", "Editor")

	// The focus event itself is published, but no transition follows.
	fc := waitFocusChanged(t, ch)
	if fc.AppID != "com.example.editor" {
		t.Errorf("FocusChanged.AppID = %q", fc.AppID)
	}
	expectNoModeApplied(t, ch, 100*time.Millisecond)

	if n := len(f.keys.Applied()); n != 0 {
		t.Errorf("expected no hardware calls, got %d", n)
	}
}

func TestResolvedErrorStateNeverApplied(t *testing.T) {
	f := newFixture(t, nil, keymode.StateApple)

	ch, cancel := f.events.Subscribe()
	defer cancel()

	f.sw.applyState("com.example.app", "App", keymode.BehaviorInherited, keymode.StateError)

	expectNoModeApplied(t, ch, 50*time.Millisecond)
	if n := len(f.keys.Applied()); n != 0 {
		t.Errorf("StateError reached the keyboard, %d applies", n)
	}
}

func TestDefaultChangedReappliesFocusedApp(t *testing.T) {
	f := newFixture(t, nil, keymode.StateApple)

	ch, cancel := f.events.Subscribe()
	defer cancel()
	startFixture(t, f)

	// Focus an app without a rule. It inherits the default (apple), which
	// matches the launch state, so nothing is applied yet.
	f.tracker.SendFocus("com.example.editor", "Editor")
	waitFocusChanged(t, ch)

	if err := f.manager.SetDefaultBehavior(keymode.BehaviorOther); err != nil {
		t.Fatalf("SetDefaultBehavior failed: %v", err)
	}
	f.events.Publish(bus.DefaultChanged{Behavior: keymode.BehaviorOther})

	applied := waitModeApplied(t, ch)
	if applied.State != keymode.StateOther {
		t.Errorf("State = %v, want other", applied.State)
	}
	if applied.AppID != "com.example.editor" {
		t.Errorf("AppID = %q, want the focused app", applied.AppID)
	}
}

func TestBehaviorChangedOnlyAffectsFocusedApp(t *testing.T) {
	f := newFixture(t, nil, keymode.StateApple)

	ch, cancel := f.events.Subscribe()
	defer cancel()
	startFixture(t, f)

	f.tracker.SendFocus("com.example.editor", "Editor")
	waitFocusChanged(t, ch)

	// A rule for a background app must not touch the hardware now.
	if err := f.manager.SetBehaviorFor("com.example.term", "Terminal", "", keymode.BehaviorOther); err != nil {
		t.Fatalf("SetBehaviorFor failed: %v", err)
	}
	f.events.Publish(bus.BehaviorChanged{
		AppID:    "com.example.term",
		AppName:  "Terminal",
		Behavior: keymode.BehaviorOther,
	})
	expectNoModeApplied(t, ch, 100*time.Millisecond)
	if n := len(f.keys.Applied()); n != 0 {
		t.Errorf("background rule caused %d hardware calls", n)
	}

	// The same change for the focused app applies immediately.
	if err := f.manager.SetBehaviorFor("com.example.editor", "Editor", "", keymode.BehaviorOther); err != nil {
		t.Fatalf("SetBehaviorFor failed: %v", err)
	}
	f.events.Publish(bus.BehaviorChanged{
		AppID:    "com.example.editor",
		AppName:  "Editor",
		Behavior: keymode.BehaviorOther,
	})

	applied := waitModeApplied(t, ch)
	if applied.AppID != "com.example.editor" || applied.State != keymode.StateOther {
		t.Errorf("applied %v for %q, want other for editor", applied.State, applied.AppID)
	}
}

func TestForceMode(t *testing.T) {
	f := newFixture(t, nil, keymode.StateApple)

	ch, cancel := f.events.Subscribe()
	defer cancel()
	startFixture(t, f)

	// Forcing the current state is a no-op.
	if err := f.sw.ForceMode(keymode.StateApple); err != nil {
		t.Fatalf("ForceMode(apple) failed: %v", err)
	}
	if n := len(f.keys.Applied()); n != 0 {
		t.Errorf("forcing the current state applied %d modes", n)
	}

	if err := f.sw.ForceMode(keymode.StateError); !errors.Is(err, keymode.ErrInvalidState) {
		t.Errorf("ForceMode(error): got %v, want ErrInvalidState", err)
	}

	if err := f.sw.ForceMode(keymode.StateOther); err != nil {
		t.Fatalf("ForceMode(other) failed: %v", err)
	}
	applied := waitModeApplied(t, ch)
	if applied.State != keymode.StateOther || applied.Behavior != keymode.BehaviorOther {
		t.Errorf("forced transition = %v/%v", applied.State, applied.Behavior)
	}

	// The pin lasts until the next focus change re-resolves.
	f.tracker.SendFocus("com.example.editor", "Editor")
	applied = waitModeApplied(t, ch)
	if applied.State != keymode.StateApple {
		t.Errorf("focus after force applied %v, want the default apple", applied.State)
	}
}

func TestQuitRestoresPreviousState(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Keyboard.RestoreStateOnQuit = true
	cfg.Keyboard.RestorePreviousState = true

	f := newFixture(t, cfg, keymode.StateOther)
	startFixture(t, f)

	if err := f.sw.ForceMode(keymode.StateApple); err != nil {
		t.Fatalf("ForceMode failed: %v", err)
	}
	if err := f.sw.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if state, _ := f.keys.Current(); state != keymode.StateOther {
		t.Errorf("state after quit = %v, want the launch state other", state)
	}
}

func TestQuitRestoresFixedState(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Keyboard.RestoreStateOnQuit = true
	cfg.Keyboard.RestorePreviousState = false
	cfg.Keyboard.OnQuitState = config.ModeOther

	f := newFixture(t, cfg, keymode.StateApple)
	startFixture(t, f)

	if err := f.sw.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if state, _ := f.keys.Current(); state != keymode.StateOther {
		t.Errorf("state after quit = %v, want the configured other", state)
	}
}

func TestQuitRestorationDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Keyboard.RestoreStateOnQuit = false

	f := newFixture(t, cfg, keymode.StateApple)
	startFixture(t, f)

	if err := f.sw.ForceMode(keymode.StateOther); err != nil {
		t.Fatalf("ForceMode failed: %v", err)
	}
	if err := f.sw.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := f.keys.Applied(); len(got) != 1 || got[0] != keymode.StateOther {
		t.Errorf("applied sequence = %v, want just the forced other", got)
	}
}

func TestQuitRestorationSkipsUnknownLaunchState(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Keyboard.RestoreStateOnQuit = true
	cfg.Keyboard.RestorePreviousState = true

	st, err := store.Open(filepath.Join(t.TempDir(), "rules.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := testLogger(t)
	keys := &failingKeyboard{MemorySwitcher: keymode.NewMemorySwitcher(keymode.StateApple)}
	events := bus.New(logger)
	t.Cleanup(events.Close)

	sw := New(behavior.New(st, cfg, logger), keys, newStubTracker(), events, logger, Options{})
	if err := sw.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if got := sw.LaunchState(); got != keymode.StateError {
		t.Fatalf("LaunchState = %v, want error after a failed read", got)
	}

	if err := sw.ForceMode(keymode.StateApple); err != nil {
		t.Fatalf("ForceMode failed: %v", err)
	}
	if err := sw.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Restoration has no valid launch state to return to; the forced mode
	// must remain the last thing written.
	if got := keys.Applied(); len(got) != 1 || got[0] != keymode.StateApple {
		t.Errorf("applied sequence = %v, want just the forced apple", got)
	}
}

func TestReapply(t *testing.T) {
	f := newFixture(t, nil, keymode.StateApple)
	startFixture(t, f)

	f.sw.Reapply()

	if got := f.keys.Applied(); len(got) != 1 || got[0] != keymode.StateApple {
		t.Errorf("applied sequence = %v, want one apple reapply", got)
	}
	if got := f.sw.CurrentState(); got != keymode.StateApple {
		t.Errorf("CurrentState changed to %v", got)
	}
}

func TestReapplySkipsUnknownState(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "rules.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := testLogger(t)
	keys := &failingKeyboard{MemorySwitcher: keymode.NewMemorySwitcher(keymode.StateApple)}
	events := bus.New(logger)
	t.Cleanup(events.Close)

	sw := New(behavior.New(st, config.DefaultConfig(), logger), keys, newStubTracker(), events, logger, Options{})
	if err := sw.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { sw.Stop() })

	sw.Reapply()

	if n := len(keys.Applied()); n != 0 {
		t.Errorf("reapply with unknown state wrote %d modes", n)
	}
}

func TestApplyOnStartWithoutTracker(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Keyboard.DefaultMode = config.ModeOther

	st, err := store.Open(filepath.Join(t.TempDir(), "rules.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := testLogger(t)
	keys := keymode.NewMemorySwitcher(keymode.StateApple)
	events := bus.New(logger)
	t.Cleanup(events.Close)

	sw := New(behavior.New(st, cfg, logger), keys, nil, events, logger, Options{ApplyOnStart: true})
	if err := sw.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { sw.Stop() })

	// Without a tracker the start-up apply uses the default mode.
	if state, _ := keys.Current(); state != keymode.StateOther {
		t.Errorf("state after start = %v, want the default other", state)
	}

	status := sw.Status()
	if status.TrackerOK {
		t.Error("TrackerOK should be false without a tracker")
	}
}

func TestTrackerStartFailureKeepsRunning(t *testing.T) {
	f := newFixture(t, nil, keymode.StateApple)
	f.tracker.startErr = errors.New("no display")

	if err := f.sw.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { f.sw.Stop() })

	if !f.sw.Running() {
		t.Error("switcher should run without focus tracking")
	}

	// Rule traffic over the bus still works.
	ch, cancel := f.events.Subscribe()
	defer cancel()

	if err := f.manager.SetDefaultBehavior(keymode.BehaviorOther); err != nil {
		t.Fatalf("SetDefaultBehavior failed: %v", err)
	}
	f.events.Publish(bus.DefaultChanged{Behavior: keymode.BehaviorOther})

	applied := waitModeApplied(t, ch)
	if applied.State != keymode.StateOther {
		t.Errorf("State = %v, want other", applied.State)
	}
}
