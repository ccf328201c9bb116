package panel

import (
	"errors"
	"sync"
	"testing"
	"time"

	"fnmoded/internal/bus"
	"fnmoded/internal/keymode"
	"fnmoded/internal/logging"
)

type fakePanel struct {
	kind Kind

	mu      sync.Mutex
	raised  int
	reloads int
	updates []string

	closed chan struct{}
	once   sync.Once
}

func newFakePanel(kind Kind) *fakePanel {
	return &fakePanel{kind: kind, closed: make(chan struct{})}
}

func (p *fakePanel) Kind() Kind { return p.kind }

func (p *fakePanel) Raise() {
	p.mu.Lock()
	p.raised++
	p.mu.Unlock()
}

func (p *fakePanel) Close() {
	p.once.Do(func() { close(p.closed) })
}

func (p *fakePanel) Closed() <-chan struct{} { return p.closed }

func (p *fakePanel) ReloadRules() {
	p.mu.Lock()
	p.reloads++
	p.mu.Unlock()
}

func (p *fakePanel) UpdateBehavior(appID string, behavior keymode.AppBehavior) {
	p.mu.Lock()
	p.updates = append(p.updates, appID+":"+behavior.String())
	p.mu.Unlock()
}

func (p *fakePanel) raiseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.raised
}

func (p *fakePanel) reloadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

func (p *fakePanel) updateLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.updates))
	copy(out, p.updates)
	return out
}

type fakeFactory struct {
	mu      sync.Mutex
	created map[Kind][]*fakePanel
	err     error
}

func (f *fakeFactory) build(kind Kind) (Panel, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := newFakePanel(kind)
	f.mu.Lock()
	if f.created == nil {
		f.created = make(map[Kind][]*fakePanel)
	}
	f.created[kind] = append(f.created[kind], p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakeFactory) count(kind Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created[kind])
}

func (f *fakeFactory) last(kind Kind) *fakePanel {
	f.mu.Lock()
	defer f.mu.Unlock()
	panels := f.created[kind]
	if len(panels) == 0 {
		return nil
	}
	return panels[len(panels)-1]
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

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestKindNames(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"rules", Rules},
		{"preferences", Preferences},
		{"prefs", Preferences},
		{"running-apps", RunningApps},
		{"running_apps", RunningApps},
		{"apps", RunningApps},
		{"About", About},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if err != nil {
			t.Errorf("ParseKind(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseKind("settings-panel"); err == nil {
		t.Error("expected error for unknown panel name")
	}

	for _, k := range Kinds() {
		if !k.Valid() {
			t.Errorf("%v should be valid", k)
		}
		parsed, err := ParseKind(k.String())
		if err != nil || parsed != k {
			t.Errorf("round trip failed for %v: %v, %v", k, parsed, err)
		}
	}
	if Kind(42).Valid() {
		t.Error("Kind(42) should not be valid")
	}
}

func TestOpenCreatesOncePerKind(t *testing.T) {
	f := &fakeFactory{}
	r := NewRegistry(f.build, testLogger(t))

	if err := r.Open(Rules); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !r.IsOpen(Rules) {
		t.Fatal("panel should be open")
	}

	// A second Open raises the existing window instead of creating one.
	if err := r.Open(Rules); err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	if got := f.count(Rules); got != 1 {
		t.Errorf("factory created %d windows, want 1", got)
	}
	if got := f.last(Rules).raiseCount(); got != 1 {
		t.Errorf("Raise called %d times, want 1", got)
	}

	// A different kind gets its own window.
	if err := r.Open(About); err != nil {
		t.Fatalf("Open(About) failed: %v", err)
	}
	if got := len(r.OpenKinds()); got != 2 {
		t.Errorf("open kinds = %d, want 2", got)
	}
}

func TestOpenInvalidKind(t *testing.T) {
	r := NewRegistry((&fakeFactory{}).build, testLogger(t))
	if err := r.Open(Kind(42)); err == nil {
		t.Error("expected error for invalid kind")
	}
}

func TestOpenWithoutFactory(t *testing.T) {
	r := NewRegistry(nil, testLogger(t))
	if err := r.Open(Rules); !errors.Is(err, ErrNoFactory) {
		t.Errorf("got %v, want ErrNoFactory", err)
	}
}

func TestOpenFactoryError(t *testing.T) {
	f := &fakeFactory{err: errors.New("display gone")}
	r := NewRegistry(f.build, testLogger(t))

	if err := r.Open(Rules); err == nil {
		t.Fatal("expected factory error")
	}
	if r.IsOpen(Rules) {
		t.Error("failed open must not register a handle")
	}
}

func TestCloseTransitionAndReopen(t *testing.T) {
	f := &fakeFactory{}
	r := NewRegistry(f.build, testLogger(t))

	if err := r.Open(Preferences); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	first := f.last(Preferences)

	// The user closes the window: the handle disappears.
	first.Close()
	eventually(t, func() bool { return !r.IsOpen(Preferences) },
		"handle not removed after close signal")

	// Reopening creates a fresh window with a fresh close watch.
	if err := r.Open(Preferences); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if got := f.count(Preferences); got != 2 {
		t.Errorf("factory created %d windows, want 2", got)
	}

	// The stale first-incarnation signal must not evict the new handle.
	time.Sleep(50 * time.Millisecond)
	if !r.IsOpen(Preferences) {
		t.Error("reopened panel lost its handle")
	}

	second := f.last(Preferences)
	second.Close()
	eventually(t, func() bool { return !r.IsOpen(Preferences) },
		"second incarnation not removed after close signal")
}

func TestCloseAll(t *testing.T) {
	f := &fakeFactory{}
	r := NewRegistry(f.build, testLogger(t))

	for _, k := range []Kind{Rules, RunningApps, About} {
		if err := r.Open(k); err != nil {
			t.Fatalf("Open(%v) failed: %v", k, err)
		}
	}

	r.CloseAll()
	eventually(t, func() bool { return len(r.OpenKinds()) == 0 },
		"panels still registered after CloseAll")
}

func TestDispatchOriginRouting(t *testing.T) {
	f := &fakeFactory{}
	r := NewRegistry(f.build, testLogger(t))

	if err := r.Open(Rules); err != nil {
		t.Fatalf("Open(Rules) failed: %v", err)
	}
	if err := r.Open(RunningApps); err != nil {
		t.Fatalf("Open(RunningApps) failed: %v", err)
	}
	rules := f.last(Rules)
	apps := f.last(RunningApps)

	// An edit made in the running-apps panel: only the rules view is stale.
	r.Dispatch(bus.BehaviorChanged{
		AppID:    "com.example.editor",
		Behavior: keymode.BehaviorOther,
		Origin:   bus.OriginAppList,
	})
	if got := rules.reloadCount(); got != 1 {
		t.Errorf("rules reloads = %d, want 1", got)
	}
	if got := len(apps.updateLog()); got != 0 {
		t.Errorf("apps updates = %d, want 0", got)
	}

	// The tray quick toggle: only the running-apps list is stale.
	r.Dispatch(bus.BehaviorChanged{
		AppID:    "com.example.editor",
		Behavior: keymode.BehaviorApple,
		Origin:   bus.OriginCurrentApp,
	})
	if got := rules.reloadCount(); got != 1 {
		t.Errorf("rules reloads = %d, want still 1", got)
	}
	if got := apps.updateLog(); len(got) != 1 || got[0] != "com.example.editor:apple" {
		t.Errorf("apps updates = %v", got)
	}

	// External change: both views refresh.
	r.Dispatch(bus.BehaviorChanged{
		AppID:    "com.example.term",
		Behavior: keymode.BehaviorOther,
		Origin:   bus.OriginExternal,
	})
	if got := rules.reloadCount(); got != 2 {
		t.Errorf("rules reloads = %d, want 2", got)
	}
	if got := apps.updateLog(); len(got) != 2 {
		t.Errorf("apps updates = %v, want 2 entries", got)
	}

	// A default change invalidates inherited rows everywhere.
	r.Dispatch(bus.DefaultChanged{Behavior: keymode.BehaviorOther})
	if got := rules.reloadCount(); got != 3 {
		t.Errorf("rules reloads after default change = %d, want 3", got)
	}
	if got := apps.reloadCount(); got != 1 {
		t.Errorf("apps reloads after default change = %d, want 1", got)
	}
}

func TestDispatchWithNothingOpen(t *testing.T) {
	r := NewRegistry((&fakeFactory{}).build, testLogger(t))

	// Must not panic with an empty table.
	r.Dispatch(bus.DefaultChanged{Behavior: keymode.BehaviorApple})
	r.Dispatch(bus.BehaviorChanged{
		AppID:    "com.example.editor",
		Behavior: keymode.BehaviorOther,
		Origin:   bus.OriginExternal,
	})
}
