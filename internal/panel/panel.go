// Package panel manages the secondary windows: rules editor,
// preferences, running apps and about. A Registry holds at most one
// live handle per kind, raises existing windows instead of duplicating
// them, and routes rule-change refreshes to the panels that display
// affected data.
//
// The registry is window-toolkit agnostic. The panel host process
// supplies a Factory that builds the concrete windows.
package panel

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"fnmoded/internal/bus"
	"fnmoded/internal/keymode"
	"fnmoded/internal/logging"
)

// Kind identifies one of the four panels.
type Kind int

const (
	// Rules is the rule list editor.
	Rules Kind = iota
	// Preferences is the settings panel.
	Preferences
	// RunningApps lists running applications with their behaviors.
	RunningApps
	// About is the version/info panel.
	About
)

// Kinds returns all panel kinds in display order.
func Kinds() []Kind {
	return []Kind{Rules, Preferences, RunningApps, About}
}

// String returns the kind's wire name.
func (k Kind) String() string {
	switch k {
	case Rules:
		return "rules"
	case Preferences:
		return "preferences"
	case RunningApps:
		return "running-apps"
	case About:
		return "about"
	default:
		return fmt.Sprintf("panel(%d)", int(k))
	}
}

// Valid reports whether k names a known panel.
func (k Kind) Valid() bool {
	return k >= Rules && k <= About
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind parses a panel name. Hyphen and underscore spellings are
// both accepted.
func ParseKind(s string) (Kind, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-") {
	case "rules":
		return Rules, nil
	case "preferences", "prefs", "settings":
		return Preferences, nil
	case "running-apps", "apps", "running":
		return RunningApps, nil
	case "about":
		return About, nil
	default:
		return Rules, fmt.Errorf("unknown panel: %q", s)
	}
}

// Panel is a live window handle.
type Panel interface {
	Kind() Kind

	// Raise brings the existing window to the front.
	Raise()

	// Close asks the window to close. The close signal still fires.
	Close()

	// Closed is closed exactly once when the window is gone, whether the
	// user dismissed it or Close was called.
	Closed() <-chan struct{}
}

// RulesReloader is implemented by panels that display rule-derived data
// and can re-query it.
type RulesReloader interface {
	ReloadRules()
}

// BehaviorUpdater is implemented by panels that show a per-app behavior
// selection and can update a single entry in place.
type BehaviorUpdater interface {
	UpdateBehavior(appID string, behavior keymode.AppBehavior)
}

// Factory builds the window for a kind.
type Factory func(kind Kind) (Panel, error)

// ErrNoFactory is returned by Open when the registry has no factory.
var ErrNoFactory = errors.New("panel: no window factory configured")

type entry struct {
	panel Panel
	gen   uint64
}

// Registry is the window-handle table. One optional handle per kind.
type Registry struct {
	mu      sync.Mutex
	factory Factory
	logger  *logging.Logger
	open    map[Kind]*entry
	gen     uint64
}

// NewRegistry builds a registry around the given window factory.
func NewRegistry(factory Factory, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Default()
	}
	return &Registry{
		factory: factory,
		logger:  logger.WithComponent("panel"),
		open:    make(map[Kind]*entry),
	}
}

// Open shows the panel: raises it when already open, otherwise creates
// it through the factory and watches its close signal.
func (r *Registry) Open(kind Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown panel kind %d", int(kind))
	}

	r.mu.Lock()
	if e, ok := r.open[kind]; ok {
		r.mu.Unlock()
		r.logger.Debug("raising open panel", "panel", kind.String())
		e.panel.Raise()
		return nil
	}
	if r.factory == nil {
		r.mu.Unlock()
		return ErrNoFactory
	}

	p, err := r.factory(kind)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("open %s panel: %w", kind, err)
	}
	r.gen++
	gen := r.gen
	r.open[kind] = &entry{panel: p, gen: gen}
	r.mu.Unlock()

	r.logger.Info("panel opened", "panel", kind.String())
	go r.watchClose(kind, gen, p.Closed())
	return nil
}

// watchClose drops the handle when its close signal fires. The
// generation guard makes the drop exactly-once: a watcher surviving
// from a previous incarnation of the panel cannot remove a fresh one.
func (r *Registry) watchClose(kind Kind, gen uint64, closed <-chan struct{}) {
	<-closed

	r.mu.Lock()
	e, ok := r.open[kind]
	if ok && e.gen == gen {
		delete(r.open, kind)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		r.logger.Info("panel closed", "panel", kind.String())
	}
}

// IsOpen reports whether a live handle exists for the kind.
func (r *Registry) IsOpen(kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.open[kind]
	return ok
}

// OpenKinds returns the kinds with live handles, in display order.
func (r *Registry) OpenKinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []Kind
	for _, k := range Kinds() {
		if _, ok := r.open[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// CloseAll asks every open panel to close. The handles are removed by
// their close signals, not here.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	panels := make([]Panel, 0, len(r.open))
	for _, e := range r.open {
		panels = append(panels, e.panel)
	}
	r.mu.Unlock()

	for _, p := range panels {
		p.Close()
	}
}

// Dispatch routes a rule-change event to the panels that must refresh.
//
// The origin names the surface that made the edit, so its own view is
// skipped: a change from the running-apps panel only reloads the rules
// view, the tray quick toggle only updates the running-apps list, and
// external changes (ctl, import) refresh both. A default change
// invalidates every inherited row, so all reloadable panels re-query.
func (r *Registry) Dispatch(ev bus.Event) {
	switch e := ev.(type) {
	case bus.DefaultChanged:
		for _, p := range r.snapshot() {
			if rr, ok := p.(RulesReloader); ok {
				rr.ReloadRules()
			}
		}

	case bus.BehaviorChanged:
		switch e.Origin {
		case bus.OriginAppList:
			r.reloadRulesView()
		case bus.OriginCurrentApp:
			r.updateRunningApps(e.AppID, e.Behavior)
		default:
			r.reloadRulesView()
			r.updateRunningApps(e.AppID, e.Behavior)
		}
	}
}

func (r *Registry) snapshot() []Panel {
	r.mu.Lock()
	defer r.mu.Unlock()
	panels := make([]Panel, 0, len(r.open))
	for _, e := range r.open {
		panels = append(panels, e.panel)
	}
	return panels
}

func (r *Registry) panelAt(kind Kind) Panel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.open[kind]; ok {
		return e.panel
	}
	return nil
}

func (r *Registry) reloadRulesView() {
	if p := r.panelAt(Rules); p != nil {
		if rr, ok := p.(RulesReloader); ok {
			rr.ReloadRules()
		}
	}
}

func (r *Registry) updateRunningApps(appID string, behavior keymode.AppBehavior) {
	if p := r.panelAt(RunningApps); p != nil {
		if bu, ok := p.(BehaviorUpdater); ok {
			bu.UpdateBehavior(appID, behavior)
		}
	}
}
