// Package ui implements the panel windows: rules editor, preferences,
// running apps, and about. Each window hosts one View and satisfies the
// panel.Panel handle interface for the registry.
package ui

import (
	"sync"

	"gioui.org/app"
	"gioui.org/io/system"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/unit"

	"fnmoded/cmd/fnmoded-panel/internal/theme"
	"fnmoded/internal/ipc"
	"fnmoded/internal/keymode"
	"fnmoded/internal/logging"
	"fnmoded/internal/panel"
)

// View is one panel's content. A view holds its own widget state and
// may implement panel.RulesReloader or panel.BehaviorUpdater to receive
// daemon-driven refreshes.
type View interface {
	Attach(w *app.Window)
	Layout(gtx layout.Context) layout.Dimensions
}

// NewView builds the content for a panel kind.
func NewView(kind panel.Kind, th *theme.Theme, client *ipc.Client, version string) View {
	switch kind {
	case panel.Preferences:
		return NewPrefsView(th, client)
	case panel.RunningApps:
		return NewAppsView(th, client)
	case panel.About:
		return NewAboutView(th, client, version)
	default:
		return NewRulesView(th, client)
	}
}

// base carries what every view shares: the theme and a window to wake
// after asynchronous data loads.
type base struct {
	th  *theme.Theme
	win *app.Window
}

func (b *base) Attach(w *app.Window) { b.win = w }

func (b *base) invalidate() {
	if b.win != nil {
		b.win.Invalidate()
	}
}

// Window hosts a View in its own gio window. The frame loop runs on a
// dedicated goroutine, one per window.
type Window struct {
	kind   panel.Kind
	win    *app.Window
	view   View
	logger *logging.Logger

	closed    chan struct{}
	closeOnce sync.Once
}

type windowSpec struct {
	title  string
	width  unit.Dp
	height unit.Dp
}

func specFor(kind panel.Kind) windowSpec {
	switch kind {
	case panel.Preferences:
		return windowSpec{"fnmoded Preferences", 440, 340}
	case panel.RunningApps:
		return windowSpec{"Running Applications", 560, 480}
	case panel.About:
		return windowSpec{"About fnmoded", 400, 280}
	default:
		return windowSpec{"Keyboard Rules", 560, 480}
	}
}

// NewWindow opens the window and starts its frame loop.
func NewWindow(kind panel.Kind, view View, logger *logging.Logger) *Window {
	spec := specFor(kind)

	w := new(app.Window)
	w.Option(app.Title(spec.title))
	w.Option(app.Size(spec.width, spec.height))

	view.Attach(w)

	pw := &Window{
		kind:   kind,
		win:    w,
		view:   view,
		logger: logger,
		closed: make(chan struct{}),
	}

	go pw.loop()
	return pw
}

func (pw *Window) loop() {
	defer pw.closeOnce.Do(func() { close(pw.closed) })

	var ops op.Ops
	for {
		switch e := pw.win.Event().(type) {
		case app.DestroyEvent:
			if e.Err != nil {
				pw.logger.Warn("panel window destroyed",
					"panel", pw.kind.String(), "error", e.Err)
			}
			return
		case app.FrameEvent:
			gtx := app.NewContext(&ops, e)
			pw.view.Layout(gtx)
			e.Frame(gtx.Ops)
		}
	}
}

// Kind identifies the hosted panel.
func (pw *Window) Kind() panel.Kind { return pw.kind }

// Raise brings the window to the front.
func (pw *Window) Raise() { pw.win.Perform(system.ActionRaise) }

// Close asks the window to close; the destroy event fires the close
// signal.
func (pw *Window) Close() { pw.win.Perform(system.ActionClose) }

// Closed is closed exactly once when the window is gone.
func (pw *Window) Closed() <-chan struct{} { return pw.closed }

// ReloadRules forwards to the view when it displays rule-derived data.
func (pw *Window) ReloadRules() {
	if rr, ok := pw.view.(panel.RulesReloader); ok {
		rr.ReloadRules()
	}
}

// UpdateBehavior forwards a single-row behavior update to the view.
func (pw *Window) UpdateBehavior(appID string, behavior keymode.AppBehavior) {
	if bu, ok := pw.view.(panel.BehaviorUpdater); ok {
		bu.UpdateBehavior(appID, behavior)
	}
}
