// Package notify posts desktop notices when the keyboard mode changes.
// Linux talks to org.freedesktop.Notifications over the session bus,
// darwin shells out to osascript, everything else is a no-op.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"fnmoded/internal/bus"
	"fnmoded/internal/config"
	"fnmoded/internal/keymode"
	"fnmoded/internal/logging"
)

// ErrAlreadyRunning is returned when Start is called twice.
var ErrAlreadyRunning = errors.New("notify: already running")

// Notifier posts a single desktop notice.
type Notifier interface {
	// Send posts one notice with a short summary line and a body.
	Send(summary, body string) error

	// Available reports whether notices can reach the user, with a
	// human-readable detail either way.
	Available() (bool, string)

	Close() error
}

// New returns the notifier for the current platform.
func New() Notifier {
	return newPlatformNotifier()
}

// Announcer turns mode-change events into desktop notices. It also
// follows focus events so a notice can name the app instead of showing
// its identifier.
type Announcer struct {
	notifier Notifier
	events   *bus.Bus
	logger   *logging.Logger

	mu          sync.RWMutex
	enabled     bool
	onMode      bool
	lastAppID   string
	lastAppName string
	running     bool
	cancel      func()
	done        chan struct{}
}

// NewAnnouncer wires a notifier to the event bus. Nothing is announced
// until Start.
func NewAnnouncer(notifier Notifier, events *bus.Bus, cfg *config.Config, logger *logging.Logger) *Announcer {
	if logger == nil {
		logger = logging.Default()
	}
	a := &Announcer{
		notifier: notifier,
		events:   events,
		logger:   logger.WithComponent("notify"),
	}
	a.UpdateConfig(cfg)
	return a
}

// UpdateConfig re-reads the notifications section after a config reload.
func (a *Announcer) UpdateConfig(cfg *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cfg == nil {
		a.enabled = false
		a.onMode = false
		return
	}
	a.enabled = cfg.Notifications.Enabled
	a.onMode = cfg.Notifications.OnModeChange
}

// Start subscribes to the bus and begins announcing.
func (a *Announcer) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}

	events, unsubscribe := a.events.Subscribe(bus.KindModeApplied, bus.KindFocusChanged)
	ctx, ctxCancel := context.WithCancel(ctx)
	done := make(chan struct{})

	a.running = true
	a.cancel = func() {
		ctxCancel()
		unsubscribe()
	}
	a.done = done
	enabled := a.enabled
	a.mu.Unlock()

	go a.run(ctx, events, done)

	if enabled {
		if ok, detail := a.notifier.Available(); !ok {
			a.logger.Warn("desktop notifications unavailable", "detail", detail)
		}
	}
	return nil
}

// Stop ends announcing and closes the notifier. Safe to call more than
// once.
func (a *Announcer) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	cancel := a.cancel
	done := a.done
	a.cancel = nil
	a.done = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if err := a.notifier.Close(); err != nil {
		a.logger.Debug("notifier close", "error", err)
	}
}

func (a *Announcer) run(ctx context.Context, events <-chan bus.Event, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.handle(ev)
		}
	}
}

func (a *Announcer) handle(ev bus.Event) {
	switch e := ev.(type) {
	case bus.FocusChanged:
		a.mu.Lock()
		a.lastAppID = e.AppID
		a.lastAppName = e.AppName
		a.mu.Unlock()
	case bus.ModeApplied:
		a.announce(e)
	}
}

func (a *Announcer) announce(e bus.ModeApplied) {
	a.mu.RLock()
	enabled := a.enabled && a.onMode
	appName := ""
	if e.AppID != "" && e.AppID == a.lastAppID {
		appName = a.lastAppName
	}
	a.mu.RUnlock()

	if !enabled {
		return
	}

	summary, body := noticeFor(e, appName)
	if err := a.notifier.Send(summary, body); err != nil {
		a.logger.Warn("notification failed", "error", err)
	}
}

// noticeFor renders a mode change as a short notice. The summary names
// the new layout, the body names what drove the switch.
func noticeFor(e bus.ModeApplied, appName string) (string, string) {
	var summary string
	switch e.State {
	case keymode.StateApple:
		summary = "Media keys active"
	case keymode.StateOther:
		summary = "Function keys active"
	default:
		summary = "Keyboard mode changed"
	}

	switch {
	case appName != "":
		return summary, fmt.Sprintf("Switched for %s.", appName)
	case e.AppID != "":
		return summary, fmt.Sprintf("Switched for %s.", e.AppID)
	default:
		return summary, "Keyboard mode switched."
	}
}
