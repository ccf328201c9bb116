// Package focus tracks which application holds keyboard focus.
//
// Platform implementations live in focus_darwin.go (NSWorkspace
// notifications), focus_linux.go (X11 polling via xdotool/xprop) and
// focus_windows.go (win32 foreground polling). Events are debounced and
// deduplicated before they reach consumers, so a burst of activations
// settles into the last application focused.
package focus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"fnmoded/internal/logging"
)

var (
	// ErrAlreadyRunning is returned by Start on a running tracker.
	ErrAlreadyRunning = errors.New("focus: tracker already running")
	// ErrUnavailable means the platform offers no focus information.
	ErrUnavailable = errors.New("focus: tracking unavailable on this platform")
)

// AppInfo identifies an application as seen by the OS.
type AppInfo struct {
	// ID is the stable application identifier: the bundle id on darwin,
	// the executable path elsewhere.
	ID string

	// Name is the human-readable application name.
	Name string

	// Path locates the application bundle or executable.
	Path string

	// PID is the process id of the focused instance, when known.
	PID int

	// Timestamp is when the focus change was observed.
	Timestamp time.Time
}

// Tracker reports focus changes for the platform.
type Tracker interface {
	// Start begins tracking. Events flow until Stop or context cancel.
	Start(ctx context.Context) error

	// Stop ends tracking and closes the event channel.
	Stop() error

	// Events returns the debounced focus change stream.
	Events() <-chan AppInfo

	// Current returns the last application delivered, nil before the first.
	Current() *AppInfo

	// Available reports whether tracking works here, with an explanation.
	Available() (bool, string)
}

// Config tunes the tracker. The daemon maps its focus section onto this.
type Config struct {
	// PollInterval is the probe cadence for polling implementations.
	PollInterval time.Duration

	// Debounce is the quiet period after an activation before the event
	// is delivered. Rapid switches coalesce into the last one.
	Debounce time.Duration

	// IgnoredApps are application ids or names that never produce events.
	IgnoredApps []string
}

// DefaultConfig returns the tracker defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 500 * time.Millisecond,
		Debounce:     150 * time.Millisecond,
	}
}

// New returns the tracker for the current platform.
func New(cfg Config, logger *logging.Logger) Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if logger == nil {
		logger = logging.Default()
	}
	return newPlatformTracker(cfg, logger.WithComponent("focus"))
}

// selfApps are the project's own binaries. Focusing a frontend must not
// re-evaluate rules, otherwise opening the rules panel would switch the
// mode out from under the app the user actually cares about.
var selfApps = []string{
	"fnmoded",
	"fnmodectl",
	"fnmoded-tray",
	"fnmoded-panel",
	"com.fnmoded.panel",
	"com.fnmoded.tray",
}

// baseTracker carries the channel, debounce and ignore logic shared by
// every platform implementation.
type baseTracker struct {
	cfg    Config
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	events   chan AppInfo
	current  *AppInfo
	pending  AppInfo
	timer    *time.Timer
	running  bool
	closed   bool
	selfName string
}

func newBaseTracker(cfg Config, logger *logging.Logger) *baseTracker {
	b := &baseTracker{
		cfg:    cfg,
		logger: logger,
		events: make(chan AppInfo, 32),
	}
	if exe, err := os.Executable(); err == nil {
		b.selfName = filepath.Base(exe)
	}
	return b
}

// Events returns the delivery channel.
func (b *baseTracker) Events() <-chan AppInfo {
	return b.events
}

// Current returns a copy of the last delivered application.
func (b *baseTracker) Current() *AppInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return nil
	}
	info := *b.current
	return &info
}

// observe takes a raw activation from the platform layer. It filters
// ignored apps, then arms the debounce timer so only the last activation
// in a burst is delivered.
func (b *baseTracker) observe(info AppInfo) {
	if info.ID == "" && info.Name == "" {
		return
	}
	if info.ID == "" {
		info.ID = info.Name
	}
	if b.ignored(info) {
		b.logger.Debug("ignoring focus change", "app_id", info.ID)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if b.current != nil && b.current.ID == info.ID {
		return
	}

	if b.cfg.Debounce <= 0 {
		b.deliverLocked(info)
		return
	}
	b.pending = info
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.cfg.Debounce, b.flush)
}

// flush delivers the pending activation once the debounce window closes.
func (b *baseTracker) flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.deliverLocked(b.pending)
}

func (b *baseTracker) deliverLocked(info AppInfo) {
	if b.current != nil && b.current.ID == info.ID {
		return
	}
	info.Timestamp = time.Now()
	cp := info
	b.current = &cp

	select {
	case b.events <- info:
	default:
		b.logger.Debug("focus event dropped, consumer behind", "app_id", info.ID)
	}
}

// ignored checks the configured list plus the project's own binaries.
func (b *baseTracker) ignored(info AppInfo) bool {
	if b.selfName != "" && info.PID == os.Getpid() {
		return true
	}
	base := ""
	if info.Path != "" {
		base = filepath.Base(info.Path)
	}
	matches := func(entry string) bool {
		if entry == "" {
			return false
		}
		if strings.EqualFold(entry, info.ID) || strings.EqualFold(entry, info.Name) {
			return true
		}
		return base != "" && strings.EqualFold(entry, base)
	}
	for _, entry := range selfApps {
		if matches(entry) {
			return true
		}
	}
	for _, entry := range b.cfg.IgnoredApps {
		if matches(entry) {
			return true
		}
	}
	return false
}

// shutdown stops the debounce timer and closes the channel exactly once.
func (b *baseTracker) shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	close(b.events)
}
