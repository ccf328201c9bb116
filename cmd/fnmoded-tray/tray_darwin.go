//go:build darwin

package main

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework Cocoa

#include <stdlib.h>

// Implemented in tray_darwin.m.
void trayCreate(const char* title);
void traySetTitle(const char* title);
void traySetAppLabel(const char* label);
void traySetAppBehavior(int behavior);
void traySetDefaultLabel(const char* label);
void trayRunLoop(void);
void trayQuitLoop(void);
void trayRemove(void);
*/
import "C"

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"fnmoded/internal/bus"
	"fnmoded/internal/config"
	"fnmoded/internal/ipc"
	"fnmoded/internal/keymode"
)

// Menu item tags, shared with tray_darwin.m.
const (
	tagAppInherit = 10
	tagAppApple   = 11
	tagAppOther   = 12
	tagDefault    = 20
	tagPanelRules = 30
	tagPanelApps  = 31
	tagPanelPrefs = 32
	tagPanelAbout = 33
	tagQuit       = 99
)

var (
	trayMu  sync.RWMutex
	trayApp *tray
)

//export goTrayMenuClicked
func goTrayMenuClicked(tag C.int) {
	trayMu.RLock()
	t := trayApp
	trayMu.RUnlock()
	if t == nil {
		return
	}
	// Menu actions arrive on the main thread; IPC stays off it.
	go t.handleMenu(int(tag))
}

func init() {
	// The Cocoa run loop must own the main thread.
	runtime.LockOSThread()
}

type tray struct {
	client *ipc.Client

	mu              sync.Mutex
	connected       bool
	state           keymode.KeyboardState
	defaultBehavior keymode.AppBehavior
	currentAppID    string
	currentAppName  string
	currentBehavior keymode.AppBehavior

	quit     chan struct{}
	quitOnce sync.Once
}

func runTray() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fnmoded-tray: %v\n", err)
		os.Exit(1)
	}

	clientCfg := ipc.DefaultClientConfig(cfg.SocketPath())
	clientCfg.ClientName = "fnmoded-tray"
	clientCfg.ClientVersion = Version

	t := &tray{
		client: ipc.NewClient(clientCfg),
		quit:   make(chan struct{}),
	}

	trayMu.Lock()
	trayApp = t
	trayMu.Unlock()

	createStatusItem(titleFor(keymode.StateError, false))

	go t.pump()

	C.trayRunLoop()

	t.stop()
	C.trayRemove()
}

// pump owns the IPC connection: dial, subscribe, consume events, and
// re-dial when the daemon goes away. Subscriptions are per session, so
// every fresh connection subscribes again.
func (t *tray) pump() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	t.reconnect()

	for {
		select {
		case <-t.quit:
			return
		case event, ok := <-t.client.Events():
			if !ok {
				return
			}
			t.handleEvent(event)
		case <-ticker.C:
			if !t.client.IsConnected() {
				t.setDisconnected()
				t.reconnect()
			}
		}
	}
}

func (t *tray) reconnect() {
	for {
		select {
		case <-t.quit:
			return
		default:
		}
		if err := t.client.Connect(); err == nil {
			break
		}
		select {
		case <-t.quit:
			return
		case <-time.After(2 * time.Second):
		}
	}

	if err := t.client.Subscribe(); err != nil {
		fmt.Fprintf(os.Stderr, "fnmoded-tray: subscribe: %v\n", err)
	}
	t.refresh()
}

// refresh pulls the full daemon state and redraws the menu.
func (t *tray) refresh() {
	status, err := t.client.Status()
	if err != nil {
		t.setDisconnected()
		return
	}

	t.mu.Lock()
	t.connected = true
	t.state = status.CurrentState
	t.defaultBehavior = status.DefaultBehavior
	t.currentAppID = status.CurrentAppID
	t.currentAppName = status.CurrentAppName
	t.currentBehavior = status.CurrentBehavior
	t.mu.Unlock()

	t.redraw()
}

func (t *tray) setDisconnected() {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	t.redraw()
}

func (t *tray) redraw() {
	t.mu.Lock()
	connected := t.connected
	state := t.state
	def := t.defaultBehavior
	appID := t.currentAppID
	appName := t.currentAppName
	behavior := t.currentBehavior
	t.mu.Unlock()

	setTitle(titleFor(state, connected))

	label := "No application"
	if appID != "" {
		label = appName
		if label == "" {
			label = appID
		}
	}
	setAppLabel(label)

	C.traySetAppBehavior(C.int(behaviorIndex(behavior)))

	setDefaultLabel("Default: " + defaultLabel(def))
}

func (t *tray) handleEvent(event *ipc.Event) {
	switch event.Type {
	case ipc.EventModeChanged:
		var e ipc.ModeChangedEvent
		if event.DecodeData(&e) != nil {
			return
		}
		t.mu.Lock()
		t.state = e.State
		t.mu.Unlock()
		t.redraw()
	case ipc.EventFocusChanged, ipc.EventRuleChanged, ipc.EventDefaultChanged:
		// The focused app's behavior is not carried in these events;
		// a status round-trip fills everything in.
		t.refresh()
	case ipc.EventDaemonShutdown:
		t.setDisconnected()
	}
}

func (t *tray) handleMenu(tag int) {
	switch tag {
	case tagAppInherit:
		t.setAppBehavior(keymode.BehaviorInherited)
	case tagAppApple:
		t.setAppBehavior(keymode.BehaviorApple)
	case tagAppOther:
		t.setAppBehavior(keymode.BehaviorOther)
	case tagDefault:
		t.toggleDefault()
	case tagPanelRules:
		t.openPanel("rules")
	case tagPanelApps:
		t.openPanel("running-apps")
	case tagPanelPrefs:
		t.openPanel("preferences")
	case tagPanelAbout:
		t.openPanel("about")
	case tagQuit:
		C.trayQuitLoop()
	}
}

// setAppBehavior is the quick toggle for the focused application. The
// daemon broadcasts the change back, which is what redraws the menu.
func (t *tray) setAppBehavior(b keymode.AppBehavior) {
	t.mu.Lock()
	appID, appName := t.currentAppID, t.currentAppName
	t.mu.Unlock()
	if appID == "" {
		return
	}

	var err error
	if b == keymode.BehaviorInherited {
		_, err = t.client.DeleteRule(appID, bus.OriginCurrentApp.String())
	} else {
		_, err = t.client.SetRule(&ipc.SetRuleRequest{
			AppID:    appID,
			Name:     appName,
			Behavior: b,
			Origin:   bus.OriginCurrentApp.String(),
		})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "fnmoded-tray: set behavior: %v\n", err)
	}
}

func (t *tray) toggleDefault() {
	t.mu.Lock()
	def := t.defaultBehavior
	t.mu.Unlock()

	next := keymode.BehaviorApple
	if def == keymode.BehaviorApple {
		next = keymode.BehaviorOther
	}
	if err := t.client.SetDefaultBehavior(next); err != nil {
		fmt.Fprintf(os.Stderr, "fnmoded-tray: set default: %v\n", err)
	}
}

func (t *tray) openPanel(kind string) {
	if err := t.client.OpenPanel(kind); err != nil {
		fmt.Fprintf(os.Stderr, "fnmoded-tray: open panel: %v\n", err)
	}
}

func (t *tray) stop() {
	t.quitOnce.Do(func() { close(t.quit) })
	t.client.Close()
}

func titleFor(state keymode.KeyboardState, connected bool) string {
	if !connected {
		return "fn?"
	}
	switch state {
	case keymode.StateApple:
		return "fn"
	case keymode.StateOther:
		return "F1"
	default:
		return "fn!"
	}
}

func behaviorIndex(b keymode.AppBehavior) int {
	switch b {
	case keymode.BehaviorApple:
		return 1
	case keymode.BehaviorOther:
		return 2
	default:
		return 0
	}
}

func defaultLabel(b keymode.AppBehavior) string {
	if b == keymode.BehaviorOther {
		return "function keys"
	}
	return "media keys"
}

// The .m side copies strings into NSStrings before returning, so these
// can free immediately.

func createStatusItem(title string) {
	cs := C.CString(title)
	C.trayCreate(cs)
	C.free(unsafe.Pointer(cs))
}

func setTitle(title string) {
	cs := C.CString(title)
	C.traySetTitle(cs)
	C.free(unsafe.Pointer(cs))
}

func setAppLabel(label string) {
	cs := C.CString(label)
	C.traySetAppLabel(cs)
	C.free(unsafe.Pointer(cs))
}

func setDefaultLabel(label string) {
	cs := C.CString(label)
	C.traySetDefaultLabel(cs)
	C.free(unsafe.Pointer(cs))
}
