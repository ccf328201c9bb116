//go:build darwin

package focus

import "C"

import "sync"

// The run loop thread reaches Go through a single registered tracker.
var (
	darwinTrackerMu     sync.RWMutex
	activeDarwinTracker *darwinTracker
)

func registerDarwinTracker(t *darwinTracker) {
	darwinTrackerMu.Lock()
	activeDarwinTracker = t
	darwinTrackerMu.Unlock()
}

//export fnmodedFocusActivated
func fnmodedFocusActivated(bundleID, appName, appPath *C.char, pid C.int) {
	darwinTrackerMu.RLock()
	t := activeDarwinTracker
	darwinTrackerMu.RUnlock()

	if t == nil {
		return
	}

	t.observe(AppInfo{
		ID:   C.GoString(bundleID),
		Name: C.GoString(appName),
		Path: C.GoString(appPath),
		PID:  int(pid),
	})
}
