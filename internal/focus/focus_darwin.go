//go:build darwin

package focus

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework AppKit -framework Foundation

#include <AppKit/AppKit.h>
#include <pthread.h>
#include <stdlib.h>
#include <string.h>
#include <unistd.h>

// Focus changes arrive as NSWorkspaceDidActivateApplicationNotification
// on a dedicated run loop thread. No Accessibility permission is needed
// for application-level activation, unlike window or document tracking.

static volatile int fnmodedTrackerRunning = 0;
static pthread_t fnmodedTrackerThread;
static CFRunLoopRef fnmodedTrackerRunLoop = NULL;
static volatile int fnmodedCallbacksEnabled = 0;

// Defined with //export in focus_darwin_exports.go.
extern void fnmodedFocusActivated(char* bundleID, char* appName, char* appPath, int pid);

static void notifyActivation(NSRunningApplication* app) {
    if (!fnmodedCallbacksEnabled || app == nil) {
        return;
    }
    const char* bundleID = app.bundleIdentifier ? [app.bundleIdentifier UTF8String] : "";
    const char* name = app.localizedName ? [app.localizedName UTF8String] : "";
    const char* path = app.bundleURL ? [[app.bundleURL path] UTF8String] : "";
    fnmodedFocusActivated((char*)bundleID, (char*)name, (char*)path, (int)app.processIdentifier);
}

@interface FnmodedFocusObserver : NSObject
+ (instancetype)sharedObserver;
- (void)startObserving;
- (void)stopObserving;
- (void)appActivated:(NSNotification*)notification;
@end

static FnmodedFocusObserver* fnmodedSharedObserver = nil;

@implementation FnmodedFocusObserver

+ (instancetype)sharedObserver {
    static dispatch_once_t onceToken;
    dispatch_once(&onceToken, ^{
        fnmodedSharedObserver = [[FnmodedFocusObserver alloc] init];
    });
    return fnmodedSharedObserver;
}

- (void)startObserving {
    NSNotificationCenter* center = [[NSWorkspace sharedWorkspace] notificationCenter];
    [center addObserver:self
               selector:@selector(appActivated:)
                   name:NSWorkspaceDidActivateApplicationNotification
                 object:nil];
}

- (void)stopObserving {
    [[[NSWorkspace sharedWorkspace] notificationCenter] removeObserver:self];
}

- (void)appActivated:(NSNotification*)notification {
    @autoreleasepool {
        notifyActivation([notification userInfo][NSWorkspaceApplicationKey]);
    }
}

@end

static void* fnmodedTrackerThreadFunc(void* arg) {
    (void)arg;

    @autoreleasepool {
        fnmodedTrackerRunLoop = CFRunLoopGetCurrent();
        [[FnmodedFocusObserver sharedObserver] startObserving];
        fnmodedTrackerRunning = 1;

        CFRunLoopRun();

        [[FnmodedFocusObserver sharedObserver] stopObserving];
        fnmodedTrackerRunning = 0;
        fnmodedTrackerRunLoop = NULL;
    }

    return NULL;
}

static int fnmoded_startFocusTracking(void) {
    if (fnmodedTrackerRunning) {
        return 1;
    }

    fnmodedCallbacksEnabled = 1;

    if (pthread_create(&fnmodedTrackerThread, NULL, fnmodedTrackerThreadFunc, NULL) != 0) {
        fnmodedCallbacksEnabled = 0;
        return -1;
    }

    // Wait for the run loop to come up.
    for (int i = 0; i < 100 && !fnmodedTrackerRunning; i++) {
        usleep(10000);
    }

    return fnmodedTrackerRunning ? 0 : -2;
}

static void fnmoded_stopFocusTracking(void) {
    if (!fnmodedTrackerRunning) {
        return;
    }

    fnmodedCallbacksEnabled = 0;

    if (fnmodedTrackerRunLoop) {
        CFRunLoopStop(fnmodedTrackerRunLoop);
    }

    pthread_join(fnmodedTrackerThread, NULL);
}

// fnmoded_copyFrontApp fills the out params with the frontmost
// application. Caller frees the strings. Returns 0 when one exists.
static int fnmoded_copyFrontApp(char** bundleID, char** name, char** path, int* pid) {
    @autoreleasepool {
        NSRunningApplication* app = [[NSWorkspace sharedWorkspace] frontmostApplication];
        if (!app) {
            return -1;
        }
        *bundleID = strdup(app.bundleIdentifier ? [app.bundleIdentifier UTF8String] : "");
        *name = strdup(app.localizedName ? [app.localizedName UTF8String] : "");
        *path = strdup(app.bundleURL ? [[app.bundleURL path] UTF8String] : "");
        *pid = (int)app.processIdentifier;
        return 0;
    }
}

// fnmoded_copyRunningApps returns every regular-activation application as
// bundleID \x1f name \x1f path \x1f pid records joined by \x1e. The
// caller frees the result.
static char* fnmoded_copyRunningApps(void) {
    @autoreleasepool {
        NSArray<NSRunningApplication*>* apps = [[NSWorkspace sharedWorkspace] runningApplications];
        NSMutableString* out = [NSMutableString string];

        for (NSRunningApplication* app in apps) {
            if (app.activationPolicy != NSApplicationActivationPolicyRegular) {
                continue;
            }
            NSString* bundleID = app.bundleIdentifier ?: @"";
            NSString* name = app.localizedName ?: @"";
            NSString* path = app.bundleURL ? [app.bundleURL path] : @"";
            [out appendFormat:@"%@\x1f%@\x1f%@\x1f%d\x1e",
                bundleID, name, path, (int)app.processIdentifier];
        }

        return strdup([out UTF8String]);
    }
}
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unsafe"

	"fnmoded/internal/logging"
)

// darwinTracker listens for NSWorkspace activation notifications on a
// dedicated run loop thread.
type darwinTracker struct {
	*baseTracker
}

func newPlatformTracker(cfg Config, logger *logging.Logger) Tracker {
	return &darwinTracker{baseTracker: newBaseTracker(cfg, logger)}
}

func (t *darwinTracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return ErrAlreadyRunning
	}
	t.running = true
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.mu.Unlock()

	registerDarwinTracker(t)

	if rc := C.fnmoded_startFocusTracking(); rc < 0 {
		registerDarwinTracker(nil)
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
		return fmt.Errorf("start focus tracking: run loop thread failed (%d)", int(rc))
	}

	// Seed with the app already in front, otherwise nothing happens until
	// the user switches for the first time.
	if info, ok := frontApp(); ok {
		t.observe(info)
	}

	go func() {
		<-t.ctx.Done()
		t.Stop()
	}()

	return nil
}

func (t *darwinTracker) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	registerDarwinTracker(nil)
	C.fnmoded_stopFocusTracking()
	t.shutdown()

	return nil
}

func (t *darwinTracker) Available() (bool, string) {
	return true, "NSWorkspace activation notifications"
}

var _ Tracker = (*darwinTracker)(nil)

// frontApp reads the frontmost application for the startup seed.
func frontApp() (AppInfo, bool) {
	var cBundleID, cName, cPath *C.char
	var cPID C.int

	if C.fnmoded_copyFrontApp(&cBundleID, &cName, &cPath, &cPID) != 0 {
		return AppInfo{}, false
	}
	defer func() {
		C.free(unsafe.Pointer(cBundleID))
		C.free(unsafe.Pointer(cName))
		C.free(unsafe.Pointer(cPath))
	}()

	return AppInfo{
		ID:   C.GoString(cBundleID),
		Name: C.GoString(cName),
		Path: C.GoString(cPath),
		PID:  int(cPID),
	}, true
}

// RunningApps enumerates the applications a user can focus, sorted by
// name. Background-only and UI-element processes are excluded.
func RunningApps() ([]AppInfo, error) {
	raw := C.fnmoded_copyRunningApps()
	if raw == nil {
		return nil, errors.New("focus: enumerating running applications failed")
	}
	defer C.free(unsafe.Pointer(raw))

	records := strings.Split(strings.TrimSuffix(C.GoString(raw), "\x1e"), "\x1e")
	apps := make([]AppInfo, 0, len(records))
	for _, rec := range records {
		if rec == "" {
			continue
		}
		fields := strings.SplitN(rec, "\x1f", 4)
		if len(fields) < 4 {
			continue
		}
		pid, _ := strconv.Atoi(fields[3])
		id := fields[0]
		if id == "" {
			id = fields[1]
		}
		apps = append(apps, AppInfo{ID: id, Name: fields[1], Path: fields[2], PID: pid})
	}

	sort.Slice(apps, func(i, j int) bool {
		return strings.ToLower(apps[i].Name) < strings.ToLower(apps[j].Name)
	})
	return apps, nil
}
