package keymode

import "context"

// ResumeMonitor reports system wake-ups so the daemon can re-apply the
// current mode. Linux needs this because hid_apple re-reads fnmode only
// at device attach; other platforms keep the parameter across sleep and
// get a no-op monitor.
type ResumeMonitor interface {
	// Start begins watching for resume events. onResume runs once per
	// wake-up, on the monitor's goroutine.
	Start(ctx context.Context, onResume func()) error

	// Stop stops watching.
	Stop() error
}

// NewResumeMonitor returns the platform's resume monitor.
func NewResumeMonitor() ResumeMonitor {
	return newPlatformResumeMonitor()
}
