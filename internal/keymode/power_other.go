//go:build !linux

package keymode

import "context"

// nopResumeMonitor satisfies ResumeMonitor on platforms where the mode
// survives sleep without help.
type nopResumeMonitor struct{}

func newPlatformResumeMonitor() ResumeMonitor {
	return nopResumeMonitor{}
}

func (nopResumeMonitor) Start(ctx context.Context, onResume func()) error { return nil }

func (nopResumeMonitor) Stop() error { return nil }
