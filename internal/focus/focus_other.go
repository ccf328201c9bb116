//go:build !darwin && !linux && !windows

package focus

import (
	"context"
	"fmt"
	"runtime"

	"fnmoded/internal/logging"
)

// otherTracker reports unavailability on platforms without a focus API.
type otherTracker struct {
	*baseTracker
}

func newPlatformTracker(cfg Config, logger *logging.Logger) Tracker {
	return &otherTracker{baseTracker: newBaseTracker(cfg, logger)}
}

func (t *otherTracker) Start(ctx context.Context) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, runtime.GOOS)
}

func (t *otherTracker) Stop() error {
	t.shutdown()
	return nil
}

func (t *otherTracker) Available() (bool, string) {
	return false, "focus tracking not available on " + runtime.GOOS
}

var _ Tracker = (*otherTracker)(nil)

// RunningApps is not implemented on this platform.
func RunningApps() ([]AppInfo, error) {
	return nil, ErrUnavailable
}
