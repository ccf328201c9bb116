//go:build !linux && !darwin

package notify

type nopNotifier struct{}

func newPlatformNotifier() Notifier {
	return nopNotifier{}
}

func (nopNotifier) Send(summary, body string) error { return nil }

func (nopNotifier) Available() (bool, string) {
	return false, "desktop notifications not supported on this platform"
}

func (nopNotifier) Close() error { return nil }

var _ Notifier = nopNotifier{}
