//go:build linux

package notify

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

// Desktop notifications live on the session bus.
const (
	notifyService = "org.freedesktop.Notifications"
	notifyPath    = "/org/freedesktop/Notifications"
	notifyMethod  = "org.freedesktop.Notifications.Notify"

	notifyAppName  = "fnmoded"
	notifyExpireMs = 3000
)

type dbusNotifier struct {
	mu     sync.Mutex
	conn   *dbus.Conn
	lastID uint32
}

func newPlatformNotifier() Notifier {
	return &dbusNotifier{}
}

// connectLocked dials the session bus on first use. Callers hold n.mu.
func (n *dbusNotifier) connectLocked() error {
	if n.conn != nil {
		return nil
	}
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("connect session bus: %w", err)
	}
	n.conn = conn
	return nil
}

func (n *dbusNotifier) Send(summary, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.connectLocked(); err != nil {
		return err
	}

	hints := map[string]dbus.Variant{
		"transient": dbus.MakeVariant(true),
	}

	// Passing the previous id replaces the last notice, so rapid app
	// switches update one banner instead of stacking a column of them.
	obj := n.conn.Object(notifyService, dbus.ObjectPath(notifyPath))
	call := obj.Call(notifyMethod, 0,
		notifyAppName, n.lastID, "", summary, body,
		[]string{}, hints, int32(notifyExpireMs))
	if call.Err != nil {
		n.conn.Close()
		n.conn = nil
		return fmt.Errorf("send notification: %w", call.Err)
	}
	return call.Store(&n.lastID)
}

func (n *dbusNotifier) Available() (bool, string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.connectLocked(); err != nil {
		return false, fmt.Sprintf("session bus unavailable: %v", err)
	}
	return true, "org.freedesktop.Notifications via session bus"
}

func (n *dbusNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn = nil
	return err
}

var _ Notifier = (*dbusNotifier)(nil)
