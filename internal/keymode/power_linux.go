//go:build linux

package keymode

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

// logind emits PrepareForSleep(true) before suspend and
// PrepareForSleep(false) after resume.
const (
	login1Interface = "org.freedesktop.login1.Manager"
	login1Member    = "PrepareForSleep"
)

type logindResumeMonitor struct {
	mu      sync.Mutex
	conn    *dbus.Conn
	cancel  context.CancelFunc
	running bool
}

func newPlatformResumeMonitor() ResumeMonitor {
	return &logindResumeMonitor{}
}

func (m *logindResumeMonitor) Start(ctx context.Context, onResume func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("resume monitor already running")
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("connect system bus: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(login1Interface),
		dbus.WithMatchMember(login1Member),
	); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe to %s: %w", login1Member, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	m.conn = conn
	m.cancel = cancel
	m.running = true

	signals := make(chan *dbus.Signal, 10)
	conn.Signal(signals)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if sig == nil || len(sig.Body) == 0 {
					continue
				}
				sleeping, ok := sig.Body[0].(bool)
				if !ok {
					continue
				}
				if !sleeping {
					onResume()
				}
			}
		}
	}()

	return nil
}

func (m *logindResumeMonitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	if m.cancel != nil {
		m.cancel()
	}
	if m.conn != nil {
		err := m.conn.Close()
		m.conn = nil
		return err
	}
	return nil
}

var _ ResumeMonitor = (*logindResumeMonitor)(nil)
