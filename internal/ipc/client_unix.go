//go:build !windows

package ipc

import (
	"errors"
	"net"
	"os"
	"syscall"
)

// dial connects to the daemon's unix socket. A missing or stale socket
// means no daemon is serving it.
func (c *Client) dial() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.config.SocketPath, c.config.ConnectTimeout)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
			return nil, ErrDaemonNotRunning
		}
		return nil, err
	}
	return conn, nil
}
