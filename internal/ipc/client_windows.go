//go:build windows

package ipc

import (
	"net"
	"syscall"
	"time"
)

const errorPipeBusy = 231

// dial opens the daemon's named pipe, retrying briefly when every pipe
// instance is busy.
func (c *Client) dial() (net.Conn, error) {
	pipeName := pipePath(c.config.SocketPath)

	var handle syscall.Handle
	var err error

	for i := 0; i < 3; i++ {
		handle, err = syscall.CreateFile(
			syscall.StringToUTF16Ptr(pipeName),
			syscall.GENERIC_READ|syscall.GENERIC_WRITE,
			0,
			nil,
			syscall.OPEN_EXISTING,
			0,
			0,
		)
		if err == nil {
			break
		}

		errno, ok := err.(syscall.Errno)
		if !ok || errno != errorPipeBusy {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err != nil {
		if errno, ok := err.(syscall.Errno); ok && errno == syscall.ERROR_FILE_NOT_FOUND {
			return nil, ErrDaemonNotRunning
		}
		return nil, err
	}

	return &pipeConn{handle: handle, pipeName: pipeName}, nil
}
