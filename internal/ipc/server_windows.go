//go:build windows

package ipc

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"
)

// Named pipe constants.
const (
	pipeAccessDuplex       = 0x00000003
	pipeTypeMessage        = 0x00000004
	pipeReadmodeMessage    = 0x00000002
	pipeWait               = 0x00000000
	pipeUnlimitedInstances = 255

	pipeBufferSize = 64 * 1024

	errorPipeConnected = 535
)

var (
	kernel32                        = syscall.NewLazyDLL("kernel32.dll")
	procCreateNamedPipeW            = kernel32.NewProc("CreateNamedPipeW")
	procConnectNamedPipe            = kernel32.NewProc("ConnectNamedPipe")
	procDisconnectNamedPipe         = kernel32.NewProc("DisconnectNamedPipe")
	procGetNamedPipeClientProcessId = kernel32.NewProc("GetNamedPipeClientProcessId")
)

// listen serves the daemon on a named pipe.
func listen(socketPath string) (net.Listener, error) {
	return &pipeListener{pipeName: pipePath(socketPath)}, nil
}

// pipePath normalizes a configured path to a named pipe name. Paths that
// already name a pipe pass through; unix-style socket paths map to a
// per-user pipe.
func pipePath(socketPath string) string {
	if strings.HasPrefix(socketPath, `\\.\pipe\`) {
		return socketPath
	}
	username := os.Getenv("USERNAME")
	if username == "" {
		username = "default"
	}
	return fmt.Sprintf(`\\.\pipe\fnmoded-%s-%s`, username, filepath.Base(socketPath))
}

// GetPeerCredentials reports the client pid. Named pipes carry no unix
// uid; the pipe's DACL restricts access instead, so the daemon's own uid
// is reported to satisfy the same-user check.
func GetPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	cred := &PeerCredentials{UID: os.Getuid(), GID: os.Getgid()}
	if pc, ok := conn.(*pipeConn); ok {
		if pid, err := getNamedPipeClientProcessId(pc.handle); err == nil {
			cred.PID = pid
		}
	}
	return cred, nil
}

// SetSocketPermissions is a no-op on Windows; pipe security is set at
// creation.
func SetSocketPermissions(path string, mode os.FileMode) error {
	return nil
}

// CleanupSocket is a no-op on Windows; the system reclaims named pipes.
func CleanupSocket(path string) error {
	return nil
}

// IsSocketListening reports whether a daemon already serves the pipe.
func IsSocketListening(path string) bool {
	handle, err := syscall.CreateFile(
		syscall.StringToUTF16Ptr(pipePath(path)),
		syscall.GENERIC_READ|syscall.GENERIC_WRITE,
		0,
		nil,
		syscall.OPEN_EXISTING,
		0,
		0,
	)
	if err != nil {
		return false
	}
	syscall.CloseHandle(handle)
	return true
}

func createNamedPipe(name string) (syscall.Handle, error) {
	pipeName, err := syscall.UTF16PtrFromString(name)
	if err != nil {
		return syscall.InvalidHandle, err
	}

	// Message mode keeps reads aligned to writes.
	handle, _, err := procCreateNamedPipeW.Call(
		uintptr(unsafe.Pointer(pipeName)),
		pipeAccessDuplex,
		pipeTypeMessage|pipeReadmodeMessage|pipeWait,
		pipeUnlimitedInstances,
		pipeBufferSize,
		pipeBufferSize,
		0,
		0, // default security descriptor: owner access only
	)

	if handle == uintptr(syscall.InvalidHandle) {
		return syscall.InvalidHandle, err
	}

	return syscall.Handle(handle), nil
}

func connectNamedPipe(handle syscall.Handle) error {
	r, _, err := procConnectNamedPipe.Call(uintptr(handle), 0)
	if r == 0 {
		if errno, ok := err.(syscall.Errno); ok && errno == errorPipeConnected {
			return nil
		}
		return err
	}
	return nil
}

func disconnectNamedPipe(handle syscall.Handle) error {
	r, _, err := procDisconnectNamedPipe.Call(uintptr(handle))
	if r == 0 {
		return err
	}
	return nil
}

func getNamedPipeClientProcessId(handle syscall.Handle) (int, error) {
	var pid uint32
	r, _, err := procGetNamedPipeClientProcessId.Call(
		uintptr(handle),
		uintptr(unsafe.Pointer(&pid)),
	)
	if r == 0 {
		return 0, err
	}
	return int(pid), nil
}

// pipeListener implements net.Listener over named pipes. Each accepted
// connection gets its own pipe instance.
type pipeListener struct {
	pipeName string
	closed   atomic.Bool
}

func (l *pipeListener) Accept() (net.Conn, error) {
	if l.closed.Load() {
		return nil, net.ErrClosed
	}

	handle, err := createNamedPipe(l.pipeName)
	if err != nil {
		return nil, fmt.Errorf("create pipe: %w", err)
	}

	if err := connectNamedPipe(handle); err != nil {
		syscall.CloseHandle(handle)
		return nil, fmt.Errorf("connect pipe: %w", err)
	}

	// Close wakes a blocked accept by dialing the pipe itself.
	if l.closed.Load() {
		syscall.CloseHandle(handle)
		return nil, net.ErrClosed
	}

	return &pipeConn{handle: handle, pipeName: l.pipeName}, nil
}

func (l *pipeListener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	// Unblock a pending ConnectNamedPipe.
	handle, err := syscall.CreateFile(
		syscall.StringToUTF16Ptr(l.pipeName),
		syscall.GENERIC_READ|syscall.GENERIC_WRITE,
		0,
		nil,
		syscall.OPEN_EXISTING,
		0,
		0,
	)
	if err == nil {
		syscall.CloseHandle(handle)
	}
	return nil
}

func (l *pipeListener) Addr() net.Addr {
	return &pipeAddr{name: l.pipeName}
}

// pipeConn implements net.Conn over a named pipe instance.
type pipeConn struct {
	handle   syscall.Handle
	pipeName string
}

func (c *pipeConn) Read(b []byte) (int, error) {
	var n uint32
	err := syscall.ReadFile(c.handle, b, &n, nil)
	return int(n), err
}

func (c *pipeConn) Write(b []byte) (int, error) {
	var n uint32
	err := syscall.WriteFile(c.handle, b, &n, nil)
	return int(n), err
}

func (c *pipeConn) Close() error {
	disconnectNamedPipe(c.handle)
	return syscall.CloseHandle(c.handle)
}

func (c *pipeConn) LocalAddr() net.Addr {
	return &pipeAddr{name: c.pipeName}
}

func (c *pipeConn) RemoteAddr() net.Addr {
	return &pipeAddr{name: c.pipeName}
}

// Deadlines would require overlapped I/O; synchronous pipe reads rely on
// the protocol's ping cycle instead.
func (c *pipeConn) SetDeadline(t time.Time) error {
	return nil
}

func (c *pipeConn) SetReadDeadline(t time.Time) error {
	return nil
}

func (c *pipeConn) SetWriteDeadline(t time.Time) error {
	return nil
}

// pipeAddr implements net.Addr for named pipes.
type pipeAddr struct {
	name string
}

func (a *pipeAddr) Network() string {
	return "pipe"
}

func (a *pipeAddr) String() string {
	return a.name
}
