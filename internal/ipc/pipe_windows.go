//go:build windows

package ipc

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/Microsoft/go-winio"
)

// Windows error codes for named pipes
const (
	ERROR_FILE_NOT_FOUND = syscall.Errno(2)
	ERROR_PIPE_BUSY      = syscall.Errno(231)
	ERROR_ACCESS_DENIED  = syscall.Errno(5)
)

// DefaultAddress returns the named pipe path.
func DefaultAddress() string {
	return PipeName
}

// listen creates the named pipe. Any authenticated user may connect, so a
// tray in a user session can reach the daemon running as LocalSystem.
func listen(address string) (net.Listener, error) {
	cfg := &winio.PipeConfig{
		SecurityDescriptor: "D:P(A;;GA;;;AU)",
		MessageMode:        true,
		InputBufferSize:    65536,
		OutputBufferSize:   65536,
	}
	return winio.ListenPipe(address, cfg)
}

func dial(ctx context.Context, address string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, address)
}

// cleanup is a no-op: the pipe disappears with its last handle.
func cleanup(string) {}

// IsServerRunning checks if the named pipe exists (another daemon may own it).
// Returns false only if the pipe does not exist (ERROR_FILE_NOT_FOUND).
// os.IsNotExist is unreliable for pipes.
func IsServerRunning(address string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	conn, err := winio.DialPipeContext(ctx, address)
	if conn != nil {
		conn.Close()
		return true
	}
	if err == nil {
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		if errno == ERROR_FILE_NOT_FOUND {
			return false
		}
		// ERROR_PIPE_BUSY, ERROR_ACCESS_DENIED -> pipe exists
		return true
	}

	// Timeouts and other wrapped errors: assume the pipe exists.
	return true
}
