//go:build !windows

package ipc

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/wingetupdater/winget-updater/internal/config"
)

// DefaultAddress returns the Unix socket path inside the application data
// directory.
func DefaultAddress() string {
	return filepath.Join(config.AppDataDir(), SocketFileName)
}

func listen(address string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(address), 0700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	// A socket file left by a crashed daemon blocks Listen.
	if err := os.Remove(address); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", address)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(address, 0600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}
	return listener, nil
}

func dial(ctx context.Context, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", address)
}

func cleanup(address string) {
	_ = os.Remove(address)
}

// IsServerRunning reports whether a daemon answers on address.
func IsServerRunning(address string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	conn, err := dial(ctx, address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
