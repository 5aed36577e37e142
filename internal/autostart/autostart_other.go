//go:build !windows

package autostart

// Add is not supported on non-Windows platforms.
func (m *Manager) Add(exePath string) error {
	return ErrNotSupported
}

// Remove is not supported on non-Windows platforms.
func (m *Manager) Remove() error {
	return ErrNotSupported
}

// Status is not supported on non-Windows platforms.
func (m *Manager) Status() (State, error) {
	return State{}, ErrNotSupported
}
