//go:build windows

package autostart

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows/registry"
)

// Add points the Run value at exePath. An existing value is overwritten.
func (m *Manager) Add(exePath string) error {
	key, _, err := registry.CreateKey(registry.CURRENT_USER, m.keyPath, registry.QUERY_VALUE|registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("failed to open run key: %w", err)
	}
	defer key.Close()

	cmd := Command(exePath)
	if current, _, err := key.GetStringValue(m.valueName); err == nil && current == cmd {
		return nil
	}
	if err := key.SetStringValue(m.valueName, cmd); err != nil {
		return fmt.Errorf("failed to set %s: %w", m.valueName, err)
	}
	return nil
}

// Remove deletes the Run value. A missing value or key is not an error.
func (m *Manager) Remove() error {
	key, err := registry.OpenKey(registry.CURRENT_USER, m.keyPath, registry.SET_VALUE)
	if errors.Is(err, registry.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open run key: %w", err)
	}
	defer key.Close()

	if err := key.DeleteValue(m.valueName); err != nil && !errors.Is(err, registry.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", m.valueName, err)
	}
	return nil
}

// Status reads the Run value.
func (m *Manager) Status() (State, error) {
	key, err := registry.OpenKey(registry.CURRENT_USER, m.keyPath, registry.QUERY_VALUE)
	if errors.Is(err, registry.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to open run key: %w", err)
	}
	defer key.Close()

	cmd, _, err := key.GetStringValue(m.valueName)
	if errors.Is(err, registry.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to read %s: %w", m.valueName, err)
	}
	return State{Enabled: true, Command: cmd}, nil
}
