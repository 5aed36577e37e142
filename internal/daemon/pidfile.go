package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PIDFile guards a standalone daemon's process ID on disk.
type PIDFile struct {
	path string
}

// NewPIDFile returns a PID file at path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the file location.
func (p *PIDFile) Path() string {
	return p.path
}

// Write records the current process ID.
func (p *PIDFile) Write() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// Remove deletes the file if it still holds our PID.
func (p *PIDFile) Remove() {
	if p.Read() == os.Getpid() {
		os.Remove(p.path)
	}
}

// Read returns the stored PID, 0 if the file is missing or invalid.
func (p *PIDFile) Read() int {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// Running returns the PID of a live daemon, or 0. A stale file is removed.
func (p *PIDFile) Running() int {
	pid := p.Read()
	if pid == 0 {
		return 0
	}
	if !processAlive(pid) {
		os.Remove(p.path)
		return 0
	}
	return pid
}
