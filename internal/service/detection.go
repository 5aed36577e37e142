package service

import (
	"context"
	"fmt"
	"time"

	"github.com/wingetupdater/winget-updater/internal/config"
	"github.com/wingetupdater/winget-updater/internal/daemon"
	"github.com/wingetupdater/winget-updater/internal/ipc"
)

// Detection describes which daemon, if any, is active for this user.
type Detection struct {
	// ServiceMode is true when the Windows service is running.
	ServiceMode bool

	// StandalonePID is the PID of a standalone daemon, 0 if none.
	StandalonePID int

	// Responding is true when the IPC endpoint answered GetStatus.
	Responding bool

	// AddressInUse is true when the IPC endpoint exists but did not answer.
	AddressInUse bool
}

// Detector probes the SCM, the IPC endpoint and the PID file.
type Detector struct {
	Address string
	PIDFile string
	Timeout time.Duration

	// queryStatus is replaced in tests.
	queryStatus func() (Status, error)
}

// NewDetector uses the default IPC address and PID file.
func NewDetector() *Detector {
	return &Detector{
		Address:     ipc.DefaultAddress(),
		PIDFile:     config.PIDFilePath(),
		Timeout:     3 * time.Second,
		queryStatus: QueryStatus,
	}
}

// Detect checks in order: the SCM (may need rights the caller lacks), the
// daemon's own status over IPC, the standalone PID file and finally whether
// the endpoint exists at all.
func (d *Detector) Detect(ctx context.Context) Detection {
	var result Detection

	if d.queryStatus != nil {
		if status, err := d.queryStatus(); err == nil && status == StatusRunning {
			result.ServiceMode = true
		}
	}

	client := ipc.NewClientWithPath(d.Address)
	if d.Timeout > 0 {
		client.SetTimeout(d.Timeout)
	}
	if status, err := client.GetStatus(ctx); err == nil {
		result.Responding = true
		if status.ServiceMode {
			result.ServiceMode = true
		} else {
			result.StandalonePID = status.PID
		}
		return result
	}

	if result.ServiceMode {
		return result
	}

	if d.PIDFile != "" {
		if pid := daemon.NewPIDFile(d.PIDFile).Running(); pid != 0 {
			result.StandalonePID = pid
			return result
		}
	}

	result.AddressInUse = ipc.IsServerRunning(d.Address)
	return result
}

// ShouldBlockStandalone reports whether starting a standalone daemon would
// collide with one that is already active, and why.
func (d *Detector) ShouldBlockStandalone(ctx context.Context) (bool, string) {
	r := d.Detect(ctx)
	switch {
	case r.ServiceMode:
		return true, fmt.Sprintf("the %s is running", ServiceDisplayName)
	case r.StandalonePID > 0:
		return true, fmt.Sprintf("a standalone daemon is already running (PID %d)", r.StandalonePID)
	case r.AddressInUse:
		return true, "a daemon appears to be running but is not responding"
	}
	return false, ""
}
