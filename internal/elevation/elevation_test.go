package elevation

import (
	"errors"
	"path/filepath"
	"runtime"
	"testing"
)

func TestServiceCommandRejectsUnknownAction(t *testing.T) {
	if err := ServiceCommand("reboot"); err == nil {
		t.Error("ServiceCommand(reboot) should fail")
	}
}

func TestServiceCommandUnsupported(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("would show a UAC prompt")
	}
	if err := ServiceCommand("start"); !errors.Is(err, ErrNotSupported) {
		t.Errorf("ServiceCommand(start) error = %v, want ErrNotSupported", err)
	}
}

func TestCLIPath(t *testing.T) {
	path, dir, err := CLIPath()
	if err != nil {
		t.Fatalf("CLIPath() error = %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("CLIPath() = %q in %q", path, dir)
	}
}

func TestExitError(t *testing.T) {
	var err error = &ExitError{Code: 5}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 5 {
		t.Errorf("errors.As failed for %v", err)
	}
	if err.Error() != "elevated process exited with code 5" {
		t.Errorf("Error() = %q", err.Error())
	}
}
