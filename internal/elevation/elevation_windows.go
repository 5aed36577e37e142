//go:build windows

package elevation

import (
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	shell32         = windows.NewLazySystemDLL("shell32.dll")
	shellExecuteExW = shell32.NewProc("ShellExecuteExW")
)

const (
	seeMaskNoCloseProcess = 0x00000040
	swHide                = 0
)

// shellExecuteInfo mirrors SHELLEXECUTEINFOW.
type shellExecuteInfo struct {
	cbSize         uint32
	fMask          uint32
	hwnd           uintptr
	lpVerb         *uint16
	lpFile         *uint16
	lpParameters   *uint16
	lpDirectory    *uint16
	nShow          int32
	hInstApp       uintptr
	lpIDList       uintptr
	lpClass        *uint16
	hkeyClass      uintptr
	dwHotKey       uint32
	hIconOrMonitor uintptr
	hProcess       windows.Handle
}

// IsElevated reports whether the current process token is elevated.
func IsElevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}

// commandLine quotes args for CreateProcess.
func commandLine(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = windows.EscapeArg(a)
	}
	return strings.Join(quoted, " ")
}

// RunElevated runs executable with the "runas" verb, waits for it and
// returns an *ExitError for a non-zero exit code. A cancelled UAC prompt
// surfaces as ERROR_CANCELLED.
func RunElevated(executable string, args []string, workingDir string) error {
	verbPtr, err := windows.UTF16PtrFromString("runas")
	if err != nil {
		return fmt.Errorf("failed to convert verb: %w", err)
	}
	filePtr, err := windows.UTF16PtrFromString(executable)
	if err != nil {
		return fmt.Errorf("failed to convert executable path: %w", err)
	}
	paramsPtr, err := windows.UTF16PtrFromString(commandLine(args))
	if err != nil {
		return fmt.Errorf("failed to convert parameters: %w", err)
	}

	var dirPtr *uint16
	if workingDir != "" {
		dirPtr, err = windows.UTF16PtrFromString(workingDir)
		if err != nil {
			return fmt.Errorf("failed to convert directory: %w", err)
		}
	}

	sei := shellExecuteInfo{
		fMask:        seeMaskNoCloseProcess,
		lpVerb:       verbPtr,
		lpFile:       filePtr,
		lpParameters: paramsPtr,
		lpDirectory:  dirPtr,
		nShow:        swHide,
	}
	sei.cbSize = uint32(unsafe.Sizeof(sei))

	ret, _, callErr := shellExecuteExW.Call(uintptr(unsafe.Pointer(&sei)))
	if ret == 0 {
		if callErr != nil && callErr != windows.Errno(0) {
			return fmt.Errorf("ShellExecuteExW failed: %w", callErr)
		}
		return fmt.Errorf("ShellExecuteExW failed with unknown error")
	}

	if sei.hProcess == 0 {
		return nil
	}
	defer windows.CloseHandle(sei.hProcess)

	if _, err := windows.WaitForSingleObject(sei.hProcess, windows.INFINITE); err != nil {
		return fmt.Errorf("failed waiting for elevated process: %w", err)
	}
	var code uint32
	if err := windows.GetExitCodeProcess(sei.hProcess, &code); err != nil {
		return fmt.Errorf("failed to read exit code: %w", err)
	}
	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}
