//go:build windows

package elevation

import "testing"

func TestCommandLine(t *testing.T) {
	got := commandLine([]string{"service", "install", `C:\Program Files\x`})
	want := `service install "C:\Program Files\x"`
	if got != want {
		t.Errorf("commandLine() = %q, want %q", got, want)
	}
}
