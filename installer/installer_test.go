package installer

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func readFile(t *testing.T, parts ...string) string {
	t.Helper()
	path := filepath.Join(parts...)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

// section returns the body of an Inno Setup [name] section.
func section(script, name string) string {
	start := strings.Index(script, "["+name+"]")
	if start < 0 {
		return ""
	}
	body := script[start+len(name)+2:]
	if next := regexp.MustCompile(`(?m)^\[[A-Za-z]+\]`).FindStringIndex(body); next != nil {
		body = body[:next[0]]
	}
	return body
}

func TestInnoScriptSetup(t *testing.T) {
	script := readFile(t, "WingetUpdater.iss")
	setup := section(script, "Setup")

	for _, want := range []string{
		"891E2B26-53C5-4371-A7BF-95A6AE3E944F",
		"OutputBaseFilename=WingetUpdater_Setup",
		"PrivilegesRequired=admin",
	} {
		if !strings.Contains(setup, want) {
			t.Errorf("[Setup] missing %q", want)
		}
	}
}

func TestInnoScriptFiles(t *testing.T) {
	files := section(readFile(t, "WingetUpdater.iss"), "Files")
	for _, exe := range []string{"{#MyCLIExe}", "{#MyTrayExe}", "{#MyGUIExe}", "launcher.vbs"} {
		if !strings.Contains(files, exe) {
			t.Errorf("[Files] does not ship %s", exe)
		}
	}

	script := readFile(t, "WingetUpdater.iss")
	for _, def := range []string{
		`#define MyCLIExe "winget-updater.exe"`,
		`#define MyTrayExe "winget-updater-tray.exe"`,
		`#define MyGUIExe "winget-updater-gui.exe"`,
		`#define MyServiceName "WingetUpdaterService"`,
	} {
		if !strings.Contains(script, def) {
			t.Errorf("script missing %s", def)
		}
	}
}

func TestInnoScriptTasks(t *testing.T) {
	script := readFile(t, "WingetUpdater.iss")
	tasks := section(script, "Tasks")
	for _, task := range []string{`Name: "desktopicon"`, `Name: "startup"`} {
		if !strings.Contains(tasks, task) {
			t.Errorf("[Tasks] missing %s", task)
		}
	}

	registry := section(script, "Registry")
	if !strings.Contains(registry, `ValueName: "WingetUpdater"`) || !strings.Contains(registry, "Tasks: startup") {
		t.Errorf("[Registry] does not write the autostart value for the startup task:\n%s", registry)
	}
}

// Install runs --install then --start, after the pre-install cleanup.
func TestInnoScriptServiceHooks(t *testing.T) {
	script := readFile(t, "WingetUpdater.iss")

	run := section(script, "Run")
	install := strings.Index(run, `Parameters: "--install"`)
	start := strings.Index(run, `Parameters: "--start"`)
	if install < 0 || start < 0 || install > start {
		t.Errorf("[Run] must install then start the service:\n%s", run)
	}

	code := section(script, "Code")
	if !strings.Contains(code, "PrepareToInstall") || !strings.Contains(code, "powershell.exe") {
		t.Error("[Code] has no PowerShell pre-install cleanup")
	}
	if !strings.Contains(code, "SilentlyContinue") {
		t.Error("pre-install cleanup must ignore errors")
	}

	uninstall := section(script, "UninstallRun")
	if !strings.Contains(uninstall, "powershell.exe") ||
		!strings.Contains(uninstall, "Stop-Service -Name '{#MyServiceName}'") ||
		!strings.Contains(uninstall, "SilentlyContinue") {
		t.Errorf("[UninstallRun] does not stop and remove the service:\n%s", uninstall)
	}
}

func TestLauncher(t *testing.T) {
	vbs := readFile(t, "launcher.vbs")

	for _, want := range []string{
		"winget-updater-tray.exe",
		"shell.CurrentDirectory = appDir",
		`env("LOCALAPPDATA")`,
	} {
		if !strings.Contains(vbs, want) {
			t.Errorf("launcher.vbs missing %q", want)
		}
	}

	run := regexp.MustCompile(`(?m)^shell\.Run .*, 0, False\s*$`)
	if !run.MatchString(vbs) {
		t.Error("launcher.vbs must start the tray hidden without waiting")
	}
	if strings.Contains(vbs, "WScript.Quit") {
		t.Error("launcher.vbs should not report an exit status")
	}
}

func TestWorkflow(t *testing.T) {
	wf := readFile(t, "..", ".github", "workflows", "build.yml")

	for _, want := range []string{
		"push:",
		"pull_request:",
		"workflow_dispatch:",
		"./cmd/winget-updater\n",
		"./cmd/winget-updater-tray",
		"./cmd/winget-updater-gui",
		"go test ./...",
		"/VERYSILENT",
		"installer\\WingetUpdater.iss",
	} {
		if !strings.Contains(wf, want) {
			t.Errorf("build.yml missing %q", want)
		}
	}

	if n := strings.Count(wf, "-H=windowsgui"); n != 2 {
		t.Errorf("-H=windowsgui used %d times, want 2 (tray and gui)", n)
	}
	if n := strings.Count(wf, "actions/upload-artifact"); n != 1 {
		t.Errorf("workflow uploads %d artifacts, want 1", n)
	}
	if !strings.Contains(wf, "name: WingetUpdater_Setup.exe") {
		t.Error("artifact must be named WingetUpdater_Setup.exe")
	}
}
