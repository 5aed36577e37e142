//go:build !windows

package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/wingetupdater/winget-updater/internal/config"
	"github.com/wingetupdater/winget-updater/internal/ipc"
)

func TestDaemonOverSocket(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "d.sock")
	pidPath := filepath.Join(dir, "daemon.pid")

	d, err := New(context.Background(), Config{
		Mode:             ModeStandalone,
		Store:            config.NewStore(afero.NewMemMapFs(), "/settings.ini"),
		Runner:           newScriptedWinget(twoUpdatesJSON),
		HistoryPath:      filepath.Join(dir, "history.db"),
		Address:          socketPath,
		PIDFile:          pidPath,
		SkipInitialCheck: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	waitFor(t, "daemon start", d.IsRunning)

	client := ipc.NewClientWithPath(socketPath)
	client.SetTimeout(5 * time.Second)
	ctx := context.Background()

	res, err := client.CheckUpdates(ctx, true)
	if err != nil {
		t.Fatalf("CheckUpdates() error = %v", err)
	}
	if res.UpdateCount != 2 {
		t.Errorf("UpdateCount = %d, want 2", res.UpdateCount)
	}

	status, err := client.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if status.Mode != "standalone" || status.UpdateCount != 2 || status.PID != os.Getpid() {
		t.Errorf("status = %+v", status)
	}

	if NewPIDFile(pidPath).Running() != os.Getpid() {
		t.Error("PID file not written")
	}

	second, err := New(context.Background(), Config{
		Store:     config.NewStore(afero.NewMemMapFs(), "/settings.ini"),
		NoHistory: true,
		Address:   socketPath,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := second.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	if err := client.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}

	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("PID file left behind")
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("socket left behind")
	}
}
