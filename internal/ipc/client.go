package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wingetupdater/winget-updater/internal/config"
	"github.com/wingetupdater/winget-updater/internal/history"
	"github.com/wingetupdater/winget-updater/internal/winget"
)

// ErrServerError wraps failures reported by the daemon (success=false).
var ErrServerError = errors.New("server error")

// ErrBusy is additionally wrapped when the daemon refused a request because a
// check or install was already running.
var ErrBusy = errors.New("daemon busy")

// Client connects to the IPC server to send requests.
type Client struct {
	timeout time.Duration
	address string
}

// NewClient creates a client for the default address.
func NewClient() *Client {
	return NewClientWithPath(DefaultAddress())
}

// NewClientWithPath creates a client for a specific pipe name or socket path.
func NewClientWithPath(address string) *Client {
	return &Client{
		timeout: DefaultTimeout,
		address: address,
	}
}

// SetTimeout sets the timeout for quick requests. Checks and upgrades use
// their own, longer deadlines.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// Address returns the pipe name or socket path.
func (c *Client) Address() string {
	return c.address
}

func (c *Client) timeoutFor(t MessageType) time.Duration {
	if d := Timeout(t); d > c.timeout {
		return d
	}
	return c.timeout
}

// sendRequest sends a request and receives a response.
func (c *Client) sendRequest(ctx context.Context, req *Request) (*Response, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	conn, err := dial(dialCtx, c.address)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IPC server: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeoutFor(req.Type))
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	// Unblock reads when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	data, err := req.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	data = append(data, '\n')

	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	reader := bufio.NewReader(conn)
	respData, err := reader.ReadBytes('\n')
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	resp, err := DecodeResponse(respData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if !resp.Success {
		if resp.Code == CodeBusy {
			return resp, fmt.Errorf("%w: %w: %s", ErrServerError, ErrBusy, resp.Error)
		}
		return resp, fmt.Errorf("%w: %s", ErrServerError, resp.Error)
	}
	return resp, nil
}

// GetStatus retrieves the daemon status.
func (c *Client) GetStatus(ctx context.Context) (*StatusData, error) {
	resp, err := c.sendRequest(ctx, NewRequest(MsgGetStatus))
	if err != nil {
		return nil, err
	}
	status := resp.GetStatusData()
	if status == nil {
		return nil, fmt.Errorf("status response carried no data")
	}
	return status, nil
}

// CheckUpdates asks the daemon to run a check and waits for the result.
func (c *Client) CheckUpdates(ctx context.Context, force bool) (*CheckResultData, error) {
	resp, err := c.sendRequest(ctx, NewRequestWithData(MsgCheckUpdates, &CheckRequest{Force: force}))
	if err != nil {
		return nil, err
	}
	result := resp.GetCheckResultData()
	if result == nil {
		return nil, fmt.Errorf("check response carried no data")
	}
	return result, nil
}

// GetUpdates returns the current update list.
func (c *Client) GetUpdates(ctx context.Context) (*UpdatesData, error) {
	resp, err := c.sendRequest(ctx, NewRequest(MsgGetUpdates))
	if err != nil {
		return nil, err
	}
	data := resp.GetUpdatesData()
	if data == nil {
		return &UpdatesData{Updates: []winget.Package{}}, nil
	}
	if data.Updates == nil {
		data.Updates = []winget.Package{}
	}
	return data, nil
}

// GetLastCheck returns the time of the last successful check, nil if none.
func (c *Client) GetLastCheck(ctx context.Context) (*time.Time, error) {
	resp, err := c.sendRequest(ctx, NewRequest(MsgGetLastCheck))
	if err != nil {
		return nil, err
	}
	data := resp.GetLastCheckData()
	if data == nil {
		return nil, nil
	}
	return data.LastCheck, nil
}

// GetSettings retrieves the daemon's settings.
func (c *Client) GetSettings(ctx context.Context) (*config.Settings, error) {
	resp, err := c.sendRequest(ctx, NewRequest(MsgGetSettings))
	if err != nil {
		return nil, err
	}
	s := resp.GetSettingsData()
	if s == nil {
		return nil, fmt.Errorf("settings response carried no data")
	}
	return s, nil
}

// SaveSettings sends settings to the daemon, which validates and applies them.
func (c *Client) SaveSettings(ctx context.Context, s *config.Settings) (*config.Settings, error) {
	resp, err := c.sendRequest(ctx, NewRequestWithData(MsgSaveSettings, s))
	if err != nil {
		return nil, err
	}
	saved := resp.GetSettingsData()
	if saved == nil {
		return s, nil
	}
	return saved, nil
}

// InstallAll asks the daemon to upgrade every package.
func (c *Client) InstallAll(ctx context.Context) (*winget.UpgradeResult, error) {
	resp, err := c.sendRequest(ctx, NewRequest(MsgInstallAll))
	if err != nil {
		return nil, err
	}
	result := resp.GetUpgradeResult()
	if result == nil {
		return nil, fmt.Errorf("install response carried no data")
	}
	return result, nil
}

// GetHistory returns up to limit history entries, newest first.
func (c *Client) GetHistory(ctx context.Context, limit int) ([]history.Entry, error) {
	resp, err := c.sendRequest(ctx, NewRequestWithData(MsgGetHistory, &HistoryRequest{Limit: limit}))
	if err != nil {
		return nil, err
	}
	data := resp.GetHistoryData()
	if data == nil || data.Entries == nil {
		return []history.Entry{}, nil
	}
	return data.Entries, nil
}

// GetRecentLogs retrieves recent log entries from the daemon.
func (c *Client) GetRecentLogs(ctx context.Context, count int) ([]LogEntryData, error) {
	resp, err := c.sendRequest(ctx, NewRequestWithData(MsgGetRecentLogs, &RecentLogsRequest{Count: count}))
	if err != nil {
		return nil, err
	}
	data := resp.GetRecentLogsData()
	if data == nil || data.Entries == nil {
		return []LogEntryData{}, nil
	}
	return data.Entries, nil
}

// Shutdown sends a shutdown command to the daemon.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.sendRequest(ctx, NewRequest(MsgShutdown))
	return err
}

// IsServiceRunning checks if the daemon answers.
func (c *Client) IsServiceRunning(ctx context.Context) bool {
	return c.Ping(ctx) == nil
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.GetStatus(ctx)
	return err
}
