// Package ipc provides inter-process communication between the update daemon
// and the tray, GUI and CLI. Messages are newline-delimited JSON over a named
// pipe on Windows and a Unix domain socket elsewhere.
package ipc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/wingetupdater/winget-updater/internal/config"
	"github.com/wingetupdater/winget-updater/internal/history"
	"github.com/wingetupdater/winget-updater/internal/winget"
)

// PipeName is the Windows named pipe path for IPC.
const PipeName = `\\.\pipe\WingetUpdaterPipe`

// SocketFileName is the Unix socket name inside the application data directory.
const SocketFileName = "winget-updater.sock"

// MessageType identifies the type of IPC message.
type MessageType string

const (
	// Request types (client -> server)
	MsgCheckUpdates  MessageType = "CheckUpdates"
	MsgGetStatus     MessageType = "GetStatus"
	MsgGetUpdates    MessageType = "GetUpdates"
	MsgGetLastCheck  MessageType = "GetLastCheck"
	MsgGetSettings   MessageType = "GetSettings"
	MsgSaveSettings  MessageType = "SaveSettings"
	MsgInstallAll    MessageType = "InstallAll"
	MsgGetHistory    MessageType = "GetHistory"
	MsgGetRecentLogs MessageType = "GetRecentLogs"
	MsgShutdown      MessageType = "Shutdown"

	// Response types (server -> client). Successful responses echo the
	// request type.
	MsgOK    MessageType = "OK"
	MsgError MessageType = "Error"
)

// Per-request deadlines. Checks and upgrades run winget and take far longer
// than a status query.
const (
	DefaultTimeout = 5 * time.Second
	CheckTimeout   = winget.DefaultTimeout + 30*time.Second
	InstallTimeout = winget.UpgradeTimeout + winget.DefaultTimeout
)

// Timeout returns the deadline for a request of type t.
func Timeout(t MessageType) time.Duration {
	switch t {
	case MsgCheckUpdates:
		return CheckTimeout
	case MsgInstallAll:
		return InstallTimeout
	case MsgGetHistory, MsgSaveSettings:
		return 30 * time.Second
	}
	return DefaultTimeout
}

// Request represents an IPC request from client to server.
type Request struct {
	Type MessageType `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Response represents an IPC response from server to client.
type Response struct {
	Type    MessageType `json:"type"`
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	// Code classifies an error for clients. Empty for ordinary failures.
	Code string      `json:"code,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// CodeBusy marks a request refused because a check or install is already
// running.
const CodeBusy = "busy"

// CheckRequest is the payload of CheckUpdates.
type CheckRequest struct {
	// Force waits for a running check instead of failing.
	Force bool `json:"force"`
}

// HistoryRequest is the payload of GetHistory.
type HistoryRequest struct {
	Limit int `json:"limit"`
}

// RecentLogsRequest is the payload of GetRecentLogs.
type RecentLogsRequest struct {
	Count int `json:"count"`
}

// StatusData contains the daemon status.
type StatusData struct {
	// ServiceMode is true when the daemon runs under the service control
	// manager. The tray only notifies on its own in that case.
	ServiceMode bool `json:"service_mode"`

	// Mode is "service", "standalone" or "debug".
	Mode string `json:"mode"`

	// State is "running" or "paused".
	State string `json:"state"`

	Version         string     `json:"version"`
	UpdateCount     int        `json:"update_count"`
	LastCheck       *time.Time `json:"last_check,omitempty"`
	NextCheck       *time.Time `json:"next_check,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	CheckInProgress bool       `json:"check_in_progress"`
	AutoCheck       bool       `json:"auto_check"`
	Uptime          string     `json:"uptime,omitempty"`
	PID             int        `json:"pid,omitempty"`
}

// CheckResultData is returned by CheckUpdates.
type CheckResultData struct {
	UpdateCount int              `json:"update_count"`
	Previous    int              `json:"previous"`
	Updates     []winget.Package `json:"updates"`
	CheckedAt   time.Time        `json:"checked_at"`
	Duration    string           `json:"duration"`
}

// UpdatesData is returned by GetUpdates.
type UpdatesData struct {
	Updates   []winget.Package `json:"updates"`
	LastCheck *time.Time       `json:"last_check,omitempty"`
}

// LastCheckData is returned by GetLastCheck.
type LastCheckData struct {
	LastCheck *time.Time `json:"last_check,omitempty"`
}

// HistoryData is returned by GetHistory.
type HistoryData struct {
	Entries []history.Entry `json:"entries"`
}

// LogEntryData represents a single log entry.
type LogEntryData struct {
	// Timestamp is the log entry time in RFC3339 format
	Timestamp string `json:"timestamp"`

	// Level is the log level (DEBUG, INFO, WARN, ERROR)
	Level string `json:"level"`

	// Stage identifies the component (Daemon, Checker, Scheduler, ...)
	Stage string `json:"stage"`

	Message string `json:"message"`

	Fields map[string]interface{} `json:"fields,omitempty"`
}

// RecentLogsData contains a batch of recent log entries.
type RecentLogsData struct {
	Entries []LogEntryData `json:"entries"`
}

// NewRequest creates a new IPC request.
func NewRequest(msgType MessageType) *Request {
	return &Request{Type: msgType}
}

// NewRequestWithData creates a request carrying a payload.
func NewRequestWithData(msgType MessageType, data interface{}) *Request {
	return &Request{Type: msgType, Data: data}
}

// NewOKResponse creates a success response without data.
func NewOKResponse() *Response {
	return &Response{Type: MsgOK, Success: true}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(err string) *Response {
	return &Response{Type: MsgError, Success: false, Error: err}
}

// NewDataResponse creates a success response for a request of type t.
func NewDataResponse(t MessageType, data interface{}) *Response {
	return &Response{Type: t, Success: true, Data: data}
}

// Encode serializes a request to JSON.
func (r *Request) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// Encode serializes a response to JSON.
func (r *Response) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRequest deserializes a request from JSON.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if req.Type == "" {
		return nil, fmt.Errorf("request has no type")
	}
	return &req, nil
}

// DecodeResponse deserializes a response from JSON.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// convertData copies src into dst. src is either already the target type
// (in-process) or the generic value encoding/json produced.
func convertData(src interface{}, dst interface{}) error {
	if src == nil {
		return fmt.Errorf("no data")
	}
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// GetCheckRequest extracts the CheckUpdates payload. A missing payload means
// a non-forced check.
func (r *Request) GetCheckRequest() *CheckRequest {
	var req CheckRequest
	if r.Data != nil {
		_ = convertData(r.Data, &req)
	}
	return &req
}

// GetHistoryRequest extracts the GetHistory payload.
func (r *Request) GetHistoryRequest() *HistoryRequest {
	var req HistoryRequest
	if r.Data != nil {
		_ = convertData(r.Data, &req)
	}
	return &req
}

// GetRecentLogsRequest extracts the GetRecentLogs payload.
func (r *Request) GetRecentLogsRequest() *RecentLogsRequest {
	var req RecentLogsRequest
	if r.Data != nil {
		_ = convertData(r.Data, &req)
	}
	return &req
}

// GetSettings extracts the SaveSettings payload.
func (r *Request) GetSettings() (*config.Settings, error) {
	var s config.Settings
	if err := convertData(r.Data, &s); err != nil {
		return nil, fmt.Errorf("invalid settings payload: %w", err)
	}
	return &s, nil
}

// GetStatusData extracts StatusData from a response.
// Returns nil if the response doesn't contain status data.
func (r *Response) GetStatusData() *StatusData {
	var v StatusData
	if convertData(r.Data, &v) != nil {
		return nil
	}
	return &v
}

// GetCheckResultData extracts CheckResultData from a response.
func (r *Response) GetCheckResultData() *CheckResultData {
	var v CheckResultData
	if convertData(r.Data, &v) != nil {
		return nil
	}
	return &v
}

// GetUpdatesData extracts UpdatesData from a response.
func (r *Response) GetUpdatesData() *UpdatesData {
	var v UpdatesData
	if convertData(r.Data, &v) != nil {
		return nil
	}
	return &v
}

// GetLastCheckData extracts LastCheckData from a response.
func (r *Response) GetLastCheckData() *LastCheckData {
	var v LastCheckData
	if convertData(r.Data, &v) != nil {
		return nil
	}
	return &v
}

// GetSettingsData extracts settings from a response.
func (r *Response) GetSettingsData() *config.Settings {
	var v config.Settings
	if convertData(r.Data, &v) != nil {
		return nil
	}
	return &v
}

// GetUpgradeResult extracts the InstallAll result from a response.
func (r *Response) GetUpgradeResult() *winget.UpgradeResult {
	var v winget.UpgradeResult
	if convertData(r.Data, &v) != nil {
		return nil
	}
	return &v
}

// GetHistoryData extracts HistoryData from a response.
func (r *Response) GetHistoryData() *HistoryData {
	var v HistoryData
	if convertData(r.Data, &v) != nil {
		return nil
	}
	return &v
}

// GetRecentLogsData extracts RecentLogsData from a response.
func (r *Response) GetRecentLogsData() *RecentLogsData {
	var v RecentLogsData
	if convertData(r.Data, &v) != nil {
		return nil
	}
	return &v
}
