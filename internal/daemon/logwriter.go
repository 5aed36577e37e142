package daemon

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wingetupdater/winget-updater/internal/logging"
)

// LogWriter receives zerolog JSON and fans each line out to the console,
// a rotating log file and the in-memory LogBuffer.
type LogWriter struct {
	mu          sync.RWMutex
	console     io.Writer
	file        io.WriteCloser
	buffer      *LogBuffer
	fileEnabled bool
	now         func() time.Time
}

// LogConfig configures the daemon logger.
type LogConfig struct {
	// LogFile is the rotating log file (empty = no file logging).
	LogFile string

	// Console enables console output. Off under the service control manager.
	Console bool

	// BufferSize is the number of entries kept for GetRecentLogs.
	BufferSize int
}

// NewLogWriter creates a writer for cfg.
func NewLogWriter(cfg LogConfig) *LogWriter {
	w := &LogWriter{
		buffer: NewLogBuffer(cfg.BufferSize),
		now:    time.Now,
	}

	if cfg.Console {
		w.console = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		}
	}

	if cfg.LogFile != "" {
		w.file = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		w.fileEnabled = true
	}

	return w
}

// Write implements io.Writer for zerolog.
func (w *LogWriter) Write(p []byte) (int, error) {
	n := len(p)

	var fields map[string]interface{}
	if err := json.Unmarshal(p, &fields); err != nil {
		fields = map[string]interface{}{zerolog.MessageFieldName: strings.TrimSpace(string(p))}
	}

	level := strings.ToUpper(stringField(fields, zerolog.LevelFieldName))
	if level == "" {
		level = "INFO"
	}
	stage := stringField(fields, "stage")
	if stage == "" {
		stage = "Daemon"
	}
	msg := stringField(fields, zerolog.MessageFieldName)

	extras := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		switch k {
		case zerolog.LevelFieldName, zerolog.TimestampFieldName, zerolog.MessageFieldName, "stage":
		default:
			extras[k] = v
		}
	}
	if len(extras) == 0 {
		extras = nil
	}

	w.buffer.Add(level, stage, msg, extras)

	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.console != nil {
		w.console.Write(p)
	}
	if w.fileEnabled && w.file != nil {
		line := FormatFileLine(w.now(), level, stage, msg, extras)
		w.file.Write([]byte(line))
	}

	return n, nil
}

// FormatFileLine renders one log file line:
//
//	2025-03-01 08:00:12.345 [INFO] Checker: Update check complete updates=3
func FormatFileLine(ts time.Time, level, stage, msg string, fields map[string]interface{}) string {
	var b strings.Builder
	b.WriteString(ts.Format("2006-01-02 15:04:05.000"))
	b.WriteString(" [")
	b.WriteString(level)
	b.WriteString("] ")
	b.WriteString(stage)
	b.WriteString(": ")
	b.WriteString(msg)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	b.WriteByte('\n')
	return b.String()
}

func stringField(fields map[string]interface{}, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

// Buffer returns the ring buffer served over IPC.
func (w *LogWriter) Buffer() *LogBuffer {
	return w.buffer
}

// Close closes the log file.
func (w *LogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// SetFileLogging enables or disables file output.
func (w *LogWriter) SetFileLogging(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fileEnabled = enabled
}

// NewDaemonLogger builds the logger used by the daemon and everything it
// owns. The returned writer must be closed on exit.
func NewDaemonLogger(mode string, cfg LogConfig) (*logging.Logger, *LogWriter) {
	writer := NewLogWriter(cfg)

	zl := zerolog.New(writer).
		With().
		Timestamp().
		Logger()

	return logging.NewFromZerolog(mode, zl), writer
}
