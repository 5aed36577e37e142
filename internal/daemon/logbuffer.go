package daemon

import (
	"sync"
	"time"

	"github.com/wingetupdater/winget-updater/internal/ipc"
)

// DefaultLogBufferSize is the number of entries kept for GetRecentLogs.
const DefaultLogBufferSize = 1000

// LogBuffer is a ring buffer of recent log entries served over IPC.
type LogBuffer struct {
	mu       sync.RWMutex
	entries  []ipc.LogEntryData
	maxSize  int
	writeIdx int
	count    int
	now      func() time.Time
}

// NewLogBuffer creates a buffer holding at most maxSize entries.
func NewLogBuffer(maxSize int) *LogBuffer {
	if maxSize <= 0 {
		maxSize = DefaultLogBufferSize
	}
	return &LogBuffer{
		entries: make([]ipc.LogEntryData, maxSize),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Add stores an entry, overwriting the oldest one when full.
func (lb *LogBuffer) Add(level, stage, message string, fields map[string]interface{}) {
	entry := ipc.LogEntryData{
		Timestamp: lb.now().Format(time.RFC3339Nano),
		Level:     level,
		Stage:     stage,
		Message:   message,
		Fields:    fields,
	}

	lb.mu.Lock()
	lb.entries[lb.writeIdx] = entry
	lb.writeIdx = (lb.writeIdx + 1) % lb.maxSize
	if lb.count < lb.maxSize {
		lb.count++
	}
	lb.mu.Unlock()
}

// GetRecent returns up to n entries, oldest first.
func (lb *LogBuffer) GetRecent(n int) []ipc.LogEntryData {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	if n <= 0 || lb.count == 0 {
		return []ipc.LogEntryData{}
	}
	if n > lb.count {
		n = lb.count
	}

	result := make([]ipc.LogEntryData, n)
	startIdx := (lb.writeIdx - n + lb.maxSize) % lb.maxSize
	for i := 0; i < n; i++ {
		result[i] = lb.entries[(startIdx+i)%lb.maxSize]
	}
	return result
}

// Len returns the number of stored entries.
func (lb *LogBuffer) Len() int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.count
}
