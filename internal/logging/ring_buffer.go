package logging

import (
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultBufferSize is the default capacity of the ring buffer.
const DefaultBufferSize = 500

// LogEntry is a single captured log record.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Source    string                 `json:"source,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// RingBuffer is a thread-safe circular buffer of log entries. It implements
// logrus.Hook so it can be attached to the shared logger.
type RingBuffer struct {
	mu       sync.RWMutex
	entries  []LogEntry
	capacity int
	head     int
	count    int
}

// NewRingBuffer creates a ring buffer with the given capacity.
// Non-positive capacities use DefaultBufferSize.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &RingBuffer{
		entries:  make([]LogEntry, capacity),
		capacity: capacity,
	}
}

// Levels reports which log levels the hook fires for. All of them: the
// buffer is a diagnostic surface and should not miss anything.
func (rb *RingBuffer) Levels() []log.Level {
	return log.AllLevels
}

// Fire implements logrus.Hook.
func (rb *RingBuffer) Fire(entry *log.Entry) error {
	source := ""
	if entry.Caller != nil {
		source = shortFile(entry.Caller.File) + ":" + strconv.Itoa(entry.Caller.Line)
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}

	fields := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		fields[k] = v
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.entries[rb.head] = LogEntry{
		Timestamp: entry.Time,
		Level:     level,
		Message:   entry.Message,
		Source:    source,
		Fields:    fields,
	}
	rb.head = (rb.head + 1) % rb.capacity
	if rb.count < rb.capacity {
		rb.count++
	}
	return nil
}

// Recent returns up to limit entries, oldest first. limit <= 0 returns all.
func (rb *RingBuffer) Recent(limit int) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if limit <= 0 || limit > rb.count {
		limit = rb.count
	}
	out := make([]LogEntry, 0, limit)
	start := rb.head - limit
	if start < 0 {
		start += rb.capacity
	}
	for i := 0; i < limit; i++ {
		out = append(out, rb.entries[(start+i)%rb.capacity])
	}
	return out
}

// Len returns the number of entries currently held.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

func shortFile(file string) string {
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' || file[i] == '\\' {
			return file[i+1:]
		}
	}
	return file
}
