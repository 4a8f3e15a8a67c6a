// Package logging configures the shared logrus logger and provides a
// ring-buffer hook that retains recent entries for the debug surface.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// globalBuffer captures recent log entries for /logs and -debug-info.
var globalBuffer = NewRingBuffer(DefaultBufferSize)

// SetupBaseLogger configures the process-wide logrus logger: text formatter
// with timestamps, stderr output, and the shared ring-buffer hook.
func SetupBaseLogger() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stderr)
	log.SetLevel(log.InfoLevel)
	log.AddHook(globalBuffer)
}

// EnableFileLogging mirrors log output to a rotating file next to stderr.
// Rotation keeps up to 3 compressed backups of 10 MB each.
func EnableFileLogging(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return nil
}

// SetLogLevel maps a level name to a logrus level. Unknown names fall back
// to info so a typo in configuration never silences the logger entirely.
func SetLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug", "verbose":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "quiet", "silent":
		log.SetLevel(log.FatalLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// RecentEntries returns up to limit of the most recent captured log entries,
// oldest first. limit <= 0 returns everything in the buffer.
func RecentEntries(limit int) []LogEntry {
	return globalBuffer.Recent(limit)
}
