package logging

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestSetLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected log.Level
	}{
		{"debug lowercase", "debug", log.DebugLevel},
		{"debug uppercase", "DEBUG", log.DebugLevel},
		{"verbose alias", "verbose", log.DebugLevel},
		{"info", "info", log.InfoLevel},
		{"info mixed case", "Info", log.InfoLevel},
		{"warn", "warn", log.WarnLevel},
		{"warning alias", "WARNING", log.WarnLevel},
		{"error", "error", log.ErrorLevel},
		{"quiet alias", "quiet", log.FatalLevel},
		{"silent alias", "SILENT", log.FatalLevel},
		{"unknown falls back to info", "foobar", log.InfoLevel},
		{"empty falls back to info", "", log.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log.SetLevel(log.PanicLevel)
			SetLogLevel(tt.input)
			if got := log.GetLevel(); got != tt.expected {
				t.Errorf("SetLogLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRingBufferWrapAround(t *testing.T) {
	rb := NewRingBuffer(3)
	logger := log.New()
	logger.AddHook(rb)
	logger.SetOutput(discard{})

	for _, msg := range []string{"one", "two", "three", "four"} {
		logger.Info(msg)
	}

	entries := rb.Recent(0)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries after wrap, got %d", len(entries))
	}
	if entries[0].Message != "two" || entries[2].Message != "four" {
		t.Errorf("unexpected order: %q .. %q", entries[0].Message, entries[2].Message)
	}
}

func TestRingBufferRecentLimit(t *testing.T) {
	rb := NewRingBuffer(10)
	logger := log.New()
	logger.AddHook(rb)
	logger.SetOutput(discard{})

	logger.Info("a")
	logger.Warn("b")

	recent := rb.Recent(1)
	if len(recent) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(recent))
	}
	if recent[0].Message != "b" {
		t.Errorf("expected most recent entry, got %q", recent[0].Message)
	}
	if recent[0].Level != "warn" {
		t.Errorf("expected normalized level warn, got %q", recent[0].Level)
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
