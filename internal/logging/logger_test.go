package logging

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"
)

func TestLoggerWritesToBuffer(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelInfo, io.Discard)

	logger.Info("job started", map[string]string{"job_id": "1"})

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Level != LevelInfo || entries[0].Message != "job started" {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
	if entries[0].Context["job_id"] != "1" {
		t.Fatalf("expected job_id context, got %v", entries[0].Context)
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelWarning, io.Discard)

	logger.Info("info", nil)
	logger.Warn("warn", nil)

	entries := buffer.List()
	if len(entries) != 1 || entries[0].Level != LevelWarning {
		t.Fatalf("expected only the warning entry, got %+v", entries)
	}
}

func TestLoggerWithMergesContext(t *testing.T) {
	var out bytes.Buffer
	logger := NewLoggerWithOutput(NewLogBuffer(4), LevelInfo, &out).With(map[string]string{"zone": "12"})

	logger.Info("reserved", map[string]string{"start": "70000"})

	line := out.String()
	if !strings.Contains(line, `msg="reserved" start="70000" zone="12"`) {
		t.Fatalf("unexpected log line %q", line)
	}
}

func TestLogBufferKeepsNewest(t *testing.T) {
	buffer := NewLogBuffer(2)
	for _, message := range []string{"a", "b", "c"} {
		buffer.Add(LogEntry{Message: message})
	}
	entries := buffer.List()
	if len(entries) != 2 || entries[0].Message != "b" || entries[1].Message != "c" {
		t.Fatalf("unexpected ring contents %+v", entries)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": LevelDebug, " WARN ": LevelWarning, "error": LevelError}
	for input, want := range cases {
		got, ok := ParseLevel(input)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q) = %q, %v", input, got, ok)
		}
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatal("expected unknown level to fail")
	}
}

func TestLevelAtLeast(t *testing.T) {
	if !LevelAtLeast(LevelError, LevelWarning) {
		t.Fatalf("error should pass a warning threshold")
	}
	if LevelAtLeast(LevelDebug, LevelInfo) {
		t.Fatalf("debug should not pass an info threshold")
	}
}

func TestLoggerLineFormat(t *testing.T) {
	var out bytes.Buffer
	logger := NewLoggerWithOutput(nil, LevelDebug, &out)

	logger.Debug("render done", map[string]string{"note": "two words"})

	line := out.String()
	if !strings.HasSuffix(line, " level=debug msg=\"render done\" note=\"two words\"\n") {
		t.Fatalf("unexpected log line %q", line)
	}
	if _, err := time.Parse(time.RFC3339, strings.Fields(line)[0]); err != nil {
		t.Fatalf("expected RFC3339 timestamp prefix: %v", err)
	}
}

func TestNilLoggerIsSilent(t *testing.T) {
	var logger *Logger
	logger.Info("ignored", nil)
	if logger.Enabled(LevelError) || logger.Buffer() != nil || logger.With(nil) != nil {
		t.Fatal("expected nil logger to do nothing")
	}
}

func TestUnknownMinimumLevelFallsBackToInfo(t *testing.T) {
	buffer := NewLogBuffer(4)
	logger := NewLoggerWithOutput(buffer, Level("chatty"), io.Discard)
	logger.Debug("hidden", nil)
	logger.Info("shown", nil)
	if entries := buffer.List(); len(entries) != 1 || entries[0].Message != "shown" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}
