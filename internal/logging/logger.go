package logging

import (
	"io"
	"os"
	"sync"
	"time"
)

const DefaultBufferSize = 1000

// Logger writes one logfmt line per entry and keeps recent entries in a
// ring buffer. Every method is safe on a nil *Logger.
type Logger struct {
	min    Level
	fields map[string]string
	buffer *LogBuffer
	sink   *sink
}

// sink serializes writes from loggers derived with With.
type sink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *sink) write(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = io.WriteString(s.w, line)
}

func NewLogger(buffer *LogBuffer, min Level) *Logger {
	return NewLoggerWithOutput(buffer, min, os.Stdout)
}

func NewLoggerWithOutput(buffer *LogBuffer, min Level, output io.Writer) *Logger {
	if buffer == nil {
		buffer = NewLogBuffer(DefaultBufferSize)
	}
	if output == nil {
		output = io.Discard
	}
	if !min.known() {
		min = LevelInfo
	}
	return &Logger{min: min, buffer: buffer, sink: &sink{w: output}}
}

// Discard keeps only errors, in a one-entry ring, and prints nothing.
func Discard() *Logger {
	return NewLoggerWithOutput(NewLogBuffer(1), LevelError, io.Discard)
}

func (l *Logger) Buffer() *LogBuffer {
	if l == nil {
		return nil
	}
	return l.buffer
}

// With returns a logger that adds fields to every entry.
func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return nil
	}
	derived := *l
	derived.fields = mergeFields(l.fields, fields)
	return &derived
}

func (l *Logger) Enabled(level Level) bool {
	return l != nil && LevelAtLeast(level, l.min)
}

func (l *Logger) Debug(message string, fields map[string]string) {
	l.emit(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]string) {
	l.emit(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]string) {
	l.emit(LevelWarning, message, fields)
}

func (l *Logger) Error(message string, fields map[string]string) {
	l.emit(LevelError, message, fields)
}

func (l *Logger) emit(level Level, message string, fields map[string]string) {
	if !l.Enabled(level) {
		return
	}
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   mergeFields(l.fields, fields),
	}
	l.buffer.Add(entry)
	l.sink.write(entry.line())
}
