package logging

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Level is a log severity. Unknown values rank as info.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

var severities = map[Level]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

func (l Level) severity() int {
	if rank, ok := severities[l]; ok {
		return rank
	}
	return severities[LevelInfo]
}

func (l Level) known() bool {
	_, ok := severities[l]
	return ok
}

// LevelAtLeast reports whether level is as severe as min or more.
func LevelAtLeast(level, min Level) bool {
	return level.severity() >= min.severity()
}

// ParseLevel accepts the level names case-insensitively, plus "warn".
func ParseLevel(value string) (Level, bool) {
	name := strings.ToLower(strings.TrimSpace(value))
	if name == "warn" {
		return LevelWarning, true
	}
	level := Level(name)
	if !level.known() {
		return "", false
	}
	return level, true
}

// LogEntry is one record as kept in the ring and served by /api/logs.
type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     Level             `json:"level"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
}

// line renders the entry as a single logfmt line with sorted keys.
func (e LogEntry) line() string {
	var b strings.Builder
	b.WriteString(e.Timestamp.Format(time.RFC3339))
	b.WriteString(" level=")
	b.WriteString(string(e.Level))
	b.WriteString(" msg=")
	b.WriteString(strconv.Quote(e.Message))

	keys := make([]string, 0, len(e.Context))
	for key := range e.Context {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		b.WriteByte(' ')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(strconv.Quote(e.Context[key]))
	}
	b.WriteByte('\n')
	return b.String()
}

func mergeFields(base, extra map[string]string) map[string]string {
	if len(base)+len(extra) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range extra {
		merged[key] = value
	}
	return merged
}
