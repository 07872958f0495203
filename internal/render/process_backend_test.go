//go:build !windows

package render

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"qrbatch/internal/interval"
	"qrbatch/internal/process"
)

const fakeGenerator = `
batch="$2"
grep '"out"' "$batch" | sed 's/.*"out": "\([^"]*\)".*/\1/' | while read -r out; do
  printf 'card' > "$out"
  echo "generated $(basename "$out")"
done
echo "diagnostic" >&2
`

func TestProcessBackendRunsGenerator(t *testing.T) {
	backend := &ProcessBackend{
		Command:  "sh",
		Args:     []string{"-c", fakeGenerator, "generator"},
		Registry: process.NewRegistry(nil),
	}
	coordinator := NewCoordinator(backend, CoordinatorOptions{})
	dir := t.TempDir()

	var lines []string
	result, err := coordinator.RenderAll(context.Background(), Request{
		JobID:      "job-1",
		Zone:       "12",
		ZoneName:   "ALPHA",
		Range:      interval.Range{Start: 70000, End: 70002},
		ScratchDir: dir,
	}, func(o Outcome) {
		lines = append(lines, o.Message)
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(result.Artifacts) != 3 {
		t.Fatalf("expected 3 artifacts, got %d", len(result.Artifacts))
	}
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "generated ") {
		t.Fatalf("unexpected progress lines %q", lines)
	}

	data, err := os.ReadFile(filepath.Join(dir, BatchFileName))
	if err != nil {
		t.Fatalf("read batch: %v", err)
	}
	var entries []map[string]any
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if entries[0]["data"] != "1270000" {
		t.Fatalf("unexpected first entry %v", entries[0])
	}
	options := entries[0]["options"].(map[string]any)
	if options["communeName"] != "ALPHA" || options["outputMode"] != "card" {
		t.Fatalf("unexpected options %v", options)
	}
}

func TestProcessBackendNonZeroExit(t *testing.T) {
	backend := &ProcessBackend{Command: "sh", Args: []string{"-c", "exit 2", "generator"}}
	coordinator := NewCoordinator(backend, CoordinatorOptions{})
	_, err := coordinator.RenderAll(context.Background(), Request{
		Zone:       "12",
		Range:      interval.Range{Start: 1, End: 1},
		ScratchDir: t.TempDir(),
	}, nil)
	var renderErr *RenderError
	if !errors.As(err, &renderErr) || !strings.Contains(err.Error(), "code 2") {
		t.Fatalf("expected exit code failure, got %v", err)
	}
}

func TestProcessBackendTimeoutStopsChild(t *testing.T) {
	registry := process.NewRegistry(nil)
	registry.SetStopGrace(200 * time.Millisecond)
	backend := &ProcessBackend{Command: "sh", Args: []string{"-c", "sleep 10", "generator"}, Registry: registry}
	coordinator := NewCoordinator(backend, CoordinatorOptions{Timeout: 100 * time.Millisecond})

	_, err := coordinator.RenderAll(context.Background(), Request{
		Zone:       "12",
		Range:      interval.Range{Start: 1, End: 1},
		ScratchDir: t.TempDir(),
	}, nil)
	var renderErr *RenderError
	if !errors.As(err, &renderErr) || !renderErr.Timeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if running := registry.Running(); len(running) != 0 {
		t.Fatalf("expected renderer to be stopped, got %+v", running)
	}
}

func TestLineWriterSplitsChunks(t *testing.T) {
	var lines []string
	writer := newLineWriter(func(line string) { lines = append(lines, line) })
	_, _ = writer.Write([]byte("one\r\ntw"))
	_, _ = writer.Write([]byte("o\n\nthree"))
	writer.Flush()
	if strings.Join(lines, "|") != "one|two|three" {
		t.Fatalf("unexpected lines %q", lines)
	}
}
