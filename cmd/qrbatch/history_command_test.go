package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"qrbatch/internal/interval"
	"qrbatch/internal/logging"
)

func envLookup(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestHistoryPrintsReservations(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "intervals.json")
	store, err := interval.OpenFileStore(storePath, logging.Discard())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	reservedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, r := range []interval.Range{{Start: 1, End: 10}, {Start: 70000, End: 70002}} {
		conflict, err := store.CheckAndAppend(context.Background(), interval.Reservation{
			Zone:       "12",
			Range:      r,
			ReservedAt: reservedAt.Add(time.Duration(i) * time.Hour),
		})
		if err != nil || conflict != nil {
			t.Fatalf("append: %v %v", conflict, err)
		}
	}
	_ = store.Close()

	lookup := envLookup(map[string]string{
		"QRBATCH_STORAGE_PATH": storePath,
		"QRBATCH_ZONES_PATH":   filepath.Join(dir, "missing.json"),
	})

	var stdout, stderr bytes.Buffer
	deps := commandDeps{Stdout: &stdout, Stderr: &stderr, Lookup: lookup}
	if code := runHistory([]string{"--json"}, deps); code != 0 {
		t.Fatalf("history failed with %d: %s", code, stderr.String())
	}
	var rows []historyRow
	if err := json.Unmarshal(stdout.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 2 || rows[0].Start != 70000 || rows[0].Count != 3 || rows[0].ZoneName != "12" {
		t.Fatalf("unexpected rows %+v", rows)
	}

	stdout.Reset()
	if code := runHistory(nil, deps); code != 0 {
		t.Fatalf("history table failed with %d: %s", code, stderr.String())
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "RESERVED") || !strings.Contains(lines[1], "70000-70002") {
		t.Fatalf("unexpected table %q", stdout.String())
	}
}

func TestCheckConfigReportsProblems(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	deps := commandDeps{
		Stdout: &stdout,
		Stderr: &stderr,
		Lookup: envLookup(map[string]string{
			"QRBATCH_ZONES_PATH":          filepath.Join(dir, "zones.json"),
			"QRBATCH_RENDER_CARD_PROFILE": filepath.Join(dir, "missing.yaml"),
		}),
	}
	if code := runCheckConfig([]string{"--workers", "3"}, deps); code != 1 {
		t.Fatalf("expected failure for missing card profile, got %d", code)
	}
	if !strings.Contains(stdout.String(), `render.workers = "3" (flag)`) {
		t.Fatalf("expected flag source in output, got %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "card profile") {
		t.Fatalf("expected card profile problem, got %q", stderr.String())
	}

	stdout.Reset()
	stderr.Reset()
	deps.Lookup = envLookup(map[string]string{"QRBATCH_ZONES_PATH": filepath.Join(dir, "zones.json")})
	if code := runCheckConfig(nil, deps); code != 0 {
		t.Fatalf("expected success, got %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "# ok") {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}
