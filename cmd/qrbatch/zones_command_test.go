package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"qrbatch/internal/logging"
	"qrbatch/internal/zone"
)

func TestZonesImportWritesCatalog(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "communes.csv")
	sheet := "Commune;SYSCOL_Commune\nzeta;12-34\nalpha;0012345678\nAlpha again;0012345678\n"
	if err := os.WriteFile(source, []byte(sheet), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	target := filepath.Join(dir, "out", "communes.json")

	var stdout, stderr bytes.Buffer
	deps := commandDeps{Stdout: &stdout, Stderr: &stderr}
	if code := runZonesImport([]string{source, "-o", target, "--comma", ";"}, deps); code != 0 {
		t.Fatalf("expected success, got %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "wrote 2 zones") {
		t.Fatalf("unexpected output %q", stdout.String())
	}

	catalog, err := zone.LoadCatalog(target, logging.Discard())
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	zones := catalog.List()
	if len(zones) != 2 || zones[0].Name != "ALPHA" || zones[0].Code != "00123456" || zones[1].Code != "1234" {
		t.Fatalf("unexpected zones %+v", zones)
	}
}

func TestZonesImportRequiresOneFile(t *testing.T) {
	var stderr bytes.Buffer
	deps := commandDeps{Stdout: &bytes.Buffer{}, Stderr: &stderr}
	if code := runZonesImport(nil, deps); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
	if code := runZonesImport([]string{"a.csv", "--comma", ";;"}, deps); code != 2 {
		t.Fatalf("expected invalid separator to fail, got %d", code)
	}
}
