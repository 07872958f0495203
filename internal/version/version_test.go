package version

import (
	"strings"
	"testing"
)

func TestGetPrefersLinkedValues(t *testing.T) {
	previous := [3]string{Version, GitCommit, Built}
	t.Cleanup(func() {
		Version, GitCommit, Built = previous[0], previous[1], previous[2]
	})
	Version = "1.4.0"
	GitCommit = "0123456789abcdef"
	Built = "2026-01-11T12:34:56Z"

	info := Get()
	if info.Version != "1.4.0" || info.GitCommit != "0123456789abcdef" || info.Built != "2026-01-11T12:34:56Z" {
		t.Fatalf("unexpected info %+v", info)
	}
	text := info.String()
	if !strings.HasPrefix(text, "qrbatch 1.4.0, commit 0123456789ab, built 2026-01-11T12:34:56Z, go") {
		t.Fatalf("unexpected string %q", text)
	}
}
