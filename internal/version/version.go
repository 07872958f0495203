// Package version reports the build identity of the binary.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
)

// Set at build time with -ldflags "-X qrbatch/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = ""
	Built     = ""
)

type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit,omitempty"`
	Built     string `json:"built,omitempty"`
	GoVersion string `json:"goVersion"`
}

// Get returns the linked values, filling the commit and build time from
// the embedded VCS stamp when they were not set at link time.
func Get() Info {
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		Built:     Built,
		GoVersion: runtime.Version(),
	}
	if build, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range build.Settings {
			switch setting.Key {
			case "vcs.revision":
				if info.GitCommit == "" {
					info.GitCommit = setting.Value
				}
			case "vcs.time":
				if info.Built == "" {
					info.Built = setting.Value
				}
			}
		}
	}
	return info
}

func (i Info) String() string {
	parts := []string{"qrbatch " + i.Version}
	if i.GitCommit != "" {
		commit := i.GitCommit
		if len(commit) > 12 {
			commit = commit[:12]
		}
		parts = append(parts, "commit "+commit)
	}
	if i.Built != "" {
		parts = append(parts, "built "+i.Built)
	}
	parts = append(parts, i.GoVersion)
	return strings.Join(parts, ", ")
}
