package main

import (
	"fmt"
	"strings"

	"qrbatch/internal/logging"
	"qrbatch/internal/packager"
	"qrbatch/internal/process"
	"qrbatch/internal/zone"
)

// runCheckConfig resolves settings, prints each with its source, and
// loads the files they point at so mistakes surface before serving.
func runCheckConfig(args []string, deps commandDeps) int {
	settings, _, code, done := loadSettings("check-config", args, deps, nil)
	if done {
		return code
	}
	if settings.File != "" {
		fmt.Fprintf(deps.Stdout, "# config file: %s\n", settings.File)
	}
	for _, line := range settings.Describe() {
		fmt.Fprintln(deps.Stdout, line)
	}

	var problems []string
	if _, err := buildCoordinator(settings.Render, process.NewRegistry(logging.Discard()), logging.Discard()); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := packager.Preset(settings.Packaging.Layout); err != nil {
		problems = append(problems, err.Error())
	}
	catalog, err := zone.LoadCatalog(settings.Zones.Path, logging.Discard())
	if err != nil {
		problems = append(problems, err.Error())
	} else if catalog.Len() == 0 {
		fmt.Fprintf(deps.Stdout, "# warning: zone catalog %s is empty; any zone code is accepted\n", settings.Zones.Path)
	}

	if len(problems) > 0 {
		fmt.Fprintln(deps.Stderr, "config problems:\n  "+strings.Join(problems, "\n  "))
		return 1
	}
	fmt.Fprintln(deps.Stdout, "# ok")
	return 0
}
