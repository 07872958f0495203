package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/spf13/pflag"

	"qrbatch/internal/fsutil"
	"qrbatch/internal/zone"
)

// runZonesImport converts a spreadsheet export into the JSON catalog the
// server loads. Output goes to stdout unless -o names a file.
func runZonesImport(args []string, deps commandDeps) int {
	defaults := zone.DefaultImportOptions()
	fs := pflag.NewFlagSet("zones import", pflag.ContinueOnError)
	fs.SetOutput(deps.Stderr)
	output := fs.StringP("output", "o", "", "write the catalog to this file instead of stdout")
	codeColumn := fs.String("code-column", defaults.CodeColumn, "header of the zone code column")
	nameColumn := fs.String("name-column", defaults.NameColumn, "header of the zone name column")
	comma := fs.String("comma", string(defaults.Comma), "field separator")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(deps.Stderr, "usage: qrbatch zones import <csv> [-o catalog.json]")
		return 2
	}
	separator, size := utf8.DecodeRuneInString(*comma)
	if size == 0 || size != len(*comma) {
		fmt.Fprintf(deps.Stderr, "invalid separator %q\n", *comma)
		return 2
	}

	source, err := os.Open(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(deps.Stderr, err)
		return 1
	}
	defer source.Close()

	zones, err := zone.Import(source, zone.ImportOptions{
		CodeColumn: *codeColumn,
		NameColumn: *nameColumn,
		Comma:      separator,
	})
	if err != nil {
		fmt.Fprintf(deps.Stderr, "import %s: %v\n", fs.Arg(0), err)
		return 1
	}

	write := func(w io.Writer) error { return zone.WriteCatalog(w, zones) }
	if *output == "" {
		err = write(deps.Stdout)
	} else {
		err = fsutil.WriteAtomic(*output, 0o644, write)
	}
	if err != nil {
		fmt.Fprintln(deps.Stderr, err)
		return 1
	}
	if *output != "" {
		fmt.Fprintf(deps.Stdout, "wrote %d zones to %s\n", len(zones), *output)
	}
	return 0
}
