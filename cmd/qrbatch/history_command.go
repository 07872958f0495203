package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"qrbatch/internal/allocator"
	"qrbatch/internal/interval"
	"qrbatch/internal/logging"
	"qrbatch/internal/zone"
)

type historyRow struct {
	ZoneCode  string    `json:"zoneCode"`
	ZoneName  string    `json:"zoneName"`
	Start     int       `json:"start"`
	End       int       `json:"end"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

func runHistory(args []string, deps commandDeps) int {
	var asJSON bool
	settings, _, code, done := loadSettings("history", args, deps, func(fs *pflag.FlagSet) {
		fs.BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	})
	if done {
		return code
	}
	logger := newLogger(settings, deps.Stderr)

	store, err := interval.Open(settings.Storage.Driver, settings.Storage.Path, logger)
	if err != nil {
		fmt.Fprintln(deps.Stderr, err)
		return 1
	}
	defer store.Close()
	catalog, err := zone.LoadCatalog(settings.Zones.Path, logging.Discard())
	if err != nil {
		fmt.Fprintln(deps.Stderr, err)
		return 1
	}
	alloc := allocator.New(store, allocator.Options{Zones: catalog, Logger: logger})
	entries, err := alloc.History(context.Background())
	if err != nil {
		fmt.Fprintln(deps.Stderr, err)
		return 1
	}

	rows := make([]historyRow, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, historyRow{
			ZoneCode:  entry.ZoneCode,
			ZoneName:  entry.ZoneName,
			Start:     entry.Range.Start,
			End:       entry.Range.End,
			Count:     entry.Range.Count(),
			Timestamp: entry.ReservedAt.UTC(),
		})
	}
	if asJSON {
		encoder := json.NewEncoder(deps.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(rows); err != nil {
			fmt.Fprintln(deps.Stderr, err)
			return 1
		}
		return 0
	}

	table := tabwriter.NewWriter(deps.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(table, "RESERVED\tZONE\tNAME\tRANGE\tCOUNT")
	for _, row := range rows {
		fmt.Fprintf(table, "%s\t%s\t%s\t%d-%d\t%d\n",
			row.Timestamp.Format(time.RFC3339), row.ZoneCode, row.ZoneName, row.Start, row.End, row.Count)
	}
	if err := table.Flush(); err != nil {
		fmt.Fprintln(deps.Stderr, err)
		return 1
	}
	return 0
}
